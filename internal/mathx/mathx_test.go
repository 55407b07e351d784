package mathx

import (
	"testing"
	"time"
)

func TestClamp(t *testing.T) {
	if got := Clamp(150.0, 0, 100); got != 100 {
		t.Fatalf("Clamp(150) = %v, want 100", got)
	}
	if got := Clamp(-3, 0, 10); got != 0 {
		t.Fatalf("Clamp(-3) = %v, want 0", got)
	}
	if got := Clamp(5*time.Second, 10*time.Second, time.Minute); got != 10*time.Second {
		t.Fatalf("Clamp(5s) = %v, want 10s", got)
	}
}

func TestRoundInt(t *testing.T) {
	cases := map[float64]int{2.5: 3, 2.49: 2, 37.5: 38, 0: 0}
	for in, want := range cases {
		if got := RoundInt(in); got != want {
			t.Errorf("RoundInt(%v) = %d, want %d", in, got, want)
		}
	}
}
