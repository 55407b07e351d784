// Package apperrors provides the typed failure reasons returned to requesters.
//
// Every rejected player action carries a machine-readable Code and a message
// suitable for display. Rejections never mutate state.
package apperrors

import "net/http"

// Code is a machine-readable rejection code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Configuration errors.
	CodeUnknownNode    Code = "UNKNOWN_NODE"
	CodeNodeNotTracked Code = "NODE_NOT_TRACKED"
	CodeUnknownFaction Code = "UNKNOWN_FACTION"
	CodeDuplicateNode  Code = "DUPLICATE_NODE"
	CodeInvalidMap     Code = "INVALID_MAP"
	CodeNoStartingNode Code = "NO_STARTING_NODE"

	// Squad rejections.
	CodeUnknownPlayer        Code = "UNKNOWN_PLAYER"
	CodePlayerExists         Code = "PLAYER_EXISTS"
	CodeInvalidSquadIndex    Code = "INVALID_SQUAD_INDEX"
	CodeUnknownSquad         Code = "UNKNOWN_SQUAD"
	CodeSquadAlreadyMoving   Code = "SQUAD_ALREADY_MOVING"
	CodeSquadNotAtNode       Code = "SQUAD_NOT_AT_NODE"
	CodeSquadNotMoving       Code = "SQUAD_NOT_MOVING"
	CodeSquadInBattle        Code = "SQUAD_IN_BATTLE"
	CodeTargetNotAdjacent    Code = "TARGET_NOT_ADJACENT"
	CodePastPointOfNoReturn  Code = "PAST_POINT_OF_NO_RETURN"
	CodeSquadAtCapacity      Code = "SQUAD_AT_CAPACITY"
	CodeInsufficientManpower Code = "INSUFFICIENT_MANPOWER"
	CodeInvalidAmount        Code = "INVALID_AMOUNT"

	// Economy rejections.
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"

	// Occupancy.
	CodeNoEligibleSquads Code = "NO_ELIGIBLE_SQUADS"

	// War rejections.
	CodeWarNotActive        Code = "WAR_NOT_ACTIVE"
	CodeWarAlreadyStarted   Code = "WAR_ALREADY_STARTED"
	CodeNodeNotAttackable   Code = "NODE_NOT_ATTACKABLE"
	CodeBattleLimitReached  Code = "BATTLE_LIMIT_REACHED"
	CodeBattleAlreadyActive Code = "BATTLE_ALREADY_ACTIVE"
	CodeUnknownBattle       Code = "UNKNOWN_BATTLE"
	CodeInvalidResult       Code = "INVALID_RESULT"
	CodeNodeNotOwned        Code = "NODE_NOT_OWNED"
	CodeNodeUnderAttack     Code = "NODE_UNDER_ATTACK"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithMetadata creates a domain error carrying request context.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the code from err, or CodeUnknown.
func CodeOf(err error) Code {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return CodeUnknown
}

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnknownNode, CodeUnknownFaction, CodeUnknownPlayer, CodeUnknownSquad, CodeUnknownBattle:
		return http.StatusNotFound
	case CodeInvalidSquadIndex, CodeInvalidAmount, CodeInvalidResult, CodeTargetNotAdjacent:
		return http.StatusBadRequest
	case CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case CodeNodeNotTracked, CodeDuplicateNode, CodeInvalidMap, CodeNoStartingNode, CodeUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}
