package room

import "fmt"

// Error is a room operation failure with a stable kind, so clients can
// react to specific kinds (e.g. silently swallow duplicate_action)
// instead of parsing messages.
type Error struct {
	Kind string
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is makes errors.Is match on kind, so wrapped errors still compare
// equal to the sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func kindError(kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

// Validation and resource errors: rejected before anything mutates.
var (
	ErrInvalidParams       = kindError("invalid_params", "invalid variant parameters")
	ErrInsufficientBalance = kindError("insufficient_balance", "balance too low for stake")
)

// Precondition errors: the request is well formed but the room state
// forbids it.
var (
	ErrRoomNotFound    = kindError("room_not_found", "no such room")
	ErrRoomNotJoinable = kindError("room_not_joinable", "room is not accepting players")
	ErrRoomFull        = kindError("room_full", "room is at capacity")
	ErrAlreadyMember   = kindError("already_member", "user already seated")
	ErrRoomNotWaiting  = kindError("room_not_waiting", "room already started")
	ErrRoomNotActive   = kindError("room_not_active", "room is not in play")
	ErrNotMember       = kindError("not_member", "user is not seated in this room")
	ErrNotOwner        = kindError("not_owner", "only the room owner may do this")
	ErrPreconditions   = kindError("preconditions_not_met", "start preconditions not met")
	ErrNotYourTurn     = kindError("not_your_turn", "acting out of turn")
	ErrRevealPending   = kindError("reveal_pending", "reveal window still open")
	ErrDuplicateAction = kindError("duplicate_action", "action already applied")
	ErrUnknownAction   = kindError("unknown_action", "action not valid for this variant")
)

// ErrStateChanged is the retryable lost-race outcome of the version
// check-and-set; callers refetch and retry rather than overwrite.
var ErrStateChanged = kindError("state_changed", "room changed concurrently, refetch and retry")
