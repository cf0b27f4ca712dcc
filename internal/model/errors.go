package model

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the coordinator wraps exactly one of
// these, so callers can branch on the kind with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrRejected         = errors.New("rejected")
	ErrInvalidInput     = errors.New("invalid input")
	ErrCapacityExceeded = errors.New("capacity exceeded")
)

// Common errors used across the application
var (
	// Lookup errors
	ErrRoomNotFound   = fmt.Errorf("%w: room not found", ErrNotFound)
	ErrPlayerNotFound = fmt.Errorf("%w: player not found", ErrNotFound)
	ErrNotInRoom      = fmt.Errorf("%w: player is not in room", ErrNotFound)

	// Business rule violations
	ErrWrongSecret         = fmt.Errorf("%w: wrong room secret", ErrRejected)
	ErrRoomFull            = fmt.Errorf("%w: room is full", ErrRejected)
	ErrRoomNotWaiting      = fmt.Errorf("%w: room is not accepting players", ErrRejected)
	ErrDuplicateName       = fmt.Errorf("%w: display name already taken", ErrRejected)
	ErrNotHost             = fmt.Errorf("%w: player is not the host", ErrRejected)
	ErrInsufficientPlayers = fmt.Errorf("%w: insufficient players to start game", ErrRejected)
	ErrNotPlaying          = fmt.Errorf("%w: no game in progress", ErrRejected)
	ErrChatRateLimited     = fmt.Errorf("%w: sending messages too quickly", ErrRejected)
	ErrNotJoined           = fmt.Errorf("%w: connection has not joined a room", ErrRejected)
	ErrIdentityMismatch    = fmt.Errorf("%w: player does not match connection", ErrRejected)

	// Malformed input
	ErrEmptyName       = fmt.Errorf("%w: display name is required", ErrInvalidInput)
	ErrNameTooLong     = fmt.Errorf("%w: display name is too long", ErrInvalidInput)
	ErrRoomNameTooLong = fmt.Errorf("%w: room name is too long", ErrInvalidInput)
	ErrEmptyChat       = fmt.Errorf("%w: message is empty", ErrInvalidInput)
	ErrChatTooLong     = fmt.Errorf("%w: message is too long", ErrInvalidInput)
	ErrUnknownMessage  = fmt.Errorf("%w: unknown message type", ErrInvalidInput)
	ErrMalformed       = fmt.Errorf("%w: malformed message", ErrInvalidInput)

	// Administrative caps
	ErrTooManyRooms       = fmt.Errorf("%w: room limit reached", ErrCapacityExceeded)
	ErrCodeSpaceExhausted = fmt.Errorf("%w: could not allocate a room code", ErrCapacityExceeded)
)

// Wire error codes
const (
	CodeRoomNotFound        = "ROOM_NOT_FOUND"
	CodePlayerNotFound      = "PLAYER_NOT_FOUND"
	CodeNotInRoom           = "NOT_IN_ROOM"
	CodeWrongSecret         = "WRONG_SECRET"
	CodeRoomFull            = "ROOM_FULL"
	CodeRoomNotWaiting      = "ROOM_NOT_WAITING"
	CodeDuplicateName       = "DUPLICATE_NAME"
	CodeNotHost             = "NOT_HOST"
	CodeInsufficientPlayers = "INSUFFICIENT_PLAYERS"
	CodeNotPlaying          = "NOT_PLAYING"
	CodeRateLimited         = "RATE_LIMITED"
	CodeNotJoined           = "NOT_JOINED"
	CodeIdentityMismatch    = "IDENTITY_MISMATCH"
	CodeNotFound            = "NOT_FOUND"
	CodeRejected            = "REJECTED"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeCapacityExceeded    = "CAPACITY_EXCEEDED"
	CodeInternalError       = "INTERNAL_ERROR"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrRoomNotFound, CodeRoomNotFound},
	{ErrPlayerNotFound, CodePlayerNotFound},
	{ErrNotInRoom, CodeNotInRoom},
	{ErrWrongSecret, CodeWrongSecret},
	{ErrRoomFull, CodeRoomFull},
	{ErrRoomNotWaiting, CodeRoomNotWaiting},
	{ErrDuplicateName, CodeDuplicateName},
	{ErrNotHost, CodeNotHost},
	{ErrInsufficientPlayers, CodeInsufficientPlayers},
	{ErrNotPlaying, CodeNotPlaying},
	{ErrChatRateLimited, CodeRateLimited},
	{ErrNotJoined, CodeNotJoined},
	{ErrIdentityMismatch, CodeIdentityMismatch},
	{ErrNotFound, CodeNotFound},
	{ErrRejected, CodeRejected},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrCapacityExceeded, CodeCapacityExceeded},
}

// ErrorCode returns the most specific wire code for an error.
// Errors outside the taxonomy map to CodeInternalError.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeInternalError
}

// IsExpected reports whether err belongs to the coordinator's error taxonomy,
// i.e. a condition the caller can recover from
func IsExpected(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrRejected) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrCapacityExceeded)
}
