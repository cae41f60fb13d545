package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Check with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")

	ErrNoKeyword      = errors.New("no keyword supplied")
	ErrButtonsOnly    = errors.New("empty body not allowed when buttons requested")
	ErrNothingToReply = errors.New("nothing to reply with")

	ErrButtonsNotAllowed = errors.New("buttons are only allowed on text and image replies")

	ErrUnsupportedURLProtocol = errors.New("unsupported url protocol")
	ErrReplyNotFound          = errors.New("reply message not found")
	ErrBadRequest             = errors.New("bad request")
)

// UserInputError rejects a registration before anything is stored.
type UserInputError struct {
	Err     error  // one of ErrNoKeyword, ErrButtonsOnly, ErrNothingToReply
	Message string // text shown to the user
}

func (e *UserInputError) Error() string {
	return fmt.Sprintf("invalid input: %v", e.Err)
}

func (e *UserInputError) Unwrap() error { return e.Err }

// SendError is a classified transport failure.
type SendError struct {
	Kind        Kind
	Err         error // ErrUnsupportedURLProtocol, ErrReplyNotFound, ErrBadRequest or nil
	Code        int
	Description string
}

func (e *SendError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("send %s failed (code=%d): %s", e.Kind, e.Code, e.Description)
	}
	return fmt.Sprintf("send %s failed: %s", e.Kind, e.Description)
}

func (e *SendError) Unwrap() error { return e.Err }
