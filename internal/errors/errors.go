// Package errors holds the sentinels shared across layers.
package errors

import (
	"errors"
)

var (
	// ErrInvalidInput marks a request the callee cannot act on, such as an unknown sanction.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoPrivileges is returned when the bot lacks the chat rights for a moderation primitive.
	ErrNoPrivileges = errors.New("no privileges")
)
