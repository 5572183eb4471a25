package core

import (
	"errors"
	"fmt"
)

// Client-facing messages for protocol and domain failures.
const (
	MsgServerError       = "Server error"
	MsgInvalidAction     = "Invalid action"
	MsgInvalidChannel    = "Invalid channel"
	MsgInvalidMessage    = "Invalid message"
	MsgUnknownChannel    = "Unknown channel"
	MsgSubForbidden      = "Subscription not allowed"
	MsgSubDenied         = "Subscription denied"
	MsgAlreadySubscribed = "Already subscribed"
	MsgNotSubscribed     = "Not subscribed"
	MsgPubForbidden      = "Publication not allowed"
	MsgUnknownRPC        = "Unknown rpc"
	MsgInvalidRPCID      = "Invalid rpc id"
	MsgInvalidRPCPayload = "Invalid rpc payload"
)

var (
	ErrChannelExists = errors.New("channel already exists")
	ErrRPCExists     = errors.New("rpc already registered")
	ErrActionExists  = errors.New("action already registered")
	ErrHubStopped    = errors.New("hub stopped")
)

// DomainError is safe to relay verbatim to the calling client.
// Any other error reaching the dispatcher is logged and replaced by MsgServerError.
type DomainError struct {
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError builds a client-safe error.
func NewDomainError(msg string) *DomainError {
	return &DomainError{Message: msg}
}

// publicMessage returns what the client may see of err and whether it was a domain error.
func publicMessage(err error) (string, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Message, true
	}
	return MsgServerError, false
}

// Protect runs fn, converting a panic into an error.
func Protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
