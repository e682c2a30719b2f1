package lib

import "errors"

var (
	// ErrConnectFailure is returned when resolving, dialing or listening fails.
	// No connection is kept when it is returned.
	ErrConnectFailure = errors.New("connect failure")

	// ErrHandshakeMismatch is recorded when a peer answers the challenge with
	// anything but the scrambled value.
	ErrHandshakeMismatch = errors.New("handshake response mismatch")

	ErrNotConnected      = errors.New("not connected")
	ErrAlreadyConnected  = errors.New("already connected")
	ErrConnectInProgress = errors.New("connect already in progress")
	ErrServerClosed      = errors.New("server closed")
	ErrUnknownConn       = errors.New("unknown connection")

	// ErrBodyTooLarge is reported when a peer announces a body above MaxBodySize.
	ErrBodyTooLarge = errors.New("message body too large")

	// ErrEmptyPop is returned by Pop on a message without body bytes. The
	// message is left untouched.
	ErrEmptyPop = errors.New("cannot pop from an empty message")

	// ErrShortBody is returned by Pop when fewer bytes remain than the value needs.
	ErrShortBody = errors.New("message body shorter than value")

	// ErrNotFixedSize is returned for values without a fixed binary size.
	ErrNotFixedSize = errors.New("value is not fixed-size")
)
