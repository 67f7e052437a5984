package protocol

import "errors"

// ErrUnknownCommand is returned when a payload names a command tag that
// is not in the registry. The caller decides whether that is fatal;
// at the Session layer it never is (see Session.recvLoop).
var ErrUnknownCommand = errors.New("protocol: unknown command")

// ErrMalformed is returned when a payload is well-formed JSON but fails
// to decode into the message type its command tag names, or is not an
// object at all.
var ErrMalformed = errors.New("protocol: malformed payload")
