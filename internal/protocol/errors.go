package protocol

import "errors"

// ErrBadRequest marks malformed envelopes and parameters.
var ErrBadRequest = errors.New("protocol: bad request")
