package protocol

import "errors"

var (
	ErrPoolExhausted       = errors.New("protocol: pool exhausted")
	ErrFrameOrder          = errors.New("protocol: unexpected frame index")
	ErrTransferTooLarge    = errors.New("protocol: transfer too large")
	ErrAnonymousMultiFrame = errors.New("protocol: anonymous transfer must be single-frame")
	ErrDecode              = errors.New("protocol: decode failed")
	ErrEncode              = errors.New("protocol: encode failed")
	ErrInvalidCallback     = errors.New("protocol: invalid callback")
	ErrInvalidRegistration = errors.New("protocol: invalid registration")
	ErrInvalidFrame        = errors.New("protocol: invalid frame")
	ErrInvalidNodeID       = errors.New("protocol: invalid node id")
	ErrUnknownDataType     = errors.New("protocol: unknown data type")
	ErrDriver              = errors.New("protocol: driver failure")
)
