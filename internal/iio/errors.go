package iio

import "errors"

var (
	ErrBadHandle       = errors.New("iio: bad handle")
	ErrNoDevice        = errors.New("iio: no such channel or device")
	ErrMalformedURI    = errors.New("iio: malformed uri")
	ErrInvalidJSON     = errors.New("iio: invalid json input")
	ErrPayloadTooLarge = errors.New("iio: payload too large")
	ErrNilCallback     = errors.New("iio: completion callback required")
	ErrInvalidPayload  = errors.New("iio: invalid response payload")
)
