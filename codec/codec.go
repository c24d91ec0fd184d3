// Package codec converts image payloads to and from the base64 text carried by
// the intake request, the request channel and the response channel.
package codec

import (
	"encoding/base64"
	"errors"

	"golang.org/x/xerrors"
)

// ErrDecode is returned when a payload is not valid base64 text.
var ErrDecode = errors.New("payload is not valid base64")

// Encode returns the standard, padded base64 form of raw.
func Encode(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// Decode reverses Encode. It never returns partially decoded bytes: on any
// malformed input the result is nil and the error wraps ErrDecode.
func Decode(text string) ([]byte, error) {
	raw, err := base64.StdEncoding.Strict().DecodeString(text)
	if err != nil {
		return nil, xerrors.Errorf("%w: %v", ErrDecode, err)
	}
	return raw, nil
}
