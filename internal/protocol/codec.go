package protocol

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

var ErrMalformedFrame = errors.New("malformed frame")

var api = sonic.ConfigStd

// Encode serializes an outbound frame.
func Encode(v interface{}) ([]byte, error) {
	data, err := api.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// Decode parses raw bytes into v. Any failure is reported as
// ErrMalformedFrame so callers can log and drop the frame.
func Decode(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformedFrame)
	}
	if err := api.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}
