package usertest

import (
	"bytes"

	"github.com/ovaphlow/pitchfork/service-account/pkg/encryption"
)

// NewCodec returns a codec over a fixed key. It skips PBKDF2 so tests stay fast.
func NewCodec() *encryption.Codec {
	c, err := encryption.NewCodecWithKey(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		panic(err)
	}
	return c
}
