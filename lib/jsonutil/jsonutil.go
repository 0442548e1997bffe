// Package jsonutil is the single place json is encoded and decoded, records and
// message captures can get large so it goes through sonic.
package jsonutil

import (
	"io"

	"github.com/bytedance/sonic"
)

var config = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return config.Marshal(v)
}

// MarshalIndent uses two spaces, which is what the record files have always used.
func MarshalIndent(v any) ([]byte, error) {
	return config.MarshalIndent(v, "", "  ")
}

func Unmarshal(data []byte, v any) error {
	return config.Unmarshal(data, v)
}

func Decode(r io.Reader, v any) error {
	return config.NewDecoder(r).Decode(v)
}

// Valid reports whether data is a single json value.
func Valid(data []byte) bool {
	return config.Valid(data)
}
