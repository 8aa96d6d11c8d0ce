// Package jsoncodec centralises JSON encoding so every frame written to a
// queue goes through the same sonic configuration.
package jsoncodec

import (
	"github.com/bytedance/sonic"
)

// std matches encoding/json output, which keeps frames readable by consumers
// that do not use sonic.
var std = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return std.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return std.Unmarshal(data, v)
}

// Valid reports whether data is a syntactically valid JSON document.
func Valid(data []byte) bool {
	return std.Valid(data)
}
