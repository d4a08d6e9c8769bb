package messaging

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/smartcommerce/busgate-go/contracts"
)

// Codec encodes payloads to bytes and back
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	ContentType() string
	Name() string
}

// JSONCodec encodes payloads as UTF-8 JSON. Field names follow the
// payload's json tags; the shared contracts use camelCase throughout.
type JSONCodec struct {
	// Strict rejects bodies carrying fields the target type does not declare
	Strict bool
}

// NewJSONCodec returns the default codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

func (c *JSONCodec) Name() string { return "json" }

func (c *JSONCodec) ContentType() string { return contracts.ContentTypeJSON }

func (c *JSONCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %T: %w", v, err)
	}
	return data, nil
}

func (c *JSONCodec) Unmarshal(data []byte, v any) error {
	if !c.Strict {
		return json.Unmarshal(data, v)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("unexpected data after top-level value")
	}
	return nil
}

// Decode unmarshals data into a new T
func Decode[T any](codec Codec, data []byte) (T, error) {
	var v T
	err := codec.Unmarshal(data, &v)
	return v, err
}
