// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package protocol

import (
	"fmt"

	"github.com/buger/jsonparser"
	json "github.com/goccy/go-json"
)

// wireEnvelope is the JSON shape of an envelope.
type wireEnvelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Codec converts envelopes to and from JSON text frames. A Codec is
// immutable and safe for concurrent use.
type Codec struct {
	toWire   map[Type]string
	fromWire map[string]Type
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithTypeNames overrides the wire tags of canonical types. Types missing
// from names keep their canonical tag.
func WithTypeNames(names map[Type]string) CodecOption {
	return func(c *Codec) {
		for t, name := range names {
			if _, ok := c.toWire[t]; !ok || name == "" {
				continue
			}
			c.toWire[t] = name
		}
	}
}

// DefaultCodec uses the canonical type names.
var DefaultCodec, _ = NewCodec()

// NewCodec returns a Codec. It fails when two types share a wire tag.
func NewCodec(opts ...CodecOption) (*Codec, error) {
	c := &Codec{toWire: make(map[Type]string, len(Types))}
	for _, t := range Types {
		c.toWire[t] = string(t)
	}
	for _, opt := range opts {
		opt(c)
	}

	c.fromWire = make(map[string]Type, len(c.toWire))
	for t, name := range c.toWire {
		if other, ok := c.fromWire[name]; ok {
			return nil, fmt.Errorf("wire type %q is used by both %s and %s", name, other, t)
		}
		c.fromWire[name] = t
	}

	return c, nil
}

// WireName returns the tag used on the wire for t.
func (c *Codec) WireName(t Type) string {
	return c.toWire[t]
}

// Encode serializes e into a text frame.
func (c *Codec) Encode(e *Envelope) ([]byte, error) {
	if e == nil {
		return nil, NewError(EncodingError, "nil envelope")
	}

	tag, ok := c.toWire[e.Type]
	if !ok {
		if e.Type != TypeUnknown || e.RawType == "" {
			return nil, NewError(EncodingError, "type %q is not encodable", e.Type)
		}
		tag = e.RawType
	}
	if e.ID == "" {
		return nil, NewError(EncodingError, "envelope has no id")
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return nil, NewError(EncodingError, "payload of %s %s is not valid JSON", e.Type, e.ID)
	}

	data, err := json.Marshal(&wireEnvelope{
		Type:      tag,
		ID:        e.ID,
		Name:      e.Name,
		Payload:   e.Payload,
		Timestamp: e.Timestamp,
	})
	if err != nil {
		return nil, WrapError(err, EncodingError, "marshal envelope")
	}

	return data, nil
}

// Decode parses a text frame. Frames without a type or id are rejected;
// unknown types decode to TypeUnknown.
func (c *Codec) Decode(data []byte) (*Envelope, error) {
	w := &wireEnvelope{}
	if err := json.Unmarshal(data, w); err != nil {
		return nil, WrapError(err, DecodingError, "malformed frame")
	}
	if w.Type == "" {
		return nil, NewError(DecodingError, "missing required field type")
	}
	if w.ID == "" {
		return nil, NewError(DecodingError, "missing required field id")
	}

	payload, err := compact(w.Payload)
	if err != nil {
		return nil, WrapError(err, DecodingError, "malformed payload")
	}
	e := &Envelope{
		ID:        w.ID,
		Name:      w.Name,
		Payload:   payload,
		Timestamp: w.Timestamp,
	}
	if t, ok := c.fromWire[w.Type]; ok {
		e.Type = t
	} else {
		e.Type = TypeUnknown
		e.RawType = w.Type
	}
	if e.Name == "" {
		// Older control planes carry the name as metadata.action.
		if action, err := jsonparser.GetString(data, "metadata", "action"); err == nil {
			e.Name = action
		}
	}

	return e, nil
}
