// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package protocol defines the envelopes exchanged with the control plane and
// the codec that turns them into JSON text frames.
package protocol

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Type is the canonical kind of an envelope.
type Type string

const (
	TypeCommand   Type = "command"
	TypeResponse  Type = "response"
	TypeEvent     Type = "event"
	TypeHeartbeat Type = "heartbeat"
	TypeError     Type = "error"
	// TypeUnknown is produced by Decode for tags this build does not know.
	TypeUnknown Type = "unknown"
)

// Types lists the encodable canonical types.
var Types = []Type{TypeCommand, TypeResponse, TypeEvent, TypeHeartbeat, TypeError}

// Envelope is the unit of wire transmission.
type Envelope struct {
	Type Type
	// ID correlates a command with its response.
	ID string
	// Name is the command or event name. Responses and heartbeats leave it empty.
	Name      string
	Payload   json.RawMessage
	Timestamp int64
	// RawType keeps the wire tag of an unknown envelope so it can be relayed as is.
	RawType string
}

// NewID returns a fresh envelope id.
func NewID() string {
	return uuid.NewString()
}

func now() int64 {
	return time.Now().UnixMilli()
}

// NewCommand builds a command envelope.
func NewCommand(id, name string, payload json.RawMessage) *Envelope {
	return &Envelope{Type: TypeCommand, ID: id, Name: name, Payload: payload, Timestamp: now()}
}

// NewEvent builds an event envelope with a fresh id.
func NewEvent(name string, payload json.RawMessage) *Envelope {
	return &Envelope{Type: TypeEvent, ID: NewID(), Name: name, Payload: payload, Timestamp: now()}
}

// NewHeartbeat builds an outgoing heartbeat probe.
func NewHeartbeat() *Envelope {
	return &Envelope{Type: TypeHeartbeat, ID: NewID(), Timestamp: now()}
}

// NewHeartbeatAck acknowledges the heartbeat with the given id.
func NewHeartbeatAck(id string) *Envelope {
	return &Envelope{Type: TypeHeartbeat, ID: id, Payload: heartbeatAckPayload, Timestamp: now()}
}

// NewResponse builds a successful response carrying result.
func NewResponse(id string, result any) (*Envelope, error) {
	raw, err := NewPayload(result)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(&ResponseBody{OK: true, Result: raw})
	if err != nil {
		return nil, WrapError(err, EncodingError, "encode response body")
	}

	return &Envelope{Type: TypeResponse, ID: id, Payload: payload, Timestamp: now()}, nil
}

// NewErrorResponse builds a failed response for id. The error code is taken
// from err when it is a *Error, otherwise HandlerFailure is used.
func NewErrorResponse(id string, err error) *Envelope {
	body := &ResponseBody{Error: CodeOf(err)}
	if err != nil {
		body.Message = err.Error()
	}
	payload, _ := json.Marshal(body)

	return &Envelope{Type: TypeResponse, ID: id, Payload: payload, Timestamp: now()}
}

// IsCommand reports whether e carries a command.
func (e *Envelope) IsCommand() bool {
	return e != nil && e.Type == TypeCommand
}

// Equal reports whether two envelopes carry the same content. Payloads are
// compared as JSON text, so whitespace does not matter.
func (e *Envelope) Equal(o *Envelope) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.Type == o.Type && e.ID == o.ID && e.Name == o.Name &&
		samePayload(e.Payload, o.Payload) && e.Timestamp == o.Timestamp &&
		e.RawType == o.RawType
}
