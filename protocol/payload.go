// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"reflect"

	"github.com/buger/jsonparser"
	json "github.com/goccy/go-json"
)

var heartbeatAckPayload = json.RawMessage(`{"ack":true}`)

// ResponseBody is the payload of a response envelope.
type ResponseBody struct {
	OK      bool            `json:"ok,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   ErrorCode       `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

// NewPayload marshals v into a payload. Raw messages are validated and
// compacted; nil yields an empty payload.
func NewPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(p) == 0 {
			return nil, nil
		}
		compacted, err := compact(p)
		if err != nil {
			return nil, WrapError(err, EncodingError, "payload is not valid JSON")
		}
		return compacted, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, WrapError(err, EncodingError, "marshal payload")
	}

	return data, nil
}

// compact strips insignificant whitespace so equal JSON values have equal
// bytes.
func compact(p json.RawMessage) (json.RawMessage, error) {
	if len(p) == 0 {
		return p, nil
	}
	buf := &bytes.Buffer{}
	buf.Grow(len(p))
	if err := json.Compact(buf, p); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// samePayload compares two payloads as JSON values, so whitespace and
// string escaping do not matter.
func samePayload(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	va, err := jsonValue(a)
	if err != nil {
		return false
	}
	vb, err := jsonValue(b)
	if err != nil {
		return false
	}

	return reflect.DeepEqual(va, vb)
}

func jsonValue(p json.RawMessage) (any, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(p))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	return v, nil
}

// DecodeResponse parses the payload of a response envelope.
func DecodeResponse(payload json.RawMessage) (*ResponseBody, error) {
	body := &ResponseBody{}
	if err := json.Unmarshal(payload, body); err != nil {
		return nil, WrapError(err, DecodingError, "decode response body")
	}

	return body, nil
}

// IsHeartbeatAck reports whether e acknowledges a heartbeat.
func IsHeartbeatAck(e *Envelope) bool {
	if e == nil || e.Type != TypeHeartbeat || len(e.Payload) == 0 {
		return false
	}
	ack, err := jsonparser.GetBoolean(e.Payload, "ack")

	return err == nil && ack
}

// ResponseCode returns the error code of a response payload, or an empty code
// for successful responses.
func ResponseCode(e *Envelope) ErrorCode {
	if e == nil || e.Type != TypeResponse {
		return ""
	}
	code, err := jsonparser.GetString(e.Payload, "error")
	if err != nil {
		return ""
	}

	return ErrorCode(code)
}
