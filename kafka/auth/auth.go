// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package auth

import (
	"fmt"
	"net"
	"time"

	"github.com/segmentio/kafka-go"
)

type AuthType string

const (
	AuthTypeRaw  AuthType = "raw"
	AuthTypeSASL AuthType = "sasl"
)

const dialTimeout = 10 * time.Second

type Authenticator interface {
	// Transport returns a kafka transport carrying the credentials.
	Transport() kafka.RoundTripper
}

// New returns the authenticator for typ.
func New(typ AuthType, username, password string) (Authenticator, error) {
	switch typ {
	case "", AuthTypeRaw:
		return NewRawAuthenticator(), nil
	case AuthTypeSASL:
		if username == "" {
			return nil, fmt.Errorf("sasl authentication needs a username")
		}
		return NewSaslAuthenticator(username, password), nil
	default:
		return nil, fmt.Errorf("unsupported kafka auth type %q", typ)
	}
}

type rawAuthenticator struct{}

func NewRawAuthenticator() Authenticator {
	return &rawAuthenticator{}
}

func (a *rawAuthenticator) Transport() kafka.RoundTripper {
	return &kafka.Transport{
		Dial: (&net.Dialer{Timeout: dialTimeout}).DialContext,
	}
}
