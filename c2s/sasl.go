/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package c2s

import (
	"crypto/tls"
	"encoding/base64"
	"strings"

	"mellium.im/sasl"
)

const saslNamespace = "urn:ietf:params:xml:ns:xmpp-sasl"

var mechanismsByName = map[string]sasl.Mechanism{
	sasl.Plain.Name:           sasl.Plain,
	sasl.ScramSha1.Name:       sasl.ScramSha1,
	sasl.ScramSha1Plus.Name:   sasl.ScramSha1Plus,
	sasl.ScramSha256.Name:     sasl.ScramSha256,
	sasl.ScramSha256Plus.Name: sasl.ScramSha256Plus,
}

type mechanismSelector struct {
	preference      []string
	password        string
	secured         bool
	channelBinding  bool
	allowPlainNoTLS bool
}

// selectMechanism returns the first preferred mechanism offered by the
// server that can be used in the current stream conditions.
func (ms *mechanismSelector) selectMechanism(offered []string) (sasl.Mechanism, bool) {
	if len(ms.password) == 0 {
		return sasl.Mechanism{}, false
	}
	offeredSet := make(map[string]bool, len(offered))
	for _, name := range offered {
		offeredSet[strings.ToUpper(name)] = true
	}
	for _, name := range ms.preference {
		if !offeredSet[name] {
			continue
		}
		mech, ok := mechanismsByName[name]
		if !ok {
			continue
		}
		if strings.HasSuffix(name, "-PLUS") && !ms.channelBinding {
			continue
		}
		if name == sasl.Plain.Name && !ms.secured && !ms.allowPlainNoTLS {
			continue
		}
		return mech, true
	}
	return sasl.Mechanism{}, false
}

func newSASLClient(mech sasl.Mechanism, username, password string, remote []string, cs *tls.ConnectionState) *sasl.Negotiator {
	opts := []sasl.Option{
		sasl.Credentials(func() ([]byte, []byte, []byte) {
			return []byte(username), []byte(password), nil
		}),
		sasl.RemoteMechanisms(remote...),
	}
	if cs != nil {
		opts = append(opts, sasl.TLSState(*cs))
	}
	return sasl.NewClient(mech, opts...)
}

// encodeSASLPayload returns the base64 representation of a SASL payload,
// using '=' for an empty one.
func encodeSASLPayload(b []byte) string {
	if len(b) == 0 {
		return "="
	}
	return base64.StdEncoding.EncodeToString(b)
}

func decodeSASLPayload(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 || s == "=" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
