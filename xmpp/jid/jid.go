/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package jid

import (
	"errors"
	"net"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

// maxPartLen is the maximum length in bytes of every JID part (RFC 7622 §3).
const maxPartLen = 1023

var (
	errEmptyNode     = errors.New("jid: node must not be empty")
	errEmptyDomain   = errors.New("jid: domain must not be empty")
	errEmptyResource = errors.New("jid: resource must not be empty")
	errInvalidUTF8   = errors.New("jid: invalid UTF-8")
	errForbiddenNode = errors.New("jid: node contains forbidden characters")
	errInvalidIPv6   = errors.New("jid: domain is not a valid IPv6 address")
)

// MatchingOptions represents a matching jid mask.
type MatchingOptions int8

const (
	// MatchesNode indicates that left and right operand has same node value.
	MatchesNode = MatchingOptions(1)

	// MatchesDomain indicates that left and right operand has same domain value.
	MatchesDomain = MatchingOptions(2)

	// MatchesResource indicates that left and right operand has same resource value.
	MatchesResource = MatchingOptions(4)

	// MatchesBare indicates that left and right operand has same node and domain value.
	MatchesBare = MatchesNode | MatchesDomain
)

// JID represents an XMPP address: an optional node, a domain and an optional resource.
type JID struct {
	node     string
	domain   string
	resource string
}

// New returns a JID made of node, domain and resource.
// Unless skipStringPrep is set, parts are prepared and enforced as of RFC 7622.
func New(node, domain, resource string, skipStringPrep bool) (*JID, error) {
	if skipStringPrep {
		return &JID{node: node, domain: domain, resource: resource}, nil
	}
	var err error
	j := &JID{}
	if j.domain, err = prepareDomain(domain); err != nil {
		return nil, err
	}
	if j.node, err = prepareNode(node); err != nil {
		return nil, err
	}
	if j.resource, err = prepareResource(resource); err != nil {
		return nil, err
	}
	return j, nil
}

// NewWithString parses a JID string representation. An empty string yields an empty JID.
// The resource part is split first, so it may contain '@' and '/' characters.
func NewWithString(str string, skipStringPrep bool) (*JID, error) {
	if len(str) == 0 {
		return &JID{}, nil
	}
	node, domain, resource, err := split(str)
	if err != nil {
		return nil, err
	}
	return New(node, domain, resource, skipStringPrep)
}

func split(str string) (node, domain, resource string, err error) {
	bare := str
	if i := strings.IndexByte(str, '/'); i != -1 {
		bare, resource = str[:i], str[i+1:]
		if len(resource) == 0 {
			return "", "", "", errEmptyResource
		}
	}
	domain = bare
	if i := strings.IndexByte(bare, '@'); i != -1 {
		if i == 0 {
			return "", "", "", errEmptyNode
		}
		node, domain = bare[:i], bare[i+1:]
	}
	if len(domain) == 0 {
		return "", "", "", errEmptyDomain
	}
	return node, domain, resource, nil
}

// Node returns the node, or empty string if this JID does not contain node information.
func (j *JID) Node() string { return j.node }

// Domain returns the domain.
func (j *JID) Domain() string { return j.domain }

// Resource returns the resource, or empty string if this JID does not contain resource information.
func (j *JID) Resource() string { return j.resource }

// ToBareJID returns a copy of the JID without resource.
func (j *JID) ToBareJID() *JID {
	return j.WithResource("")
}

// WithResource returns a copy of the JID carrying a given resource.
func (j *JID) WithResource(resource string) *JID {
	return &JID{node: j.node, domain: j.domain, resource: resource}
}

// IsServer returns true if the JID has no node.
func (j *JID) IsServer() bool { return len(j.node) == 0 }

// IsBare returns true if the JID has node and no resource.
func (j *JID) IsBare() bool { return len(j.node) > 0 && len(j.resource) == 0 }

// IsFull returns true if the JID has a resource.
func (j *JID) IsFull() bool { return len(j.resource) > 0 }

// IsFullWithServer returns true if the JID has resource but no node.
func (j *JID) IsFullWithServer() bool { return j.IsServer() && j.IsFull() }

// IsFullWithUser returns true if the JID has both node and resource.
func (j *JID) IsFullWithUser() bool { return !j.IsServer() && j.IsFull() }

// Matches returns true if the parts selected by options are equal in both JIDs.
func (j *JID) Matches(j2 *JID, options MatchingOptions) bool {
	switch {
	case options&MatchesNode != 0 && j.node != j2.node:
		return false
	case options&MatchesDomain != 0 && j.domain != j2.domain:
		return false
	case options&MatchesResource != 0 && j.resource != j2.resource:
		return false
	}
	return true
}

// Equal returns true if both JIDs address the same entity.
// Node and domain comparison is case-insensitive, resource comparison is not.
func (j *JID) Equal(j2 *JID) bool {
	if j == nil || j2 == nil {
		return j == j2
	}
	return strings.EqualFold(j.node, j2.node) &&
		strings.EqualFold(j.domain, j2.domain) &&
		j.resource == j2.resource
}

// String returns a string representation of the JID.
func (j *JID) String() string {
	var sb strings.Builder
	sb.Grow(len(j.node) + len(j.domain) + len(j.resource) + 2)
	if len(j.node) > 0 {
		sb.WriteString(j.node)
		sb.WriteByte('@')
	}
	sb.WriteString(j.domain)
	if len(j.resource) > 0 {
		sb.WriteByte('/')
		sb.WriteString(j.resource)
	}
	return sb.String()
}

// prepareDomain converts A-labels to U-labels and lower cases the result (RFC 7622 §3.2).
func prepareDomain(domain string) (string, error) {
	d, err := idna.ToUnicode(domain)
	if err != nil {
		return "", err
	}
	if !utf8.ValidString(d) {
		return "", errInvalidUTF8
	}
	d = strings.ToLower(d)
	if err := checkLength(d, 1); err != nil {
		return "", err
	}
	if l := len(d); l > 2 && d[0] == '[' && d[l-1] == ']' {
		if ip := net.ParseIP(d[1 : l-1]); ip == nil || ip.To4() != nil {
			return "", errInvalidIPv6
		}
	}
	return d, nil
}

// prepareNode applies the UsernameCaseMapped profile plus the extra
// exclusions of RFC 7622 §3.3.1.
func prepareNode(node string) (string, error) {
	if len(node) == 0 {
		return "", nil
	}
	if !utf8.ValidString(node) {
		return "", errInvalidUTF8
	}
	n, err := precis.UsernameCaseMapped.String(node)
	if err != nil {
		return "", err
	}
	if strings.ContainsAny(n, `"&'/:<>@`) {
		return "", errForbiddenNode
	}
	return n, checkLength(n, 0)
}

// prepareResource applies the OpaqueString profile (RFC 7622 §3.4).
func prepareResource(resource string) (string, error) {
	if len(resource) == 0 {
		return "", nil
	}
	if !utf8.ValidString(resource) {
		return "", errInvalidUTF8
	}
	r, err := precis.OpaqueString.String(resource)
	if err != nil {
		return "", err
	}
	return r, checkLength(r, 0)
}

func checkLength(part string, min int) error {
	if l := len(part); l < min || l > maxPartLen {
		return errors.New("jid: invalid part length")
	}
	return nil
}
