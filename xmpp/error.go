/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"strconv"
)

const stanzaErrorNamespace = "urn:ietf:params:xml:ns:xmpp-stanzas"

// StanzaError represents a stanza "error" element.
type StanzaError struct {
	code      int
	errorType string
	reason    string
	text      string
}

func newStanzaError(code int, errorType string, reason string) *StanzaError {
	return &StanzaError{
		code:      code,
		errorType: errorType,
		reason:    reason,
	}
}

// NewStanzaErrorFromElement parses the "error" child of an incoming
// error stanza. Returns nil if elem carries no error element.
func NewStanzaErrorFromElement(elem XElement) *StanzaError {
	errEl := elem.Elements().Child("error")
	if errEl == nil {
		return nil
	}
	se := &StanzaError{errorType: errEl.Type()}
	if code := errEl.Attributes().Get("code"); len(code) > 0 {
		se.code, _ = strconv.Atoi(code)
	}
	for _, child := range errEl.Elements().All() {
		if child.Namespace() != stanzaErrorNamespace {
			continue
		}
		if child.Name() == "text" {
			se.text = child.Text()
			continue
		}
		se.reason = child.Name()
	}
	if len(se.reason) == 0 {
		se.reason = reasonFromLegacyCode(se.code)
	}
	return se
}

// Error satisfies error interface.
func (se *StanzaError) Error() string {
	return se.reason
}

// Reason returns the defined condition name.
func (se *StanzaError) Reason() string {
	return se.reason
}

// Code returns the legacy numeric error code.
func (se *StanzaError) Code() int {
	return se.code
}

// Type returns the error type (auth, cancel, modify, wait).
func (se *StanzaError) Type() string {
	return se.errorType
}

// Text returns the optional descriptive text.
func (se *StanzaError) Text() string {
	return se.text
}

// Element returns StanzaError equivalent XML element.
func (se *StanzaError) Element() *Element {
	err := NewElementName("error")
	err.SetAttribute("code", strconv.Itoa(se.code))
	err.SetAttribute("type", se.errorType)
	err.AppendElement(NewElementNamespace(se.reason, stanzaErrorNamespace))
	if len(se.text) > 0 {
		err.AppendElement(NewElementNamespace("text", stanzaErrorNamespace).SetText(se.text))
	}
	return err
}

const (
	authErrorType   = "auth"
	cancelErrorType = "cancel"
	modifyErrorType = "modify"
	waitErrorType   = "wait"
)

var (
	// ErrBadRequest is returned when the sender has sent XML that
	// is malformed or that cannot be processed.
	ErrBadRequest = newStanzaError(400, modifyErrorType, "bad-request")

	// ErrConflict is returned when access cannot be granted because an
	// existing resource or session exists with the same name or address.
	ErrConflict = newStanzaError(409, cancelErrorType, "conflict")

	// ErrFeatureNotImplemented is returned when the feature requested
	// is not implemented by the recipient.
	ErrFeatureNotImplemented = newStanzaError(501, cancelErrorType, "feature-not-implemented")

	// ErrForbidden is returned when the requesting entity does not
	// possess the required permissions to perform the action.
	ErrForbidden = newStanzaError(403, authErrorType, "forbidden")

	// ErrItemNotFound is returned when the addressed JID or item
	// requested cannot be found.
	ErrItemNotFound = newStanzaError(404, cancelErrorType, "item-not-found")

	// ErrNotAllowed is returned when the recipient does not allow any
	// entity to perform the action.
	ErrNotAllowed = newStanzaError(405, cancelErrorType, "not-allowed")

	// ErrNotAuthorized is returned when the sender must provide proper
	// credentials before being allowed to perform the action.
	ErrNotAuthorized = newStanzaError(401, authErrorType, "not-authorized")

	// ErrRegistrationRequired is returned when the requesting entity is
	// not authorized because registration is required.
	ErrRegistrationRequired = newStanzaError(407, authErrorType, "registration-required")

	// ErrServiceUnavailable is returned when the recipient does not
	// currently provide the requested service.
	ErrServiceUnavailable = newStanzaError(503, cancelErrorType, "service-unavailable")
)

func reasonFromLegacyCode(code int) string {
	switch code {
	case 400:
		return ErrBadRequest.reason
	case 401:
		return ErrNotAuthorized.reason
	case 403:
		return ErrForbidden.reason
	case 404:
		return ErrItemNotFound.reason
	case 405:
		return ErrNotAllowed.reason
	case 407:
		return ErrRegistrationRequired.reason
	case 409:
		return ErrConflict.reason
	case 501:
		return ErrFeatureNotImplemented.reason
	case 503:
		return ErrServiceUnavailable.reason
	}
	return "undefined-condition"
}

// BadRequestError returns an error copy of the element
// attaching 'bad-request' error sub element.
func (s *stanzaElement) BadRequestError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrBadRequest, nil)
}

// FeatureNotImplementedError returns an error copy of the element
// attaching 'feature-not-implemented' error sub element.
func (s *stanzaElement) FeatureNotImplementedError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrFeatureNotImplemented, nil)
}

// ServiceUnavailableError returns an error copy of the element
// attaching 'service-unavailable' error sub element.
func (s *stanzaElement) ServiceUnavailableError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrServiceUnavailable, nil)
}
