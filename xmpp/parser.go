/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

const rootElementIndex = -1

const (
	streamName = "stream"
)

// ParsingMode defines the way in which special parsed element
// should be considered or not according to the reader nature.
type ParsingMode int

const (
	// DefaultMode treats incoming elements as provided from raw byte reader.
	DefaultMode = ParsingMode(iota)

	// SocketStream treats incoming elements as provided from a socket transport.
	SocketStream
)

// ErrTooLargeStanza is returned by ParseElement when the size of
// the incoming stanza is too large.
var ErrTooLargeStanza = errors.New("xmpp: too large stanza")

// ErrStreamClosedByPeer is returned by ParseElement when peer closes the stream.
var ErrStreamClosedByPeer = errors.New("xmpp: stream closed by peer")

var errTopLevelText = errors.New("xmpp: character data outside of an element")

// MalformedError is returned by ParseElement when the incoming
// byte stream is not well-formed XML.
type MalformedError struct {
	// Raw contains the bytes read since the last complete element.
	Raw []byte

	// Err is the underlying decoder error.
	Err error
}

// Error satisfies error interface.
func (e *MalformedError) Error() string {
	return fmt.Sprintf("xmpp: malformed stanza: %v", e.Err)
}

// Unwrap returns the underlying decoder error.
func (e *MalformedError) Unwrap() error {
	return e.Err
}

// recorder keeps every byte consumed by the decoder since the last
// complete element. It is an io.ByteReader so the decoder never reads
// ahead of the element being parsed.
type recorder struct {
	br  io.ByteReader
	buf []byte
}

func newRecorder(r io.Reader) *recorder {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &recorder{br: br}
}

func (r *recorder) ReadByte() (byte, error) {
	b, err := r.br.ReadByte()
	if err == nil {
		r.buf = append(r.buf, b)
	}
	return b, err
}

func (r *recorder) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	p[0] = b
	return 1, nil
}

func (r *recorder) raw() []byte {
	ret := make([]byte, len(r.buf))
	copy(ret, r.buf)
	return ret
}

func (r *recorder) reset() {
	r.buf = r.buf[:0]
}

// resetToTagStart drops recorded bytes but keeps a trailing '<' that the
// decoder consumed while looking for the end of a text run.
func (r *recorder) resetToTagStart() {
	if n := len(r.buf); n > 0 && r.buf[n-1] == '<' {
		r.buf = append(r.buf[:0], '<')
		return
	}
	r.buf = r.buf[:0]
}

// Parser parses a stream of XML elements.
type Parser struct {
	dec           *xml.Decoder
	rec           *recorder
	mode          ParsingMode
	nextElement   *Element
	parsingIndex  int
	parsingStack  []*Element
	inElement     bool
	maxStanzaSize int
}

// NewParser creates an empty Parser instance.
func NewParser(reader io.Reader, mode ParsingMode, maxStanzaSize int) *Parser {
	rec := newRecorder(reader)
	return &Parser{
		dec:           xml.NewDecoder(rec),
		rec:           rec,
		mode:          mode,
		parsingIndex:  rootElementIndex,
		maxStanzaSize: maxStanzaSize,
	}
}

// ParseElement parses next available XML element from reader.
// Top-level whitespace, processing instructions and comments are skipped.
func (p *Parser) ParseElement() (XElement, error) {
	for {
		t, err := p.dec.RawToken()
		if err != nil {
			return nil, p.mapError(err)
		}
		if p.maxStanzaSize > 0 && len(p.rec.buf) > p.maxStanzaSize {
			return nil, ErrTooLargeStanza
		}
		switch t1 := t.(type) {
		case xml.StartElement:
			p.startElement(t1)
			if p.mode == SocketStream && t1.Name.Local == streamName && t1.Name.Space == streamName {
				p.closeElement()
				return p.done(), nil
			}

		case xml.CharData:
			if !p.inElement {
				if len(bytes.TrimSpace(t1)) > 0 {
					return nil, &MalformedError{Raw: p.rec.raw(), Err: errTopLevelText}
				}
				// whitespace keepalive
				p.rec.resetToTagStart()
				continue
			}
			p.appendElementText(t1)

		case xml.EndElement:
			if p.mode == SocketStream && t1.Name.Local == streamName && t1.Name.Space == streamName {
				return nil, ErrStreamClosedByPeer
			}
			if err := p.endElement(t1); err != nil {
				return nil, &MalformedError{Raw: p.rec.raw(), Err: err}
			}
			if p.parsingIndex == rootElementIndex {
				return p.done(), nil
			}

		default:
			if !p.inElement {
				p.rec.reset()
			}
		}
	}
}

func (p *Parser) done() XElement {
	p.rec.reset()
	ret := p.nextElement
	p.nextElement = nil
	return ret
}

func (p *Parser) mapError(err error) error {
	switch err.(type) {
	case *xml.SyntaxError:
		return &MalformedError{Raw: p.rec.raw(), Err: err}
	}
	if err == io.EOF && p.inElement {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (p *Parser) startElement(t xml.StartElement) {
	name := xmlName(t.Name.Space, t.Name.Local)

	var attrs []Attribute
	for _, a := range t.Attr {
		attrs = append(attrs, Attribute{xmlName(a.Name.Space, a.Name.Local), a.Value})
	}
	element := &Element{name: name, attrs: newAttributeSet(attrs)}
	p.parsingStack = append(p.parsingStack, element)
	p.parsingIndex = len(p.parsingStack) - 1
	p.inElement = true
}

func (p *Parser) appendElementText(t xml.CharData) {
	elem := p.parsingStack[p.parsingIndex]
	elem.text += string(t)
}

func (p *Parser) endElement(t xml.EndElement) error {
	name := xmlName(t.Name.Space, t.Name.Local)
	if p.parsingIndex == rootElementIndex || p.parsingStack[p.parsingIndex].Name() != name {
		return fmt.Errorf("unexpected end element </%s>", name)
	}
	p.closeElement()
	return nil
}

func (p *Parser) closeElement() {
	element := p.parsingStack[p.parsingIndex]
	p.parsingStack = p.parsingStack[:p.parsingIndex]

	p.parsingIndex = len(p.parsingStack) - 1
	if p.parsingIndex == rootElementIndex {
		p.nextElement = element
		p.inElement = false
	} else {
		p.parsingStack[p.parsingIndex].AppendElement(element)
	}
}

func xmlName(space, local string) string {
	if len(space) > 0 {
		return space + ":" + local
	}
	return local
}
