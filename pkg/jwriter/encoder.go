// Package jwriter is the output side of the report engine: a streaming
// structured-encoder contract, a default JSON implementation of it, a
// fixed-buffer file writer, and the narrow FieldWriter surface the rest of
// the engine emits through.
//
// Everything here is sticky-error: emit calls never fail individually, the
// first underlying failure is latched and surfaced via Err(), which the
// report assembler checks at section boundaries.
package jwriter

import (
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"
)

// Encoder is the streaming structured-encoder contract the engine consumes.
// Documents are built in strict stack discipline: open container, children,
// close. Keys are required inside objects and ignored inside arrays and at
// the root.
type Encoder interface {
	BeginObject(key string)
	BeginArray(key string)
	End()

	AddString(key, value string)
	AddInt(key string, value int64)
	AddUint(key string, value uint64)
	AddFloat(key string, value float64)
	AddBool(key string, value bool)
	AddNull(key string)
	// AddRaw splices a pre-validated document verbatim.
	AddRaw(key string, raw []byte)

	// BeginString/AppendString/EndString stream one long string value in
	// chunks so large payloads never have to be buffered whole.
	BeginString(key string)
	AppendString(chunk []byte)
	EndString()

	Err() error
}

// JSONEncoder is the default Encoder, emitting compact JSON to an
// io.Writer.
type JSONEncoder struct {
	w     io.Writer
	err   error
	stack []level
}

type level struct {
	array bool
	count int
}

// NewEncoder returns a JSONEncoder writing to w.
func NewEncoder(w io.Writer) *JSONEncoder {
	return &JSONEncoder{w: w}
}

func (e *JSONEncoder) Err() error { return e.err }

func (e *JSONEncoder) write(p []byte) {
	if e.err != nil {
		return
	}
	if _, err := e.w.Write(p); err != nil {
		e.err = fmt.Errorf("jwriter: %w", err)
	}
}

// element emits the comma/key prelude for the next value at the current
// nesting level.
func (e *JSONEncoder) element(key string) {
	if len(e.stack) == 0 {
		return
	}
	top := &e.stack[len(e.stack)-1]
	if top.count > 0 {
		e.write([]byte{','})
	}
	top.count++
	if !top.array {
		e.write(appendQuoted(nil, key))
		e.write([]byte{':'})
	}
}

func (e *JSONEncoder) BeginObject(key string) {
	e.element(key)
	e.write([]byte{'{'})
	e.stack = append(e.stack, level{})
}

func (e *JSONEncoder) BeginArray(key string) {
	e.element(key)
	e.write([]byte{'['})
	e.stack = append(e.stack, level{array: true})
}

func (e *JSONEncoder) End() {
	if len(e.stack) == 0 {
		if e.err == nil {
			e.err = fmt.Errorf("jwriter: unbalanced container close")
		}
		return
	}
	top := e.stack[len(e.stack)-1]
	e.stack = e.stack[:len(e.stack)-1]
	if top.array {
		e.write([]byte{']'})
	} else {
		e.write([]byte{'}'})
	}
}

func (e *JSONEncoder) AddString(key, value string) {
	e.element(key)
	e.write(appendQuoted(nil, value))
}

func (e *JSONEncoder) AddInt(key string, value int64) {
	e.element(key)
	e.write(strconv.AppendInt(nil, value, 10))
}

func (e *JSONEncoder) AddUint(key string, value uint64) {
	e.element(key)
	e.write(strconv.AppendUint(nil, value, 10))
}

func (e *JSONEncoder) AddFloat(key string, value float64) {
	e.element(key)
	e.write(strconv.AppendFloat(nil, value, 'g', -1, 64))
}

func (e *JSONEncoder) AddBool(key string, value bool) {
	e.element(key)
	e.write(strconv.AppendBool(nil, value))
}

func (e *JSONEncoder) AddNull(key string) {
	e.element(key)
	e.write([]byte("null"))
}

func (e *JSONEncoder) AddRaw(key string, raw []byte) {
	e.element(key)
	e.write(raw)
}

func (e *JSONEncoder) BeginString(key string) {
	e.element(key)
	e.write([]byte{'"'})
}

func (e *JSONEncoder) AppendString(chunk []byte) {
	e.write(escapeChunk(chunk))
}

func (e *JSONEncoder) EndString() {
	e.write([]byte{'"'})
}

const hexDigits = "0123456789abcdef"

// appendQuoted appends s as a quoted JSON string. Invalid UTF-8 is replaced
// rather than emitted raw, so a garbage in-memory string can never corrupt
// the document.
func appendQuoted(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			dst = appendEscapedByte(dst, c)
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			dst = append(dst, `�`...)
			i++
			continue
		}
		dst = append(dst, s[i:i+size]...)
		i += size
	}
	return append(dst, '"')
}

// escapeChunk escapes a raw chunk of a streamed string. Multi-byte runes
// split across chunk boundaries pass through byte-for-byte, which keeps the
// concatenated output identical to escaping the whole string at once.
func escapeChunk(chunk []byte) []byte {
	var dst []byte
	clean := true
	for _, c := range chunk {
		if c < 0x20 || c == '"' || c == '\\' {
			clean = false
			break
		}
	}
	if clean {
		return chunk
	}
	for _, c := range chunk {
		if c >= utf8.RuneSelf {
			dst = append(dst, c)
			continue
		}
		dst = appendEscapedByte(dst, c)
	}
	return dst
}

func appendEscapedByte(dst []byte, c byte) []byte {
	switch c {
	case '"':
		return append(dst, '\\', '"')
	case '\\':
		return append(dst, '\\', '\\')
	case '\n':
		return append(dst, '\\', 'n')
	case '\r':
		return append(dst, '\\', 'r')
	case '\t':
		return append(dst, '\\', 't')
	default:
		if c < 0x20 {
			return append(dst, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
		}
		return append(dst, c)
	}
}
