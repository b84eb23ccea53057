// Package objruntime inspects the dynamic object runtime of a faulted
// process, read-only, through the safe memory layer. It classifies arbitrary
// addresses (string, object, class, closure, opaque) and dumps object
// structure into a crash report without ever dereferencing memory directly.
//
// The in-memory ABI it understands:
//
//	object    +0  class descriptor pointer
//	class     +0  metaclass pointer
//	          +8  name pointer (NUL-terminated UTF-8)
//	          +16 ivar descriptor table pointer
//	          +24 ivar count (uint32)
//	          +28 flags (uint32; upper bits carry the descriptor magic)
//	ivar      +0  name pointer
//	          +8  byte offset within the instance (uint32)
//	          +12 type code (uint32, one of the scalar/pointer codes below)
//
// Pointers with the low bit set are tagged: bits 1-3 select the payload
// encoding, bits 4-63 carry the payload itself. Unrecognized encodings are
// treated as invalid, never guessed at.
package objruntime

import (
	"encoding/binary"
	"math"
	"unicode"
	"unicode/utf8"

	"github.com/blacktop/crashkit/pkg/memory"
)

// Kind is the classification of one memory address.
type Kind int

const (
	KindNull Kind = iota
	// KindInvalid is a tagged pointer with an unrecognized encoding.
	KindInvalid
	// KindString is raw printable memory, not a runtime object.
	KindString
	// KindObject is a managed-object instance (including valid tagged
	// pointers).
	KindObject
	KindClass
	KindClosure
	// KindUnknown is readable or unreadable memory we cannot say anything
	// about.
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null_pointer"
	case KindInvalid:
		return "invalid"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindClass:
		return "class"
	case KindClosure:
		return "block"
	default:
		return "unknown"
	}
}

// ClassKind selects the specialized rendering for well-known built-in
// classes.
type ClassKind int

const (
	ClassUnknown ClassKind = iota
	ClassString
	ClassURL
	ClassDate
	ClassNumber
	ClassArray
	ClassDictionary
	ClassException
)

// Class descriptor layout constants.
const (
	classHeaderSize = 32
	classMagic      = 0x4f424a00 // descriptor validity marker in flags
	flagClosure     = 0x1

	ivarDescSize = 16
	maxIvars     = 64

	classNameMaxLen = 128
)

// Instance layout offsets for the specialized built-in classes.
const (
	offClass    = 0
	offPayload  = 8  // string length / number value / date value / array count
	offContents = 16 // string bytes / array elements pointer

	stringContentsCap = 200
)

// String validity bounds: a raw string needs at least minStringLength
// printable bytes before its terminator, probed with a single bounded read.
const (
	minStringLength  = 4
	stringReadLength = 500
)

// Ivar type codes, matching the runtime's declared-type encoding.
const (
	TypeInt8    = 'c'
	TypeInt     = 'i'
	TypeInt16   = 's'
	TypeInt32   = 'l'
	TypeInt64   = 'q'
	TypeUint8   = 'C'
	TypeUint    = 'I'
	TypeUint16  = 'S'
	TypeUint32  = 'L'
	TypeUint64  = 'Q'
	TypeFloat   = 'f'
	TypeDouble  = 'd'
	TypeBool    = 'B'
	TypeCString = '*'
	TypeObject  = '@'
	TypeClass   = '#'
	TypeSel     = ':'
)

// Tagged pointer encodings this inspector recognizes.
const (
	tagMarker  = 0x1
	tagNumber  = 0 // payload is a signed integer
	tagString  = 1 // payload is up to 7 packed ASCII bytes
	tagShift   = 4
	tagNumBits = 3
)

func isTagged(addr uint64) bool { return addr&tagMarker != 0 }

func taggedTag(addr uint64) uint64 { return (addr >> 1) & ((1 << tagNumBits) - 1) }

func taggedPayload(addr uint64) uint64 { return addr >> tagShift }

// validTagged reports whether a tagged pointer uses an encoding we
// recognize. Anything else is conservatively invalid.
func validTagged(addr uint64) bool {
	switch taggedTag(addr) {
	case tagNumber, tagString:
		return true
	default:
		return false
	}
}

// taggedClassName names the synthetic class of a tagged value.
func taggedClassName(addr uint64) string {
	switch taggedTag(addr) {
	case tagNumber:
		return "NSNumber"
	case tagString:
		return "NSString"
	default:
		return ""
	}
}

// taggedNumber decodes a tagged integer payload, sign-extended.
func taggedNumber(addr uint64) int64 {
	return int64(addr) >> tagShift
}

// taggedString unpacks the ASCII payload of a tagged string.
func taggedString(addr uint64) string {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], taggedPayload(addr))
	n := 0
	for n < 7 && buf[n] != 0 {
		n++
	}
	return string(buf[:n])
}

// Inspector binds the safe memory reader and the per-report introspection
// policy. One Inspector serves one report pass; no global state.
type Inspector struct {
	mem memory.Reader
	pol Policy
}

// NewInspector returns an inspector over mem governed by pol.
func NewInspector(mem memory.Reader, pol Policy) *Inspector {
	if pol.Builtins == nil {
		pol.Builtins = DefaultBuiltins()
	}
	return &Inspector{mem: mem, pol: pol}
}

type classInfo struct {
	addr  uint64
	name  string
	flags uint32
	ivars uint64
	count uint32
}

// readClass validates addr as a class descriptor. All reads are bounds
// checked; garbage fails validation rather than trapping.
func (in *Inspector) readClass(addr uint64) (*classInfo, bool) {
	if addr == 0 || isTagged(addr) {
		return nil, false
	}
	var hdr [classHeaderSize]byte
	if err := in.mem.ReadAt(hdr[:], addr); err != nil {
		return nil, false
	}
	flags := binary.LittleEndian.Uint32(hdr[28:])
	if flags&^0xff != classMagic {
		return nil, false
	}
	count := binary.LittleEndian.Uint32(hdr[24:])
	if count > maxIvars {
		return nil, false
	}
	namePtr := binary.LittleEndian.Uint64(hdr[8:])
	name, ok := in.readCString(namePtr, classNameMaxLen)
	if !ok || name == "" {
		return nil, false
	}
	return &classInfo{
		addr:  addr,
		name:  name,
		flags: flags,
		ivars: binary.LittleEndian.Uint64(hdr[16:]),
		count: count,
	}, true
}

// classOf resolves the class descriptor of an object instance.
func (in *Inspector) classOf(addr uint64) (*classInfo, bool) {
	clsPtr, err := memory.ReadPointer(in.mem, addr+offClass)
	if err != nil {
		return nil, false
	}
	return in.readClass(clsPtr)
}

// Classify decides what addr points at. It never faults, whatever the
// address; unreadable or unrecognizable memory is KindUnknown.
func (in *Inspector) Classify(addr uint64) Kind {
	if addr == 0 {
		return KindNull
	}
	if isTagged(addr) {
		if validTagged(addr) {
			return KindObject
		}
		return KindInvalid
	}
	if _, ok := in.validString(addr); ok {
		return KindString
	}
	if _, ok := in.readClass(addr); ok {
		return KindClass
	}
	if cls, ok := in.classOf(addr); ok {
		if cls.flags&flagClosure != 0 {
			return KindClosure
		}
		return KindObject
	}
	return KindUnknown
}

// validString probes addr for a NUL-terminated printable string of at least
// minStringLength bytes, using one bounded read. Failure of the read means
// "not a string", never an error.
func (in *Inspector) validString(addr uint64) (string, bool) {
	if addr == 0 {
		return "", false
	}
	if stringReadLength > math.MaxUint64-addr {
		// Wrapped around the top of the address space.
		return "", false
	}
	var buf [stringReadLength]byte
	if err := in.mem.ReadAt(buf[:], addr); err != nil {
		return "", false
	}
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	if n < minStringLength || n == len(buf) {
		return "", false
	}
	s := string(buf[:n])
	if !utf8.ValidString(s) {
		return "", false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) && r != '\n' && r != '\t' {
			return "", false
		}
	}
	return s, true
}

// readCString reads a bounded NUL-terminated string. Unterminated or
// unreadable memory fails.
func (in *Inspector) readCString(addr uint64, max int) (string, bool) {
	if addr == 0 {
		return "", false
	}
	buf := make([]byte, max)
	if err := in.mem.ReadAt(buf, addr); err != nil {
		return "", false
	}
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	if n == len(buf) {
		return "", false
	}
	return string(buf[:n]), true
}

// stringContents extracts the character payload of a string instance,
// capped at stringContentsCap bytes.
func (in *Inspector) stringContents(addr uint64) (string, bool) {
	if isTagged(addr) {
		return taggedString(addr), true
	}
	var hdr [4]byte
	if err := in.mem.ReadAt(hdr[:], addr+offPayload); err != nil {
		return "", false
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > stringContentsCap {
		n = stringContentsCap
	}
	buf := make([]byte, n)
	if err := in.mem.ReadAt(buf, addr+offContents); err != nil {
		return "", false
	}
	if !utf8.Valid(buf) {
		return "", false
	}
	return string(buf), true
}

// floatContents reads the float64 payload slot of a number or date
// instance.
func (in *Inspector) floatContents(addr uint64) (float64, bool) {
	if isTagged(addr) {
		return float64(taggedNumber(addr)), true
	}
	v, err := memory.ReadPointer(in.mem, addr+offPayload)
	if err != nil {
		return 0, false
	}
	return math.Float64frombits(v), true
}

// firstArrayElement returns the first element pointer of an array instance.
func (in *Inspector) firstArrayElement(addr uint64) (uint64, bool) {
	if isTagged(addr) {
		return 0, false
	}
	var hdr [4]byte
	if err := in.mem.ReadAt(hdr[:], addr+offPayload); err != nil {
		return 0, false
	}
	if binary.LittleEndian.Uint32(hdr[:]) == 0 {
		return 0, false
	}
	elems, err := memory.ReadPointer(in.mem, addr+offContents)
	if err != nil {
		return 0, false
	}
	first, err := memory.ReadPointer(in.mem, elems)
	if err != nil {
		return 0, false
	}
	return first, true
}
