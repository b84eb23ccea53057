// Package memory provides bounds-checked access to the address space of a
// faulted process. Every component that inspects live addresses goes through
// a Reader; a read of a wild pointer returns ErrInaccessible instead of
// faulting, which is what makes introspection from a crash handler survivable.
package memory

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// ErrInaccessible is returned when any part of a requested range cannot be
// read. Pointer arithmetic that would wrap the address space is reported the
// same way.
var ErrInaccessible = errors.New("memory: address not accessible")

// Reader reads length bytes from an arbitrary address in the inspected
// process. Implementations must never fault, whatever the address.
type Reader interface {
	ReadAt(p []byte, addr uint64) error
}

// rangeValid rejects zero-length edge cases and address ranges that wrap
// around the top of the address space.
func rangeValid(addr uint64, length int) bool {
	if length < 0 {
		return false
	}
	return uint64(length) <= math.MaxUint64-addr
}

// ReadPointer reads a pointer-sized little-endian value.
func ReadPointer(r Reader, addr uint64) (uint64, error) {
	var buf [8]byte
	if err := r.ReadAt(buf[:], addr); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// ReaderAt adapts a Reader into an io.ReaderAt rooted at base, so parsers
// that expect a file-like view (e.g. Mach-O load command walkers) can operate
// directly on mapped process memory.
func ReaderAt(r Reader, base uint64) io.ReaderAt {
	return &readerAt{r: r, base: base}
}

type readerAt struct {
	r    Reader
	base uint64
}

func (ra *readerAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrInaccessible
	}
	if !rangeValid(ra.base, int(off)) {
		return 0, ErrInaccessible
	}
	if err := ra.r.ReadAt(p, ra.base+uint64(off)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Snapshot is a Reader over a set of registered memory regions. It backs
// tests and reports generated from recorded (rather than live) state.
// Reads that touch any unmapped byte fail with ErrInaccessible.
type Snapshot struct {
	regions []region
}

type region struct {
	addr uint64
	data []byte
}

// NewSnapshot returns an empty snapshot; all reads fail until regions are
// mapped in.
func NewSnapshot() *Snapshot {
	return &Snapshot{}
}

// Map registers data at addr. Overlapping regions are allowed; the most
// recently mapped region wins for the bytes it covers.
func (s *Snapshot) Map(addr uint64, data []byte) {
	s.regions = append(s.regions, region{addr: addr, data: data})
}

func (s *Snapshot) ReadAt(p []byte, addr uint64) error {
	if !rangeValid(addr, len(p)) {
		return ErrInaccessible
	}
	if len(p) == 0 {
		return nil
	}
	// Later mappings shadow earlier ones.
	for i := len(s.regions) - 1; i >= 0; i-- {
		reg := s.regions[i]
		if addr < reg.addr || addr-reg.addr > uint64(len(reg.data)) {
			continue
		}
		off := addr - reg.addr
		if uint64(len(p)) > uint64(len(reg.data))-off {
			continue
		}
		copy(p, reg.data[off:])
		return nil
	}
	return ErrInaccessible
}
