package backtrace

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/blacktop/crashkit/pkg/image"
)

// symbolCacheSize bounds the per-report resolution cache. Stacks repeat
// addresses heavily across threads, so even a small cache removes most
// symbol-table searches.
const symbolCacheSize = 256

// Frame is one fully resolved backtrace entry.
type Frame struct {
	InstructionAddr uint64
	ObjectName      string
	ObjectAddr      uint64
	SymbolName      string
	SymbolAddr      uint64
}

// Symbolicator resolves instruction addresses against a fixed set of loaded
// images. Resolution never fails: an address outside every image, or inside
// an image with no usable symbol, still yields a frame with whatever fields
// could be filled.
type Symbolicator struct {
	images []*image.Image
	cache  *lru.Cache[uint64, Frame]
}

// NewSymbolicator builds a resolver over images.
func NewSymbolicator(images []*image.Image) *Symbolicator {
	cache, _ := lru.New[uint64, Frame](symbolCacheSize)
	return &Symbolicator{images: images, cache: cache}
}

// Resolve maps one instruction address to a frame.
func (s *Symbolicator) Resolve(addr uint64) Frame {
	if f, ok := s.cache.Get(addr); ok {
		return f
	}
	f := Frame{InstructionAddr: addr}
	for _, img := range s.images {
		if !img.Contains(addr) {
			continue
		}
		f.ObjectName = img.Name()
		f.ObjectAddr = img.Base
		if sym, ok := img.Nearest(addr); ok {
			f.SymbolName = sym.Name
			f.SymbolAddr = sym.Address
		} else {
			// No symbol at or below the address; report the image base so
			// the offset is still computable.
			f.SymbolAddr = img.Base
		}
		break
	}
	s.cache.Add(addr, f)
	return f
}

// ResolveAll maps a whole captured stack.
func (s *Symbolicator) ResolveAll(addrs []uint64) []Frame {
	frames := make([]Frame, len(addrs))
	for i, addr := range addrs {
		frames[i] = s.Resolve(addr)
	}
	return frames
}
