// Package image enumerates the binary images loaded into the faulted
// process and extracts the structural metadata a crash report records for
// each: load address, text segment span, build UUID and architecture.
// Headers are parsed with go-macho, preferably straight out of process
// memory through the safe reader, falling back to the on-disk file.
package image

import (
	"sort"
	"strings"

	"github.com/apex/log"
	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
	"github.com/google/uuid"

	"github.com/blacktop/crashkit/pkg/memory"
)

// Module is one entry of the process's loaded-module list, as supplied by
// the monitor layer.
type Module struct {
	Path string
	Base uint64
}

// Image is the extracted metadata of one loaded module.
type Image struct {
	Base     uint64
	TextAddr uint64
	TextSize uint64
	Path     string
	// UUID is the module's build identifier, nil when the module carries
	// none.
	UUID       []byte
	CPUType    types.CPU
	CPUSubType types.CPUSubtype

	// Slide is the difference between the live load address and the
	// preferred address declared in the headers.
	Slide uint64

	syms []Symbol
}

// Symbol is one exported symbol of an image, at its slid (live) address.
type Symbol struct {
	Name    string
	Address uint64
}

// Name returns the last path component of the image path.
func (i *Image) Name() string {
	if idx := strings.LastIndexByte(i.Path, '/'); idx >= 0 {
		return i.Path[idx+1:]
	}
	return i.Path
}

// Contains reports whether addr falls inside the image's text mapping.
func (i *Image) Contains(addr uint64) bool {
	return addr >= i.Base && addr-i.Base < i.TextSize
}

// Nearest returns the closest preceding symbol for addr, or ok=false when
// the image has no symbol at or below it.
func (i *Image) Nearest(addr uint64) (Symbol, bool) {
	n := sort.Search(len(i.syms), func(n int) bool {
		return i.syms[n].Address > addr
	})
	if n == 0 {
		return Symbol{}, false
	}
	return i.syms[n-1], true
}

// Enumerate parses every module in the list. A module whose headers cannot
// be parsed from memory or disk is skipped, not reported as an error.
func Enumerate(r memory.Reader, mods []Module) []*Image {
	images := make([]*Image, 0, len(mods))
	for _, mod := range mods {
		img, err := parse(r, mod)
		if err != nil {
			log.WithError(err).WithField("path", mod.Path).Debug("skipping unparseable image")
			continue
		}
		images = append(images, img)
	}
	return images
}

func parse(r memory.Reader, mod Module) (*Image, error) {
	m, err := macho.NewFile(memory.ReaderAt(r, mod.Base))
	if err != nil {
		// Header not mapped (or not parseable in place); try the file.
		m, err = macho.Open(mod.Path)
		if err != nil {
			return nil, err
		}
	}
	defer m.Close()

	img := &Image{
		Base:       mod.Base,
		Path:       mod.Path,
		CPUType:    m.CPU,
		CPUSubType: m.SubCPU,
	}
	if text := m.Segment("__TEXT"); text != nil {
		// The preferred text address in the headers against the live load
		// address gives the slide.
		img.Slide = mod.Base - text.Addr
		img.TextAddr = text.Addr + img.Slide
		img.TextSize = text.Memsz
	}
	if u := m.UUID(); u != nil {
		if id, err := uuid.Parse(u.UUID.String()); err == nil {
			img.UUID = id[:]
		}
	}
	if m.Symtab != nil {
		for _, sym := range m.Symtab.Syms {
			if sym.Value == 0 || sym.Name == "" {
				continue
			}
			img.syms = append(img.syms, Symbol{Name: sym.Name, Address: sym.Value + img.Slide})
		}
		sort.Slice(img.syms, func(a, b int) bool {
			return img.syms[a].Address < img.syms[b].Address
		})
	}
	return img, nil
}
