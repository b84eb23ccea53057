package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/blacktop/crashkit/internal/colors"
)

var dubZeros = regexp.MustCompile(`\s(00\s)+|\.`)

// HexDump renders data in `hexdump -C` style, with addresses starting at
// vaddr and runs of zero bytes de-emphasized.
func HexDump(data []byte, vaddr uint64) string {
	if len(data) == 0 {
		return ""
	}
	faint := colors.Faint().SprintFunc()
	addr := colors.Faint().SprintfFunc()

	var buf strings.Builder
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		line := data[off:end]

		buf.WriteString(addr("%016x: ", vaddr+uint64(off)))
		for i := 0; i < 16; i++ {
			if i == 8 {
				buf.WriteByte(' ')
			}
			if i < len(line) {
				fmt.Fprintf(&buf, "%02x ", line[i])
			} else {
				buf.WriteString("   ")
			}
		}
		buf.WriteString(" |")
		for _, b := range line {
			if b < 32 || b > 126 {
				buf.WriteByte('.')
			} else {
				buf.WriteByte(b)
			}
		}
		buf.WriteString("|\n")
	}
	return dubZeros.ReplaceAllStringFunc(buf.String(), func(s string) string {
		return faint(s)
	})
}
