// Package utils holds small helpers shared by the report engine and the CLI.
package utils

import (
	"regexp"
	"strconv"

	"github.com/apex/log/handlers/cli"
)

const normalPadding = 2

// Indent indents apex log lines to the supplied level.
func Indent(f func(s string), level int) func(string) {
	return func(s string) {
		cli.Default.Padding = normalPadding * level
		f(s)
		cli.Default.Padding = normalPadding
	}
}

var hexValueRE = regexp.MustCompile(`0[xX][0-9a-fA-F]+`)

// ExtractHexValue pulls the first hex literal out of free-form text.
// Exception reason strings routinely embed the offending pointer this way.
func ExtractHexValue(s string) (uint64, bool) {
	m := hexValueRE.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(m[2:], 16, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
