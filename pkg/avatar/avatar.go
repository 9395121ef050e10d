// Package avatar derives the coloured badge shown next to a chat author.
package avatar

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf16"
)

// Color returns a "#rrggbb" colour derived from name. The same name always
// yields the same colour across clients.
func Color(name string) string {
	var hash int64
	for _, unit := range utf16.Encode([]rune(name)) {
		shifted := int64(int32(uint32(int32(hash)) << 5))
		hash = int64(unit) + (shifted - hash)
	}

	h := int32(hash)
	var b strings.Builder
	b.WriteByte('#')
	for i := 0; i < 3; i++ {
		fmt.Fprintf(&b, "%02x", (h>>(uint(i)*8))&0xff)
	}
	return b.String()
}

// Initial returns the upper-cased first letter of name, or "U" when name is empty.
func Initial(name string) string {
	for _, r := range name {
		return string(unicode.ToUpper(r))
	}
	return "U"
}
