package at

import (
	"strconv"
	"strings"
)

// TrimPrefix strips the given response prefix (e.g. "+QCSQ:") and any
// surrounding whitespace from line. It reports false when the prefix is
// absent.
func TrimPrefix(line, prefix string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	return strings.TrimSpace(line[len(prefix):]), true
}

// Cursor consumes the comma-separated fields of a response line from left
// to right. Once a required field is missing or malformed the cursor stays
// failed and every further access reports false, which keeps parsers
// fail-closed without per-field error plumbing.
type Cursor struct {
	rest   string
	more   bool
	failed bool
}

// NewCursor returns a cursor over the fields of s.
func NewCursor(s string) *Cursor {
	return &Cursor{rest: s, more: s != ""}
}

// Failed reports whether a previous field access failed.
func (c *Cursor) Failed() bool {
	return c.failed
}

// More reports whether unconsumed fields remain.
func (c *Cursor) More() bool {
	return c.more && !c.failed
}

// Next returns the next field with surrounding whitespace and one pair of
// double quotes removed.
func (c *Cursor) Next() (string, bool) {
	if c.failed || !c.more {
		c.failed = true
		return "", false
	}
	var field string
	if i := strings.IndexByte(c.rest, ','); i >= 0 {
		field, c.rest = c.rest[:i], c.rest[i+1:]
	} else {
		field, c.rest = c.rest, ""
		c.more = false
	}
	return unquote(strings.TrimSpace(field)), true
}

// NextUint consumes the next field as an unsigned decimal integer that must
// fit in the given bit width.
func (c *Cursor) NextUint(bits int) (uint64, bool) {
	f, ok := c.Next()
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(f, 10, bits)
	if err != nil {
		c.failed = true
		return 0, false
	}
	return v, true
}

// NextInt consumes the next field as a signed decimal integer that must fit
// in the given bit width.
func (c *Cursor) NextInt(bits int) (int64, bool) {
	f, ok := c.Next()
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(f, 10, bits)
	if err != nil {
		c.failed = true
		return 0, false
	}
	return v, true
}

// NextHex consumes the next field as a hexadecimal integer, with or without
// a 0x prefix, that must fit in the given bit width.
func (c *Cursor) NextHex(bits int) (uint64, bool) {
	f, ok := c.Next()
	if !ok {
		return 0, false
	}
	f = strings.TrimPrefix(strings.TrimPrefix(f, "0x"), "0X")
	v, err := strconv.ParseUint(f, 16, bits)
	if err != nil {
		c.failed = true
		return 0, false
	}
	return v, true
}

// Remaining returns the unconsumed tail of the line.
func (c *Cursor) Remaining() string {
	if c.failed || !c.more {
		return ""
	}
	return c.rest
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
