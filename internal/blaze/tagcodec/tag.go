// Package tagcodec implements Blaze's tagged-value binary serialization
// format: the universal carrier used for every RPC exchange between the
// game client and Pocket Relay.
package tagcodec

import "fmt"

// Tag is a four-character field key packed into a 24-bit integer so
// tag literals fit in one machine word and compare in a single
// instruction. The zero Tag is reserved as the "end of object" marker.
type Tag uint32

// ZeroTag terminates a Group's field list on the wire.
const ZeroTag Tag = 0

// MustTag packs a 4-character literal into a Tag, panicking if the
// literal is not exactly 4 characters or contains a character outside
// the packable alphabet. Intended for package-level var declarations
// of well-known tags, e.g. `var TagADDR = tagcodec.MustTag("ADDR")`.
func MustTag(literal string) Tag {
	t, err := PackTag(literal)
	if err != nil {
		panic(fmt.Sprintf("tagcodec: %v", err))
	}
	return t
}

// PackTag packs a 4-character tag literal into its wire representation.
func PackTag(literal string) (Tag, error) {
	if len(literal) != 4 {
		return 0, fmt.Errorf("tag literal %q: must be exactly 4 characters", literal)
	}
	var packed uint32
	for i := 0; i < 4; i++ {
		code, err := charToCode(literal[i])
		if err != nil {
			return 0, fmt.Errorf("tag literal %q: %w", literal, err)
		}
		packed |= uint32(code) << uint(18-6*i)
	}
	return Tag(packed), nil
}

// String unpacks a Tag back into its 4-character literal form.
func (t Tag) String() string {
	buf := make([]byte, 4)
	for i := 0; i < 4; i++ {
		code := byte((uint32(t) >> uint(18-6*i)) & 0x3F)
		buf[i] = codeToChar(code)
	}
	return string(buf)
}

// charToCode maps a byte into the 6-bit packable alphabet: space,
// '0'-'9', 'A'-'Z', 'a'-'z', '_'.
func charToCode(c byte) (byte, error) {
	switch {
	case c == ' ':
		return 0, nil
	case c >= '0' && c <= '9':
		return c - '0' + 1, nil
	case c >= 'A' && c <= 'Z':
		return c - 'A' + 11, nil
	case c >= 'a' && c <= 'z':
		return c - 'a' + 37, nil
	case c == '_':
		return 63, nil
	default:
		return 0, fmt.Errorf("character %q is not in the tag alphabet", c)
	}
}

func codeToChar(code byte) byte {
	switch {
	case code == 0:
		return ' '
	case code >= 1 && code <= 10:
		return '0' + (code - 1)
	case code >= 11 && code <= 36:
		return 'A' + (code - 11)
	case code >= 37 && code <= 62:
		return 'a' + (code - 37)
	default:
		return '_'
	}
}
