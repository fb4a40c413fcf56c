// Package namekey is the reference implementation of the key codec
// contract a qptrie.Trie or qptrie.Multi needs for its *ByName operations
// (spec §4.1/§6): it turns a DNS name into a qptrie.Key whose
// lexicographic order matches DNS canonical tree order, and back.
//
// It lives in its own package, rather than inside qptrie itself, purely to
// avoid an import cycle: qptrie.Key is the type this package produces, and
// qptrie never needs to import namekey to do its job.
package namekey

import (
	"fmt"
	"strings"

	"github.com/dnsqp/qptrie/qptrie"
)

// MaxNameLen is the largest wire-format DNS name (255 octets). A name made
// only of letters, digits and hyphens always encodes within
// qptrie.MaxKeyLen bytes; every other byte takes three symbols, so a long
// name with many such bytes can exceed that limit and is rejected.
const MaxNameLen = 255

const (
	symSeparator byte = 2
	symDigit0    byte = 3  // digits occupy 3..12
	symLetterA   byte = 13 // lowercase letters occupy 13..38
	symHyphen    byte = 39
)

// Codec is a qptrie.NameCodec. Its zero value is ready to use.
type Codec struct{}

var _ qptrie.NameCodec = Codec{}

// EncodeName implements spec §4.1: labels are emitted right-most first,
// separated by a dedicated separator symbol that sorts before any label
// character, so a parent zone's key is always a proper prefix of (and
// therefore sorts before) any of its children's keys.
func (Codec) EncodeName(name string) (qptrie.Key, error) {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return qptrie.Key{}, nil
	}
	labels := strings.Split(name, ".")
	var out qptrie.Key
	for i := len(labels) - 1; i >= 0; i-- {
		if len(labels[i]) == 0 {
			return nil, fmt.Errorf("namekey: empty label in %q", name)
		}
		if i != len(labels)-1 {
			out = append(out, symSeparator)
		}
		for _, b := range []byte(labels[i]) {
			out = appendByte(out, b)
		}
	}
	if len(out) > qptrie.MaxKeyLen {
		return nil, fmt.Errorf("namekey: encoded name exceeds %d bytes", qptrie.MaxKeyLen)
	}
	return out, nil
}

// appendByte appends the symbols for one name byte: letters (case-folded),
// digits and the hyphen map to a single plain symbol; any other byte
// becomes qptrie.SymbolEscape followed by its two hex nibbles.
func appendByte(out qptrie.Key, b byte) qptrie.Key {
	if b >= 'A' && b <= 'Z' {
		b += 'a' - 'A'
	}
	switch {
	case b >= 'a' && b <= 'z':
		return append(out, symLetterA+(b-'a'))
	case b >= '0' && b <= '9':
		return append(out, symDigit0+(b-'0'))
	case b == '-':
		return append(out, symHyphen)
	default:
		return append(out, qptrie.SymbolEscape, nibbleSymbol(b>>4), nibbleSymbol(b&0x0F))
	}
}

// nibbleSymbol/symbolNibble reuse the digit and letter symbol ranges to
// spell out an escaped byte's two nibbles in hex, so no symbols beyond the
// plain alphabet need to be reserved for escaping.
func nibbleSymbol(n byte) byte {
	if n < 10 {
		return symDigit0 + n
	}
	return symLetterA + (n - 10)
}

func symbolNibble(s byte) (byte, bool) {
	switch {
	case s >= symDigit0 && s < symDigit0+10:
		return s - symDigit0, true
	case s >= symLetterA && s < symLetterA+6:
		return 10 + (s - symLetterA), true
	default:
		return 0, false
	}
}

// DecodeName inverts EncodeName. The result is always lowercase: DNS
// canonical form discards the original casing.
func (Codec) DecodeName(key qptrie.Key) (string, error) {
	if len(key) == 0 {
		return "", nil
	}
	var labels []string
	var cur []byte
	for i := 0; i < len(key); i++ {
		s := key[i]
		switch {
		case s == symSeparator:
			labels = append(labels, string(cur))
			cur = nil
		case s == qptrie.SymbolEscape:
			if i+2 >= len(key) {
				return "", fmt.Errorf("namekey: truncated escape sequence at byte %d", i)
			}
			hi, ok1 := symbolNibble(key[i+1])
			lo, ok2 := symbolNibble(key[i+2])
			if !ok1 || !ok2 {
				return "", fmt.Errorf("namekey: invalid escape sequence at byte %d", i)
			}
			cur = append(cur, hi<<4|lo)
			i += 2
		case s >= symDigit0 && s < symDigit0+10:
			cur = append(cur, '0'+(s-symDigit0))
		case s >= symLetterA && s < symLetterA+26:
			cur = append(cur, 'a'+(s-symLetterA))
		case s == symHyphen:
			cur = append(cur, '-')
		default:
			return "", fmt.Errorf("namekey: symbol %d out of range at byte %d", s, i)
		}
	}
	labels = append(labels, string(cur))
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return strings.Join(labels, "."), nil
}
