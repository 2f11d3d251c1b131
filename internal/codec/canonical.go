// Package codec implements the canonical serialization, hashing, and
// signing protocol shared by every ClawNet event and P2P envelope: JSON
// Canonicalization Scheme (RFC 8785) encoding, SHA-256 content hashing with
// domain separation, and detached Ed25519 signatures.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Canonicalize serializes v as RFC 8785 JSON: UTF-8, no insignificant
// whitespace, object keys sorted by UTF-16 code unit, integers printed
// plainly, fractions in shortest round-trip form with no trailing zeros.
// Non-finite floats surface as ErrMalformedValue (encoding/json itself
// refuses to marshal NaN/Inf).
func Canonicalize(v interface{}) ([]byte, error) {
	buf, err := canonicalize(v)
	if err != nil {
		return nil, err
	}
	if buf.Len() > MaxEnvelopeBytes {
		return nil, ErrSizeExceeded
	}
	return buf.Bytes(), nil
}

// CanonicalizeNoLimit canonicalizes v the same way Canonicalize does but
// without enforcing MaxEnvelopeBytes. MaxEnvelopeBytes is a P2P-envelope
// and event-envelope bound (spec.md §3.1, §6); snapshots are explicitly
// allowed to exceed it and are instead bounded by the separate
// snapshot.maxBytes/maxChunkBytes config keys (spec.md §4.6, §6), so the
// snapshot package canonicalizes through this entry point instead.
func CanonicalizeNoLimit(v interface{}) ([]byte, error) {
	buf, err := canonicalize(v)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func canonicalize(v interface{}) (*bytes.Buffer, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedValue, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedValue, err)
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return &buf, nil
}

func encodeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch vv := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if vv {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		return encodeNumber(buf, vv)
	case string:
		encodeString(buf, vv)
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range vv {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return utf16Less(keys[i], keys[j]) })
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeString(buf, k)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, vv[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrMalformedValue, v)
	}
	return nil
}

// utf16Less orders two strings by their UTF-16 code unit sequence, as
// RFC 8785 §3.2.3 requires for object member ordering.
func utf16Less(a, b string) bool {
	au, bu := utf16.Encode([]rune(a)), utf16.Encode([]rune(b))
	for i := 0; i < len(au) && i < len(bu); i++ {
		if au[i] != bu[i] {
			return au[i] < bu[i]
		}
	}
	return len(au) < len(bu)
}

func encodeNumber(buf *bytes.Buffer, n json.Number) error {
	s := string(n)
	if !strings.ContainsAny(s, ".eE") {
		// Plain integer literal; pass through verbatim to preserve exact
		// digits beyond float64's 53-bit mantissa.
		buf.WriteString(s)
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedValue, err)
	}
	buf.WriteString(formatJCSFloat(f))
	return nil
}

// formatJCSFloat renders a float64 in shortest round-trip decimal form,
// matching ECMAScript Number::toString output for the magnitudes ClawNet
// payloads use (fixed-point reducer math keeps floats out of the hot path;
// this exists for payload fields that still carry them).
func formatJCSFloat(f float64) string {
	// ECMAScript uses fixed-point notation for magnitudes in [1e-6, 1e21)
	// and exponent notation outside it.
	format := byte('f')
	if abs := math.Abs(f); abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	s := strconv.FormatFloat(f, format, -1, 64)
	// Go emits "1e-07"; JS/JCS wants "1e-7" (no leading zero in the
	// exponent) and always a sign on the exponent.
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		mantissa, exp := s[:i], s[i+1:]
		sign := "+"
		if len(exp) > 0 && (exp[0] == '+' || exp[0] == '-') {
			sign = string(exp[0])
			exp = exp[1:]
		}
		exp = strings.TrimLeft(exp, "0")
		if exp == "" {
			exp = "0"
		}
		if !strings.Contains(mantissa, ".") {
			mantissa += ""
		}
		s = mantissa + "e" + sign + exp
	}
	return s
}

func encodeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}
