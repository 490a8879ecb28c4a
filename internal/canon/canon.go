// Package canon implements the canonical JSON byte form used as hash input:
// object keys sorted by code point, no insignificant whitespace, NFC-normalized
// strings with line endings collapsed to \n, shortest round-tripping numbers,
// and -0 serialized as 0. The output exists only to be hashed; it is never a
// wire format.
package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/ubl-proto/ubl/internal/ublerr"
)

// Canonicalize serializes v to its canonical byte form. v may be any
// JSON-marshalable value; structs round-trip through encoding/json first so
// omitted fields disappear before sorting. NaN, infinities, and cyclic
// structures fail with non_canonicalizable.
func Canonicalize(v any) ([]byte, error) {
	plain, err := toPlain(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeValue(&buf, plain); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// toPlain reduces v to the generic JSON value tree (map[string]any, []any,
// json.Number, string, bool, nil). Typed values always round-trip through
// encoding/json so struct tags and omitempty apply before sorting.
func toPlain(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, ublerr.New(ublerr.NonCanonicalizable, "value cannot be canonicalized: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var plain any
	if err := dec.Decode(&plain); err != nil {
		return nil, ublerr.New(ublerr.NonCanonicalizable, "value cannot be canonicalized: %v", err)
	}
	return plain, nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		return writeNumber(buf, val)
	case float64:
		return writeFloat(buf, val)
	case string:
		writeString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			if err := writeValue(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return ublerr.New(ublerr.NonCanonicalizable, "unsupported value of type %T", v)
	}
	return nil
}

// writeNumber normalizes a decoded number literal: integers pass through with
// -0 collapsed to 0, everything else re-renders as the shortest decimal that
// round-trips through float64.
func writeNumber(buf *bytes.Buffer, n json.Number) error {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if s == "-0" {
			s = "0"
		}
		buf.WriteString(s)
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return ublerr.New(ublerr.NonCanonicalizable, "invalid number %q", s)
	}
	return writeFloat(buf, f)
}

func writeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ublerr.New(ublerr.NonCanonicalizable, "non-finite number")
	}
	if f == 0 {
		buf.WriteString("0")
		return nil
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		return nil
	}
	// encoding/json's shortest form: %g with exponent cleanup.
	out, err := json.Marshal(f)
	if err != nil {
		return ublerr.New(ublerr.NonCanonicalizable, "non-finite number")
	}
	buf.Write(out)
	return nil
}

// writeString NFC-normalizes, collapses line endings, and escapes per the
// JSON spec with \uXXXX for remaining control characters.
func writeString(buf *bytes.Buffer, s string) {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\t':
			buf.WriteString(`\t`)
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
