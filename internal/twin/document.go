package twin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

// DocumentKind distinguishes the two shapes a desired document arrives in.
type DocumentKind int

const (
	// DocumentPatch is a desired-property patch: {"prop":v,...,"$version":n}.
	DocumentPatch DocumentKind = iota

	// DocumentFull is the get-twin response:
	// {"desired":{...,"$version":n},"reported":{...}}.
	DocumentFull
)

func (k DocumentKind) String() string {
	if k == DocumentFull {
		return "full"
	}
	return "patch"
}

const (
	versionKey = "$version"
	desiredKey = "desired"
)

// tokenReader walks a document with a forward-only token stream.
type tokenReader struct {
	dec *json.Decoder
}

func newTokenReader(doc []byte) *tokenReader {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	return &tokenReader{dec: dec}
}

func (r *tokenReader) token() (json.Token, error) {
	tok, err := r.dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: unexpected end of document", ErrMalformedDocument)
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}
	return tok, nil
}

// beginObject consumes a '{'.
func (r *tokenReader) beginObject() error {
	tok, err := r.token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: expected object", ErrMalformedDocument)
	}
	return nil
}

// nextKey returns the next member name of the current object, or ok=false
// at its closing '}'.
func (r *tokenReader) nextKey() (key string, ok bool, err error) {
	tok, err := r.token()
	if err != nil {
		return "", false, err
	}
	switch t := tok.(type) {
	case json.Delim:
		if t == '}' {
			return "", false, nil
		}
	case string:
		return t, true, nil
	}
	return "", false, fmt.Errorf("%w: expected member name", ErrMalformedDocument)
}

// skip discards the next value, including nested objects and arrays.
func (r *tokenReader) skip() error {
	depth := 0
	for {
		tok, err := r.token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
		if depth == 0 {
			return nil
		}
	}
}

// number reads the next value as a number. A value of any other type is
// consumed and reported as ErrTypeMismatch.
func (r *tokenReader) number(name string) (json.Number, error) {
	tok, err := r.token()
	if err != nil {
		return "", err
	}
	if n, ok := tok.(json.Number); ok {
		return n, nil
	}
	if d, ok := tok.(json.Delim); ok && (d == '{' || d == '[') {
		// Balance the container so the error is reported cleanly.
		depth := 1
		for depth > 0 {
			tok, err := r.token()
			if err != nil {
				return "", err
			}
			if d, ok := tok.(json.Delim); ok {
				if d == '{' || d == '[' {
					depth++
				} else {
					depth--
				}
			}
		}
	}
	return "", fmt.Errorf("%w: %s is not a number", ErrTypeMismatch, name)
}

// enterDesired positions the reader inside the object holding the desired
// properties: the root for a patch, the "desired" member for a full document.
func (r *tokenReader) enterDesired(kind DocumentKind) (found bool, err error) {
	if err := r.beginObject(); err != nil {
		return false, err
	}
	if kind == DocumentPatch {
		return true, nil
	}
	for {
		key, ok, err := r.nextKey()
		if err != nil || !ok {
			return false, err
		}
		if key == desiredKey {
			return true, r.beginObject()
		}
		if err := r.skip(); err != nil {
			return false, err
		}
	}
}

// documentVersion extracts $version from the desired section of doc.
func documentVersion(kind DocumentKind, doc []byte) (int64, error) {
	r := newTokenReader(doc)
	found, err := r.enterDesired(kind)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, ErrVersionMissing
	}
	for {
		key, ok, err := r.nextKey()
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, ErrVersionMissing
		}
		if key != versionKey {
			if err := r.skip(); err != nil {
				return 0, err
			}
			continue
		}
		n, err := r.number(versionKey)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrVersionMissing, err)
		}
		v, err := n.Int64()
		if err != nil || v < 0 {
			return 0, fmt.Errorf("%w: invalid %s %q", ErrVersionMissing, versionKey, n)
		}
		return v, nil
	}
}

// desiredProperties calls apply for every member of the desired section
// whose name satisfies recognized, in document order. The walk stops at the
// first value of the wrong type or the first error from apply; members
// already applied stay applied.
func desiredProperties(kind DocumentKind, doc []byte, recognized func(string) bool, apply func(name string, n json.Number) error) error {
	r := newTokenReader(doc)
	found, err := r.enterDesired(kind)
	if err != nil || !found {
		return err
	}
	for {
		key, ok, err := r.nextKey()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if key == versionKey || !recognized(key) {
			if err := r.skip(); err != nil {
				return err
			}
			continue
		}
		n, err := r.number(key)
		if err != nil {
			return err
		}
		if err := apply(key, n); err != nil {
			return err
		}
	}
}

// asUint32 converts a property value to an unsigned 32-bit integer.
func asUint32(name string, n json.Number) (uint32, error) {
	v, err := strconv.ParseUint(n.String(), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an unsigned integer, got %s", ErrTypeMismatch, name, n)
	}
	return uint32(v), nil
}

// asInt32 converts a property value to a signed 32-bit integer.
func asInt32(name string, n json.Number) (int32, error) {
	v, err := strconv.ParseInt(n.String(), 10, 32)
	if err != nil || v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s must be an integer, got %s", ErrTypeMismatch, name, n)
	}
	return int32(v), nil
}
