// Package tagjson decodes vendor bodies that are either a plain JSON document
// or a concatenation of tag={...} segments such as
//
//	vehicle={"vin":"WBA..."} status={"doorLockState":"LOCKED"}
//
// Tagged segments decode to one object keyed by tag.
package tagjson

import (
	"bytes"
	"encoding/json"
	"strconv"

	apperrors "github.com/jrsteele09/go-connecteddrive/internal/errors"
)

// Segment is one tag={...} block.
type Segment struct {
	Tag  string
	Body json.RawMessage
}

// Split scans data for tagged segments. A body without tags is returned as a
// single segment with an empty Tag.
func Split(data []byte) ([]Segment, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, &apperrors.DecodeError{Reason: "empty body"}
	}
	if looksLikeJSON(data) {
		if !json.Valid(data) {
			return nil, &apperrors.DecodeError{Reason: "invalid json"}
		}
		return []Segment{{Body: json.RawMessage(data)}}, nil
	}

	var segments []Segment
	for i := 0; i < len(data); {
		i = skipSpace(data, i)
		if i >= len(data) {
			break
		}
		tagStart := i
		for i < len(data) && isIdentByte(data[i]) {
			i++
		}
		if i == tagStart || i >= len(data) || data[i] != '=' {
			return nil, &apperrors.DecodeError{Reason: "expected tag= at offset " + strconv.Itoa(tagStart)}
		}
		tag := string(data[tagStart:i])
		i++ // '='

		end, err := balancedEnd(data, i)
		if err != nil {
			return nil, err
		}
		body := data[i:end]
		if !json.Valid(body) {
			return nil, &apperrors.DecodeError{Reason: "invalid json in segment " + strconv.Quote(tag)}
		}
		segments = append(segments, Segment{Tag: tag, Body: json.RawMessage(body)})
		i = end
	}
	return segments, nil
}

// Canonical renders data as a single JSON document: the body itself when it
// is untagged, otherwise an object with one member per tag. A repeated tag
// keeps its last value.
func Canonical(data []byte) (json.RawMessage, error) {
	segments, err := Split(data)
	if err != nil {
		return nil, err
	}
	if len(segments) == 1 && segments[0].Tag == "" {
		return segments[0].Body, nil
	}

	members := make(map[string]json.RawMessage, len(segments))
	for _, s := range segments {
		members[s.Tag] = s.Body
	}
	out, err := json.Marshal(members)
	if err != nil {
		return nil, &apperrors.DecodeError{Reason: "merge segments", Err: err}
	}
	return out, nil
}

// Unmarshal decodes a plain or tagged body into v.
func Unmarshal(data []byte, v any) error {
	doc, err := Canonical(data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(doc, v); err != nil {
		return &apperrors.DecodeError{Reason: "unmarshal", Err: err}
	}
	return nil
}

// Decode is Unmarshal into a generic value.
func Decode(data []byte) (any, error) {
	var v any
	if err := Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// looksLikeJSON reports whether data starts like a JSON value rather than a tag.
func looksLikeJSON(data []byte) bool {
	switch c := data[0]; {
	case c == '{' || c == '[' || c == '"' || c == '-' || (c >= '0' && c <= '9'):
		return true
	}
	for _, lit := range []string{"true", "false", "null"} {
		if bytes.Equal(data, []byte(lit)) {
			return true
		}
	}
	return false
}

// balancedEnd returns the offset just past the {...} block starting at i.
// Braces inside strings are ignored.
func balancedEnd(data []byte, i int) (int, error) {
	if i >= len(data) || data[i] != '{' {
		return 0, &apperrors.DecodeError{Reason: "expected { at offset " + strconv.Itoa(i)}
	}
	depth := 0
	inString := false
	for j := i; j < len(data); j++ {
		c := data[j]
		if inString {
			switch c {
			case '\\':
				j++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return j + 1, nil
			}
		}
	}
	return 0, &apperrors.DecodeError{Reason: "unbalanced braces"}
}

func skipSpace(data []byte, i int) int {
	for i < len(data) {
		switch data[i] {
		case ' ', '\t', '\n', '\r', ',', ';':
			i++
		default:
			return i
		}
	}
	return i
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '-' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
