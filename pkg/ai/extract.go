package ai

import (
	"strings"

	"github.com/buger/jsonparser"
)

// textProbes are tried in order; the first non-blank result wins.
var textProbes = [][]string{
	{"text"},
	{"output_text"},
	{"choices", "[0]", "message", "content"},
	{"choices", "[0]", "text"},
	{"candidates", "[0]", "content", "parts"},
}

// ExtractText pulls the reply text out of a vendor payload. Payloads with
// no recognizable text yield NoResponse.
func ExtractText(data []byte) string {
	for _, path := range textProbes {
		if text := strings.TrimSpace(textAt(data, path...)); text != "" {
			return text
		}
	}
	return NoResponse
}

// textAt reads a string, or concatenates the text of a parts array.
func textAt(data []byte, path ...string) string {
	value, typ, _, err := jsonparser.Get(data, path...)
	if err != nil {
		return ""
	}
	switch typ {
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return ""
		}
		return s
	case jsonparser.Array:
		return joinParts(value)
	default:
		return ""
	}
}

// joinParts accepts ["a","b"] as well as [{"text":"a"},{"type":"x","text":"b"}].
func joinParts(array []byte) string {
	var b strings.Builder
	_, _ = jsonparser.ArrayEach(array, func(value []byte, typ jsonparser.ValueType, _ int, err error) {
		if err != nil {
			return
		}
		switch typ {
		case jsonparser.String:
			if s, err := jsonparser.ParseString(value); err == nil {
				b.WriteString(s)
			}
		case jsonparser.Object:
			if s, err := jsonparser.GetString(value, "text"); err == nil {
				b.WriteString(s)
			}
		}
	})
	return b.String()
}

// errorMessage finds a human readable message in a vendor error body.
func errorMessage(data []byte) string {
	if s, err := jsonparser.GetString(data, "error", "message"); err == nil && s != "" {
		return s
	}
	if s, err := jsonparser.GetString(data, "error"); err == nil && s != "" {
		return s
	}
	if s, err := jsonparser.GetString(data, "message"); err == nil && s != "" {
		return s
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
