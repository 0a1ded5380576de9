package capbatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// OutputPath returns {dir}/{base}{suffix}.json
func OutputPath(dir, base, suffix string) string {
	return filepath.Join(dir, base+suffix+".json")
}

// ResolveContent turns a content value from a describer into the value to be
// persisted. Content is usually a string the model produced, which may itself
// be JSON, so decoding happens in two stages:
//
//  1. When structured output was requested the string is parsed as JSON. If
//     that fails the raw text is kept and ErrInvalidStructuredOutput is
//     returned along with the value so the caller can warn.
//  2. If the value is still a string that parses as JSON, the parsed value is
//     used, otherwise the literal string.
func ResolveContent(content any, structured bool) (any, error) {
	var warn error

	v := content
	if s, ok := content.(string); ok && structured {
		if parsed, ok := parseJSON(s); ok {
			v = parsed
		} else {
			warn = ErrInvalidStructuredOutput
		}
	}

	if s, ok := v.(string); ok {
		if parsed, ok := parseJSON(s); ok {
			v = parsed
		}
	}

	return v, warn
}

func parseJSON(s string) (any, bool) {
	if !json.Valid([]byte(s)) {
		return nil, false
	}

	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}

	return v, true
}

// MarshalOutput serializes v either indented by two spaces or compact.
func MarshalOutput(v any, pretty bool) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	// Encode always appends a newline
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// WriteOutput writes v to path, replacing any existing file.
func WriteOutput(path string, v any, pretty bool) error {
	data, err := MarshalOutput(v, pretty)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	return nil
}
