package capbatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestOutputPath(t *testing.T) {
	if expected, actual := filepath.Join("out", "cat_v2.json"), OutputPath("out", "cat", "_v2"); expected != actual {
		t.Errorf("Expected %q, got %q", expected, actual)
	}
	if expected, actual := filepath.Join("out", "cat.json"), OutputPath("out", "cat", ""); expected != actual {
		t.Errorf("Expected %q, got %q", expected, actual)
	}
	if OutputPath("out", "cat", "") == OutputPath("out", "dog", "") {
		t.Error("Distinct base names produced the same path")
	}
}

func TestResolveContent(t *testing.T) {
	tests := []struct {
		name       string
		content    any
		structured bool
		expected   any
		warn       error
	}{
		{
			name:       "structured object",
			content:    `{"a":1}`,
			structured: true,
			expected:   map[string]any{"a": json.Number("1")},
		},
		{
			name:       "structured not json",
			content:    "not json",
			structured: true,
			expected:   "not json",
			warn:       ErrInvalidStructuredOutput,
		},
		{
			name:       "structured double encoded",
			content:    `"{\"a\":1}"`,
			structured: true,
			expected:   map[string]any{"a": json.Number("1")},
		},
		{
			name:     "plain text",
			content:  "a cat on a mat",
			expected: "a cat on a mat",
		},
		{
			name:     "plain text holding json",
			content:  `[1, 2]`,
			expected: []any{json.Number("1"), json.Number("2")},
		},
		{
			name:     "trailing data is not json",
			content:  `{"a":1} and more`,
			expected: `{"a":1} and more`,
		},
		{
			name:     "non string content",
			content:  map[string]any{"caption": "x"},
			expected: map[string]any{"caption": "x"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			actual, warn := ResolveContent(tc.content, tc.structured)
			if !reflect.DeepEqual(tc.expected, actual) {
				t.Errorf("Expected %#v, got %#v", tc.expected, actual)
			}
			if !errors.Is(warn, tc.warn) {
				t.Errorf("Expected warning %v, got %v", tc.warn, warn)
			}
		})
	}
}

func TestWriteOutput(t *testing.T) {
	dir := t.TempDir()
	v := map[string]any{"caption": "a <b> cat", "tags": []any{"cat", "mat"}}

	pretty := filepath.Join(dir, "pretty.json")
	compact := filepath.Join(dir, "compact.json")
	if err := WriteOutput(pretty, v, true); err != nil {
		t.Fatal(err)
	}
	if err := WriteOutput(compact, v, false); err != nil {
		t.Fatal(err)
	}

	pdata, _ := os.ReadFile(pretty)
	cdata, _ := os.ReadFile(compact)
	if !bytes.Contains(pdata, []byte("\n  ")) {
		t.Errorf("Expected indentation in pretty output, got %s", pdata)
	}
	if bytes.ContainsAny(cdata, "\n\t") {
		t.Errorf("Expected compact output on one line, got %s", cdata)
	}
	if !bytes.Contains(cdata, []byte("<b>")) {
		t.Errorf("Expected HTML to be left unescaped, got %s", cdata)
	}

	var pv, cv any
	if err := json.Unmarshal(pdata, &pv); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(cdata, &cv); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(pv, cv) {
		t.Errorf("Pretty and compact decode differently: %v vs %v", pv, cv)
	}

	t.Run("overwrites", func(t *testing.T) {
		if err := WriteOutput(compact, "replaced", false); err != nil {
			t.Fatal(err)
		}
		data, _ := os.ReadFile(compact)
		if expected, actual := `"replaced"`, string(data); expected != actual {
			t.Errorf("Expected %s, got %s", expected, actual)
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		err := WriteOutput(filepath.Join(dir, "nope", "x.json"), "x", false)
		if !errors.Is(err, ErrIO) {
			t.Errorf("Expected ErrIO, got %v", err)
		}
	})
}
