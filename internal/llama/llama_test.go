package llama

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/chriskillpack/capbatch/describer"
)

func TestDescribe(t *testing.T) {
	var got []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completion" {
			t.Errorf("Expected /completion, got %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Failed to decode request: %s", err)
		}
		got = append(got, body)
		w.Write([]byte(`{"content":" {\"a\":1}","stop":true}` + "\n\n"))
	}))
	defer srv.Close()

	l := Init(srv.URL+"/", 42, srv.Client())
	contents, err := l.Describe(t.Context(), describer.Request{
		Prompt:  "describe",
		Images:  []describer.Image{{Data: "one"}, {Data: "two"}},
		Schema:  json.RawMessage(`{"type":"object"}`),
		Options: json.RawMessage(`{"temperature":0.1}`),
	})
	if err != nil {
		t.Fatalf("Unexpected error %s", err)
	}

	if !reflect.DeepEqual(contents, []any{`{"a":1}`, `{"a":1}`}) {
		t.Errorf("Unexpected contents %v", contents)
	}
	if expected, actual := 2, len(got); expected != actual {
		t.Fatalf("Expected %d requests, got %d", expected, actual)
	}

	body := got[1]
	if !strings.Contains(body["prompt"].(string), "[img-10]describe") {
		t.Errorf("Prompt missing image reference: %q", body["prompt"])
	}
	if expected, actual := 0.1, body["temperature"].(float64); expected != actual {
		t.Errorf("Expected temperature %v, got %v", expected, actual)
	}
	if expected, actual := float64(42), body["seed"].(float64); expected != actual {
		t.Errorf("Expected seed %v, got %v", expected, actual)
	}
	if !reflect.DeepEqual(body["json_schema"], map[string]any{"type": "object"}) {
		t.Errorf("Unexpected json_schema %v", body["json_schema"])
	}
	imgs := body["image_data"].([]any)
	if expected, actual := "two", imgs[0].(map[string]any)["data"]; expected != actual {
		t.Errorf("Expected image %q, got %q", expected, actual)
	}
}

func TestDescribeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading model"))
	}))
	defer srv.Close()

	l := Init(srv.URL, 1, srv.Client())
	_, err := l.Describe(t.Context(), describer.Request{Prompt: "p", Images: []describer.Image{{Data: "x"}}})

	var se *describer.ServerError
	if !errors.As(err, &se) {
		t.Fatalf("Expected ServerError, got %v", err)
	}
	if expected, actual := http.StatusServiceUnavailable, se.StatusCode; expected != actual {
		t.Errorf("Expected status %d, got %d", expected, actual)
	}
}
