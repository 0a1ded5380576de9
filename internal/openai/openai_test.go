package openai

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

const completionBody = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "gpt-4o-mini",
	"choices": [
		{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"a\":1}"}}
	]
}`

func TestDescribe(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Unexpected Authorization header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Failed to decode request: %s", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionBody))
	}))
	defer srv.Close()

	o := Init(srv.URL+"/v1", "test-key", "gpt-4o-mini", 0, srv.Client())
	contents, err := o.Describe(t.Context(), describer.Request{
		Prompt:  "describe",
		Images:  []describer.Image{{Data: "aGVsbG8=", MediaType: "image/png"}},
		Schema:  json.RawMessage(`{"type":"object"}`),
		Options: json.RawMessage(`{"temperature":0}`),
	})
	if err != nil {
		t.Fatalf("Unexpected error %s", err)
	}
	if !reflect.DeepEqual(contents, []any{`{"a":1}`}) {
		t.Errorf("Unexpected contents %v", contents)
	}

	if expected, actual := "gpt-4o-mini", body["model"]; expected != actual {
		t.Errorf("Expected model %q, got %q", expected, actual)
	}
	if _, ok := body["temperature"]; !ok {
		t.Error("Expected temperature to be set from options")
	}
	rf, _ := body["response_format"].(map[string]any)
	if expected, actual := "json_schema", rf["type"]; expected != actual {
		t.Errorf("Expected response_format type %q, got %v", expected, actual)
	}
	raw, _ := json.Marshal(body["messages"])
	if !strings.Contains(string(raw), "data:image/png;base64,aGVsbG8=") {
		t.Errorf("Expected image data URL in messages, got %s", raw)
	}
}

func TestDescribeServerError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"internal error","type":"server_error"}}`))
	}))
	defer srv.Close()

	o := Init(srv.URL, "test-key", "gpt-4o-mini", 0, srv.Client())
	_, err := o.Describe(t.Context(), describer.Request{
		Prompt: "describe",
		Images: []describer.Image{{Data: "eA==", MediaType: "image/jpeg"}},
	})

	var se *describer.ServerError
	if !errors.As(err, &se) {
		t.Fatalf("Expected ServerError, got %v", err)
	}
	if expected, actual := 500, se.StatusCode; expected != actual {
		t.Errorf("Expected status %d, got %d", expected, actual)
	}
	if expected, actual := 1, calls; expected != actual {
		t.Errorf("Expected %d attempt, got %d", expected, actual)
	}
}
