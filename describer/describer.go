package describer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrTransport is returned when a request could not be sent or the
	// connection to the server failed.
	ErrTransport = errors.New("transport error")

	// ErrMalformedResponse is returned when the server replied successfully
	// but the body could not be decoded.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrNoImages is returned by Describe when the request carries no images.
	ErrNoImages = errors.New("request has no images")
)

// ServerError is returned when the server answers with a non-successful HTTP
// status. Body holds the raw response body for diagnostics.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (status %d): %s", e.StatusCode, e.Body)
}

// Image is a single base64 encoded image.
type Image struct {
	Data      string // base64, standard encoding
	MediaType string // e.g. "image/jpeg"
}

// Request is a backend independent description request. Schema and Options
// are passed through to the backend untouched.
type Request struct {
	Prompt  string
	Images  []Image
	Schema  json.RawMessage // optional structured output constraint
	Options json.RawMessage // optional model options, a JSON object
}

// Describer describes images using a specific LLM backend.
type Describer interface {
	// Name returns the name of the backend, e.g. "ollama" or "llama"
	Name() string

	// Model returns the model identifier sent with each request.
	Model() string

	// Describe sends the prompt and images to the backend and returns one
	// content value per image, in request order. A content value is usually
	// a string holding the model's reply, which may itself encode JSON when a
	// schema was supplied.
	Describe(ctx context.Context, req Request) ([]any, error)

	// IsHealthy returns whether the LLM server is responding.
	IsHealthy(ctx context.Context) bool
}
