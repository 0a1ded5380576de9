package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/chriskillpack/capbatch/describer"
)

// ChatRequest is the body of a POST to the ollama chat endpoint.
type ChatRequest struct {
	Model    string          `json:"model"`
	Messages []Message       `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  json.RawMessage `json:"options,omitempty"`
}

type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// BuildRequest assembles a single non-streaming chat request holding one user
// turn. schema and options are copied verbatim into the format and options
// fields when non-empty.
func BuildRequest(model, prompt string, images []string, schema, options json.RawMessage) ChatRequest {
	req := ChatRequest{
		Model: model,
		Messages: []Message{
			{Role: "user", Content: prompt, Images: images},
		},
		Stream: false,
	}
	if len(schema) > 0 {
		req.Format = schema
	}
	if len(options) > 0 {
		req.Options = options
	}

	return req
}

type ollama struct {
	apiURL string
	model  string

	client *http.Client
}

var _ describer.Describer = &ollama{}

// Init returns a Describer that talks to the chat endpoint at apiURL, e.g.
// http://localhost:11434/api/chat
func Init(model, apiURL string, httpClient *http.Client) *ollama {
	return &ollama{
		apiURL: apiURL,
		model:  model,
		client: httpClient,
	}
}

func (o *ollama) Name() string { return "ollama" }

func (o *ollama) Model() string { return o.model }

// IsHealthy checks the server root, which answers "Ollama is running".
func (o *ollama) IsHealthy(ctx context.Context) bool {
	u, err := url.Parse(o.apiURL)
	if err != nil {
		return false
	}
	u.Path = "/"
	u.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func (o *ollama) Describe(ctx context.Context, dreq describer.Request) ([]any, error) {
	if len(dreq.Images) == 0 {
		return nil, describer.ErrNoImages
	}

	images := make([]string, len(dreq.Images))
	for i, img := range dreq.Images {
		images[i] = img.Data
	}

	resp, err := o.Send(ctx, BuildRequest(o.model, dreq.Prompt, images, dreq.Schema, dreq.Options))
	if err != nil {
		return nil, err
	}

	return Extract(resp, len(images)), nil
}

// Send posts req to the endpoint and returns the decoded JSON body. Numbers in
// the body are kept as json.Number so they round trip unchanged.
func (o *ollama) Send(ctx context.Context, req ChatRequest) (any, error) {
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&req); err != nil {
		return nil, err
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiURL, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", describer.ErrTransport, err)
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", describer.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", describer.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &describer.ServerError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %w", describer.ErrMalformedResponse, err)
	}
	// Trailing garbage after the first value is also malformed
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected data after JSON value", describer.ErrMalformedResponse)
	}

	return v, nil
}
