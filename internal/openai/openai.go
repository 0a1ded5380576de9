package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chriskillpack/capbatch/describer"

	oagc "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const schemaName = "caption"

type openai struct {
	oac   *oagc.Client
	model string

	rl *rateLimiter // nil when unlimited
}

var _ describer.Describer = &openai{}

// Init returns a Describer for an OpenAI compatible chat completions API.
// baseURL and apiKey fall back to the client library defaults (including the
// OPENAI_API_KEY environment variable) when empty. rate caps requests per
// minute, 0 disables limiting.
func Init(baseURL, apiKey, model string, rate int, httpClient *http.Client) *openai {
	opts := []option.RequestOption{
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	o := &openai{
		oac:   oagc.NewClient(opts...),
		model: model,
	}
	if rate > 0 {
		o.rl = newRateLimiter(rate, time.Minute)
	}

	return o
}

func (o *openai) Name() string { return "openai" }

func (o *openai) Model() string { return o.model }

func (o *openai) IsHealthy(ctx context.Context) bool {
	_, err := o.oac.Models.List(ctx)
	return err == nil
}

func (o *openai) Describe(ctx context.Context, dreq describer.Request) ([]any, error) {
	if len(dreq.Images) == 0 {
		return nil, describer.ErrNoImages
	}

	var reqOpts []option.RequestOption
	if len(dreq.Options) > 0 {
		var modelOpts map[string]any
		if err := json.Unmarshal(dreq.Options, &modelOpts); err != nil {
			return nil, fmt.Errorf("decoding options: %w", err)
		}
		for k, v := range modelOpts {
			reqOpts = append(reqOpts, option.WithJSONSet(k, v))
		}
	}

	contents := make([]any, 0, len(dreq.Images))
	for _, img := range dreq.Images {
		params, err := o.params(dreq.Prompt, img, dreq.Schema)
		if err != nil {
			return nil, err
		}

		// Rate limit use of the API
		if o.rl != nil {
			if err := o.rl.Acquire(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := o.oac.Chat.Completions.New(ctx, params, reqOpts...)
		if err != nil {
			return nil, classify(err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("%w: no choices in completion", describer.ErrMalformedResponse)
		}
		contents = append(contents, resp.Choices[0].Message.Content)
	}

	return contents, nil
}

func (o *openai) params(prompt string, img describer.Image, schema json.RawMessage) (oagc.ChatCompletionNewParams, error) {
	dataURL := "data:" + img.MediaType + ";base64," + img.Data

	params := oagc.ChatCompletionNewParams{
		Messages: oagc.F([]oagc.ChatCompletionMessageParamUnion{
			oagc.UserMessageParts(
				oagc.TextPart(prompt),
				oagc.ImagePart(dataURL),
			),
		}),
		Model: oagc.F(oagc.ChatModel(o.model)),
	}

	if len(schema) > 0 {
		var s any
		if err := json.Unmarshal(schema, &s); err != nil {
			return params, fmt.Errorf("decoding schema: %w", err)
		}
		params.ResponseFormat = oagc.F[oagc.ChatCompletionNewParamsResponseFormatUnion](
			oagc.ResponseFormatJSONSchemaParam{
				Type: oagc.F(oagc.ResponseFormatJSONSchemaTypeJSONSchema),
				JSONSchema: oagc.F(oagc.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   oagc.F(schemaName),
					Schema: oagc.F[any](s),
				}),
			},
		)
	}

	return params, nil
}

// classify maps client library errors onto the describer error kinds.
func classify(err error) error {
	var apiErr *oagc.Error
	if errors.As(err, &apiErr) {
		return &describer.ServerError{StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var synErr *json.SyntaxError
	if errors.As(err, &synErr) {
		return fmt.Errorf("%w: %w", describer.ErrMalformedResponse, err)
	}

	return fmt.Errorf("%w: %w", describer.ErrTransport, err)
}
