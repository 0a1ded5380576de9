package llama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"

	"github.com/chriskillpack/capbatch/describer"
)

const (
	imagePreamble = `A chat between a curious human and an artificial intelligence assistant. The assistant gives helpful, detailed, and polite answers to the human's questions.
USER:`
	imageSuffix = `
ASSISTANT:`

	imageID = 10
)

type jsonmap map[string]any

// These were lifted from the web inspector for the server UI
var defaultparams = jsonmap{
	"n_predict":         400,
	"n_probs":           0,
	"temperature":       0.7,
	"stop":              []string{"</s>", "ASSISTANT:", "USER:"},
	"repeat_last_n":     256,
	"repeat_penalty":    1.18,
	"top_k":             40,
	"top_p":             0.5,
	"tfs_z":             1,
	"typical_p":         1,
	"presence_penalty":  0,
	"frequency_penalty": 0,
	"mirostat":          0,
	"mirostat_tau":      5,
	"mirostat_eta":      0.1,
	"grammar":           "",
	"slot_id":           -1,
	"cache_prompt":      true,
}

type llama struct {
	srvAddr string
	seed    int

	client *http.Client
}

var _ describer.Describer = &llama{}

func Init(srvAddr string, seed int, httpClient *http.Client) *llama {
	return &llama{
		srvAddr: strings.TrimRight(srvAddr, "/"),
		seed:    seed,
		client:  httpClient,
	}
}

func (l *llama) Name() string { return "llama" }

// The server runs whatever model it was started with
func (l *llama) Model() string { return "llava" }

func (l *llama) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.srvAddr+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// Describe issues one completion per image, the llava prompt format only
// references a single image.
func (l *llama) Describe(ctx context.Context, dreq describer.Request) ([]any, error) {
	if len(dreq.Images) == 0 {
		return nil, describer.ErrNoImages
	}

	var opts jsonmap
	if len(dreq.Options) > 0 {
		if err := json.Unmarshal(dreq.Options, &opts); err != nil {
			return nil, fmt.Errorf("decoding options: %w", err)
		}
	}

	contents := make([]any, 0, len(dreq.Images))
	for _, img := range dreq.Images {
		keys := jsonmap{
			"image_data": []jsonmap{
				{
					"data": img.Data, "id": imageID,
				},
			},
		}
		if len(dreq.Schema) > 0 {
			keys["json_schema"] = dreq.Schema
		}
		maps.Copy(keys, opts)

		content, err := l.sendRequest(ctx, imagePrompt(dreq.Prompt), keys)
		if err != nil {
			return nil, err
		}
		contents = append(contents, content)
	}

	return contents, nil
}

func imagePrompt(prompt string) string {
	return fmt.Sprintf("%s[img-%d]%s%s", imagePreamble, imageID, prompt, imageSuffix)
}

func (l *llama) sendRequest(ctx context.Context, prompt string, keys jsonmap) (string, error) {
	data := maps.Clone(defaultparams)
	maps.Copy(data, keys)
	data["prompt"] = prompt
	data["stream"] = false
	data["seed"] = l.seed

	buf := bytes.NewBuffer(make([]byte, 0, 2_000_000)) // The buffer will be resized by Encode
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(&data)
	if err != nil {
		return "", err
	}
	br := bytes.NewReader(buf.Bytes())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.srvAddr+"/completion", br)
	if err != nil {
		return "", fmt.Errorf("%w: %w", describer.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", describer.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &describer.ServerError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	content := new(bytes.Buffer)
	respbody := struct {
		Content string
		Stop    bool
	}{}

	lr := bufio.NewScanner(resp.Body)
	lr.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for !respbody.Stop {
		// Read in one line
		if !lr.Scan() {
			if err := lr.Err(); err != nil {
				return "", fmt.Errorf("%w: %w", describer.ErrTransport, err)
			}
			return "", fmt.Errorf("%w: response ended before stop", describer.ErrMalformedResponse)
		}
		line := lr.Text()
		// The server can follow a JSON body with an empty line
		if len(line) == 0 {
			continue
		}

		if err := json.Unmarshal([]byte(line), &respbody); err != nil {
			return "", fmt.Errorf("%w: %w", describer.ErrMalformedResponse, err)
		}
		content.WriteString(respbody.Content)
	}

	return strings.TrimLeft(content.String(), " "), nil
}
