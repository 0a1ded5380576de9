package capbatch

import (
	"fmt"
	"net/http"

	"github.com/chriskillpack/capbatch/describer"
	"github.com/chriskillpack/capbatch/internal/llama"
	"github.com/chriskillpack/capbatch/internal/ollama"
	"github.com/chriskillpack/capbatch/internal/openai"
)

const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
	BackendLlama  = "llama"
)

type InitOptions struct {
	Backend string // one of the Backend constants, defaults to ollama
	APIURL  string
	Model   string

	LlamaSeed int

	OpenAIKey  string // if empty the client reads OPENAI_API_KEY
	OpenAIRate int    // requests per minute, 0 for unlimited

	HttpClient *http.Client // if nil uses http.DefaultClient
}

type Capbatch struct {
	describer.Describer
}

func Init(cio InitOptions) (*Capbatch, error) {
	c := &Capbatch{}

	httpClient := cio.HttpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	backend := cio.Backend
	if backend == "" {
		backend = BackendOllama
	}

	switch backend {
	case BackendOllama:
		if cio.APIURL == "" {
			return nil, fmt.Errorf("ollama backend requires an API URL")
		}
		if cio.Model == "" {
			return nil, fmt.Errorf("ollama backend requires a model")
		}
		c.Describer = ollama.Init(cio.Model, cio.APIURL, httpClient)
	case BackendOpenAI:
		if cio.Model == "" {
			return nil, fmt.Errorf("openai backend requires a model")
		}
		c.Describer = openai.Init(cio.APIURL, cio.OpenAIKey, cio.Model, cio.OpenAIRate, httpClient)
	case BackendLlama:
		if cio.APIURL == "" {
			return nil, fmt.Errorf("llama backend requires a server address")
		}
		c.Describer = llama.Init(cio.APIURL, cio.LlamaSeed, httpClient)
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}

	return c, nil
}
