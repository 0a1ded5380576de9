package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/chriskillpack/capbatch"
)

var (
	inputDir     = flag.String("dir", "", "Directory of input images")
	apiURL       = flag.String("api_url", "", "Inference endpoint, typically http://localhost:11434/api/chat")
	model        = flag.String("model", "", "Model name")
	schemaPath   = flag.String("schema", "", "JSON schema file path (optional)")
	prompt       = flag.String("prompt", "What do you see in this image?", "Prompt to send to the model")
	outputDir    = flag.String("output_dir", "", "Directory to save output JSON files (default: input directory)")
	debug        = flag.Bool("debug", false, "Enable verbose debug logging")
	modelOptions = flag.String("options", "", "JSON string of additional model options")
	prettyJSON   = flag.Bool("pretty-json", false, "Pretty format the JSON")
	batchSize    = flag.Int("batch-size", 1, "Number of images processed concurrently")
	skipExisting = flag.Bool("skip-existing", false, "Skip any images which already have JSON for them")
	suffix       = flag.String("suffix", "", "Suffix to append to JSON file names")

	backend     = flag.String("backend", capbatch.BackendOllama, "Backend: ollama, openai or llama")
	timeout     = flag.Duration("timeout", 0, "HTTP request timeout, 0 for none")
	rate        = flag.Int("rate", 0, "Requests per minute for the openai backend, 0 for unlimited")
	llamaSeed   = flag.Int("seed", 385480504, "Random seed to llama")
	journalPath = flag.String("journal", "", "Path to a sqlite run journal (optional)")
	count       = flag.Int("count", -1, "Number of images to process")
	configPath  = flag.String("config", "", "YAML file with default values for these flags")
)

func run(ctx context.Context, logger *log.Logger) error {
	var schema []byte
	if *schemaPath != "" {
		var err error
		if schema, err = capbatch.LoadSchema(*schemaPath); err != nil {
			return err
		}
	}

	opts, err := capbatch.ParseOptions(*modelOptions)
	if err != nil {
		logger.Printf("warning: %s; ignoring", err)
	}

	c, err := capbatch.Init(capbatch.InitOptions{
		Backend:    *backend,
		APIURL:     *apiURL,
		Model:      *model,
		LlamaSeed:  *llamaSeed,
		OpenAIRate: *rate,
		HttpClient: &http.Client{
			Timeout: *timeout,
		},
	})
	if err != nil {
		return err
	}

	var journal *capbatch.Journal
	if *journalPath != "" {
		if journal, err = capbatch.OpenJournal(ctx, *journalPath); err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer journal.Close()
	}

	if !c.IsHealthy(ctx) {
		logger.Printf("warning: %s server is not responding, requests will likely fail", c.Name())
	}
	fmt.Printf("Using describer %s model %s\n", c.Name(), c.Model())

	summary, err := c.Run(ctx, capbatch.Options{
		InputDir:     *inputDir,
		OutputDir:    *outputDir,
		Prompt:       *prompt,
		Schema:       schema,
		ModelOptions: opts,
		Pretty:       *prettyJSON,
		BatchSize:    *batchSize,
		SkipExisting: *skipExisting,
		Suffix:       *suffix,
		Count:        *count,
		Verbose:      *debug,
		Logger:       logger,
		Progress:     os.Stderr,
		Journal:      journal,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Done: %d succeeded, %d failed, %d skipped\n", summary.Succeeded, summary.Failed, summary.Skipped)
	if summary.RunId != "" {
		fmt.Printf("Journal run %s\n", summary.RunId)
	}
	return nil
}

func main() {
	flag.Parse()

	if *configPath != "" {
		if err := applyConfigFile(flag.CommandLine, *configPath); err != nil {
			log.Fatal(err)
		}
	}

	if *inputDir == "" || (*model == "" && *backend != capbatch.BackendLlama) {
		flag.Usage()
		os.Exit(1)
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	if *debug {
		logger.SetFlags(log.LstdFlags | log.Lmicroseconds)
	}

	start := time.Now()
	if err := run(context.Background(), logger); err != nil {
		log.Fatal(err)
	}
	if *debug {
		logger.Printf("debug: run took %s", time.Since(start).Round(time.Millisecond))
	}
}
