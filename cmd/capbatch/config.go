package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// applyConfigFile reads a YAML file whose keys are flag names and sets every
// flag that was not given on the command line. Mappings and lists, e.g. an
// options block, are converted to JSON strings.
func applyConfigFile(fs *flag.FlagSet, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	values := make(map[string]any)
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	for key, value := range values {
		if fs.Lookup(key) == nil {
			return fmt.Errorf("%s: unknown setting %q", path, key)
		}
		if explicit[key] || key == "config" {
			continue
		}

		var s string
		switch v := value.(type) {
		case map[string]any, []any:
			b, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("%s: %s: %w", path, key, err)
			}
			s = string(b)
		case nil:
			continue
		default:
			s = fmt.Sprint(v)
		}

		if err := fs.Set(key, s); err != nil {
			return fmt.Errorf("%s: %s: %w", path, key, err)
		}
	}

	return nil
}
