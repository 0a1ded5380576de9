package capbatch

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEncodeImage(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("\x89PNG fake image data")

	mediaTypes := map[string]string{
		"a.jpg":  "image/jpeg",
		"b.JPEG": "image/jpeg",
		"c.png":  "image/png",
		"d.bmp":  "image/bmp",
		"e.Gif":  "image/gif",
		"f.webp": "image/webp",
	}
	for name, mt := range mediaTypes {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, payload, 0o644); err != nil {
				t.Fatal(err)
			}

			img, err := EncodeImage(path)
			if err != nil {
				t.Fatalf("Unexpected error %s", err)
			}
			if expected, actual := mt, img.MediaType; expected != actual {
				t.Errorf("Expected media type %q, got %q", expected, actual)
			}
			if expected, actual := base64.StdEncoding.EncodeToString(payload), img.Data; expected != actual {
				t.Errorf("Expected data %q, got %q", expected, actual)
			}
			if expected, actual := name[:1], img.Base; expected != actual {
				t.Errorf("Expected base %q, got %q", expected, actual)
			}
		})
	}

	t.Run("unsupported", func(t *testing.T) {
		for _, name := range []string{"notes.txt", "scan.tiff", "noext", "archive.jpg.zip"} {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, payload, 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := EncodeImage(path); !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("%s: expected ErrUnsupportedFormat, got %v", name, err)
			}
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := EncodeImage(filepath.Join(dir, "missing.png"))
		if !errors.Is(err, ErrIO) {
			t.Errorf("Expected ErrIO, got %v", err)
		}
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("Expected wrapped os.ErrNotExist, got %v", err)
		}
	})
}

func TestBaseName(t *testing.T) {
	for path, expected := range map[string]string{
		"/photos/cat.jpg":      "cat",
		"dog.tar.png":          "dog.tar",
		"/photos/.hidden.jpeg": ".hidden",
	} {
		if actual := BaseName(path); expected != actual {
			t.Errorf("%s: expected %q, got %q", path, expected, actual)
		}
	}
}
