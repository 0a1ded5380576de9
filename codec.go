package capbatch

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var mediaTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".bmp":  "image/bmp",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// Image is an input file ready to be sent to a describer.
type Image struct {
	Path      string
	Base      string // file name without directory or extension
	Data      string // base64, standard encoding
	MediaType string
}

// MediaType returns the media type for path's extension, matched case
// insensitively, or "" if the extension is not supported.
func MediaType(path string) string {
	return mediaTypes[strings.ToLower(filepath.Ext(path))]
}

func IsSupported(path string) bool { return MediaType(path) != "" }

// BaseName returns the file name of path without its extension.
func BaseName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// EncodeImage reads the file at path and base64 encodes it. The extension is
// checked before the file is touched.
func EncodeImage(path string) (*Image, error) {
	mt := MediaType(path)
	if mt == "" {
		ext := filepath.Ext(path)
		if ext == "" {
			return nil, fmt.Errorf("%w: %s has no extension", ErrUnsupportedFormat, path)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	return &Image{
		Path:      path,
		Base:      BaseName(path),
		Data:      base64.StdEncoding.EncodeToString(data),
		MediaType: mt,
	}, nil
}
