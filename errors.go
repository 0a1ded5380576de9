package capbatch

import "errors"

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrIO                = errors.New("i/o failure")

	// ErrInvalidStructuredOutput is reported when a schema was requested but
	// the model's reply was not JSON. It is a warning, the raw text is kept.
	ErrInvalidStructuredOutput = errors.New("structured output is not valid JSON")

	// ErrInvalidOptions is reported when the model options string is not a
	// JSON object. The options are then ignored.
	ErrInvalidOptions = errors.New("invalid model options")

	// ErrNameCollision is reported for an input whose output path is already
	// claimed by another input in the same run, e.g. a.jpg and a.png.
	ErrNameCollision = errors.New("output name collides with another input")
)
