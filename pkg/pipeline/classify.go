package pipeline

import (
	"strings"

	"github.com/photogate/photogate/pkg/record"
)

// classification maps an error-message substring onto a user-facing
// rejection. The table is ordered; the first match wins.
type classification struct {
	substrings []string
	code       record.ValidationCode
	message    string
}

var classifications = []classification{
	{
		substrings: []string{"duplicate"},
		code:       record.CodeDuplicateImageDetected,
		message:    "This image appears to be a duplicate of an existing image.",
	},
	{
		substrings: []string{"resolution", "dimensions"},
		code:       record.CodeSizeValidationFailed,
		message:    "Image resolution is too low. Please upload a higher resolution photo.",
	},
	{
		substrings: []string{"size"},
		code:       record.CodeSizeValidationFailed,
		message:    "Image file size is too small. Please upload a larger photo.",
	},
	{
		substrings: []string{"format", "unsupported"},
		code:       record.CodeFormatValidationFailed,
		message:    "Unsupported image format. Please upload a JPEG or PNG photo.",
	},
	{
		substrings: []string{"face"},
		code:       record.CodeMultipleFacesDetected,
		message:    "Multiple faces detected. Please upload a photo with a single subject.",
	},
}

// classifyError picks a user-friendly rejection for an internal pipeline
// error. Unmatched errors fall through to processing_error with a generic
// message; the raw text is only persisted when the development flag is on.
func classifyError(err error) (record.ValidationCode, string) {
	msg := strings.ToLower(err.Error())
	for _, c := range classifications {
		for _, sub := range c.substrings {
			if strings.Contains(msg, sub) {
				return c.code, c.message
			}
		}
	}
	return record.CodeProcessingError, "Image processing failed"
}
