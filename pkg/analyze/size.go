package analyze

import (
	"fmt"

	"github.com/photogate/photogate/pkg/record"
)

// SizeAnalyzer rejects images below the minimum resolution or byte size.
// It is the cheapest stage and runs first.
type SizeAnalyzer struct {
	cfg SizeConfig
}

// NewSizeAnalyzer creates a size analyzer with the given thresholds.
func NewSizeAnalyzer(cfg SizeConfig) *SizeAnalyzer {
	return &SizeAnalyzer{cfg: cfg}
}

// Analyze decodes only the image header and checks dimensions and byte
// length against the configured minimums.
func (a *SizeAnalyzer) Analyze(data []byte) (Verdict, error) {
	width, height, format, err := decodeBounds(data)
	if err != nil {
		return Verdict{}, err
	}

	if width < a.cfg.MinWidth || height < a.cfg.MinHeight {
		msg := fmt.Sprintf(
			"Image resolution is too low. Minimum required is %dx%d, but got %dx%d.",
			a.cfg.MinWidth, a.cfg.MinHeight, width, height,
		)
		return Reject(record.CodeSizeValidationFailed, msg, record.MetaData{
			"width":  width,
			"height": height,
			"format": format,
		}), nil
	}

	byteLength := int64(len(data))
	if byteLength < a.cfg.MinBytes {
		msg := fmt.Sprintf(
			"Image file size is too small. Minimum required is %dKB, but got %.1fKB.",
			a.cfg.MinBytes/1024, float64(byteLength)/1024.0,
		)
		return Reject(record.CodeSizeValidationFailed, msg, record.MetaData{
			"width":      width,
			"height":     height,
			"byteLength": byteLength,
			"format":     format,
		}), nil
	}

	return Accept(record.MetaData{
		"width":      width,
		"height":     height,
		"byteLength": byteLength,
		"format":     format,
	}), nil
}
