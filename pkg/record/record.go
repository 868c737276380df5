// Package record defines the persistent image record model and its lifecycle.
//
// An Image is the only persistent entity in PhotoGate. It is created in
// StatusPending by an upload, mutated by the admission pipeline as analyzer
// verdicts come in, and destroyed by an explicit delete.
package record

import (
	"strings"
	"time"
)

// Status represents the admission state of an image record.
//
// Status is monotone through PENDING -> PROCESSING -> {PROCESSED, FAILED}.
// No transition skips PROCESSING except PROCESSING -> FAILED on error.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusProcessed  Status = "PROCESSED"
	StatusFailed     Status = "FAILED"
)

// IsValid checks if the status is one of the canonical values.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status is a pipeline end state.
func (s Status) IsTerminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// NormalizeStatus maps legacy status strings onto the canonical enum.
// Earlier deployments stored "REJECTED" and "ERROR"; both read as FAILED.
func NormalizeStatus(raw string) Status {
	s := Status(strings.ToUpper(raw))
	if s.IsValid() {
		return s
	}
	switch s {
	case "REJECTED", "ERROR":
		return StatusFailed
	default:
		return StatusPending
	}
}

// ValidationCode is a coded rejection tag attached to FAILED records.
type ValidationCode string

const (
	CodeSizeValidationFailed   ValidationCode = "size_validation_failed"
	CodeMultipleFacesDetected  ValidationCode = "multiple_faces_detected"
	CodeBlurryImageDetected    ValidationCode = "blurry_image_detected"
	CodeDuplicateImageDetected ValidationCode = "duplicate_image_detected"
	CodeFormatValidationFailed ValidationCode = "format_validation_failed"
	CodeProcessingError        ValidationCode = "processing_error"
)

// IsValid checks if the code belongs to the closed set.
func (c ValidationCode) IsValid() bool {
	switch c {
	case CodeSizeValidationFailed, CodeMultipleFacesDetected, CodeBlurryImageDetected,
		CodeDuplicateImageDetected, CodeFormatValidationFailed, CodeProcessingError:
		return true
	}
	return false
}

// Well-known metaData keys. All keys are optional and written atomically
// with the status they accompany.
const (
	MetaRejectionReason  = "rejectionReason"
	MetaValidationErrors = "validationErrors"
	MetaPHash            = "pHash"
	MetaSimilarTo        = "similarTo"
	MetaWidth            = "width"
	MetaHeight           = "height"
	MetaFormat           = "format"
	MetaProcessingTime   = "processingTime"
	MetaErrorDetail      = "errorDetail"
)

// Image represents a single uploaded photograph and its admission outcome.
type Image struct {
	ID            string   `gorm:"primaryKey;size:36" json:"id"`
	OriginalName  string   `gorm:"size:512;not null" json:"originalName"`
	OriginalSize  int64    `gorm:"not null" json:"originalSize"`
	OriginalPath  string   `gorm:"size:1024;not null" json:"originalPath"`
	ProcessedPath string   `gorm:"size:1024" json:"processedPath,omitempty"`
	ProcessedSize int64    `json:"processedSize,omitempty"`
	FileType      string   `gorm:"size:16" json:"fileType"`
	Width         int      `json:"width,omitempty"`
	Height        int      `json:"height,omitempty"`
	Status        Status   `gorm:"size:16;index;not null" json:"status"`
	MetaData      MetaData `gorm:"type:text" json:"metaData,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for Image.
func (Image) TableName() string {
	return "images"
}

// PHash returns the stored perceptual hash, if any.
func (img *Image) PHash() (string, bool) {
	if img.MetaData == nil {
		return "", false
	}
	h, ok := img.MetaData[MetaPHash].(string)
	return h, ok && h != ""
}

// ValidationErrors returns the coded rejection tags on a FAILED record.
func (img *Image) ValidationErrors() []ValidationCode {
	if img.MetaData == nil {
		return nil
	}
	raw, ok := img.MetaData[MetaValidationErrors]
	if !ok {
		return nil
	}

	// The JSON column round-trips the list as []any.
	var codes []ValidationCode
	switch v := raw.(type) {
	case []ValidationCode:
		codes = v
	case []string:
		for _, s := range v {
			codes = append(codes, ValidationCode(s))
		}
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				codes = append(codes, ValidationCode(s))
			}
		}
	}
	return codes
}
