package vault

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Document is the metadata record for one scanned document. The payload
// itself lives in two independently encrypted blob files referenced by
// path; the record only ever carries ciphertext paths and provenance data.
//
// Checksum is the SHA-256 of the original pre-processing image bytes,
// computed once at capture and immutable afterwards. It authenticates
// provenance; the AEAD tag on the blob authenticates the stored ciphertext.
type Document struct {
	ID          string `validate:"required"`
	Title       string `validate:"required,max=512"`
	Description string `validate:"max=4096"`
	DocType     string `validate:"max=64"`

	CapturedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// Paths to the encrypted full-image and thumbnail blob files
	ImagePath     string
	ThumbnailPath string

	// OCRText is the recognizer's plain-text output, treated as opaque
	OCRText       string
	OCRConfidence *float64 `validate:"omitempty,gte=0,lte=1"`

	Checksum  string `validate:"required,len=64,hexadecimal,lowercase"`
	SizeBytes int64  `validate:"gte=0"`

	Tags     []string          `validate:"dive,max=128"`
	Metadata map[string]string `validate:"-"`

	Deleted bool
}

// UpdateFields carries the mutable metadata of a document. Everything not
// listed here (payload, checksum, capture time, sizes) is immutable after
// creation.
type UpdateFields struct {
	Title       string
	Description string
	DocType     string
	OCRText     string
	Tags        []string
	Metadata    map[string]string
}

// envelope is the sensitive slice of a document row, serialized to JSON
// and AEAD-encrypted with the DEK before it touches the database.
type envelope struct {
	Title         string            `json:"title"`
	Description   string            `json:"description,omitempty"`
	DocType       string            `json:"doc_type,omitempty"`
	OCRText       string            `json:"ocr_text,omitempty"`
	OCRConfidence *float64          `json:"ocr_confidence,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

var validate = validator.New()

// Validate checks structural document invariants before persistence
func (d *Document) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}
	return nil
}

// toEnvelope extracts the encrypted slice of the document
func (d *Document) toEnvelope() envelope {
	return envelope{
		Title:         d.Title,
		Description:   d.Description,
		DocType:       d.DocType,
		OCRText:       d.OCRText,
		OCRConfidence: d.OCRConfidence,
		Tags:          d.Tags,
		Metadata:      d.Metadata,
	}
}

// applyEnvelope fills the document's sensitive fields from a decrypted
// envelope
func (d *Document) applyEnvelope(env envelope) {
	d.Title = env.Title
	d.Description = env.Description
	d.DocType = env.DocType
	d.OCRText = env.OCRText
	d.OCRConfidence = env.OCRConfidence
	d.Tags = env.Tags
	d.Metadata = env.Metadata
}

// indexFields returns the searchable plaintext of a document: title,
// extracted text, and tags share one position space in the index.
func (d *Document) indexFields() []string {
	fields := []string{d.Title, d.OCRText}
	fields = append(fields, d.Tags...)
	return fields
}
