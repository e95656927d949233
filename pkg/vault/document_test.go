package vault

import (
	"strings"
	"testing"
)

func validDocument() *Document {
	return &Document{
		ID:       "doc-1",
		Title:    "Invoice A",
		Checksum: strings.Repeat("0f", 32),
	}
}

func TestDocumentValidate(t *testing.T) {
	if err := validDocument().Validate(); err != nil {
		t.Errorf("valid document rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Document)
	}{
		{"missing id", func(d *Document) { d.ID = "" }},
		{"missing title", func(d *Document) { d.Title = "" }},
		{"missing checksum", func(d *Document) { d.Checksum = "" }},
		{"short checksum", func(d *Document) { d.Checksum = "abcd" }},
		{"non-hex checksum", func(d *Document) { d.Checksum = strings.Repeat("zz", 32) }},
		{"uppercase checksum", func(d *Document) { d.Checksum = strings.Repeat("AB", 32) }},
		{"negative size", func(d *Document) { d.SizeBytes = -1 }},
		{"confidence above one", func(d *Document) { v := 1.5; d.OCRConfidence = &v }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := validDocument()
			tt.mutate(doc)
			if err := doc.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestIndexFieldsIncludeTags(t *testing.T) {
	doc := validDocument()
	doc.OCRText = "body text"
	doc.Tags = []string{"fruit", "invoice"}

	fields := doc.indexFields()
	joined := strings.Join(fields, " ")
	for _, want := range []string{"Invoice A", "body text", "fruit", "invoice"} {
		if !strings.Contains(joined, want) {
			t.Errorf("index fields missing %q: %v", want, fields)
		}
	}
}
