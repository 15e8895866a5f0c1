package codec

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/deployflow/engine/internal/flow"
)

// JSONCodec handles JSON import/export.
type JSONCodec struct{}

// NewJSONCodec creates a JSON codec.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Format returns the codec format identifier.
func (c *JSONCodec) Format() string {
	return "json"
}

// ContentType is the MIME type of exported documents.
func (c *JSONCodec) ContentType() string {
	return "application/json"
}

// Parse decodes a document from JSON.
func (c *JSONCodec) Parse(r io.Reader) (*flow.Document, error) {
	var doc flow.Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, parseError("JSON", err)
	}
	return normalise(&doc), nil
}

// Export encodes doc as indented JSON.
func (c *JSONCodec) Export(doc *flow.Document, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
