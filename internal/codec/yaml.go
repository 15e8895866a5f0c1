package codec

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/deployflow/engine/internal/flow"
)

// YAMLCodec handles YAML import/export.
type YAMLCodec struct{}

// NewYAMLCodec creates a YAML codec.
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier.
func (c *YAMLCodec) Format() string {
	return "yaml"
}

// ContentType is the MIME type of exported documents.
func (c *YAMLCodec) ContentType() string {
	return "application/yaml"
}

// Parse decodes a document from YAML.
func (c *YAMLCodec) Parse(r io.Reader) (*flow.Document, error) {
	var doc flow.Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, parseError("YAML", err)
	}
	return normalise(&doc), nil
}

// Export encodes doc as YAML with two-space indentation.
func (c *YAMLCodec) Export(doc *flow.Document, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return enc.Close()
}
