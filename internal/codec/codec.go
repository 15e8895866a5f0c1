// Package codec reads and writes flow documents in interchange formats.
package codec

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/deployflow/engine/internal/flow"
	appErr "github.com/deployflow/engine/pkg/errors"
)

// Importer parses a flow document.
type Importer interface {
	Parse(r io.Reader) (*flow.Document, error)
	Format() string
}

// Exporter writes a flow document.
type Exporter interface {
	Export(doc *flow.Document, w io.Writer) error
	Format() string
}

// Codec is both directions of one format.
type Codec interface {
	Importer
	Exporter
	ContentType() string
}

// Registry looks codecs up by format name.
type Registry struct {
	codecs map[string]Codec
}

// NewRegistry returns a registry holding the given codecs.
func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{codecs: map[string]Codec{}}
	for _, c := range codecs {
		r.Register(c)
	}
	return r
}

// Default returns a registry with the json and yaml codecs.
func Default() *Registry {
	return NewRegistry(NewJSONCodec(), NewYAMLCodec())
}

// Register adds or replaces the codec for c.Format().
func (r *Registry) Register(c Codec) {
	r.codecs[c.Format()] = c
}

// Lookup returns the codec for format. "yml" is accepted for yaml.
func (r *Registry) Lookup(format string) (Codec, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "yml" {
		format = "yaml"
	}
	c, ok := r.codecs[format]
	if !ok {
		return nil, appErr.New(appErr.CodeInvalid, fmt.Sprintf("unsupported format %q", format)).
			WithMeta("supported", r.Formats())
	}
	return c, nil
}

// Formats lists the registered format names, sorted.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.codecs))
	for f := range r.codecs {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// normalise fills the slices a decoder may leave nil.
func normalise(doc *flow.Document) *flow.Document {
	if doc.Nodes == nil {
		doc.Nodes = []flow.NodeRecord{}
	}
	if doc.Connections == nil {
		doc.Connections = []flow.Connection{}
	}
	for i := range doc.Nodes {
		if doc.Nodes[i].Configuration == nil {
			doc.Nodes[i].Configuration = flow.Configuration{}
		}
	}
	if doc.Status == "" {
		doc.Status = flow.FlowDraft
	}
	return doc
}

func parseError(format string, err error) error {
	return appErr.Wrap(err, appErr.CodeInvalid, "failed to parse "+format)
}
