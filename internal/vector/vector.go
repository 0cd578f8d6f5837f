// Package vector provides the retrieval collaborators: a text embedder and
// a vector search client.
package vector

import "context"

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Match is one search hit: the similarity score plus the stored fields of
// the matched entity.
type Match struct {
	Distance float64
	Fields   map[string]any
}

// Str returns the named field as a string, or "" when absent.
func (m Match) Str(name string) string {
	if v, ok := m.Fields[name].(string); ok {
		return v
	}
	return ""
}

// Searcher performs similarity search over a named collection.
type Searcher interface {
	Search(ctx context.Context, collection string, vec []float32, topK int) ([]Match, error)
}

// Collection names used by the pipeline.
const (
	CollectionTermDescriptions  = "term_descriptions"
	CollectionTableDescriptions = "table_descriptions"
	CollectionQueryExamples     = "query_examples"
)
