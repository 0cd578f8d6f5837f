package nodes

import (
	"context"
	"fmt"
	"log"

	"github.com/zulandar/querydesk/internal/state"
	"github.com/zulandar/querydesk/internal/vector"
)

const keywordSystemPrompt = `You are a professional data analyst responsible for extracting specific business entity names that require precise matching from user queries.

Extraction principles:
1. Only extract specific entity names that require exact matching in the database
2. These entities are unique and specific: replacing them with other names would change the query result entirely

Do NOT extract:
1. Generic concept words (e.g. training, data, personnel)
2. Time-related expressions (e.g. 2023, last month)
3. Vague descriptive words (e.g. recent, all)
4. Common measurement units (e.g. quantity, amount, ratio)

Output requirements:
1. Only output entity names that truly require exact matching
2. Return an empty list if none exist
3. Remove duplicates and keep the original form of each entity`

const keywordUserPrompt = `Please extract specific business entity names that require exact matching from the following conversation:

Conversation history:
%s

Output a JSON object with a "keywords" field holding the list of extracted entities.`

type keywordOutput struct {
	Keywords []string `json:"keywords"`
}

// KeywordExtraction pulls exact-match business entities out of the
// conversation for term standardization.
func (d *Deps) KeywordExtraction(ctx context.Context, s *state.State) (state.Delta, error) {
	if len(s.Messages) == 0 {
		return state.Delta{}, fmt.Errorf("nodes: no message history")
	}

	var out keywordOutput
	user := fmt.Sprintf(keywordUserPrompt, formatHistory(s.Messages))
	if err := d.LLM.CompleteJSON(ctx, keywordSystemPrompt, user, &out); err != nil {
		return state.Delta{}, fmt.Errorf("nodes: keyword extraction: %w", err)
	}

	keywords := out.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return state.Delta{Keywords: keywords}, nil
}

// TermMapping resolves each keyword against the canonical term collection.
// Only matches above the similarity threshold count; a keyword that fails
// to resolve is simply skipped.
func (d *Deps) TermMapping(ctx context.Context, s *state.State) (state.Delta, error) {
	mappings := make(map[string]state.TermMapping)

	for _, keyword := range s.Keywords {
		vec, err := d.Embedder.Embed(ctx, keyword)
		if err != nil {
			log.Printf("nodes: embed keyword %q: %v", keyword, err)
			continue
		}
		matches, err := d.Searcher.Search(ctx, vector.CollectionTermDescriptions, vec, 1)
		if err != nil {
			log.Printf("nodes: term search %q: %v", keyword, err)
			continue
		}
		if len(matches) == 0 || matches[0].Distance <= d.SimilarityThreshold {
			continue
		}
		m := matches[0]
		mappings[keyword] = state.TermMapping{
			OriginalTerm: m.Str("original_term"),
			StandardName: m.Str("standard_name"),
			Description:  m.Str("additional_info"),
		}
	}

	return state.Delta{TermMappings: mappings}, nil
}
