package nodes

import (
	"context"
	"fmt"
	"log"

	"github.com/zulandar/querydesk/internal/state"
	"github.com/zulandar/querydesk/internal/vector"
)

const tableSelectionSystemPrompt = `You are a professional data analyst responsible for selecting the most suitable tables from candidate data tables to answer a user query.

1. Understand the query: its core information, main dimensions and metrics, and whether joins are needed
2. Evaluate relevance: whether each table's purpose, key fields, and data granularity fit the query
3. Selection principles: pick the most relevant tables, at most three, avoid redundant ones
4. Briefly explain the selection reasoning (within 20 words)`

const tableSelectionUserPrompt = `Please select the most suitable tables from the following candidates to answer the user query:

1. User query requirements:
%s

2. Candidate data table list:
%s

Output a JSON object with fields "selection_reasoning" (string) and "selected_table_names" (list of table names, at most 3, empty when none fit).`

const noRelevantTablesMessage = "Sorry, no data tables related to your query were found in the system.\n" +
	"Suggestions:\n" +
	"- Try using different keywords to describe your requirements\n" +
	"- Contact the data team to check if relevant data support is available"

type tableSelectionOutput struct {
	SelectionReasoning string   `json:"selection_reasoning"`
	SelectedTableNames []string `json:"selected_table_names"`
}

// DataSource retrieves candidate tables by similarity and asks the model to
// pick the relevant ones. When nothing fits, the apology becomes the
// assistant's reply and the turn ends at the route.
func (d *Deps) DataSource(ctx context.Context, s *state.State) (state.Delta, error) {
	if s.RewrittenQuery == "" {
		return state.Delta{}, fmt.Errorf("nodes: rewritten query not available")
	}

	vec, err := d.Embedder.Embed(ctx, s.RewrittenQuery)
	if err != nil {
		return state.Delta{}, fmt.Errorf("nodes: embed query: %w", err)
	}
	matches, err := d.Searcher.Search(ctx, vector.CollectionTableDescriptions, vec, d.TopK)
	if err != nil {
		return state.Delta{}, fmt.Errorf("nodes: table search: %w", err)
	}

	candidates := make([]state.TableDescriptor, 0, len(matches))
	for _, m := range matches {
		candidates = append(candidates, state.TableDescriptor{
			Name:           m.Str("table_name"),
			Description:    m.Str("description"),
			Schema:         m.Str("schema"),
			AdditionalInfo: m.Str("additional_info"),
			Similarity:     m.Distance,
		})
	}

	var out tableSelectionOutput
	user := fmt.Sprintf(tableSelectionUserPrompt, s.RewrittenQuery, formatCandidateTables(candidates))
	if err := d.LLM.CompleteJSON(ctx, tableSelectionSystemPrompt, user, &out); err != nil {
		return state.Delta{}, fmt.Errorf("nodes: table selection: %w", err)
	}
	log.Printf("nodes: selected tables %v (%s)", out.SelectedTableNames, out.SelectionReasoning)

	selected := make(map[string]bool, len(out.SelectedTableNames))
	for _, name := range out.SelectedTableNames {
		selected[name] = true
	}
	matched := make([]state.TableDescriptor, 0, len(selected))
	for _, c := range candidates {
		if selected[c.Name] {
			matched = append(matched, c)
		}
	}

	delta := state.Delta{
		MatchedTables:     matched,
		HasRelevantTables: state.Set(len(matched) > 0),
	}
	if len(matched) == 0 {
		delta.Messages = []state.Message{{Role: state.RoleAssistant, Content: noRelevantTablesMessage}}
	}
	return delta, nil
}

// TableStructure lifts schema text out of the matched descriptors. Tables
// the vector store carries no schema for are skipped with a warning.
func (d *Deps) TableStructure(ctx context.Context, s *state.State) (state.Delta, error) {
	structures := make([]state.TableStructure, 0, len(s.MatchedTables))
	for _, t := range s.MatchedTables {
		if t.Schema == "" {
			log.Printf("nodes: table %s has no schema information", t.Name)
			continue
		}
		structures = append(structures, state.TableStructure{
			Name:           t.Name,
			Columns:        t.Schema,
			Description:    t.Description,
			AdditionalInfo: t.AdditionalInfo,
		})
	}
	return state.Delta{TableStructures: structures}, nil
}
