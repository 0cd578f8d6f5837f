package nodes

import (
	"fmt"
	"strings"

	"github.com/zulandar/querydesk/internal/state"
)

// formatHistory renders the conversation as role-prefixed lines for prompt
// context.
func formatHistory(messages []state.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		role := "Assistant"
		if m.Role == state.RoleUser {
			role = "User"
		}
		lines = append(lines, role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// formatTermDescriptions renders term mappings for prompt context.
func formatTermDescriptions(mappings map[string]state.TermMapping) string {
	if len(mappings) == 0 {
		return "No business term explanations"
	}
	var b strings.Builder
	for _, m := range mappings {
		fmt.Fprintf(&b, "- Original term: %s / Standard name: %s / Info: %s\n",
			m.OriginalTerm, m.StandardName, m.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatTableStructures renders matched table structures for prompt context.
func formatTableStructures(tables []state.TableStructure) string {
	if len(tables) == 0 {
		return "No available table structure information"
	}
	var b strings.Builder
	for _, t := range tables {
		desc := t.Description
		if desc == "" {
			desc = "No description"
		}
		info := t.AdditionalInfo
		if info == "" {
			info = "No additional info"
		}
		fmt.Fprintf(&b, "Table name: %s\nDescription: %s\nColumn information:\n%s\nAdditional info: %s\n\n",
			t.Name, desc, t.Columns, info)
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatCandidateTables renders the retrieved candidates for the table
// selection prompt.
func formatCandidateTables(tables []state.TableDescriptor) string {
	var b strings.Builder
	for i, t := range tables {
		fmt.Fprintf(&b, "%d. Table name: %s\n   Description: %s\n   Additional info: %s\n",
			i+1, t.Name, t.Description, t.AdditionalInfo)
	}
	return b.String()
}

// formatQueryExamples renders retrieved question/SQL pairs, or a placeholder
// when none were found.
func formatQueryExamples(examples []state.QueryExample) string {
	if len(examples) == 0 {
		return "No related examples"
	}
	lines := make([]string, 0, len(examples))
	for _, ex := range examples {
		lines = append(lines, fmt.Sprintf("Example query: [%s]\nExample SQL: [%s]", ex.Question, ex.SQL))
	}
	return strings.Join(lines, "\n")
}

// previewRowLimit caps how many rows are shown to the answer-writing model.
const previewRowLimit = 20

// formatResultsPreview renders a markdown table of the result rows, or a
// note when the set is too large to show.
func formatResultsPreview(r *state.ExecutionResult) string {
	if r == nil || len(r.Rows) == 0 {
		return "No data"
	}
	if len(r.Rows) > previewRowLimit {
		return "Result set too large, not displaying specific data"
	}

	var b strings.Builder
	b.WriteString("| " + strings.Join(r.Columns, " | ") + " |\n")
	sep := make([]string, len(r.Columns))
	for i, col := range r.Columns {
		sep[i] = strings.Repeat("-", len(col))
	}
	b.WriteString("|" + strings.Join(sep, "|") + "|\n")
	for _, row := range r.Rows {
		cells := make([]string, len(r.Columns))
		for i, col := range r.Columns {
			cells[i] = fmt.Sprint(row[col])
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
