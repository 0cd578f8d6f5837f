// Package sqlauth verifies table-level authorization for generated SQL and
// injects row-level filters. It deliberately implements only enough SQL
// tokenization to locate table references and rewrite FROM/JOIN clauses.
// It is not a general parser, and arbitrarily complex statements (nested
// CTEs, window functions) are an accepted limitation.
package sqlauth

import (
	"errors"
	"fmt"
	"strings"
)

// ErrParse indicates the statement could not be tokenized. Callers must
// treat this as "cannot verify permissions" and refuse execution.
var ErrParse = errors.New("sqlauth: SQL parse failed")

// TableRef is one table reference found in a statement. Alias is "" when
// the reference has none.
type TableRef struct {
	Name  string
	Alias string
}

// aliasStopWords are keywords that can never be an alias when trailing an
// identifier group.
var aliasStopWords = map[string]bool{
	"as": true, "from": true, "join": true, "where": true,
	"on": true, "and": true, "or": true,
}

// sqlKeywords break identifier grouping the way sqlparse separates keyword
// tokens from identifiers. "as" is intentionally absent: it stays inside
// an identifier group ("orders AS o").
var sqlKeywords = map[string]bool{
	"select": true, "from": true, "join": true, "inner": true,
	"left": true, "right": true, "outer": true, "cross": true,
	"full": true, "where": true, "on": true, "and": true, "or": true,
	"not": true, "group": true, "by": true, "order": true,
	"having": true, "limit": true, "offset": true, "union": true,
	"all": true, "distinct": true, "case": true, "when": true,
	"then": true, "else": true, "end": true, "in": true, "like": true,
	"between": true, "is": true, "null": true, "asc": true,
	"desc": true, "regexp": true, "exists": true, "insert": true,
	"into": true, "values": true, "update": true, "set": true,
	"delete": true,
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokKeyword
	tokAs
	tokDot
	tokPunct
	tokLiteral
	tokNumber
	tokGroup
)

// token is one node of the token tree; groups carry children.
type token struct {
	kind     tokenKind
	text     string
	children []token
}

// ExtractTables tokenizes sql and returns every reference to a table in
// the known-name universe, in order of appearance. Identifiers matching no
// known table are assumed to be non-table expressions and skipped.
func ExtractTables(sql string, known []string) ([]TableRef, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, fmt.Errorf("%w: empty statement", ErrParse)
	}
	tree, err := tokenize(sql)
	if err != nil {
		return nil, err
	}
	universe := make(map[string]string, len(known))
	for _, name := range known {
		universe[strings.ToLower(name)] = name
	}
	var refs []TableRef
	walkTokens(tree, universe, &refs)
	return refs, nil
}

// tokenize lexes sql into a token tree, with parenthesized sections as
// nested groups.
func tokenize(sql string) ([]token, error) {
	toks, rest, err := lex(sql, false)
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, fmt.Errorf("%w: unbalanced parenthesis", ErrParse)
	}
	return toks, nil
}

// lex consumes input until end (or, when nested, a closing paren) and
// returns the tokens plus the unconsumed remainder.
func lex(input string, nested bool) ([]token, string, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			inner, rest, err := lex(input[i+1:], true)
			if err != nil {
				return nil, "", err
			}
			toks = append(toks, token{kind: tokGroup, children: inner})
			input = rest
			i = 0
		case c == ')':
			if !nested {
				return nil, "", fmt.Errorf("%w: unexpected closing parenthesis", ErrParse)
			}
			return toks, input[i+1:], nil
		case c == '\'' || c == '"' || c == '`':
			end := i + 1
			for end < len(input) && input[end] != c {
				if input[end] == '\\' {
					end++
				}
				end++
			}
			if end >= len(input) {
				return nil, "", fmt.Errorf("%w: unterminated %c-quoted literal", ErrParse, c)
			}
			text := input[i+1 : end]
			if c == '`' {
				// Backtick-quoted identifiers behave as words.
				toks = append(toks, token{kind: tokWord, text: text})
			} else {
				toks = append(toks, token{kind: tokLiteral, text: text})
			}
			i = end + 1
		case c == '.':
			toks = append(toks, token{kind: tokDot, text: "."})
			i++
		case isWordByte(c):
			end := i
			for end < len(input) && isWordByte(input[end]) {
				end++
			}
			word := input[i:end]
			toks = append(toks, classifyWord(word))
			i = end
		default:
			toks = append(toks, token{kind: tokPunct, text: string(c)})
			i++
		}
	}
	if nested {
		return nil, "", fmt.Errorf("%w: unbalanced parenthesis", ErrParse)
	}
	return toks, "", nil
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func classifyWord(word string) token {
	lower := strings.ToLower(word)
	switch {
	case lower == "as":
		return token{kind: tokAs, text: word}
	case sqlKeywords[lower]:
		return token{kind: tokKeyword, text: word}
	case word[0] >= '0' && word[0] <= '9':
		return token{kind: tokNumber, text: word}
	default:
		return token{kind: tokWord, text: word}
	}
}

// walkTokens scans a token list for identifier groups (maximal runs of
// words, dots, and AS) and recurses into parenthesized groups so tables
// inside subqueries are also discovered.
func walkTokens(toks []token, universe map[string]string, refs *[]TableRef) {
	var run []token
	flush := func() {
		if len(run) > 0 {
			if ref, ok := resolveRun(run, universe); ok {
				*refs = append(*refs, ref)
			}
			run = nil
		}
	}
	for _, t := range toks {
		switch t.kind {
		case tokWord, tokDot:
			run = append(run, t)
		case tokAs:
			// AS only continues a run; a leading AS is stray.
			if len(run) > 0 {
				run = append(run, t)
			}
		case tokGroup:
			flush()
			walkTokens(t.children, universe, refs)
		default:
			flush()
		}
	}
	flush()
}

// resolveRun applies the identifier rules: the first token matching a
// known table name becomes the candidate; a trailing token that is neither
// the table name nor a reserved keyword becomes the alias.
func resolveRun(run []token, universe map[string]string) (TableRef, bool) {
	var words []string
	for _, t := range run {
		if t.kind == tokWord || t.kind == tokAs {
			words = append(words, t.text)
		}
	}
	if len(words) == 0 {
		return TableRef{}, false
	}

	name := ""
	for _, w := range words {
		if _, ok := universe[strings.ToLower(w)]; ok {
			name = w
			break
		}
	}
	if name == "" {
		return TableRef{}, false
	}

	alias := ""
	if len(words) > 1 {
		last := words[len(words)-1]
		lower := strings.ToLower(last)
		if lower != strings.ToLower(name) && !aliasStopWords[lower] {
			alias = last
		}
	}
	return TableRef{Name: name, Alias: alias}, true
}
