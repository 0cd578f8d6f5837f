package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Milvus is a Searcher over the Milvus HTTP API.
type Milvus struct {
	baseURL  string
	apiKey   string
	database string
	client   *http.Client
}

// NewMilvus creates a search client for the given Milvus endpoint and
// database.
func NewMilvus(baseURL, apiKey, database string) (*Milvus, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("vector: milvus base URL is required")
	}
	return &Milvus{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		database: database,
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type milvusSearchRequest struct {
	DBName         string      `json:"dbName,omitempty"`
	CollectionName string      `json:"collectionName"`
	Data           [][]float32 `json:"data"`
	Limit          int         `json:"limit"`
	OutputFields   []string    `json:"outputFields"`
}

type milvusSearchResponse struct {
	Code    int              `json:"code"`
	Message string           `json:"message,omitempty"`
	Data    []map[string]any `json:"data"`
}

// Search runs a top-K similarity search and returns matches ordered by
// decreasing similarity.
func (m *Milvus) Search(ctx context.Context, collection string, vec []float32, topK int) ([]Match, error) {
	body, err := json.Marshal(milvusSearchRequest{
		DBName:         m.database,
		CollectionName: collection,
		Data:           [][]float32{vec},
		Limit:          topK,
		OutputFields:   []string{"*"},
	})
	if err != nil {
		return nil, fmt.Errorf("vector: marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.baseURL+"/v2/vectordb/entities/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("vector: create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vector: search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("vector: search status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed milvusSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("vector: decode search response: %w", err)
	}
	if parsed.Code != 0 {
		return nil, fmt.Errorf("vector: search error %d: %s", parsed.Code, parsed.Message)
	}

	matches := make([]Match, 0, len(parsed.Data))
	for _, row := range parsed.Data {
		match := Match{Fields: row}
		if d, ok := row["distance"].(float64); ok {
			match.Distance = d
		}
		matches = append(matches, match)
	}
	return matches, nil
}
