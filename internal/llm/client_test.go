package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{Model: "gpt"}); err == nil {
		t.Error("missing base URL accepted")
	}
	if _, err := New(Opts{BaseURL: "http://x"}); err == nil {
		t.Error("missing model accepted")
	}
	c, err := New(Opts{BaseURL: "http://x/", Model: "gpt"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.baseURL != "http://x" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
}

func TestCompleteJSON(t *testing.T) {
	var gotReq chatRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"answer\":42}"}}]}`))
	}))
	defer srv.Close()

	c, err := New(Opts{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-test", Temperature: 0.1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var out struct {
		Answer int `json:"answer"`
	}
	if err := c.CompleteJSON(context.Background(), "sys", "usr", &out); err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if out.Answer != 42 {
		t.Errorf("Answer = %d, want 42", out.Answer)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotReq.Model != "gpt-test" || len(gotReq.Messages) != 2 {
		t.Errorf("request = %+v", gotReq)
	}
	if gotReq.ResponseFormat == nil || gotReq.ResponseFormat.Type != "json_object" {
		t.Errorf("ResponseFormat = %+v, want json_object", gotReq.ResponseFormat)
	}
}

func TestCompleteJSON_FencedOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "```json\n{\"ok\":true}\n```"}},
			},
		}
		json.NewEncoder(w).Encode(body)
	}))
	defer srv.Close()

	c, _ := New(Opts{BaseURL: srv.URL, Model: "m"})
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.CompleteJSON(context.Background(), "s", "u", &out); err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if !out.OK {
		t.Error("fenced JSON not decoded")
	}
}

func TestCompleteJSON_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _ := New(Opts{BaseURL: srv.URL, Model: "m"})
	var out map[string]any
	err := c.CompleteJSON(context.Background(), "s", "u", &out)
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v, want status 429", err)
	}
}

func TestCompleteJSON_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"message":"bad model"}}`))
	}))
	defer srv.Close()

	c, _ := New(Opts{BaseURL: srv.URL, Model: "m"})
	var out map[string]any
	err := c.CompleteJSON(context.Background(), "s", "u", &out)
	if err == nil || !strings.Contains(err.Error(), "bad model") {
		t.Errorf("err = %v, want api error surfaced", err)
	}
}

func TestCompleteJSON_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c, _ := New(Opts{BaseURL: srv.URL, Model: "m"})
	var out map[string]any
	if err := c.CompleteJSON(context.Background(), "s", "u", &out); err == nil {
		t.Error("empty choices accepted")
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
		{"```json\n{\"a\":1}\n```\n", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := StripFences(tt.in); got != tt.want {
			t.Errorf("StripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
