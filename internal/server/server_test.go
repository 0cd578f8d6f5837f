package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/querydesk/internal/directory"
	"github.com/zulandar/querydesk/internal/pipeline"
	"github.com/zulandar/querydesk/internal/state"
)

type stubRunner struct {
	fn func(ctx context.Context, input string, opts pipeline.RunOpts) (*state.State, error)
}

func (r *stubRunner) Run(ctx context.Context, input string, opts pipeline.RunOpts) (*state.State, error) {
	return r.fn(ctx, input, opts)
}

func answerRunner(text string) *stubRunner {
	return &stubRunner{fn: func(ctx context.Context, input string, opts pipeline.RunOpts) (*state.State, error) {
		threadID := opts.ThreadID
		if threadID == "" {
			threadID = "thr-new"
		}
		return &state.State{
			ThreadID: threadID,
			Messages: []state.Message{
				{Role: state.RoleUser, Content: input},
				{Role: state.RoleAssistant, Content: text},
			},
		}, nil
	}}
}

type stubDirectory struct {
	directory.Directory
	users map[string]int64
	err   error
}

func (d *stubDirectory) UserID(ctx context.Context, username string) (int64, bool, error) {
	if d.err != nil {
		return 0, false, d.err
	}
	id, ok := d.users[username]
	return id, ok, nil
}

func newTestRouter(opts Opts) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	registerRoutes(router, newHandler(opts))
	return router
}

func postQuery(t *testing.T, router *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/query-bot", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	router := newTestRouter(Opts{Runner: answerRunner("ok")})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestHandleQuery_Success(t *testing.T) {
	router := newTestRouter(Opts{Runner: answerRunner("there were 42 orders")})
	w := postQuery(t, router, `{"text":"how many orders?","session_id":"thr-1"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp queryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Text != "there were 42 orders" || resp.SessionID != "thr-1" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHandleQuery_NewSessionIDReturned(t *testing.T) {
	router := newTestRouter(Opts{Runner: answerRunner("hi")})
	w := postQuery(t, router, `{"text":"q"}`)

	var resp queryResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.SessionID != "thr-new" {
		t.Errorf("SessionID = %q, want the generated thread id", resp.SessionID)
	}
}

func TestHandleQuery_BadBody(t *testing.T) {
	router := newTestRouter(Opts{Runner: answerRunner("ok")})
	w := postQuery(t, router, `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleQuery_RunnerError(t *testing.T) {
	router := newTestRouter(Opts{Runner: &stubRunner{
		fn: func(ctx context.Context, input string, opts pipeline.RunOpts) (*state.State, error) {
			return nil, errors.New("pipeline exploded")
		},
	}})
	w := postQuery(t, router, `{"text":"q"}`)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "exploded") {
		t.Error("internal error details leaked to the client")
	}
	if !strings.Contains(w.Body.String(), "try again later") {
		t.Errorf("body = %q, want generic apology", w.Body.String())
	}
}

func TestHandleQuery_EmptyReplyIsError(t *testing.T) {
	router := newTestRouter(Opts{Runner: &stubRunner{
		fn: func(ctx context.Context, input string, opts pipeline.RunOpts) (*state.State, error) {
			return &state.State{ThreadID: "thr-1"}, nil
		},
	}})
	w := postQuery(t, router, `{"text":"q"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestHandleQuery_UnknownUser(t *testing.T) {
	router := newTestRouter(Opts{
		Runner:      answerRunner("ok"),
		Directory:   &stubDirectory{users: map[string]int64{"alice": 1}},
		AuthEnabled: true,
	})
	w := postQuery(t, router, `{"text":"q","username":"mallory"}`)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if !strings.Contains(w.Body.String(), "access permissions") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestHandleQuery_DirectoryError(t *testing.T) {
	router := newTestRouter(Opts{
		Runner:      answerRunner("ok"),
		Directory:   &stubDirectory{err: errors.New("db down")},
		AuthEnabled: true,
	})
	w := postQuery(t, router, `{"text":"q","username":"alice"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestHandleQuery_ResolvedUserPassedToRunner(t *testing.T) {
	var gotUserID *int64
	router := newTestRouter(Opts{
		Runner: &stubRunner{fn: func(ctx context.Context, input string, opts pipeline.RunOpts) (*state.State, error) {
			gotUserID = opts.UserID
			return &state.State{ThreadID: "t", Messages: []state.Message{
				{Role: state.RoleAssistant, Content: "ok"},
			}}, nil
		}},
		Directory:   &stubDirectory{users: map[string]int64{"alice": 7}},
		AuthEnabled: true,
	})
	postQuery(t, router, `{"text":"q","username":"alice"}`)

	if gotUserID == nil || *gotUserID != 7 {
		t.Errorf("UserID = %v, want 7", gotUserID)
	}
}

func TestHandleQuery_AnonymousSkipsResolution(t *testing.T) {
	var gotUserID *int64
	router := newTestRouter(Opts{
		Runner: &stubRunner{fn: func(ctx context.Context, input string, opts pipeline.RunOpts) (*state.State, error) {
			gotUserID = opts.UserID
			return &state.State{ThreadID: "t", Messages: []state.Message{
				{Role: state.RoleAssistant, Content: "ok"},
			}}, nil
		}},
		Directory:   &stubDirectory{users: map[string]int64{}},
		AuthEnabled: true,
	})
	w := postQuery(t, router, `{"text":"q"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if gotUserID != nil {
		t.Errorf("UserID = %v, want nil for anonymous", gotUserID)
	}
}

func TestHandleQuery_DuplicateInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	router := newTestRouter(Opts{Runner: &stubRunner{
		fn: func(ctx context.Context, input string, opts pipeline.RunOpts) (*state.State, error) {
			once.Do(func() { close(started) })
			<-release
			return &state.State{ThreadID: "t", Messages: []state.Message{
				{Role: state.RoleAssistant, Content: "done"},
			}}, nil
		},
	}})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		postQuery(t, router, `{"text":"same question","username":"alice"}`)
	}()
	<-started

	w := postQuery(t, router, `{"text":"same question","username":"alice"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "being processed") {
		t.Errorf("body = %q, want duplicate notice", w.Body.String())
	}

	close(release)
	wg.Wait()

	// After the first request finishes the same question is accepted again.
	w = postQuery(t, router, `{"text":"same question","username":"alice"}`)
	if !strings.Contains(w.Body.String(), "done") {
		t.Errorf("body = %q, want a fresh turn", w.Body.String())
	}
}

func TestTracker(t *testing.T) {
	tr := newTracker()
	if !tr.tryAdd("a") {
		t.Fatal("first add refused")
	}
	if tr.tryAdd("a") {
		t.Fatal("duplicate add accepted")
	}
	if !tr.tryAdd("b") {
		t.Fatal("unrelated id refused")
	}
	tr.remove("a")
	if !tr.tryAdd("a") {
		t.Fatal("re-add after remove refused")
	}
}

func TestRequestID(t *testing.T) {
	a := requestID("alice", "how many orders?")
	b := requestID("alice", "how many orders?")
	if a != b {
		t.Errorf("same input, different ids: %q vs %q", a, b)
	}
	if requestID("bob", "how many orders?") == a {
		t.Error("different users collide")
	}
	if requestID("alice", "other question") == a {
		t.Error("different questions collide")
	}
	if !strings.HasPrefix(a, "alice_") {
		t.Errorf("id = %q, want username prefix", a)
	}
}

func TestStart_RequiresRunner(t *testing.T) {
	if err := Start(context.Background(), Opts{}); err == nil {
		t.Error("missing runner accepted")
	}
	if err := Start(context.Background(), Opts{Runner: answerRunner("x"), AuthEnabled: true}); err == nil {
		t.Error("auth without directory accepted")
	}
}
