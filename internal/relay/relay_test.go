package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/querydesk/internal/directory"
	"github.com/zulandar/querydesk/internal/pipeline"
	"github.com/zulandar/querydesk/internal/state"
)

// fakeAdapter is an in-memory Adapter that records sent messages.
type fakeAdapter struct {
	mu        sync.Mutex
	inbound   chan InboundMessage
	sent      []OutboundMessage
	connected bool
	closed    bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{inbound: make(chan InboundMessage, 10)}
}

func (f *fakeAdapter) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeAdapter) Listen(ctx context.Context) (<-chan InboundMessage, error) {
	return f.inbound, nil
}

func (f *fakeAdapter) Send(ctx context.Context, msg OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbound)
	}
	return nil
}

func (f *fakeAdapter) sentMessages() []OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OutboundMessage(nil), f.sent...)
}

type stubRunner struct {
	fn func(ctx context.Context, input string, opts pipeline.RunOpts) (*state.State, error)
}

func (r *stubRunner) Run(ctx context.Context, input string, opts pipeline.RunOpts) (*state.State, error) {
	return r.fn(ctx, input, opts)
}

func answerRunner(text string) *stubRunner {
	return &stubRunner{fn: func(ctx context.Context, input string, opts pipeline.RunOpts) (*state.State, error) {
		return &state.State{
			ThreadID: opts.ThreadID,
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

func TestNewDaemon_Validation(t *testing.T) {
	a := newFakeAdapter()
	if _, err := NewDaemon(Opts{Adapters: []Adapter{a}}); err == nil {
		t.Error("missing runner accepted")
	}
	if _, err := NewDaemon(Opts{Runner: answerRunner("x")}); err == nil {
		t.Error("missing adapters accepted")
	}
	if _, err := NewDaemon(Opts{Runner: answerRunner("x"), Adapters: []Adapter{a}, AuthEnabled: true}); err == nil {
		t.Error("auth without directory accepted")
	}
	if _, err := NewDaemon(Opts{Runner: answerRunner("x"), Adapters: []Adapter{a}}); err != nil {
		t.Errorf("valid opts rejected: %v", err)
	}
}

func TestHandle_RepliesInThread(t *testing.T) {
	a := newFakeAdapter()
	d, err := NewDaemon(Opts{Runner: answerRunner("42 orders"), Adapters: []Adapter{a}})
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}

	d.handle(context.Background(), a, InboundMessage{
		Platform:  "slack",
		ChannelID: "C1",
		ThreadID:  "111.222",
		UserName:  "alice",
		Text:      "how many orders?",
	})

	sent := a.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent = %d messages, want 1", len(sent))
	}
	if sent[0].Text != "42 orders" || sent[0].ChannelID != "C1" || sent[0].ThreadID != "111.222" {
		t.Errorf("sent[0] = %+v", sent[0])
	}
}

func TestHandle_EmptyTextIgnored(t *testing.T) {
	a := newFakeAdapter()
	d, _ := NewDaemon(Opts{Runner: answerRunner("x"), Adapters: []Adapter{a}})
	d.handle(context.Background(), a, InboundMessage{Platform: "slack", ChannelID: "C1"})
	if len(a.sentMessages()) != 0 {
		t.Error("empty message got a reply")
	}
}

func TestHandle_UnknownUser(t *testing.T) {
	a := newFakeAdapter()
	d, _ := NewDaemon(Opts{
		Runner:      answerRunner("x"),
		Adapters:    []Adapter{a},
		Directory:   &stubDirectory{users: map[string]int64{"alice": 1}},
		AuthEnabled: true,
	})
	d.handle(context.Background(), a, InboundMessage{
		Platform: "slack", ChannelID: "C1", UserName: "mallory", Text: "q",
	})

	sent := a.sentMessages()
	if len(sent) != 1 || !strings.Contains(sent[0].Text, "access permissions") {
		t.Errorf("sent = %+v", sent)
	}
}

func TestHandle_DirectoryErrorGenericReply(t *testing.T) {
	a := newFakeAdapter()
	d, _ := NewDaemon(Opts{
		Runner:      answerRunner("x"),
		Adapters:    []Adapter{a},
		Directory:   &stubDirectory{err: errors.New("db down")},
		AuthEnabled: true,
	})
	d.handle(context.Background(), a, InboundMessage{
		Platform: "slack", ChannelID: "C1", UserName: "alice", Text: "q",
	})

	sent := a.sentMessages()
	if len(sent) != 1 || strings.Contains(sent[0].Text, "db down") {
		t.Errorf("sent = %+v, internal details must not leak", sent)
	}
}

func TestHandle_RunnerErrorGenericReply(t *testing.T) {
	a := newFakeAdapter()
	d, _ := NewDaemon(Opts{
		Runner: &stubRunner{fn: func(ctx context.Context, input string, opts pipeline.RunOpts) (*state.State, error) {
			return nil, errors.New("boom")
		}},
		Adapters: []Adapter{a},
	})
	d.handle(context.Background(), a, InboundMessage{
		Platform: "discord", ChannelID: "C1", UserID: "U1", Text: "q",
	})

	sent := a.sentMessages()
	if len(sent) != 1 || !strings.Contains(sent[0].Text, "try again later") {
		t.Errorf("sent = %+v", sent)
	}
}

func TestHandle_ResolvedUserPassedToRunner(t *testing.T) {
	var gotUserID *int64
	a := newFakeAdapter()
	d, _ := NewDaemon(Opts{
		Runner: &stubRunner{fn: func(ctx context.Context, input string, opts pipeline.RunOpts) (*state.State, error) {
			gotUserID = opts.UserID
			return &state.State{Messages: []state.Message{
				{Role: state.RoleAssistant, Content: "ok"},
			}}, nil
		}},
		Adapters:    []Adapter{a},
		Directory:   &stubDirectory{users: map[string]int64{"alice": 9}},
		AuthEnabled: true,
	})
	d.handle(context.Background(), a, InboundMessage{
		Platform: "slack", ChannelID: "C1", UserName: "alice", Text: "q",
	})

	if gotUserID == nil || *gotUserID != 9 {
		t.Errorf("UserID = %v, want 9", gotUserID)
	}
}

func TestThreadKey(t *testing.T) {
	tests := []struct {
		msg  InboundMessage
		want string
	}{
		{InboundMessage{Platform: "slack", ChannelID: "C1", ThreadID: "111.222", UserID: "U1"}, "slack-111.222"},
		{InboundMessage{Platform: "slack", ChannelID: "C1", UserID: "U1"}, "slack-C1-U1"},
		{InboundMessage{Platform: "discord", ChannelID: "C2", UserID: "U2"}, "discord-C2-U2"},
	}
	for _, tt := range tests {
		if got := threadKey(tt.msg); got != tt.want {
			t.Errorf("threadKey(%+v) = %q, want %q", tt.msg, got, tt.want)
		}
	}
}

func TestThreadKey_SameThreadSharesState(t *testing.T) {
	var threads []string
	a := newFakeAdapter()
	d, _ := NewDaemon(Opts{
		Runner: &stubRunner{fn: func(ctx context.Context, input string, opts pipeline.RunOpts) (*state.State, error) {
			threads = append(threads, opts.ThreadID)
			return &state.State{Messages: []state.Message{
				{Role: state.RoleAssistant, Content: "ok"},
			}}, nil
		}},
		Adapters: []Adapter{a},
	})

	msg := InboundMessage{Platform: "slack", ChannelID: "C1", ThreadID: "111.222", UserID: "U1", Text: "q1"}
	d.handle(context.Background(), a, msg)
	msg.Text = "q2"
	d.handle(context.Background(), a, msg)

	if len(threads) != 2 || threads[0] != threads[1] {
		t.Errorf("threads = %v, want identical ids", threads)
	}
}

func TestRun_PumpsAndCloses(t *testing.T) {
	a := newFakeAdapter()
	d, err := NewDaemon(Opts{Runner: answerRunner("pong"), Adapters: []Adapter{a}})
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	a.inbound <- InboundMessage{Platform: "slack", ChannelID: "C1", UserID: "U1", Text: "ping"}

	deadline := time.After(2 * time.Second)
	for len(a.sentMessages()) == 0 {
		select {
		case <-deadline:
			t.Fatal("no reply pumped")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := a.sentMessages()[0].Text; got != "pong" {
		t.Errorf("reply = %q", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if !closed {
		t.Error("adapter not closed on shutdown")
	}
}
