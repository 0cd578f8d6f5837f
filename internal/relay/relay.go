// Package relay bridges chat platforms (Slack, Discord) to the query
// pipeline, so questions asked in a channel get answered in-thread.
package relay

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zulandar/querydesk/internal/directory"
	"github.com/zulandar/querydesk/internal/pipeline"
	"github.com/zulandar/querydesk/internal/state"
)

// Adapter is the interface platform-specific implementations satisfy. Each
// adapter owns connection management and message conversion for one
// platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages. The channel is
	// closed when the context is cancelled or the adapter is closed.
	// Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg OutboundMessage) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// InboundMessage is a question received from a chat platform.
type InboundMessage struct {
	Platform  string    // e.g. "slack", "discord"
	ChannelID string    // platform-specific channel identifier
	ThreadID  string    // thread identifier (empty if top-level)
	UserID    string    // platform-specific user identifier
	UserName  string    // human-readable username, matched against the directory
	Text      string    // raw message text
	Timestamp time.Time // when the message was sent
}

// OutboundMessage is an answer to deliver to a chat platform.
type OutboundMessage struct {
	ChannelID string // target channel
	ThreadID  string // thread to reply in (empty for top-level)
	Text      string // answer text
}

// Runner executes one conversational turn. Satisfied by *pipeline.Graph.
type Runner interface {
	Run(ctx context.Context, input string, opts pipeline.RunOpts) (*state.State, error)
}

// User-facing replies for identity and failure cases.
const (
	msgNoAccess      = "Sorry, you currently do not have access permissions. Please contact the data team to grant you relevant permissions."
	msgInternalError = "Sorry, the system encountered a problem while processing your request. Please try again later."
)

// Daemon pumps inbound chat messages through the pipeline and replies
// in-thread. One daemon can serve several adapters at once.
type Daemon struct {
	runner      Runner
	dir         directory.Directory
	authEnabled bool
	adapters    []Adapter
}

// Opts holds parameters for creating a Daemon.
type Opts struct {
	Runner      Runner
	Directory   directory.Directory // required when AuthEnabled
	AuthEnabled bool
	Adapters    []Adapter
}

// NewDaemon creates a Daemon.
func NewDaemon(opts Opts) (*Daemon, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("relay: runner is required")
	}
	if opts.AuthEnabled && opts.Directory == nil {
		return nil, fmt.Errorf("relay: directory is required when auth is enabled")
	}
	if len(opts.Adapters) == 0 {
		return nil, fmt.Errorf("relay: at least one adapter is required")
	}
	return &Daemon{
		runner:      opts.Runner,
		dir:         opts.Directory,
		authEnabled: opts.AuthEnabled,
		adapters:    opts.Adapters,
	}, nil
}

// Run connects every adapter and processes messages until ctx is
// cancelled. Adapters are closed on the way out.
func (d *Daemon) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, a := range d.adapters {
		if err := a.Connect(ctx); err != nil {
			return fmt.Errorf("relay: connect: %w", err)
		}
		inbound, err := a.Listen(ctx)
		if err != nil {
			return fmt.Errorf("relay: listen: %w", err)
		}
		wg.Add(1)
		go func(a Adapter, inbound <-chan InboundMessage) {
			defer wg.Done()
			d.pump(ctx, a, inbound)
		}(a, inbound)
	}

	<-ctx.Done()
	for _, a := range d.adapters {
		if err := a.Close(); err != nil {
			log.Printf("relay: close adapter: %v", err)
		}
	}
	wg.Wait()
	return nil
}

func (d *Daemon) pump(ctx context.Context, a Adapter, inbound <-chan InboundMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			d.handle(ctx, a, msg)
		}
	}
}

// handle runs one question through the pipeline and replies in the thread
// it came from. Replies go to the message's thread when one exists so
// follow-ups keep their conversation state.
func (d *Daemon) handle(ctx context.Context, a Adapter, msg InboundMessage) {
	if msg.Text == "" {
		return
	}

	reply := func(text string) {
		out := OutboundMessage{ChannelID: msg.ChannelID, ThreadID: msg.ThreadID, Text: text}
		if err := a.Send(ctx, out); err != nil {
			log.Printf("relay: send reply on %s: %v", msg.Platform, err)
		}
	}

	var userID *int64
	if d.authEnabled {
		uid, ok, err := d.dir.UserID(ctx, msg.UserName)
		if err != nil {
			log.Printf("relay: resolve user %q: %v", msg.UserName, err)
			reply(msgInternalError)
			return
		}
		if !ok {
			reply(msgNoAccess)
			return
		}
		userID = &uid
	}

	result, err := d.runner.Run(ctx, msg.Text, pipeline.RunOpts{
		ThreadID: threadKey(msg),
		UserID:   userID,
	})
	if err != nil {
		log.Printf("relay: turn failed for %s/%s: %v", msg.Platform, msg.UserName, err)
		reply(msgInternalError)
		return
	}

	text := result.LastAssistantMessage()
	if text == "" {
		reply(msgInternalError)
		return
	}
	reply(text)
}

// threadKey derives a stable conversation id from the message's origin so
// follow-up questions in the same chat thread share pipeline state.
func threadKey(msg InboundMessage) string {
	thread := msg.ThreadID
	if thread == "" {
		thread = msg.ChannelID + "-" + msg.UserID
	}
	return fmt.Sprintf("%s-%s", msg.Platform, thread)
}
