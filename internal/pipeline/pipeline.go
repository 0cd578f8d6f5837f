// Package pipeline implements the stage graph engine that drives one
// conversational turn from user question to final answer.
package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"

	"github.com/zulandar/querydesk/internal/checkpoint"
	"github.com/zulandar/querydesk/internal/state"
)

// StageID identifies a pipeline stage. The set is closed: routing functions
// can only return values of this type, so a misrouted graph is a wiring bug
// caught by validation, never a runtime lookup failure on a name string.
type StageID int

// The stages of the query pipeline, in nominal execution order. StageEnd is
// the terminal marker returned by routes to stop the walk.
const (
	StageEnd StageID = iota
	StageIntentAnalysis
	StageKeywordExtraction
	StageTermMapping
	StageQueryRewrite
	StageDataSource
	StageTableStructure
	StageFeasibilityCheck
	StageQueryExamples
	StageSQLGeneration
	StagePermissionControl
	StageSQLExecution
	StageErrorAnalysis
	StageResultGeneration
	stageCount
)

var stageNames = map[StageID]string{
	StageEnd:               "end",
	StageIntentAnalysis:    "intent_analysis",
	StageKeywordExtraction: "keyword_extraction",
	StageTermMapping:       "domain_term_mapping",
	StageQueryRewrite:      "query_rewrite",
	StageDataSource:        "data_source_identification",
	StageTableStructure:    "table_structure_analysis",
	StageFeasibilityCheck:  "feasibility_checking",
	StageQueryExamples:     "query_example_retrieval",
	StageSQLGeneration:     "sql_generation",
	StagePermissionControl: "permission_control",
	StageSQLExecution:      "sql_execution",
	StageErrorAnalysis:     "error_analysis",
	StageResultGeneration:  "result_generation",
}

func (id StageID) String() string {
	if name, ok := stageNames[id]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(id))
}

// Node is the stage execution contract: read the current state, return the
// fields changed. Nodes must never mutate the state they receive.
type Node func(ctx context.Context, s *state.State) (state.Delta, error)

// Route picks the successor of a conditional edge. It is a pure predicate
// over the state, evaluated once immediately after the node completes.
type Route func(s *state.State) StageID

// Configuration errors. These indicate a malformed graph, not a bad turn,
// and are never retried.
var (
	ErrBadRoute    = errors.New("pipeline: route returned an unregistered stage")
	ErrMissingNode = errors.New("pipeline: edge targets an unregistered stage")
	ErrNoEntry     = errors.New("pipeline: no entry stage set")
	ErrStepBudget  = errors.New("pipeline: step budget exceeded (wiring loop?)")
)

type edge struct {
	next  StageID // used when route is nil
	route Route
}

// Builder assembles a Graph. All wiring mistakes surface in Compile.
type Builder struct {
	nodes map[StageID]Node
	edges map[StageID]edge
	entry StageID
}

// NewBuilder returns an empty graph builder.
func NewBuilder() *Builder {
	return &Builder{
		nodes: make(map[StageID]Node),
		edges: make(map[StageID]edge),
	}
}

// AddNode registers a stage implementation.
func (b *Builder) AddNode(id StageID, n Node) *Builder {
	b.nodes[id] = n
	return b
}

// AddEdge registers an unconditional edge from → to.
func (b *Builder) AddEdge(from, to StageID) *Builder {
	b.edges[from] = edge{next: to}
	return b
}

// AddConditionalEdge registers a routing function evaluated after from
// completes.
func (b *Builder) AddConditionalEdge(from StageID, r Route) *Builder {
	b.edges[from] = edge{route: r}
	return b
}

// SetEntry declares the initial stage.
func (b *Builder) SetEntry(id StageID) *Builder {
	b.entry = id
	return b
}

// Compile validates the wiring and returns an executable Graph.
func (b *Builder) Compile(store checkpoint.Store) (*Graph, error) {
	if b.entry == StageEnd {
		return nil, ErrNoEntry
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return nil, fmt.Errorf("%w: entry %s", ErrMissingNode, b.entry)
	}
	for from, e := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("%w: edge from %s", ErrMissingNode, from)
		}
		if e.route == nil && e.next != StageEnd {
			if _, ok := b.nodes[e.next]; !ok {
				return nil, fmt.Errorf("%w: %s -> %s", ErrMissingNode, from, e.next)
			}
		}
	}
	for id := range b.nodes {
		if _, ok := b.edges[id]; !ok {
			return nil, fmt.Errorf("pipeline: stage %s has no outgoing edge", id)
		}
	}
	return &Graph{
		nodes: b.nodes,
		edges: b.edges,
		entry: b.entry,
		store: store,
	}, nil
}

// Graph is a compiled stage graph bound to a checkpoint store.
type Graph struct {
	nodes map[StageID]Node
	edges map[StageID]edge
	entry StageID
	store checkpoint.Store
}

// RunOpts holds per-turn parameters.
type RunOpts struct {
	ThreadID string // empty: a fresh thread id is generated
	UserID   *int64 // nil: anonymous, permission enforcement disabled
}

// EventType classifies streaming events.
type EventType int

// Streaming event kinds.
const (
	EventStage EventType = iota // one stage completed
	EventFinal                  // turn finished, Text carries the answer
	EventError                  // turn failed
)

// Event is one streaming update: a completed stage and the partial state it
// produced, or the terminal outcome of the turn.
type Event struct {
	Type  EventType
	Stage StageID
	Delta state.Delta
	Text  string // final assistant message (EventFinal)
	Err   error  // terminal error (EventError)
}

// NewThreadID generates a thread id in thr-xxxxxxxxxxxxxxxx format.
func NewThreadID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is unrecoverable for id generation
		panic(fmt.Sprintf("pipeline: generate thread id: %v", err))
	}
	return "thr-" + hex.EncodeToString(b)
}

// Run executes one turn to completion and returns the final state. A stage
// failure is captured in the state's Err field and also returned; the state
// is checkpointed either way so the conversation history survives.
func (g *Graph) Run(ctx context.Context, input string, opts RunOpts) (*state.State, error) {
	return g.run(ctx, input, opts, nil)
}

// Stream executes one turn, emitting one event per completed stage in
// execution order, followed by a final or error event. The channel is
// closed when the turn ends.
func (g *Graph) Stream(ctx context.Context, input string, opts RunOpts) <-chan Event {
	events := make(chan Event, stageCount)
	go func() {
		defer close(events)
		emit := func(ev Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}
		s, err := g.run(ctx, input, opts, emit)
		if err != nil {
			emit(Event{Type: EventError, Err: err})
			return
		}
		emit(Event{Type: EventFinal, Text: s.LastAssistantMessage()})
	}()
	return events
}

func (g *Graph) run(ctx context.Context, input string, opts RunOpts, emit func(Event)) (*state.State, error) {
	threadID := opts.ThreadID
	if threadID == "" {
		threadID = NewThreadID()
	}

	s, err := g.store.Load(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load checkpoint %s: %w", threadID, err)
	}
	if s == nil {
		s = &state.State{ThreadID: threadID}
	}
	s.ThreadID = threadID
	s.UserID = opts.UserID
	s.BeginTurn()
	s.Messages = append(s.Messages, state.Message{Role: state.RoleUser, Content: input})

	// Generous bound: the only legitimate revisits are the bounded
	// execution/recovery loop. Anything past this is a wiring bug.
	maxSteps := int(stageCount) * (state.MaxRetries + 2)

	cur := g.entry
	for steps := 0; ; steps++ {
		if steps >= maxSteps {
			s.Err = ErrStepBudget.Error()
			g.save(ctx, threadID, s)
			return s, ErrStepBudget
		}

		delta, err := g.runNode(ctx, cur, s)
		if err != nil {
			// Stage failures terminate the turn at the engine
			// boundary; routing never continues past them.
			s.Err = err.Error()
			g.save(ctx, threadID, s)
			return s, fmt.Errorf("pipeline: stage %s: %w", cur, err)
		}
		s.Apply(delta)
		if emit != nil {
			emit(Event{Type: EventStage, Stage: cur, Delta: delta})
		}

		e := g.edges[cur]
		next := e.next
		if e.route != nil {
			next = e.route(s)
		}
		if next == StageEnd {
			break
		}
		if _, ok := g.nodes[next]; !ok {
			err := fmt.Errorf("%w: %s -> %s", ErrBadRoute, cur, next)
			s.Err = err.Error()
			g.save(ctx, threadID, s)
			return s, err
		}
		cur = next
	}

	if err := g.store.Save(ctx, threadID, s); err != nil {
		return s, fmt.Errorf("pipeline: save checkpoint %s: %w", threadID, err)
	}
	return s, nil
}

// runNode executes a single stage, converting panics into errors so a
// misbehaving stage can never take down the process.
func (g *Graph) runNode(ctx context.Context, id StageID, s *state.State) (delta state.Delta, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return g.nodes[id](ctx, s)
}

// save persists the state on failure paths, logging rather than masking the
// original error.
func (g *Graph) save(ctx context.Context, threadID string, s *state.State) {
	if err := g.store.Save(ctx, threadID, s); err != nil {
		log.Printf("pipeline: save checkpoint %s: %v", threadID, err)
	}
}
