package main

import (
	"context"
	"time"

	"github.com/zulandar/querydesk/internal/checkpoint"
	"github.com/zulandar/querydesk/internal/config"
	"github.com/zulandar/querydesk/internal/db"
	"github.com/zulandar/querydesk/internal/directory"
	"github.com/zulandar/querydesk/internal/llm"
	"github.com/zulandar/querydesk/internal/nodes"
	"github.com/zulandar/querydesk/internal/pipeline"
	"github.com/zulandar/querydesk/internal/sqlauth"
	"github.com/zulandar/querydesk/internal/sqlexec"
	"github.com/zulandar/querydesk/internal/vector"
)

// app bundles the process-wide services every command builds from the
// config file.
type app struct {
	cfg    *config.Config
	dir    directory.Directory
	store  checkpoint.Store
	purger checkpoint.Purger // nil when checkpoints are memory-only
	graph  *pipeline.Graph
}

// buildApp constructs the full service graph from a config file.
func buildApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	gdb, err := db.Connect(cfg.Database.DSN())
	if err != nil {
		return nil, err
	}
	dir := directory.New(gdb)

	llmClient, err := llm.New(llm.Opts{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
	})
	if err != nil {
		return nil, err
	}
	embedder, err := vector.NewHTTPEmbedder(cfg.Vector.EmbedBaseURL, cfg.Vector.EmbedAPIKey, cfg.Vector.EmbedModel)
	if err != nil {
		return nil, err
	}
	searcher, err := vector.NewMilvus(cfg.Vector.SearchBaseURL, cfg.Vector.SearchAPIKey, cfg.Vector.SearchDatabase)
	if err != nil {
		return nil, err
	}

	var (
		store  checkpoint.Store
		purger checkpoint.Purger
	)
	if cfg.Checkpoint.Path != "" {
		sqlite, err := checkpoint.OpenSQLite(cfg.Checkpoint.Path)
		if err != nil {
			return nil, err
		}
		store = sqlite
		purger = sqlite
	} else {
		store = checkpoint.NewMemory()
	}

	deps := &nodes.Deps{
		LLM:                 llmClient,
		Embedder:            embedder,
		Searcher:            searcher,
		Auth:                sqlauth.NewValidator(dir),
		Executor:            sqlexec.New(gdb),
		AuthEnabled:         cfg.Auth.Enabled,
		SimilarityThreshold: cfg.Vector.SimilarityThreshold,
		TopK:                cfg.Vector.TopK,
	}
	graph, err := nodes.Build(deps, store)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, dir: dir, store: store, purger: purger, graph: graph}, nil
}

// startCleaner launches checkpoint expiry in the background when the store
// supports it.
func (a *app) startCleaner(ctx context.Context) {
	if a.purger == nil {
		return
	}
	ttl := time.Duration(a.cfg.Checkpoint.TTLHours) * time.Hour
	go checkpoint.RunCleaner(ctx, a.purger, a.cfg.Checkpoint.CleanupCron, ttl)
}

// resolveUser maps a username to its directory id when auth is enabled.
// ok is false only for named users with no active mapping.
func (a *app) resolveUser(ctx context.Context, username string) (id *int64, ok bool, err error) {
	if !a.cfg.Auth.Enabled || username == "" || username == "anonymous" {
		return nil, true, nil
	}
	uid, found, err := a.dir.UserID(ctx, username)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return &uid, true, nil
}
