package server

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/querydesk/internal/directory"
	"github.com/zulandar/querydesk/internal/pipeline"
)

// User-facing response strings. The 500 apology is deliberately generic so
// internal failures never leak details to chat users.
const (
	msgAlreadyProcessing = "Your previous query is being processed, please wait..."
	msgNoAccess          = "Sorry, you currently do not have access permissions. Please contact the data team to grant you relevant permissions."
	msgInternalError     = "Sorry, the system encountered a problem while processing your request. Please try again later. If the problem persists, please contact the data team for help."
)

// anonymousUser is the username substituted when a request names nobody.
// Anonymous requests skip identity resolution entirely.
const anonymousUser = "anonymous"

type queryRequest struct {
	Text      string `json:"text"`
	Username  string `json:"username"`
	SessionID string `json:"session_id"`
}

type queryResponse struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

type handler struct {
	runner      Runner
	dir         directory.Directory
	authEnabled bool
	inflight    *tracker
	// workers bounds concurrent pipeline turns. Requests beyond the
	// limit wait here rather than being rejected.
	workers chan struct{}
}

func newHandler(opts Opts) *handler {
	workers := opts.Workers
	if workers <= 0 {
		workers = 3
	}
	return &handler{
		runner:      opts.Runner,
		dir:         opts.Directory,
		authEnabled: opts.AuthEnabled,
		inflight:    newTracker(),
		workers:     make(chan struct{}, workers),
	}
}

func (h *handler) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Username == "" {
		req.Username = anonymousUser
	}

	id := requestID(req.Username, req.Text)
	if !h.inflight.tryAdd(id) {
		c.JSON(http.StatusOK, queryResponse{Text: msgAlreadyProcessing, SessionID: req.SessionID})
		return
	}
	defer h.inflight.remove(id)

	var userID *int64
	if h.authEnabled && req.Username != anonymousUser {
		uid, ok, err := h.dir.UserID(c.Request.Context(), req.Username)
		if err != nil {
			log.Printf("server: resolve user %q: %v", req.Username, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": msgNoAccess})
			return
		}
		userID = &uid
	}

	h.workers <- struct{}{}
	defer func() { <-h.workers }()

	result, err := h.runner.Run(c.Request.Context(), req.Text, pipeline.RunOpts{
		ThreadID: req.SessionID,
		UserID:   userID,
	})
	if err != nil {
		log.Printf("server: turn failed for %q: %v", req.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		return
	}

	text := result.LastAssistantMessage()
	if text == "" {
		log.Printf("server: turn for %q produced no assistant reply", req.Username)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		return
	}

	c.JSON(http.StatusOK, queryResponse{Text: text, SessionID: result.ThreadID})
}

func (h *handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
