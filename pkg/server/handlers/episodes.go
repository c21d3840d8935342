package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/soundprediction/chronograph"
	"github.com/soundprediction/chronograph/pkg/server/dto"
)

// EpisodeHandler serves episode ingestion and lookup.
type EpisodeHandler struct {
	engine chronograph.EpisodeManager
	logger *slog.Logger
}

// NewEpisodeHandler creates a new episode handler
func NewEpisodeHandler(engine chronograph.EpisodeManager, logger *slog.Logger) *EpisodeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EpisodeHandler{engine: engine, logger: logger}
}

// AddEpisode handles POST /api/v1/episodes. Ingestion is synchronous: the
// response lists the facts written, invalidated and confirmed.
func (h *EpisodeHandler) AddEpisode(c *gin.Context) {
	var req dto.AddEpisodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.engine.AddEpisode(c.Request.Context(), req.ToInput())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewEpisodeResponse(res))
}

// AddEpisodeBulk handles POST /api/v1/episodes/bulk. Episodes succeed or
// fail independently; the response is 207 when some failed.
func (h *EpisodeHandler) AddEpisodeBulk(c *gin.Context) {
	var req dto.AddEpisodeBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(c, err)
		return
	}

	inputs := make([]chronograph.EpisodeInput, len(req.Episodes))
	for i := range req.Episodes {
		inputs[i] = req.Episodes[i].ToInput()
	}
	results, err := h.engine.AddEpisodeBulk(c.Request.Context(), inputs)

	out := make([]dto.BulkEpisodeResult, len(inputs))
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			var ee *chronograph.EpisodeError
			if errors.As(e, &ee) && ee.Index >= 0 && ee.Index < len(out) {
				out[ee.Index].Error = ee.Err.Error()
			}
		}
	}
	failed := 0
	for i := range inputs {
		if i < len(results) && results[i] != nil {
			resp := dto.NewEpisodeResponse(results[i])
			out[i].Episode = &resp
			continue
		}
		failed++
		if out[i].Error == "" {
			out[i].Error = "episode failed"
		}
	}

	status := http.StatusCreated
	if failed > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, gin.H{"results": out, "failed": failed})
}

// GetEpisode handles GET /api/v1/episodes/:id
func (h *EpisodeHandler) GetEpisode(c *gin.Context) {
	ep, err := h.engine.GetEpisode(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ep)
}

// ListEpisodes handles GET /api/v1/groups/:group_id/episodes. Episodes come
// most recent first; before and limit page backwards through the group.
func (h *EpisodeHandler) ListEpisodes(c *gin.Context) {
	var req dto.ListEpisodesRequest
	if err := c.ShouldBindUri(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(c, err)
		return
	}

	episodes, err := h.engine.ListEpisodes(c.Request.Context(), req.GroupID, req.Before, req.Limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"episodes": episodes})
}
