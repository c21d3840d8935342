package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/soundprediction/chronograph"
	"github.com/soundprediction/chronograph/pkg/server/dto"
)

// RetrieveHandler serves search and graph lookups.
type RetrieveHandler struct {
	engine chronograph.GraphQuerier
	logger *slog.Logger
}

// NewRetrieveHandler creates a new retrieve handler
func NewRetrieveHandler(engine chronograph.GraphQuerier, logger *slog.Logger) *RetrieveHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrieveHandler{engine: engine, logger: logger}
}

// Search handles POST /api/v1/search
func (h *RetrieveHandler) Search(c *gin.Context) {
	var req dto.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.engine.Search(c.Request.Context(), req.ToQuery())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSearchResponse(res))
}

// GetNode handles GET /api/v1/nodes/:id
func (h *RetrieveHandler) GetNode(c *gin.Context) {
	node, err := h.engine.GetNode(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewEntityResult(node))
}

// GetEdge handles GET /api/v1/edges/:id
func (h *RetrieveHandler) GetEdge(c *gin.Context) {
	edge, err := h.engine.GetEdge(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewFactResult(edge))
}

// Facts handles GET /api/v1/facts. With source and target it returns the
// timeline of the pair (only the facts valid at as_of when given); with node
// it returns the node's facts valid at as_of, defaulting to now.
func (h *RetrieveHandler) Facts(c *gin.Context) {
	groupID := c.Query("group_id")
	var asOf *time.Time
	if raw := c.Query("as_of"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		asOf = &t
	}

	ctx := c.Request.Context()
	source, target, node := c.Query("source"), c.Query("target"), c.Query("node")
	switch {
	case source != "" && target != "":
		edges, err := h.engine.EdgesBetween(ctx, groupID, source, target, asOf)
		if err != nil {
			writeError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"facts": dto.NewFactResults(edges)})
	case node != "":
		at := time.Now().UTC()
		if asOf != nil {
			at = *asOf
		}
		edges, err := h.engine.FactsAsOf(ctx, groupID, node, at)
		if err != nil {
			writeError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"facts": dto.NewFactResults(edges), "as_of": at})
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: "either source and target or node is required",
		})
	}
}
