package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/server/dto"
)

// StatusFor maps an error kind to the HTTP status reported to clients.
func StatusFor(err error) int {
	switch errkind.KindOf(err) {
	case errkind.Invalid:
		return http.StatusBadRequest
	case errkind.NotFound:
		return http.StatusNotFound
	case errkind.ReferentialIntegrity:
		return http.StatusUnprocessableEntity
	case errkind.SearchUnavailable:
		return http.StatusServiceUnavailable
	case errkind.Extraction, errkind.Embedding, errkind.Rerank, errkind.Storage:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	switch errkind.KindOf(err) {
	case errkind.Invalid:
		return "invalid_request"
	case errkind.NotFound:
		return "not_found"
	case errkind.ReferentialIntegrity:
		return "referential_integrity"
	case errkind.SearchUnavailable:
		return "search_unavailable"
	case errkind.Extraction:
		return "extraction_failed"
	case errkind.Embedding:
		return "embedding_failed"
	case errkind.Rerank:
		return "rerank_failed"
	case errkind.Storage:
		return "storage_failed"
	case errkind.Configuration:
		return "configuration_error"
	default:
		return "internal_error"
	}
}

// writeError aborts the request with the status and code of err. Server
// side failures are logged with the error's structured fields.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		attrs := []any{"path", c.FullPath(), "status", status}
		var ke *errkind.Error
		if errors.As(err, &ke) {
			attrs = append(attrs, ke.LogAttrs()...)
		} else {
			attrs = append(attrs, "error", err)
		}
		logger.Error("request failed", attrs...)
	}
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: errorCode(err), Message: err.Error()})
}

// badRequest rejects a malformed body before it reaches the engine.
func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
}
