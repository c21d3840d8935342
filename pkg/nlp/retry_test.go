package nlp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("attempt: %w", context.DeadlineExceeded), true},
		{"rate limit", NewRateLimitError(), true},
		{"empty response", NewEmptyResponseError("empty"), true},
		{"refusal", NewRefusalError("no"), false},
		{"circuit open", fmt.Errorf("llm: %w", ErrCircuitOpen), false},
		{"unparseable extraction", errkind.Ef(errkind.Extraction, "extract", "bad json"), true},
		{"configuration", errkind.Ef(errkind.Configuration, "openai.Config", "missing key"), false},
		{"invalid", errkind.Ef(errkind.Invalid, "extract", "empty episode"), false},
		{"api 503", &openai.APIError{HTTPStatusCode: http.StatusServiceUnavailable, Message: "overloaded"}, true},
		{"api 429", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, true},
		{"api 400", &openai.APIError{HTTPStatusCode: http.StatusBadRequest, Message: "bad request"}, false},
		{"request 502", &openai.RequestError{HTTPStatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")}, true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"unknown", errors.New("model not found"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}
