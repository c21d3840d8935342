package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/soundprediction/chronograph"
	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/extractor"
	"github.com/soundprediction/chronograph/pkg/server/dto"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T) *chronograph.Client {
	t.Helper()
	cfg := chronograph.DefaultConfig()
	cfg.Concurrency.Extraction.MaxRetries = 0
	cfg.Concurrency.Storage.MaxRetries = 0
	ex := extractor.Func(func(_ context.Context, req extractor.Request) (*types.ExtractionResult, error) {
		if req.Episode.Content == "fail" {
			return nil, errors.New("model refused")
		}
		return &types.ExtractionResult{
			Entities: []types.CandidateEntity{{Name: "Alice"}, {Name: "Acme"}},
			Edges:    []types.CandidateEdge{{SourceName: "Alice", TargetName: "Acme", Label: "WORKS_AT", Fact: "Alice works at Acme"}},
		}, nil
	})
	client, err := chronograph.NewClient(chronograph.Options{Driver: driver.NewMemoryDriver(), Extractor: ex, Config: cfg})
	require.NoError(t, err)
	return client
}

func newTestServer(t *testing.T, engine chronograph.Engine) *Server {
	t.Helper()
	cfg := &config.Config{Server: config.ServerConfig{Host: "localhost", Port: 8080, Mode: "test"}}
	s := New(cfg, engine, nil)
	s.Setup()
	return s
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestSetup(t *testing.T) {
	s := newTestServer(t, nil)
	require.NotNil(t, s.router)
	require.NotNil(t, s.server)
	assert.Equal(t, "localhost:8080", s.server.Addr)
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, testEngine(t))
	for _, path := range []string{"/health", "/live", "/ready"} {
		w := do(t, s, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestReadyWithoutEngine(t *testing.T) {
	s := newTestServer(t, nil)
	w := do(t, s, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "not_ready")
}

func TestEpisodeLifecycle(t *testing.T) {
	s := newTestServer(t, testEngine(t))
	occurred := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	w := do(t, s, http.MethodPost, "/api/v1/episodes", dto.AddEpisodeRequest{
		ID: "ep-1", GroupID: "g1", Content: "Alice works at Acme.", OccurredAt: &occurred,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var added dto.EpisodeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &added))
	assert.Equal(t, "ep-1", added.EpisodeID)
	require.Len(t, added.Facts, 1)
	fact := added.Facts[0]
	assert.Equal(t, "Alice works at Acme", fact.Fact)

	w = do(t, s, http.MethodGet, "/api/v1/episodes/ep-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/edges/"+fact.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/nodes/"+fact.SourceID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var node dto.EntityResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &node))
	assert.Equal(t, "Alice", node.Name)

	q := url.Values{"group_id": {"g1"}, "source": {fact.SourceID}, "target": {fact.TargetID}}
	w = do(t, s, http.MethodGet, "/api/v1/facts?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var timeline struct {
		Facts []dto.FactResult `json:"facts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &timeline))
	assert.Len(t, timeline.Facts, 1)

	q = url.Values{"group_id": {"g1"}, "node": {fact.SourceID}, "as_of": {"2023-06-01T00:00:00Z"}}
	w = do(t, s, http.MethodGet, "/api/v1/facts?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &timeline))
	assert.Empty(t, timeline.Facts, "the fact did not hold yet")

	w = do(t, s, http.MethodPost, "/api/v1/search", dto.SearchRequest{Query: "Alice Acme", GroupIDs: []string{"g1"}})
	require.Equal(t, http.StatusOK, w.Code)
	var found dto.SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &found))
	assert.True(t, found.Degraded)
	require.NotEmpty(t, found.Facts)
	assert.Equal(t, fact.ID, found.Facts[0].ID)
}

func TestErrorStatuses(t *testing.T) {
	s := newTestServer(t, testEngine(t))

	w := do(t, s, http.MethodGet, "/api/v1/nodes/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not_found", resp.Error)

	w = do(t, s, http.MethodPost, "/api/v1/episodes", dto.AddEpisodeRequest{GroupID: "g1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/episodes", dto.AddEpisodeRequest{GroupID: "g1", Content: "fail"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "extraction_failed", resp.Error)

	w = do(t, s, http.MethodPost, "/api/v1/search", dto.SearchRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/facts?group_id=g1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/facts?group_id=g1&node=x&as_of=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListEpisodes(t *testing.T) {
	s := newTestServer(t, testEngine(t))
	for i, id := range []string{"ep-1", "ep-2", "ep-3"} {
		occurred := time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC)
		w := do(t, s, http.MethodPost, "/api/v1/episodes", dto.AddEpisodeRequest{
			ID: id, GroupID: "g1", Content: "Alice works at Acme.", OccurredAt: &occurred,
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	var body struct {
		Episodes []types.EpisodicNode `json:"episodes"`
	}
	w := do(t, s, http.MethodGet, "/api/v1/groups/g1/episodes", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Episodes, 3)
	assert.Equal(t, "ep-3", body.Episodes[0].ID)

	q := url.Values{"before": {"2024-01-03T00:00:00Z"}, "limit": {"1"}}
	w = do(t, s, http.MethodGet, "/api/v1/groups/g1/episodes?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Episodes, 1)
	assert.Equal(t, "ep-2", body.Episodes[0].ID)

	w = do(t, s, http.MethodGet, "/api/v1/groups/other/episodes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.Episodes)

	w = do(t, s, http.MethodGet, "/api/v1/groups/g1/episodes?limit=1000", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, s, http.MethodGet, "/api/v1/groups/g1/episodes?before=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBulkPartialFailure(t *testing.T) {
	s := newTestServer(t, testEngine(t))
	w := do(t, s, http.MethodPost, "/api/v1/episodes/bulk", dto.AddEpisodeBulkRequest{Episodes: []dto.AddEpisodeRequest{
		{GroupID: "g1", Content: "Alice works at Acme."},
		{GroupID: "g1", Content: "fail"},
	}})
	require.Equal(t, http.StatusMultiStatus, w.Code, w.Body.String())

	var body struct {
		Results []dto.BulkEpisodeResult `json:"results"`
		Failed  int                     `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)
	assert.Equal(t, 1, body.Failed)
	assert.NotNil(t, body.Results[0].Episode)
	assert.Contains(t, body.Results[1].Error, "model refused")
}

func TestMessagesBecomeMessageEpisode(t *testing.T) {
	req := dto.AddEpisodeRequest{GroupID: "g1", Messages: []dto.Message{
		{Role: "user", Content: "I moved to Globex"},
		{Role: "Assistant", Content: "Congratulations"},
	}}
	require.NoError(t, req.Validate())
	in := req.ToInput()
	assert.Equal(t, types.MessageEpisodeType, in.Source)
	assert.Equal(t, "user: I moved to Globex\nassistant: Congratulations", in.Content)

	bad := dto.AddEpisodeRequest{GroupID: "g1", Messages: []dto.Message{{Role: "robot", Content: "x"}}}
	assert.Error(t, bad.Validate())
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/search", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
