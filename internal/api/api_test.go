package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/dwelltime/internal/auth"
	"github.com/goodtune/dwelltime/internal/blob"
	"github.com/goodtune/dwelltime/internal/clock"
	"github.com/goodtune/dwelltime/internal/config"
	"github.com/goodtune/dwelltime/internal/duration"
	"github.com/goodtune/dwelltime/internal/storage/sqldb"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var wib = time.FixedZone("WIB", 7*60*60)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

type testServer struct {
	server *Server
	clock  *clock.TestClock
	token  string
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	store, err := sqldb.Open(config.StorageConfig{
		Type: "sql",
		DSN:  fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/blobs", 0o755))
	blobs := blob.New(afero.NewBasePathFs(fs, "/blobs"), 0, zerolog.Nop())

	clk := &clock.TestClock{CurrentTime: time.Date(2024, 3, 1, 8, 0, 0, 0, wib), Loc: wib}
	gate := auth.NewGate(store.APIKeys(), clk, auth.Options{}, zerolog.Nop())
	tracker := duration.NewTracker(store.Durations(), blobs, clk, zerolog.Nop())

	cfg.Location = wib
	s := NewServer(cfg, tracker, gate, zerolog.Nop())
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	cred, err := gate.Issue(context.Background())
	require.NoError(t, err)

	return &testServer{server: s, clock: clk, token: cred.Token}
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if ts.token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func (ts *testServer) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return ts.do(t, req)
}

func (ts *testServer) openDetail(t *testing.T, fields map[string]string, image []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if image != nil {
		part, err := mw.CreateFormFile("image_file", "frame.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/person-durations/detail", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return ts.do(t, req)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestRoot(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Welcome to dwelltime API", decode[messageResponse](t, w).Message)
}

func TestGenerateAPIKey(t *testing.T) {
	ts := newTestServer(t, Config{OpenIssuance: true})

	req := httptest.NewRequest(http.MethodPost, "/generate-api-key", nil)
	w := ts.do(t, req)
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decode[apiKeyResponse](t, w)
	_, err := uuid.Parse(resp.APIKey)
	require.NoError(t, err)
	assert.True(t, resp.ExpiresAt.Equal(ts.clock.Now().Add(auth.DefaultValidity)))

	// The new key works.
	ts.token = resp.APIKey
	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/person-durations/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGenerateAPIKeyDisabled(t *testing.T) {
	ts := newTestServer(t, Config{OpenIssuance: false})

	w := ts.do(t, httptest.NewRequest(http.MethodPost, "/generate-api-key", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutesRequireAPIKey(t *testing.T) {
	ts := newTestServer(t, Config{})

	for _, path := range []string{"/person-durations/", "/person-durations/1/details", "/person-durations/show-labeled-image?filename=x"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+uuid.NewString())
		w := ts.do(t, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.Equal(t, "Invalid or expired API key", decode[ErrorResponse](t, w).Message)
	}
}

func TestCreatePersonDuration(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.doJSON(t, http.MethodPost, "/person-durations/", map[string]string{"name": "Jane42"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[personDurationResponse](t, w)
	assert.Equal(t, "Jane", created.Name)
	assert.Equal(t, "00:00:00", created.TotalDuration)
	assert.Equal(t, "2024-03-01", created.CreatedAt)

	w = ts.doJSON(t, http.MethodPost, "/person-durations/", map[string]string{"name": "Jane"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "data already exists for today", decode[messageResponse](t, w).Message)
}

func TestCreatePersonDurationValidation(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.doJSON(t, http.MethodPost, "/person-durations/", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.doJSON(t, http.MethodPost, "/person-durations/", map[string]string{"name": "123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Bad Request", decode[ErrorResponse](t, w).Error)
}

func TestDetailLifecycle(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.doJSON(t, http.MethodPost, "/person-durations/", map[string]string{"name": "Jane Doe"})
	require.Equal(t, http.StatusCreated, w.Code)
	agg := decode[personDurationResponse](t, w)

	w = ts.openDetail(t, map[string]string{"nim": "A11", "name": "jane doe", "name_track_id": "t-1"}, pngHeader)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	opened := decode[detailResponse](t, w)
	assert.Equal(t, agg.ID, opened.PersonDurationID)
	assert.Equal(t, "A11", opened.Nim)
	assert.Nil(t, opened.EndTime)
	require.NotNil(t, opened.LabeledImage)

	w = ts.openDetail(t, map[string]string{"nim": "A11", "name": "jane doe", "name_track_id": "t-1"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	end := ts.clock.Now().Add(5 * time.Minute)
	w = ts.doJSON(t, http.MethodPatch, "/person-durations/detail/t-1", map[string]string{"end_time": end.Format(time.RFC3339)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	closed := decode[closeDetailResponse](t, w)
	assert.Equal(t, "t-1", closed.NameTrackID)
	assert.True(t, closed.EndTime.Equal(end))

	w = ts.doJSON(t, http.MethodPatch, "/person-durations/detail/t-1", map[string]string{"end_time": end.Format(time.RFC3339)})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/person-durations/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]personDurationWithDetailsResponse](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, "00:05:00", list[0].TotalDuration)
	require.Len(t, list[0].Details, 1)
	assert.NotNil(t, list[0].Details[0].EndTime)

	w = ts.do(t, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/person-durations/%d/details", agg.ID), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]detailResponse](t, w), 1)

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/person-durations/show-labeled-image?filename="+*opened.LabeledImage, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, pngHeader, w.Body.Bytes())
}

func TestOpenDetailErrors(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.openDetail(t, map[string]string{"nim": "A11", "name": "Nobody", "name_track_id": "t-1"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.openDetail(t, map[string]string{"name": "Nobody", "name_track_id": "t-1"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.doJSON(t, http.MethodPost, "/person-durations/", map[string]string{"name": "Jane"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.openDetail(t, map[string]string{"nim": "A11", "name": "Jane", "name_track_id": "t-1"}, []byte("plain text, not an image"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCloseDetailErrors(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.doJSON(t, http.MethodPatch, "/person-durations/detail/ghost", map[string]string{"end_time": "2024-03-01T09:00:00+07:00"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.doJSON(t, http.MethodPost, "/person-durations/", map[string]string{"name": "Jane"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = ts.openDetail(t, map[string]string{"nim": "A11", "name": "Jane", "name_track_id": "t-1"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.doJSON(t, http.MethodPatch, "/person-durations/detail/t-1", map[string]string{"end_time": "yesterday"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.doJSON(t, http.MethodPatch, "/person-durations/detail/t-1", map[string]string{"end_time": "2024-03-01T07:00:00+07:00"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// An end time without an offset is read in the deployment timezone.
	w = ts.doJSON(t, http.MethodPatch, "/person-durations/detail/t-1", map[string]string{"end_time": "2024-03-01T08:00:30"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/person-durations/", nil))
	list := decode[[]personDurationWithDetailsResponse](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, "00:00:30", list[0].TotalDuration)
}

func TestListDetailsErrors(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/person-durations/99/details", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/person-durations/abc/details", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestShowLabeledImageErrors(t *testing.T) {
	ts := newTestServer(t, Config{})

	tests := []struct {
		query string
		want  int
	}{
		{"", http.StatusBadRequest},
		{"?filename=../etc/passwd", http.StatusBadRequest},
		{"?filename=" + uuid.NewString() + ".png", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := ts.do(t, httptest.NewRequest(http.MethodGet, "/person-durations/show-labeled-image"+tt.query, nil))
		assert.Equal(t, tt.want, w.Code, tt.query)
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, Config{RateLimit: 2, RateLimitWindow: time.Hour})

	for i := 0; i < 2; i++ {
		w := ts.do(t, httptest.NewRequest(http.MethodGet, "/person-durations/", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/person-durations/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// The root route is not limited.
	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitRejectedKeys(t *testing.T) {
	ts := newTestServer(t, Config{RateLimit: 3, RateLimitWindow: time.Hour})

	codes := make(map[int]int)
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/person-durations/", nil)
		req.Header.Set("Authorization", "Bearer not-a-real-key")
		codes[ts.do(t, req).Code]++
	}

	assert.Equal(t, map[int]int{http.StatusUnauthorized: 3, http.StatusTooManyRequests: 7}, codes)
}

func preflight(t *testing.T, ts *testServer, origin string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodOptions, "/person-durations/", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	return ts.do(t, req)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := preflight(t, ts, "http://dashboard.local")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSAllowedOrigins(t *testing.T) {
	ts := newTestServer(t, Config{AllowedOrigins: []string{"http://dashboard.local"}})

	w := preflight(t, ts, "http://dashboard.local")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://dashboard.local", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	w = preflight(t, ts, "http://elsewhere.local")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Not Found", decode[ErrorResponse](t, w).Error)
}

func TestParseEndTime(t *testing.T) {
	got, err := parseEndTime("2024-03-01T10:00:00Z", wib)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))

	got, err = parseEndTime("2024-03-01 17:00:00", wib)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))

	_, err = parseEndTime("soon", wib)
	assert.Error(t, err)
}

func TestRateLimiterPerIdentifier(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	defer rl.Stop()

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
}
