package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/quanttxt"
	"github.com/wbrown/quanttxt/imageutil"
	"github.com/wbrown/quanttxt/internal/artifact"
	"github.com/wbrown/quanttxt/internal/domain"
	"github.com/wbrown/quanttxt/internal/jobs"
	"github.com/wbrown/quanttxt/internal/progress"
	"github.com/wbrown/quanttxt/internal/store"
)

type testServer struct {
	*httptest.Server
	runner    *jobs.Runner
	artifacts *artifact.Store
}

func newTestServer(t *testing.T, start bool, maxUpload int64) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := jobs.DefaultConfig()
	cfg.UploadsDir = filepath.Join(t.TempDir(), "uploads")
	arts, err := artifact.NewStore(filepath.Join(t.TempDir(), "results"))
	require.NoError(t, err)
	broker := progress.NewBroker(64)

	runner, err := jobs.NewRunner(store.NewMemoryStore(), arts, broker, cfg, logger)
	require.NoError(t, err)
	if start {
		require.NoError(t, runner.Start())
		t.Cleanup(runner.Stop)
	}

	font, err := quanttxt.LoadFontBitmaps("")
	require.NoError(t, err)

	h := NewHandler(runner, arts, broker, font, Options{
		MaxUploadBytes: maxUpload,
		Defaults:       domain.JobParams{Width: 200, Height: 200, Quality: 5, Advanced: true},
	}, logger)
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, runner: runner, artifacts: arts}
}

func pngData(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, imageutil.CreateSolidImage(80, 60, imageutil.RGB{R: 255})))
	return buf.Bytes()
}

func (s *testServer) submit(t *testing.T, filename string, data []byte, fields map[string]string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(s.URL+"/api/v1/quantize/", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func (s *testServer) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func submitted(t *testing.T, resp *http.Response) uuid.UUID {
	t.Helper()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decode[SubmitResponse](t, resp)
	assert.Equal(t, domain.JobStatusPending, body.Status)
	id, err := uuid.Parse(body.TaskID)
	require.NoError(t, err)
	return id
}

func (s *testServer) waitCompleted(t *testing.T, id uuid.UUID) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := s.runner.Get(context.Background(), id)
		return err == nil && job.Status == domain.JobStatusCompleted
	}, 10*time.Second, 10*time.Millisecond)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, false, 0)
	resp := srv.do(t, http.MethodGet, "/health")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "OK", string(body))
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(t, false, 0)

	resp := srv.do(t, http.MethodGet, "/health")
	resp.Body.Close()
	resp = srv.do(t, http.MethodGet, "/api/v1/quantize/status/"+uuid.NewString())
	resp.Body.Close()
	resp = srv.do(t, http.MethodGet, "/api/v1/quantize/status/"+uuid.NewString())
	resp.Body.Close()

	resp = srv.do(t, http.MethodGet, "/metrics")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, `quanttxt_requests_total{endpoint="/health",method="GET",status="200"} 1`)
	assert.Contains(t, text, `quanttxt_requests_total{endpoint="/api/v1/quantize/status/{id}",method="GET",status="404"} 2`)
	assert.Contains(t, text, `quanttxt_request_duration_seconds_count{endpoint="/health",method="GET"} 1`)
	assert.Contains(t, text, "go_goroutines")
}

func TestSubmitAndFetchResult(t *testing.T) {
	srv := newTestServer(t, true, 0)
	id := submitted(t, srv.submit(t, "red.png", pngData(t), map[string]string{
		"width": "50", "height": "50", "quality": "5",
	}))
	srv.waitCompleted(t, id)

	status := decode[domain.Job](t, srv.do(t, http.MethodGet, "/api/v1/quantize/status/"+id.String()))
	assert.Equal(t, id, status.ID)
	assert.Equal(t, domain.JobStatusCompleted, status.Status)
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, 80, status.OriginalWidth)

	resp := srv.do(t, http.MethodGet, "/api/v1/quantize/result/"+id.String())
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, artifact.ContentType, resp.Header.Get("Content-Type"))
	assert.Equal(t, fmt.Sprintf(`attachment; filename="quantized_%s.txt"`, id), resp.Header.Get("Content-Disposition"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text, err := artifact.DecodeUTF16LE(raw)
	require.NoError(t, err)
	lines := strings.Split(text, "\n")
	assert.Len(t, lines, 50)
	assert.Equal(t, strings.Repeat("◢", 50), lines[0])
}

func TestSubmitDefaults(t *testing.T) {
	srv := newTestServer(t, false, 0)
	id := submitted(t, srv.submit(t, "red.png", pngData(t), nil))

	job, err := srv.runner.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 200, job.Params.Width)
	assert.Equal(t, 200, job.Params.Height)
	assert.Equal(t, 5, job.Params.Quality)
	assert.True(t, job.Params.Advanced)
}

func TestSubmitRejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		fields   map[string]string
		want     int
	}{
		{"width too small", "a.png", map[string]string{"width": "49"}, http.StatusBadRequest},
		{"height too large", "a.png", map[string]string{"height": "1001"}, http.StatusBadRequest},
		{"quality out of range", "a.png", map[string]string{"quality": "11"}, http.StatusBadRequest},
		{"non-numeric width", "a.png", map[string]string{"width": "wide"}, http.StatusBadRequest},
		{"bad advanced flag", "a.png", map[string]string{"advanced": "maybe"}, http.StatusBadRequest},
		{"unknown algorithm", "a.png", map[string]string{"algorithm": "dither"}, http.StatusBadRequest},
		{"unsupported extension", "a.svg", nil, http.StatusBadRequest},
	}

	srv := newTestServer(t, false, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := srv.submit(t, tt.filename, pngData(t), tt.fields)
			assert.Equal(t, tt.want, resp.StatusCode)
			body := decode[ErrorResponse](t, resp)
			assert.NotEmpty(t, body.Error)
		})
	}

	history := decode[HistoryResponse](t, srv.do(t, http.MethodGet, "/api/v1/history/"))
	assert.Zero(t, history.Total, "rejected submissions create no job")
}

func TestSubmitTooLarge(t *testing.T) {
	srv := newTestServer(t, false, 1024)
	resp := srv.submit(t, "big.png", bytes.Repeat([]byte{0x42}, 8192), nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestSubmitMissingFile(t *testing.T) {
	srv := newTestServer(t, false, 0)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("width", "100"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/api/v1/quantize/", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusErrors(t *testing.T) {
	srv := newTestServer(t, false, 0)

	resp := srv.do(t, http.MethodGet, "/api/v1/quantize/status/"+uuid.NewString())
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/api/v1/quantize/status/not-a-uuid")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResultNotReady(t *testing.T) {
	srv := newTestServer(t, false, 0)
	id := submitted(t, srv.submit(t, "red.png", pngData(t), nil))

	for _, path := range []string{
		"/api/v1/quantize/result/",
		"/api/v1/gallery/%s/preview",
		"/api/v1/gallery/%s/preview.png",
	} {
		if strings.Contains(path, "%s") {
			path = fmt.Sprintf(path, id)
		} else {
			path += id.String()
		}
		resp := srv.do(t, http.MethodGet, path)
		resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode, path)
	}
}

func TestCancel(t *testing.T) {
	srv := newTestServer(t, false, 0)
	id := submitted(t, srv.submit(t, "red.png", pngData(t), nil))

	resp := srv.do(t, http.MethodPost, "/api/v1/quantize/cancel/"+id.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[CancelResponse](t, resp)
	assert.Equal(t, domain.JobStatusCancelled, body.Status)

	resp = srv.do(t, http.MethodPost, "/api/v1/quantize/cancel/"+id.String())
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHistory(t *testing.T) {
	srv := newTestServer(t, false, 0)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		ids = append(ids, submitted(t, srv.submit(t, "red.png", pngData(t), nil)))
	}

	page := decode[HistoryResponse](t, srv.do(t, http.MethodGet, "/api/v1/history/?limit=2&offset=0"))
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Jobs, 2)
	assert.Equal(t, 2, page.Limit)

	resp := srv.do(t, http.MethodGet, "/api/v1/history/?limit=-1")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	active := decode[HistoryResponse](t, srv.do(t, http.MethodGet, "/api/v1/history/active"))
	assert.Equal(t, 3, active.Total)

	resp = srv.do(t, http.MethodDelete, "/api/v1/history/"+ids[0].String())
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = srv.do(t, http.MethodGet, "/api/v1/quantize/status/"+ids[0].String())
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	cancelled := decode[map[string]int](t, srv.do(t, http.MethodPost, "/api/v1/history/cancel-all"))
	assert.Equal(t, 2, cancelled["cancelled"])

	active = decode[HistoryResponse](t, srv.do(t, http.MethodGet, "/api/v1/history/active"))
	assert.Zero(t, active.Total)
	assert.NotNil(t, active.Jobs)
}

func TestGalleryPreview(t *testing.T) {
	srv := newTestServer(t, true, 0)
	id := submitted(t, srv.submit(t, "red.png", pngData(t), map[string]string{
		"width": "60", "height": "50",
	}))
	srv.waitCompleted(t, id)

	preview := decode[PreviewResponse](t, srv.do(t, http.MethodGet,
		"/api/v1/gallery/"+id.String()+"/preview?max_lines=3"))
	assert.Len(t, preview.Lines, 3)
	assert.Equal(t, 50, preview.TotalLines)
	assert.True(t, preview.Truncated)
	assert.Equal(t, strings.Repeat("◢", 60), preview.Lines[0])

	resp := srv.do(t, http.MethodGet, "/api/v1/gallery/"+id.String()+"/preview?max_lines=0")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/api/v1/gallery/"+id.String()+"/preview.png")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 60*quanttxt.GlyphWidth, img.Bounds().Dx())
	assert.Equal(t, 50*quanttxt.GlyphHeight, img.Bounds().Dy())
}

func TestProgressWebSocket(t *testing.T) {
	srv := newTestServer(t, true, 0)
	id := submitted(t, srv.submit(t, "red.png", pngData(t), map[string]string{
		"width": "50", "height": "50",
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + id.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	var last domain.Job
	for {
		var job domain.Job
		if err := conn.ReadJSON(&job); err != nil {
			break
		}
		assert.Equal(t, id, job.ID)
		last = job
	}
	assert.Equal(t, domain.JobStatusCompleted, last.Status)
}

func TestProgressWebSocketUnknownJob(t *testing.T) {
	srv := newTestServer(t, false, 0)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + uuid.NewString()
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMapErrorToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", quanttxt.ErrInvalidConfig), http.StatusBadRequest},
		{jobs.ErrInvalidRequest, http.StatusBadRequest},
		{ErrBadRequest, http.StatusBadRequest},
		{store.ErrJobNotFound, http.StatusNotFound},
		{artifact.ErrNotFound, http.StatusNotFound},
		{jobs.ErrJobFinished, http.StatusConflict},
		{ErrNotReady, http.StatusConflict},
		{jobs.ErrQueueFull, http.StatusServiceUnavailable},
		{&http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapErrorToStatus(tt.err), tt.err.Error())
	}
}

func TestSafeErrorMessageHidesInternals(t *testing.T) {
	err := errors.New("pq: connection refused at 10.0.0.1")
	assert.Equal(t, "An unexpected error occurred", safeErrorMessage(err, mapErrorToStatus(err)))
}
