package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/hlsforge/internal/config"
	"github.com/jmylchreest/hlsforge/internal/ffmpeg"
	"github.com/jmylchreest/hlsforge/internal/ingest"
	"github.com/jmylchreest/hlsforge/internal/observability"
	"github.com/jmylchreest/hlsforge/internal/repository"
	"github.com/jmylchreest/hlsforge/internal/service"
	"github.com/jmylchreest/hlsforge/internal/storage"
	"github.com/jmylchreest/hlsforge/internal/testutil"
)

type testEnv struct {
	srv     *httptest.Server
	orch    *ingest.Orchestrator
	repo    repository.StreamRepository
	sandbox *storage.Sandbox
}

func newTestEnv(t *testing.T, script string, mutate ...func(*config.IngestConfig)) *testEnv {
	t.Helper()

	sandbox, err := storage.NewSandbox(filepath.Join(t.TempDir(), "resources"))
	require.NoError(t, err)
	repo := testutil.NewStreamRepo(t)

	ingestCfg := config.IngestConfig{
		ChunkSize:            64 * 1024,
		MaxUploadSize:        8 * 1024 * 1024,
		RequireContentLength: true,
		SessionTimeout:       30 * time.Second,
		RollbackRecord:       true,
		WSReadLimit:          1024 * 1024,
	}
	for _, m := range mutate {
		m(&ingestCfg)
	}
	serverCfg := config.ServerConfig{CORSOrigins: []string{"*"}}

	orch := ingest.NewOrchestrator(ingest.Deps{
		Sandbox: sandbox,
		Repo:    repo,
		Spawner: ffmpeg.NewRunner(testutil.WriteStubTranscoder(t, script), observability.NopLogger()),
		Server:  serverCfg,
		FFmpeg: config.FFmpegConfig{
			VideoCodec:      "libx264",
			HLSTime:         2,
			SegmentPattern:  "%03d.ts",
			PlaylistName:    "index.m3u8",
			MonitorInterval: 50 * time.Millisecond,
		},
		Ingest: ingestCfg,
		Logger: observability.NopLogger(),
	})
	streams := service.NewStreamService(repo, sandbox, "index.m3u8").
		WithActiveCheck(orch.IsActive).
		WithLogger(observability.NopLogger())

	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("hlsforge test", "1.0.0"))
	NewHealthHandler().WithActiveSessions(orch.ActiveSessions).WithFFmpegBinary("ffmpeg").Register(api)
	NewStreamHandler(streams, serverCfg).Register(api)
	NewMediaHandler(streams).WithLogger(observability.NopLogger()).RegisterFileServer(router)
	NewUploadHandler(orch, ingestCfg, serverCfg.CORSOrigins).WithLogger(observability.NopLogger()).RegisterChiRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, orch: orch, repo: repo, sandbox: sandbox}
}

func uploadQuery() string {
	q := url.Values{}
	q.Set(ingest.ParamStreamName, "Evening News")
	q.Set(ingest.ParamStreamDescription, "recorded at 6pm")
	q.Set(ingest.ParamWidth, "1280")
	q.Set(ingest.ParamHeight, "720")
	return q.Encode()
}

func (e *testEnv) assertEmpty(t *testing.T) {
	t.Helper()
	dirs, err := e.sandbox.WorkDirs()
	require.NoError(t, err)
	assert.Empty(t, dirs, "no working directory should remain")
	count, err := e.repo.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count, "no stream record should remain")
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

// unsizedReader hides the length of its data so the client sends a chunked body.
type unsizedReader struct{ r io.Reader }

func (u unsizedReader) Read(p []byte) (int, error) { return u.r.Read(p) }

func TestUpload_EndToEnd(t *testing.T) {
	env := newTestEnv(t, testutil.SuccessScript)
	payload := testutil.NewSampleDataGeneratorWithSeed(3).Payload(512 * 1024)

	resp, err := http.Post(env.srv.URL+"/upload?"+uploadQuery(), "application/octet-stream", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
	id := readBody(t, resp)
	require.NotEmpty(t, id)

	// Catalogue
	resp = env.get(t, "/api/v1/streams/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stream StreamResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stream))
	assert.Equal(t, "Evening News", stream.Name)
	assert.Equal(t, 1280, stream.Width)
	assert.Equal(t, 2, stream.SegmentCount)
	assert.Equal(t, int64(3500), stream.DurationMs)
	assert.Equal(t, int64(len(payload)), stream.BytesIn)
	assert.Equal(t, "/stream/"+id, stream.PlaylistURL)
	assert.NotNil(t, stream.FinishedAt)

	resp = env.get(t, "/api/v1/streams")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list ListStreamsOutput
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list.Body))
	assert.Equal(t, 1, list.Body.Total)

	// Media
	resp = env.get(t, "/stream/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ContentTypePlaylist, resp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(readBody(t, resp), "#EXTM3U"))

	resp = env.get(t, "/segment/"+id+"/001.ts")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ContentTypeSegment, resp.Header.Get("Content-Type"))
	assert.Equal(t, "segment one\n", readBody(t, resp))

	// Delete
	req, err := http.NewRequest(http.MethodDelete, env.srv.URL+"/api/v1/streams/"+id, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/v1/streams/"+id).StatusCode)
	assert.Equal(t, http.StatusNotFound, env.get(t, "/stream/"+id).StatusCode)
	env.assertEmpty(t)
}

func TestUpload_BadRequests(t *testing.T) {
	env := newTestEnv(t, testutil.SuccessScript)

	tests := []struct {
		name  string
		query string
	}{
		{name: "no parameters", query: ""},
		{name: "missing height", query: "stream_name=a&stream_description=b&width=10"},
		{name: "zero width", query: "stream_name=a&stream_description=b&width=0&height=10"},
		{name: "blank name", query: "stream_name=%20&stream_description=b&width=10&height=10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(env.srv.URL+"/upload?"+tt.query, "application/octet-stream", strings.NewReader("data"))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	env.assertEmpty(t)
}

func TestUpload_RequiresContentLength(t *testing.T) {
	env := newTestEnv(t, testutil.SuccessScript)

	resp, err := http.Post(env.srv.URL+"/upload?"+uploadQuery(), "application/octet-stream",
		unsizedReader{strings.NewReader("chunked payload")})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "Content-Length")
	env.assertEmpty(t)
}

func TestUpload_DeclaredTooLarge(t *testing.T) {
	env := newTestEnv(t, testutil.SuccessScript, func(c *config.IngestConfig) {
		c.MaxUploadSize = 1024
	})

	resp, err := http.Post(env.srv.URL+"/upload?"+uploadQuery(), "application/octet-stream", bytes.NewReader(make([]byte, 4096)))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	env.assertEmpty(t)
}

func TestUpload_TooLargeMidStream(t *testing.T) {
	env := newTestEnv(t, testutil.SuccessScript, func(c *config.IngestConfig) {
		c.MaxUploadSize = 256 * 1024
		c.RequireContentLength = false
	})

	payload := testutil.NewSampleDataGeneratorWithSeed(4).Payload(1024 * 1024)
	resp, err := http.Post(env.srv.URL+"/upload?"+uploadQuery(), "application/octet-stream",
		unsizedReader{bytes.NewReader(payload)})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	env.assertEmpty(t)
}

func TestUpload_TranscoderFailure(t *testing.T) {
	env := newTestEnv(t, testutil.FailAfterSegmentsScript)

	resp, err := http.Post(env.srv.URL+"/upload?"+uploadQuery(), "application/octet-stream", strings.NewReader("payload"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, "upload failed")
	assert.NotContains(t, body, env.sandbox.BaseDir(), "internal paths must not leak")
	env.assertEmpty(t)
}

func TestUpload_Capacity(t *testing.T) {
	env := newTestEnv(t, testutil.SuccessScript, func(c *config.IngestConfig) {
		c.MaxConcurrentSessions = 1
	})
	release, err := env.orch.Acquire()
	require.NoError(t, err)
	defer release()

	resp, err := http.Post(env.srv.URL+"/upload?"+uploadQuery(), "application/octet-stream", strings.NewReader("payload"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err = websocket.Dial(ctx, wsURL(env), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func wsURL(env *testEnv) string {
	return "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/upload/ws?" + uploadQuery()
}

func TestUploadWebSocket_Success(t *testing.T) {
	env := newTestEnv(t, testutil.EarlyReadyScript)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(env), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	payload := testutil.NewSampleDataGeneratorWithSeed(5).Payload(300 * 1024)
	for off := 0; off < len(payload); off += 64 * 1024 {
		end := min(off+64*1024, len(payload))
		require.NoError(t, conn.Write(ctx, websocket.MessageBinary, payload[off:end]))
	}

	// The id arrives once the record exists, before input has ended.
	typ, msg, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)
	id := string(msg)
	assert.Equal(t, http.StatusOK, env.get(t, "/api/v1/streams/"+id).StatusCode)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "done"))

	require.Eventually(t, func() bool { return env.orch.ActiveSessions() == 0 }, 10*time.Second, 20*time.Millisecond)
	stream, err := env.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, stream)
	assert.True(t, stream.IsFinished())
	assert.Equal(t, int64(len(payload)), stream.BytesIn)
	assert.Equal(t, http.StatusOK, env.get(t, "/segment/"+id+"/002.ts").StatusCode)
}

func TestUploadWebSocket_TranscoderFailure(t *testing.T) {
	env := newTestEnv(t, "exit 1")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(env), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	// The write may race the server's close; only the close status matters.
	_ = conn.Write(ctx, websocket.MessageBinary, []byte("payload"))

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusInternalError, websocket.CloseStatus(err), "got %v", err)

	require.Eventually(t, func() bool { return env.orch.ActiveSessions() == 0 }, 10*time.Second, 20*time.Millisecond)
	env.assertEmpty(t)
}

func TestUploadWebSocket_BadRequest(t *testing.T) {
	env := newTestEnv(t, testutil.SuccessScript)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/upload/ws?stream_name=x"
	_, resp, err := websocket.Dial(ctx, u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreams_NotFound(t *testing.T) {
	env := newTestEnv(t, testutil.SuccessScript)

	for _, path := range []string{
		"/api/v1/streams/" + "00000000-0000-0000-0000-000000000000",
		"/api/v1/streams/not-a-uuid",
		"/stream/00000000-0000-0000-0000-000000000000",
		"/segment/00000000-0000-0000-0000-000000000000/001.ts",
		"/segment/not-a-uuid/001.ts",
	} {
		assert.Equal(t, http.StatusNotFound, env.get(t, path).StatusCode, path)
	}

	req, err := http.NewRequest(http.MethodDelete, env.srv.URL+"/api/v1/streams/00000000-0000-0000-0000-000000000000", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, testutil.SuccessScript)

	resp := env.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "unknown", health.Database.Status)
	assert.Equal(t, 0, health.ActiveSessions)
	assert.NotZero(t, health.CPUInfo.Cores)
	assert.Equal(t, "ffmpeg", health.FFmpegBinary)
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestHealthHandler_Readyz(t *testing.T) {
	out, err := NewHealthHandler().GetReadyz(context.Background(), &ReadyzInput{})
	require.NoError(t, err)
	assert.Equal(t, "not_ready", out.Body.Status)
	assert.Equal(t, "not_configured", out.Body.Components["database"])

	h := NewHealthHandler().WithDB(stubPinger{}).WithFFmpegBinary("/usr/bin/ffmpeg")
	out, err = h.GetReadyz(context.Background(), &ReadyzInput{})
	require.NoError(t, err)
	assert.Equal(t, "ready", out.Body.Status)

	h = NewHealthHandler().WithDB(stubPinger{err: fmt.Errorf("connection refused")}).WithFFmpegBinary("ffmpeg")
	health, err := h.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, "degraded", health.Body.Status)
	assert.Equal(t, "connection refused", health.Body.Database.Error)
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"too large", fmt.Errorf("read: %w", ingest.ErrPayloadTooLarge), http.StatusRequestEntityTooLarge},
		{"capacity", &ingest.Error{Kind: ingest.KindProcess, Op: "acquire session", Err: ingest.ErrCapacity}, http.StatusServiceUnavailable},
		{"input", &ingest.Error{Kind: ingest.KindInput, Op: "parse options", Err: ingest.ErrMissingParameter}, http.StatusBadRequest},
		{"transport", &ingest.Error{Kind: ingest.KindTransport, Op: "read body", Err: io.ErrUnexpectedEOF}, http.StatusInternalServerError},
		{"persistence", &ingest.Error{Kind: ingest.KindPersistence, Op: "insert stream record", Err: io.ErrClosedPipe}, http.StatusInternalServerError},
		{"plain", io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusForError(tt.err))
		})
	}
}

func TestCloseReason(t *testing.T) {
	err := &ingest.Error{Kind: ingest.KindProcess, Op: "transcoder exit", SessionID: strings.Repeat("x", 200), Err: io.EOF}
	assert.LessOrEqual(t, len(closeReason(err)), maxCloseReason)
	assert.Equal(t, "payload too large", closeReason(fmt.Errorf("x: %w", ingest.ErrPayloadTooLarge)))
}
