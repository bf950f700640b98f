package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelcut/reelcut/internal/http/middleware"
	"github.com/reelcut/reelcut/internal/models"
	"github.com/reelcut/reelcut/internal/progress"
)

// newStreamServer mounts the stream handler behind the real bearer-token
// middleware, the way the server wires it.
func newStreamServer(t *testing.T, h *apiHarness) (*httptest.Server, *middleware.Authenticator) {
	t.Helper()
	auth := middleware.NewAuthenticator([]byte("stream-test-key"))

	router := chi.NewRouter()
	router.Use(auth.Middleware)
	router.Method(http.MethodGet, "/api/v1/jobs/{id}/stream", NewStreamHandler(h.svc, h.bus, nil, nil))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, auth
}

func dialStream(t *testing.T, srv *httptest.Server, auth *middleware.Authenticator, principal, jobID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/api/v1/jobs/" + jobID + "/stream?token=" + auth.MintToken(principal)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) streamFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame streamFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func submitStreamJob(t *testing.T, h *apiHarness, principal string) string {
	t.Helper()
	storeKey(t, h, principal)
	out, err := h.jobs.Submit(asPrincipal(principal), submitInput())
	require.NoError(t, err)
	return out.Body.Job.ID
}

func TestStreamForwardsProgressAndTerminalFrames(t *testing.T) {
	h := newAPIHarness(t)
	srv, auth := newStreamServer(t, h)
	jobID := submitStreamJob(t, h, "alice")

	conn := dialStream(t, srv, auth, "alice", jobID)

	frame := readFrame(t, conn)
	assert.Equal(t, "connected", frame.Type)
	assert.Equal(t, jobID, frame.JobID)

	h.bus.Publish(jobID, progress.Frame{
		Kind:    progress.KindProgress,
		Stage:   "transcribe",
		Percent: 42,
		Message: "transcribing audio",
	})
	frame = readFrame(t, conn)
	assert.Equal(t, "progress", frame.Type)
	require.NotNil(t, frame.Progress)
	assert.Equal(t, "transcribe", frame.Progress.Stage)
	assert.InDelta(t, 42, frame.Progress.Percent, 0.001)
	assert.NotEmpty(t, frame.Timestamp)

	h.bus.PublishTerminal(jobID, progress.Frame{
		Kind:    progress.KindComplete,
		Percent: 100,
		Message: "processing complete",
	})
	frame = readFrame(t, conn)
	assert.Equal(t, "complete", frame.Type)
	assert.Nil(t, frame.Progress)

	// The server closes normally after the terminal frame.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure),
		"expected normal closure, got %v", err)
}

func TestStreamAnswersApplicationPing(t *testing.T) {
	h := newAPIHarness(t)
	srv, auth := newStreamServer(t, h)
	jobID := submitStreamJob(t, h, "alice")

	conn := dialStream(t, srv, auth, "alice", jobID)

	frame := readFrame(t, conn)
	require.Equal(t, "connected", frame.Type)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	frame = readFrame(t, conn)
	assert.Equal(t, "pong", frame.Type)
}

func TestStreamSynthesizesTerminalFrameForFinishedJob(t *testing.T) {
	h := newAPIHarness(t)
	srv, auth := newStreamServer(t, h)
	jobID := submitStreamJob(t, h, "alice")

	// Fail the job before anyone subscribes, as if another instance ran it.
	ctx := context.Background()
	id := models.MustParseULID(jobID)
	require.NoError(t, h.artifacts.SetJobStatus(ctx, id, models.JobStatusRunning, ""))
	require.NoError(t, h.artifacts.SetJobStatus(ctx, id, models.JobStatusFailed, "no audio track"))

	conn := dialStream(t, srv, auth, "alice", jobID)

	frame := readFrame(t, conn)
	assert.Equal(t, "connected", frame.Type)

	frame = readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, "no audio track", frame.Error)
}

func TestStreamRejectsForeignJob(t *testing.T) {
	h := newAPIHarness(t)
	srv, auth := newStreamServer(t, h)
	jobID := submitStreamJob(t, h, "alice")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/api/v1/jobs/" + jobID + "/stream?token=" + auth.MintToken("bob")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamRejectsMissingToken(t *testing.T) {
	h := newAPIHarness(t)
	srv, _ := newStreamServer(t, h)
	jobID := submitStreamJob(t, h, "alice")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/jobs/" + jobID + "/stream"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
