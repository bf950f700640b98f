package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/reelcut/reelcut/internal/admission"
	"github.com/reelcut/reelcut/internal/http/middleware"
	"github.com/reelcut/reelcut/internal/models"
	"github.com/reelcut/reelcut/internal/progress"
	"github.com/reelcut/reelcut/internal/service"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// progressPayload is the body of a progress frame.
type progressPayload struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
}

// streamFrame is one WebSocket message. The connected frame is sent once
// on subscribe; progress, complete and error frames mirror the bus.
type streamFrame struct {
	Type      string           `json:"type"`
	JobID     string           `json:"job_id,omitempty"`
	Progress  *progressPayload `json:"progress,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp string           `json:"timestamp,omitempty"`
}

// clientMessage is what a subscriber may send; only ping is recognized.
type clientMessage struct {
	Type string `json:"type"`
}

// StreamHandler streams job progress over WebSocket. Each connection
// follows exactly one job and closes after the terminal frame.
type StreamHandler struct {
	svc      *service.JobService
	bus      *progress.Bus
	limits   *admission.Controller
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewStreamHandler creates the progress stream handler.
func NewStreamHandler(svc *service.JobService, bus *progress.Bus, limits *admission.Controller, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		svc:    svc,
		bus:    bus,
		limits: limits,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Bearer-token auth gates the endpoint; origin checks add
			// nothing for non-cookie credentials.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With(slog.String("component", "stream")),
	}
}

// ServeHTTP handles GET /api/v1/jobs/{id}/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	if principal == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if h.limits != nil {
		decision := h.limits.Check(principal, admission.ClassProgress)
		if !decision.Allowed {
			w.Header().Set("Retry-After", decision.RetryAfterSeconds())
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
	}

	jobID, err := models.ParseULID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	job, err := h.svc.Get(r.Context(), principal, jobID)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	go h.stream(conn, job)
}

// stream forwards bus frames until the job terminates or the client
// goes away.
func (h *StreamHandler) stream(conn *websocket.Conn, job *models.Job) {
	defer conn.Close()

	jobID := job.ID.String()
	sub := h.bus.Subscribe(jobID)
	defer sub.Close()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Read pump: surfaces protocol pongs, application pings and closure.
	// Writes stay on the stream goroutine; pings are forwarded.
	gone := make(chan struct{})
	pings := make(chan struct{}, 1)
	go func() {
		defer close(gone)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg clientMessage
			if json.Unmarshal(data, &msg) == nil && msg.Type == "ping" {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	if err := h.write(conn, streamFrame{Type: "connected", JobID: jobID}); err != nil {
		return
	}

	// A job that terminated before this instance's bus saw it (restart,
	// other worker) still gets its terminal frame.
	if job.IsTerminal() {
		h.writeTerminalSnapshot(conn, job)
		return
	}

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-sub.C():
			if !ok {
				return
			}
			if err := h.write(conn, busFrame(jobID, frame)); err != nil {
				return
			}
			if frame.Terminal() {
				h.closeNormally(conn)
				return
			}
		case <-pings:
			if err := h.write(conn, streamFrame{Type: "pong"}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func (h *StreamHandler) write(conn *websocket.Conn, frame streamFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (h *StreamHandler) writeTerminalSnapshot(conn *websocket.Conn, job *models.Job) {
	frame := streamFrame{
		Type:      string(progress.KindComplete),
		JobID:     job.ID.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if job.Status == models.JobStatusFailed {
		frame.Type = string(progress.KindError)
		frame.Error = job.Error
	}
	if err := h.write(conn, frame); err != nil {
		return
	}
	h.closeNormally(conn)
}

func (h *StreamHandler) closeNormally(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}

func busFrame(jobID string, frame progress.Frame) streamFrame {
	out := streamFrame{
		Type:      string(frame.Kind),
		JobID:     jobID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	switch frame.Kind {
	case progress.KindError:
		out.Error = frame.Error
	case progress.KindComplete:
	default:
		out.Progress = &progressPayload{
			Stage:   frame.Stage,
			Percent: frame.Percent,
			Message: frame.Message,
		}
	}
	return out
}
