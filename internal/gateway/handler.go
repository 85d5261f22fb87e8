package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
)

var eventsWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// ArtifactStore is the slice of the blob store the artifacts endpoint needs:
// listing a job's stored objects and minting download links for them.
type ArtifactStore interface {
	List(ctx context.Context, jobID string) ([]string, error)
	GetURL(ctx context.Context, jobID, path string) (string, error)
}

// Handler routes the coaching API.
type Handler struct {
	Runs      *RunService
	Artifacts ArtifactStore
	Log       *zap.Logger
}

func NewHandler(runs *RunService, artifacts ArtifactStore, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Runs: runs, Artifacts: artifacts, Log: log}
}

func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/jobs", h.startJob)
	mux.HandleFunc("GET /v1/jobs/{id}", h.jobStatus)
	mux.HandleFunc("GET /v1/jobs/{id}/events", h.watchJob)
	mux.HandleFunc("GET /v1/jobs/{id}/artifacts", h.jobArtifacts)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type startJobRequest struct {
	UserID string `json:"user_id"`
	Goal   string `json:"goal"`
}

type startJobResponse struct {
	JobID string `json:"job_id"`
}

func (h *Handler) startJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	jobID, err := h.Runs.Start(req.UserID, req.Goal)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, startJobResponse{JobID: jobID})
}

func (h *Handler) jobStatus(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.Runs.Job(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type artifactEntry struct {
	Path string `json:"path"`
	URL  string `json:"url,omitempty"`
}

type artifactsResponse struct {
	Artifacts []artifactEntry `json:"artifacts"`
}

// jobArtifacts lists a job's stored blobs with presigned download links.
// A missing link is not fatal: the entry is returned without a URL.
func (h *Handler) jobArtifacts(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if _, ok := h.Runs.Job(jobID); !ok {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	resp := artifactsResponse{Artifacts: []artifactEntry{}}
	if h.Artifacts == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	paths, err := h.Artifacts.List(r.Context(), jobID)
	if err != nil {
		h.Log.Warn("artifact listing failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "artifact store unavailable")
		return
	}
	for _, p := range paths {
		entry := artifactEntry{Path: p}
		url, err := h.Artifacts.GetURL(r.Context(), jobID, p)
		if err != nil {
			h.Log.Debug("presign failed", zap.String("path", p), zap.Error(err))
		} else {
			entry.URL = url
		}
		resp.Artifacts = append(resp.Artifacts, entry)
	}
	writeJSON(w, http.StatusOK, resp)
}

// watchJob streams loop events for one job over a websocket. The stream ends
// when the job's channel closes; pings keep intermediaries from cutting the
// connection on long silent stretches.
func (h *Handler) watchJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	ch, ok := h.Runs.Broker.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}

	conn, err := eventsWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	// Drain inbound frames so pongs and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(wsPongWait * 8 / 10)
	defer pingTicker.Stop()

	for {
		select {
		case ev, open := <-ch:
			if !open {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.Log.Debug("event write failed, dropping subscriber",
					zap.String("job_id", jobID), zap.Error(err))
				return
			}
		case <-pingTicker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
