package main

import (
	"context"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/hearthmind/hearth"
	"github.com/hearthmind/hearth/internal/observability"
	hearthErrors "github.com/hearthmind/hearth/pkg/errors"
)

const maxRequestBody = 1 << 20 // 1 MiB

// handler serves the turn endpoints.
type handler struct {
	engine *hearth.Engine
	logger *observability.Logger
}

func newHandler(engine *hearth.Engine, logger *observability.Logger) *handler {
	return &handler{engine: engine, logger: logger}
}

// turn handles POST /v1/turn.
func (h *handler) turn(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTurn(w, r)
	if !ok {
		return
	}

	result, err := h.engine.ProcessTurn(r.Context(), req)
	if err != nil {
		h.logger.WithRequestID(r.Context()).Warn("turn failed",
			"user_id", req.UserID, "error", err)
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// turnStream handles POST /v1/turn/stream, forwarding completion deltas as
// server-sent events.
func (h *handler) turnStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTurn(w, r)
	if !ok {
		return
	}

	flusher, okFlush := w.(http.Flusher)
	if !okFlush {
		h.writeError(w, hearthErrors.NewInternalError("streaming not supported"))
		return
	}

	stream, err := h.engine.ProcessTurnStream(r.Context(), req)
	if err != nil {
		h.logger.WithRequestID(r.Context()).Warn("stream turn failed",
			"user_id", req.UserID, "error", err)
		h.writeError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			h.logger.WithRequestID(r.Context()).Warn("stream read failed", "error", err)
			break
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return
		}
		if err := json.NewEncoder(w).Encode(chunk); err != nil {
			return
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return
		}
		flusher.Flush()
	}
	if _, err := w.Write([]byte("data: [DONE]\n\n")); err != nil {
		return
	}
	flusher.Flush()
}

func (h *handler) decodeTurn(w http.ResponseWriter, r *http.Request) (*hearth.TurnRequest, bool) {
	var req hearth.TurnRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.writeError(w, hearthErrors.NewInvalidRequestError("invalid request body: "+err.Error()))
		return nil, false
	}
	return &req, true
}

// healthLive handles GET /health/live.
func (h *handler) healthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// pinger is satisfied by stores that can verify connectivity.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthReady handles GET /health/ready. It reports not-ready when the
// backing store is unreachable.
func (h *handler) healthReady(store pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := store.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// errorResponse is the error envelope returned to clients.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	turnErr, ok := err.(*hearthErrors.TurnError)
	if !ok {
		turnErr = hearthErrors.NewInternalError(err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(turnErr.HTTPStatusCode())
	json.NewEncoder(w).Encode(errorResponse{
		Error: errorDetail{
			Message: turnErr.Message,
			Type:    turnErr.Type,
		},
	})
}
