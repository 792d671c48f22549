// Package contextapi serves the voice agent conversation context over HTTP.
//
// Routes (all JSON, envelope {success, data, message}):
//
//	GET    /api/voice-agent/context?sessionId=
//	POST   /api/voice-agent/context
//	GET    /api/voice-agent/conversation-history?sessionId=&limit=
//	DELETE /api/voice-agent/conversation-history
//	GET    /api/voice-agent/insights
//
// The caller is identified by the X-User-ID header; requests without one
// act as [contextstore.AnonymousUser].
package contextapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/figuro/voice/internal/contextstore"
	"github.com/figuro/voice/internal/observe"
	"github.com/figuro/voice/pkg/types"
)

// UserHeader carries the caller identity.
const UserHeader = "X-User-ID"

const maxBodyBytes = 1 << 20

// Envelope is the body of every response.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// AppendRequest is the body of POST /context.
type AppendRequest struct {
	SessionID     string         `json:"sessionId"`
	ID            string         `json:"id,omitempty"`
	UserInput     string         `json:"userInput"`
	AgentResponse string         `json:"agentResponse"`
	Intent        types.Intent   `json:"intent,omitempty"`
	Entities      []types.Entity `json:"entities,omitempty"`
}

// ClearRequest is the optional body of DELETE /conversation-history.
type ClearRequest struct {
	SessionID string `json:"sessionId,omitempty"`
}

// Handler serves the context API on top of a [contextstore.Store].
type Handler struct {
	store   contextstore.Store
	metrics *observe.Metrics
	log     *slog.Logger
}

// Option configures a [Handler].
type Option func(*Handler)

// WithMetrics counts store operations.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// New returns a Handler backed by store.
func New(store contextstore.Store, opts ...Option) *Handler {
	h := &Handler{store: store, log: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds the routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/voice-agent/context", h.getContext)
	mux.HandleFunc("POST /api/voice-agent/context", h.appendTurn)
	mux.HandleFunc("GET /api/voice-agent/conversation-history", h.history)
	mux.HandleFunc("DELETE /api/voice-agent/conversation-history", h.clear)
	mux.HandleFunc("GET /api/voice-agent/insights", h.insights)
}

func userID(r *http.Request) string {
	return contextstore.UserOrAnonymous(r.Header.Get(UserHeader))
}

func (h *Handler) record(r *http.Request, op string, err error) {
	if h.metrics != nil {
		h.metrics.RecordStoreOp(r.Context(), op, err)
	}
	if err != nil {
		h.log.ErrorContext(r.Context(), "contextapi: store operation failed", "op", op, "err", err)
	}
}

func (h *Handler) getContext(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetContext(r.Context(), userID(r), r.URL.Query().Get("sessionId"))
	h.record(r, "get_context", err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Lỗi khi lấy thông tin voice agent context")
		return
	}
	writeData(w, c)
}

func (h *Handler) appendTurn(w http.ResponseWriter, r *http.Request) {
	var req AppendRequest
	if err := decodeBody(r, &req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "Dữ liệu không hợp lệ")
		return
	}
	e := contextstore.Entry{
		ID:            req.ID,
		UserInput:     req.UserInput,
		AgentResponse: req.AgentResponse,
		Intent:        req.Intent,
		Entities:      req.Entities,
	}
	if err := contextstore.ValidateEntry(e); err != nil {
		writeError(w, http.StatusBadRequest, "Dữ liệu không hợp lệ")
		return
	}

	err := h.store.AppendTurn(r.Context(), userID(r), req.SessionID, e)
	switch {
	case errors.Is(err, contextstore.ErrNotFound):
		h.record(r, "append_turn", nil)
		writeError(w, http.StatusNotFound, "Không tìm thấy voice context")
	case err != nil:
		h.record(r, "append_turn", err)
		writeError(w, http.StatusInternalServerError, "Lỗi khi cập nhật voice agent context")
	default:
		h.record(r, "append_turn", nil)
		writeMessage(w, "Voice context đã được cập nhật")
	}
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := contextstore.DefaultHistoryLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit không hợp lệ")
			return
		}
		limit = n
	}
	hist, err := h.store.History(r.Context(), userID(r), q.Get("sessionId"), limit)
	h.record(r, "history", err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Lỗi khi lấy lịch sử conversation")
		return
	}
	writeData(w, hist)
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	var req ClearRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Dữ liệu không hợp lệ")
		return
	}
	err := h.store.Clear(r.Context(), userID(r), req.SessionID)
	h.record(r, "clear", err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Lỗi khi xóa lịch sử conversation")
		return
	}
	writeMessage(w, "Lịch sử conversation đã được xóa")
}

func (h *Handler) insights(w http.ResponseWriter, r *http.Request) {
	in, err := h.store.Insights(r.Context(), userID(r))
	h.record(r, "insights", err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Lỗi khi lấy thông tin voice insights")
		return
	}
	writeData(w, in)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func writeData(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

func writeMessage(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Message: msg})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Envelope{Success: false, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
