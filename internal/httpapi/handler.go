package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"broadcastd/internal/broadcast"
	logx "broadcastd/pkg/logx"
)

const (
	HeaderRequestID = "X-Request-ID"

	DefaultMaxBodyBytes int64 = 1 << 20
	healthTimeout           = 2 * time.Second
)

// Submitter runs one broadcast intake.
type Submitter interface {
	Submit(ctx context.Context, raw map[string]any) (broadcast.Receipt, error)
}

// Pinger reports job store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	submit  Submitter
	store   Pinger
	maxBody int64
	log     logx.Logger
	mux     *http.ServeMux
}

func NewHandler(submit Submitter, store Pinger, maxBody int64, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	h := &Handler{submit: submit, store: store, maxBody: maxBody, log: log, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /v1/broadcasts", h.handleBroadcast)
	h.mux.HandleFunc("POST /sendMessage", h.handleBroadcast)
	h.mux.HandleFunc("GET /healthz", h.handleHealth)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
	if id == "" || len(id) > 128 {
		id = uuid.NewString()
	}
	w.Header().Set(HeaderRequestID, id)
	h.mux.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), id)))
}

type envelope struct {
	OK     bool `json:"ok"`
	Result any  `json:"result,omitempty"`

	ErrorCode   int                    `json:"error_code,omitempty"`
	Kind        broadcast.Kind         `json:"kind,omitempty"`
	Description string                 `json:"description,omitempty"`
	Errors      []broadcast.FieldError `json:"errors,omitempty"`
	Provider    json.RawMessage        `json:"provider,omitempty"`
}

func (h *Handler) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	log := h.log.With(logx.String("request_id", requestID(r.Context())), logx.String("path", r.URL.Path))

	raw, err := decodeObject(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Info("request body too large", logx.Int64("limit", tooLarge.Limit))
			writeJSON(w, http.StatusRequestEntityTooLarge, envelope{
				ErrorCode:   http.StatusRequestEntityTooLarge,
				Kind:        broadcast.KindInputMalformed,
				Description: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		h.writeError(w, log, broadcast.Malformed(err))
		return
	}

	receipt, err := h.submit.Submit(r.Context(), raw)
	if err != nil {
		e, ok := broadcast.AsError(err)
		if !ok {
			e = &broadcast.Error{Kind: broadcast.KindStoreUnavailable, Message: "internal error", Err: err}
		}
		h.writeError(w, log, e)
		return
	}

	log.Debug("broadcast accepted", logx.Int64("bot_id", receipt.BotID), logx.Duration("took", time.Since(started)))
	writeJSON(w, http.StatusOK, envelope{OK: true, Result: receipt})
}

func (h *Handler) writeError(w http.ResponseWriter, log logx.Logger, e *broadcast.Error) {
	status := e.Status()
	if status >= http.StatusInternalServerError {
		log.Warn("broadcast failed", logx.String("kind", string(e.Kind)), logx.String("step", string(e.Step)), logx.Err(e))
	} else {
		log.Debug("broadcast rejected", logx.String("kind", string(e.Kind)), logx.String("step", string(e.Step)))
	}
	writeJSON(w, status, envelope{
		ErrorCode:   status,
		Kind:        e.Kind,
		Description: e.Message,
		Errors:      e.Fields,
		Provider:    e.Provider,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.log.Warn("health check failed", logx.Err(err))
		writeJSON(w, http.StatusServiceUnavailable, envelope{
			ErrorCode:   http.StatusServiceUnavailable,
			Kind:        broadcast.KindStoreUnavailable,
			Description: "job store unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Result: map[string]string{"store": "ok"}})
}

// decodeObject reads exactly one JSON object. Numbers stay json.Number so
// integer checks see the literal.
func decodeObject(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, errors.New("trailing data after JSON object")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("got %T", v)
	}
	return obj, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type ctxKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
