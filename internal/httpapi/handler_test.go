package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"broadcastd/internal/broadcast"
	"broadcastd/internal/provider"
	"broadcastd/internal/storage"
	logx "broadcastd/pkg/logx"
)

type stubProvider struct{ botID int64 }

func (p stubProvider) VerifyCredential(ctx context.Context, token string) (provider.Identity, error) {
	if token == "bad" {
		return provider.Identity{}, provider.NewError(provider.ErrCredentialInvalid, "getMe", 401, "Unauthorized",
			json.RawMessage(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
	}
	return provider.Identity{ID: p.botID}, nil
}

func (p stubProvider) Dispatch(ctx context.Context, token string, chatID int64, payload map[string]any) (provider.Result, error) {
	return provider.Result{MessageID: 7}, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestHandler(t *testing.T, maxBody int64) *Handler {
	t.Helper()
	store := storage.NewMemory(0)
	t.Cleanup(func() { _ = store.Close() })
	p := broadcast.NewPipeline(stubProvider{botID: 42}, store, broadcast.Options{}, logx.Nop())
	return NewHandler(p, store, maxBody, logx.Nop())
}

func do(h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestBroadcastAcceptedThenDuplicate(t *testing.T) {
	h := newTestHandler(t, 0)
	body := `{"token":"T","chats_id":[1,2,2,3],"text":"hi"}`

	rec, env := do(h, http.MethodPost, "/v1/broadcasts", body)
	if rec.Code != http.StatusOK || !env.OK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	res, _ := json.Marshal(env.Result)
	if string(res) != `{"bot_id":42,"dispatched_message_id":7,"targets":3}` {
		t.Fatalf("result = %s", res)
	}
	if rec.Header().Get(HeaderRequestID) == "" {
		t.Fatal("missing request id")
	}

	rec, env = do(h, http.MethodPost, "/sendMessage", body)
	if rec.Code != http.StatusTooManyRequests || env.Kind != broadcast.KindDuplicateJob || env.ErrorCode != 429 {
		t.Fatalf("duplicate: status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestBroadcastErrors(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		status  int
		kind    broadcast.Kind
		field   string
		hasProv bool
	}{
		{"not json", `{"token":`, http.StatusBadRequest, broadcast.KindInputMalformed, "", false},
		{"array body", `[1,2]`, http.StatusBadRequest, broadcast.KindInputMalformed, "", false},
		{"trailing", `{"token":"T"} {}`, http.StatusBadRequest, broadcast.KindInputMalformed, "", false},
		{"missing token", `{"chats_id":[1],"text":"hi"}`, http.StatusUnprocessableEntity, broadcast.KindValidationFailed, "token", false},
		{"bad credential", `{"token":"bad","chats_id":[1],"text":"hi"}`, http.StatusUnauthorized, broadcast.KindCredentialInvalid, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, 0)
			rec, env := do(h, http.MethodPost, "/v1/broadcasts", tc.body)
			if rec.Code != tc.status || env.Kind != tc.kind || env.OK {
				t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
			}
			if tc.field != "" && (len(env.Errors) == 0 || env.Errors[0].Field != tc.field) {
				t.Fatalf("errors = %+v", env.Errors)
			}
			if tc.hasProv != (len(env.Provider) > 0) {
				t.Fatalf("provider = %s", env.Provider)
			}
		})
	}
}

func TestBodyLimit(t *testing.T) {
	h := newTestHandler(t, 32)
	rec, _ := do(h, http.MethodPost, "/v1/broadcasts", `{"token":"T","chats_id":[1],"text":"`+strings.Repeat("x", 64)+`"}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	h := newTestHandler(t, 0)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(HeaderRequestID); got != "abc-123" {
		t.Fatalf("request id = %q", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t, 0)
	rec, _ := do(h, http.MethodGet, "/v1/broadcasts", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	ok := NewHandler(nil, pingFunc(func(context.Context) error { return nil }), 0, logx.Nop())
	rec, env := do(ok, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !env.OK {
		t.Fatalf("healthy: %d %s", rec.Code, rec.Body.String())
	}

	down := NewHandler(nil, pingFunc(func(context.Context) error { return storage.ErrUnavailable }), 0, logx.Nop())
	rec, env = do(down, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable || env.Kind != broadcast.KindStoreUnavailable {
		t.Fatalf("unhealthy: %d %s", rec.Code, rec.Body.String())
	}
}

func TestUnexpectedSubmitError(t *testing.T) {
	h := NewHandler(submitFunc(func(context.Context, map[string]any) (broadcast.Receipt, error) {
		return broadcast.Receipt{}, errors.New("boom")
	}), pingFunc(func(context.Context) error { return nil }), 0, logx.Nop())
	rec, _ := do(h, http.MethodPost, "/v1/broadcasts", `{}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

type submitFunc func(ctx context.Context, raw map[string]any) (broadcast.Receipt, error)

func (f submitFunc) Submit(ctx context.Context, raw map[string]any) (broadcast.Receipt, error) {
	return f(ctx, raw)
}
