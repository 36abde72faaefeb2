package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	logx "broadcastd/pkg/logx"
)

type recordedCall struct {
	path string
	body map[string]any
}

func newBotAPI(t *testing.T, handler func(method string, body map[string]any) (int, string)) (*httptest.Server, *[]recordedCall) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []recordedCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(b, &body)
		mu.Lock()
		calls = append(calls, recordedCall{path: r.URL.Path, body: body})
		mu.Unlock()

		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		status, resp := handler(method, body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestVerifyCredentialOK(t *testing.T) {
	srv, calls := newBotAPI(t, func(method string, _ map[string]any) (int, string) {
		return http.StatusOK, `{"ok":true,"result":{"id":42,"is_bot":true,"username":"relay_bot"}}`
	})
	c := NewTelegram(TelegramConfig{APIURL: srv.URL}, logx.Nop())

	id, err := c.VerifyCredential(context.Background(), "T")
	if err != nil {
		t.Fatalf("VerifyCredential: %v", err)
	}
	if id.ID != 42 || id.Username != "relay_bot" {
		t.Fatalf("identity = %+v", id)
	}
	if len(id.Raw) == 0 {
		t.Fatal("expected raw response")
	}
	if len(*calls) != 1 || (*calls)[0].path != "/botT/getMe" {
		t.Fatalf("calls = %+v", *calls)
	}
}

func TestVerifyCredentialNotOK(t *testing.T) {
	srv, _ := newBotAPI(t, func(string, map[string]any) (int, string) {
		return http.StatusUnauthorized, `{"ok":false,"error_code":401,"description":"Unauthorized"}`
	})
	c := NewTelegram(TelegramConfig{APIURL: srv.URL}, logx.Nop())

	_, err := c.VerifyCredential(context.Background(), "bad")
	if !errors.Is(err, ErrCredentialInvalid) {
		t.Fatalf("err = %v, want ErrCredentialInvalid", err)
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.Code != 401 || pe.Description != "Unauthorized" {
		t.Fatalf("provider error = %+v", pe)
	}
	if !strings.Contains(string(RawResponse(err)), "Unauthorized") {
		t.Fatalf("raw = %s", RawResponse(err))
	}
}

func TestVerifyCredentialUnreachable(t *testing.T) {
	tests := []struct {
		name string
		resp string
	}{
		{name: "not json", resp: `<html>bad gateway</html>`},
		{name: "no ok field", resp: `{"result":{"id":1}}`},
		{name: "empty", resp: ``},
		{name: "ok without id", resp: `{"ok":true,"result":{}}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newBotAPI(t, func(string, map[string]any) (int, string) {
				return http.StatusBadGateway, tt.resp
			})
			c := NewTelegram(TelegramConfig{APIURL: srv.URL}, logx.Nop())
			_, err := c.VerifyCredential(context.Background(), "T")
			if !errors.Is(err, ErrUnreachable) {
				t.Fatalf("err = %v, want ErrUnreachable", err)
			}
		})
	}
}

func TestCallTimeoutIsUnreachable(t *testing.T) {
	srv, _ := newBotAPI(t, func(string, map[string]any) (int, string) {
		time.Sleep(300 * time.Millisecond)
		return http.StatusOK, `{"ok":true,"result":{"id":1}}`
	})
	c := NewTelegram(TelegramConfig{APIURL: srv.URL, Timeout: 50 * time.Millisecond}, logx.Nop())

	started := time.Now()
	_, err := c.VerifyCredential(context.Background(), "T")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
	if took := time.Since(started); took > 250*time.Millisecond {
		t.Fatalf("call took %v, timeout not applied", took)
	}
}

func TestServerDownIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewTelegram(TelegramConfig{APIURL: url, Timeout: time.Second}, logx.Nop())
	if _, err := c.Dispatch(context.Background(), "T", 1, map[string]any{"text": "hi"}); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
}

func TestDispatchMergesChatID(t *testing.T) {
	srv, calls := newBotAPI(t, func(string, map[string]any) (int, string) {
		return http.StatusOK, `{"ok":true,"result":{"message_id":77}}`
	})
	c := NewTelegram(TelegramConfig{APIURL: srv.URL}, logx.Nop())

	payload := map[string]any{"text": "hi", "chat_id": 1}
	res, err := c.Dispatch(context.Background(), "T", -100123, payload)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.MessageID != 77 {
		t.Fatalf("message id = %d", res.MessageID)
	}
	if payload["chat_id"] != 1 {
		t.Fatal("payload was mutated")
	}
	got := (*calls)[0]
	if got.path != "/botT/sendMessage" {
		t.Fatalf("path = %s", got.path)
	}
	if got.body["chat_id"] != float64(-100123) || got.body["text"] != "hi" {
		t.Fatalf("body = %v", got.body)
	}
}

func TestDispatchRejected(t *testing.T) {
	srv, _ := newBotAPI(t, func(string, map[string]any) (int, string) {
		return http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: message text is empty"}`
	})
	c := NewTelegram(TelegramConfig{APIURL: srv.URL}, logx.Nop())

	_, err := c.Dispatch(context.Background(), "T", 1, map[string]any{})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if errors.Is(err, ErrUnreachable) {
		t.Fatal("rejected must not look unreachable")
	}
}

func TestSetRate(t *testing.T) {
	c := NewTelegram(TelegramConfig{RatePerSec: 5}, logx.Nop())
	if c.currentLimiter() == nil {
		t.Fatal("expected limiter")
	}
	c.SetRate(10)
	if got := c.currentLimiter().Limit(); got != 10 {
		t.Fatalf("limit = %v, want 10", got)
	}
	c.SetRate(0)
	if c.currentLimiter() != nil {
		t.Fatal("expected limiter disabled")
	}
}
