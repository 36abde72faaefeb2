package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "broadcastd/pkg/logx"
)

const (
	methodGetMe       = "getMe"
	methodSendMessage = "sendMessage"

	defaultTimeout = 10 * time.Second
)

type TelegramConfig struct {
	// APIURL is the Bot API base URL; empty means api.telegram.org.
	APIURL string
	// Timeout bounds every call, including reading the body.
	Timeout time.Duration
	// RatePerSec limits outgoing calls across all tokens; <=0 disables.
	RatePerSec int
}

// Telegram implements Client on the Telegram Bot API.
type Telegram struct {
	cfg  TelegramConfig
	log  logx.Logger
	http *http.Client

	mu      sync.Mutex
	limiter *rate.Limiter
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) *Telegram {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	t := &Telegram{
		cfg:  cfg,
		log:  log,
		http: &http.Client{Timeout: cfg.Timeout},
	}
	t.SetRate(cfg.RatePerSec)
	return t
}

// SetRate swaps the outgoing rate limit. Safe during hot-reload.
func (t *Telegram) SetRate(perSec int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if perSec <= 0 {
		t.limiter = nil
		return
	}
	if t.limiter == nil {
		t.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
		return
	}
	t.limiter.SetLimit(rate.Limit(perSec))
	t.limiter.SetBurst(perSec)
}

func (t *Telegram) VerifyCredential(ctx context.Context, token string) (Identity, error) {
	env, err := t.call(ctx, token, methodGetMe, nil, ErrCredentialInvalid)
	if err != nil {
		return Identity{}, err
	}
	var me struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(env.Result, &me); err != nil || me.ID == 0 {
		return Identity{}, &Error{Method: methodGetMe, Raw: env.raw, kind: ErrUnreachable, cause: errors.New("malformed getMe result")}
	}
	return Identity{ID: me.ID, Username: me.Username, Raw: env.raw}, nil
}

// Dispatch sends payload to chatID; chat_id always wins over a payload key.
func (t *Telegram) Dispatch(ctx context.Context, token string, chatID int64, payload map[string]any) (Result, error) {
	params := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		params[k] = v
	}
	params["chat_id"] = chatID

	env, err := t.call(ctx, token, methodSendMessage, params, ErrRejected)
	if err != nil {
		return Result{}, err
	}
	var msg struct {
		MessageID int `json:"message_id"`
	}
	// Some sends answer with `true` instead of a message; keep the raw body either way.
	_ = json.Unmarshal(env.Result, &msg)
	return Result{MessageID: msg.MessageID, Raw: env.raw}, nil
}

type envelope struct {
	OK          *bool           `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`

	raw json.RawMessage
}

// call performs one Bot API request through telebot's Raw. Raw reports not-ok
// bodies as errors too, so the outcome is classified from the body: no body
// means the transport failed, an undecodable body means the provider is not
// answering with its protocol.
func (t *Telegram) call(ctx context.Context, token, method string, params any, notOK error) (envelope, error) {
	if lim := t.currentLimiter(); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return envelope{}, &Error{Method: method, kind: ErrUnreachable, cause: err}
		}
	}

	bot, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(strings.TrimSpace(t.cfg.APIURL), "/"),
		Token:   token,
		Client:  t.http,
		Offline: true,
	})
	if err != nil {
		return envelope{}, &Error{Method: method, kind: ErrUnreachable, cause: err}
	}

	started := time.Now()
	data, rawErr := bot.Raw(method, params)
	took := time.Since(started)

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		if rawErr == nil {
			rawErr = errors.New("empty response body")
		}
		t.log.Warn("provider call failed", logx.String("method", method), logx.Duration("took", took), logx.Err(rawErr))
		return envelope{}, &Error{Method: method, kind: ErrUnreachable, cause: rawErr}
	}

	var env envelope
	err = json.Unmarshal(data, &env)
	if err == nil && env.OK == nil {
		err = errors.New(`response has no "ok" field`)
	}
	if err != nil {
		t.log.Warn("provider returned malformed body", logx.String("method", method), logx.Duration("took", took), logx.Err(err))
		return envelope{}, &Error{Method: method, Raw: json.RawMessage(data), kind: ErrUnreachable, cause: err}
	}
	env.raw = json.RawMessage(data)

	if !*env.OK {
		t.log.Debug("provider answered not ok",
			logx.String("method", method),
			logx.Int("code", env.ErrorCode),
			logx.String("description", env.Description),
			logx.Duration("took", took),
		)
		return envelope{}, NewError(notOK, method, env.ErrorCode, env.Description, env.raw)
	}
	t.log.Debug("provider call ok", logx.String("method", method), logx.Duration("took", took))
	t.log.Trace("provider response", logx.String("method", method), logx.String("body", string(data)))
	return env, nil
}

func (t *Telegram) currentLimiter() *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limiter
}
