package broadcast

import (
	"context"
	"errors"
	"time"

	"broadcastd/internal/provider"
	"broadcastd/internal/storage"
	logx "broadcastd/pkg/logx"
)

// Provider is the part of provider.Client the pipeline needs.
type Provider interface {
	VerifyCredential(ctx context.Context, token string) (provider.Identity, error)
	Dispatch(ctx context.Context, token string, chatID int64, payload map[string]any) (provider.Result, error)
}

// Store is the part of storage.Store the pipeline needs.
type Store interface {
	TryClaim(ctx context.Context, botID int64) (storage.Claim, bool, error)
	Persist(ctx context.Context, job storage.Job) error
}

// DefaultStoreTimeout bounds each store call when Options.StoreTimeout is 0.
const DefaultStoreTimeout = 5 * time.Second

// Options controls the representative dispatch and store call limits.
type Options struct {
	// DispatchChatID receives the single immediate send. 0 means the first
	// submitted chat id.
	DispatchChatID int64
	// DispatchToken sends as a relay bot. Empty means the submitted token.
	DispatchToken string
	// StoreTimeout bounds each TryClaim and Persist call.
	StoreTimeout time.Duration
}

type Pipeline struct {
	provider Provider
	store    Store
	opts     Options
	log      logx.Logger
}

func NewPipeline(p Provider, s Store, opts Options, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	return &Pipeline{provider: p, store: s, opts: opts, log: log}
}

// Submit runs one broadcast intake. The returned error is always *Error.
//
// ctx cancellation is ignored: once the claim is taken the run must finish so
// the caller never has to guess whether the send happened. Provider calls are
// bounded by the client timeout and store calls by Options.StoreTimeout.
func (p *Pipeline) Submit(ctx context.Context, raw map[string]any) (Receipt, error) {
	ctx = context.WithoutCancel(ctx)

	req, e := p.validate(raw)
	if e != nil {
		return Receipt{}, e
	}
	log := p.log.With(logx.Int("targets", len(req.ChatIDs)))

	me, e := p.verify(ctx, req)
	if e != nil {
		log.Info("broadcast rejected", logx.String("step", string(e.Step)), logx.String("kind", string(e.Kind)))
		return Receipt{}, e
	}
	log = log.With(logx.Int64("bot_id", me.ID))

	claim, e := p.claim(ctx, me.ID)
	if e != nil {
		log.Info("broadcast rejected", logx.String("step", string(e.Step)), logx.String("kind", string(e.Kind)), logx.Err(e.Err))
		return Receipt{}, e
	}

	res, e := p.dispatch(ctx, req)
	if e != nil {
		log.Warn("dispatch failed; claim kept", logx.String("kind", string(e.Kind)), logx.Err(e.Err))
		return Receipt{}, e
	}

	if e := p.persist(ctx, claim, req); e != nil {
		log.Error("job dispatched but not persisted", logx.Err(e.Err))
		return Receipt{}, e
	}

	log.Info("broadcast job stored")
	return Receipt{BotID: me.ID, Targets: len(req.ChatIDs), MessageID: res.MessageID}, nil
}

func (p *Pipeline) validate(raw map[string]any) (Request, *Error) {
	req, err := Validate(raw)
	if err == nil {
		return req, nil
	}
	e := &Error{Kind: KindValidationFailed, Step: StepValidate, Message: "request validation failed", Err: err}
	var ve *ValidationError
	if errors.As(err, &ve) {
		e.Fields = ve.Fields
	}
	return Request{}, e
}

func (p *Pipeline) verify(ctx context.Context, req Request) (provider.Identity, *Error) {
	me, err := p.provider.VerifyCredential(ctx, req.Token)
	if err == nil {
		return me, nil
	}
	if errors.Is(err, provider.ErrCredentialInvalid) {
		return provider.Identity{}, &Error{
			Kind:     KindCredentialInvalid,
			Step:     StepVerify,
			Message:  "bot token was rejected by the provider",
			Provider: provider.RawResponse(err),
			Err:      err,
		}
	}
	return provider.Identity{}, &Error{Kind: KindProviderUnreachable, Step: StepVerify, Message: "provider unreachable", Err: err}
}

func (p *Pipeline) claim(ctx context.Context, botID int64) (storage.Claim, *Error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.StoreTimeout)
	defer cancel()
	c, ok, err := p.store.TryClaim(ctx, botID)
	if err != nil {
		return storage.Claim{}, &Error{Kind: KindStoreUnavailable, Step: StepClaim, Message: "job store unavailable", Err: err}
	}
	if !ok {
		return storage.Claim{}, &Error{Kind: KindDuplicateJob, Step: StepClaim, Message: "a broadcast job already exists for this bot"}
	}
	return c, nil
}

func (p *Pipeline) dispatch(ctx context.Context, req Request) (provider.Result, *Error) {
	chatID := p.opts.DispatchChatID
	if chatID == 0 {
		chatID = req.ChatIDs[0]
	}
	token := p.opts.DispatchToken
	if token == "" {
		token = req.Token
	}

	res, err := p.provider.Dispatch(ctx, token, chatID, req.Payload.Params())
	if err == nil {
		return res, nil
	}
	if errors.Is(err, provider.ErrRejected) {
		return provider.Result{}, &Error{
			Kind:     KindProviderRejected,
			Step:     StepDispatch,
			Message:  "provider rejected the message",
			Provider: provider.RawResponse(err),
			Err:      err,
		}
	}
	return provider.Result{}, &Error{Kind: KindProviderUnreachable, Step: StepDispatch, Message: "provider unreachable", Err: err}
}

func (p *Pipeline) persist(ctx context.Context, claim storage.Claim, req Request) *Error {
	payload, err := req.Payload.encode()
	if err != nil {
		return &Error{Kind: KindStoreUnavailable, Step: StepPersist, Message: "payload could not be encoded", Err: err}
	}
	job := claim.Job()
	job.Token = req.Token
	job.Method = MethodSendMessage
	job.Payload = payload
	job.Targets = req.ChatIDs

	ctx, cancel := context.WithTimeout(ctx, p.opts.StoreTimeout)
	defer cancel()
	if err := p.store.Persist(ctx, job); err != nil {
		if errors.Is(err, storage.ErrNotClaimed) {
			return &Error{Kind: KindStoreUnavailable, Step: StepPersist, Message: "claim expired and was taken over", Err: err}
		}
		return &Error{Kind: KindStoreUnavailable, Step: StepPersist, Message: "job store unavailable", Err: err}
	}
	return nil
}
