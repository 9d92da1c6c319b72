package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/textrelay/textrelay/pkg/observability"
)

// Resolver implements the inactivity-gap session strategy for SMS and
// WhatsApp. Per key the lifecycle is: no session, active, then expired or
// superseded, then active again under the next version.
//
// Resolve never fails on store trouble. Losing conversation continuity is
// an accepted degradation; an unanswered message is not. The only hard
// error is an empty identifier, which indicates a caller-side extraction
// bug.
type Resolver struct {
	store Store
	gap   time.Duration
	now   func() time.Time
	log   *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithGap overrides the inactivity gap (default 24h).
func WithGap(gap time.Duration) ResolverOption {
	return func(r *Resolver) {
		if gap > 0 {
			r.gap = gap
		}
	}
}

// WithClock overrides the time source. Tests use this to step through
// inactivity windows.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.log = log }
}

// NewResolver creates a chat session resolver backed by store.
func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store: store,
		gap:   DefaultChatGap,
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the session id for an inbound chat message. Two calls
// inside the gap window return the same id; a call after the gap, or one
// whose body contains the "new session" phrase, rotates to the next
// version. Store failures degrade to a deterministic, non-persisted
// fallback id.
func (r *Resolver) Resolve(ctx context.Context, ch Channel, rawPhone, body string) (string, error) {
	phone := NormalizePhone(rawPhone)
	if phone == "" {
		return "", fmt.Errorf("empty phone number for channel %q", ch)
	}

	key := ChatKey(ch, phone)
	nowMs := millis(r.now())

	rec, err := r.store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return r.create(ctx, ch, key, phone, nowMs), nil

	case err != nil:
		return r.fallback(ch, phone, "get", err), nil
	}

	switch {
	case containsNewSessionCommand(body):
		return r.rotate(ctx, ch, rec, phone, nowMs, "user_command"), nil

	case rec.Malformed(), !rec.Active:
		return r.rotate(ctx, ch, rec, phone, nowMs, "stale"), nil

	case nowMs-rec.LastActivity <= r.gap.Milliseconds():
		if err := r.store.Touch(ctx, key, nowMs); err != nil {
			// The id is still valid; only the activity bump was lost.
			r.log.Warn("session touch failed",
				"channel", ch, "phone", Redact(phone), "error", err)
		}
		observability.RecordSessionResolution(string(ch), "continued")
		return rec.SessionID, nil

	default:
		return r.rotate(ctx, ch, rec, phone, nowMs, "expired"), nil
	}
}

// create persists version 1 for a key with no prior record.
func (r *Resolver) create(ctx context.Context, ch Channel, key, phone string, nowMs int64) string {
	rec := &Record{
		SessionKey:   key,
		SessionID:    chatID(phone, 1),
		Version:      1,
		Channel:      ch,
		CreatedAt:    nowMs,
		LastActivity: nowMs,
		Active:       true,
		Phone:        phone,
	}

	if err := r.store.PutIf(ctx, rec, 0); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			// A concurrent invocation created the record first; use its id.
			if winner, gerr := r.store.Get(ctx, key); gerr == nil && !winner.Malformed() {
				observability.RecordSessionResolution(string(ch), "continued")
				return winner.SessionID
			}
		}
		return r.fallback(ch, phone, "create", err)
	}

	observability.RecordSessionResolution(string(ch), "created")
	return rec.SessionID
}

// rotate supersedes the current record with the next version. The old
// version is archived inactive on a best-effort basis; the conditional
// write on the current version keeps concurrent bumps from silently
// clobbering each other.
func (r *Resolver) rotate(ctx context.Context, ch Channel, prev *Record, phone string, nowMs int64, reason string) string {
	next := prev.Version + 1
	if next < 1 {
		next = 1
	}

	if !prev.Malformed() {
		archived := *prev
		archived.SessionKey = prev.ArchiveKey()
		archived.Active = false
		if err := r.store.Put(ctx, &archived); err != nil {
			r.log.Warn("session archive failed",
				"channel", ch, "phone", Redact(phone), "error", err)
		}
	}

	rec := &Record{
		SessionKey:   prev.SessionKey,
		SessionID:    chatID(phone, next),
		Version:      next,
		Channel:      ch,
		CreatedAt:    nowMs,
		LastActivity: nowMs,
		Active:       true,
		Phone:        phone,
	}

	var err error
	if prev.Malformed() {
		// The stored version is not trustworthy, so a conditional write
		// has nothing to anchor on.
		err = r.store.Put(ctx, rec)
	} else {
		err = r.store.PutIf(ctx, rec, prev.Version)
	}

	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			if winner, gerr := r.store.Get(ctx, prev.SessionKey); gerr == nil && !winner.Malformed() {
				observability.RecordSessionResolution(string(ch), "continued")
				return winner.SessionID
			}
		}
		return r.fallback(ch, phone, "rotate", err)
	}

	r.log.Info("session rotated",
		"channel", ch, "phone", Redact(phone), "version", next, "reason", reason)
	observability.RecordSessionResolution(string(ch), "rotated")
	return rec.SessionID
}

// fallback synthesizes a non-persisted id so the caller can still reach the
// query API. Continuity for this conversation is lost until the store
// recovers.
func (r *Resolver) fallback(ch Channel, phone, op string, err error) string {
	r.log.Error("session store unavailable, using fallback id",
		"channel", ch, "phone", Redact(phone), "op", op, "error", err)
	observability.RecordSessionFallback(string(ch))
	return chatID(phone, 1)
}

func chatID(phone string, version int64) string {
	seg := idSegment(phone)
	if seg == "" {
		seg = "unknown"
	}
	return fmt.Sprintf("%s-v%d", seg, version)
}

func containsNewSessionCommand(body string) bool {
	return strings.Contains(strings.ToLower(body), NewSessionPhrase)
}
