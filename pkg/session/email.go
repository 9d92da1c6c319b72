package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/textrelay/textrelay/pkg/observability"
)

// EmailResolver implements the equality-based session strategy for email.
// Email has no reliable inactivity signal the way synchronous chat does, so
// continuation is decided by normalized (subject, sender) equality: a reply
// keeps the conversation, anything else is a new one.
//
// Gmail thread ids and reply-chain reference headers are deliberately not
// used: both mutate when this system sends the reply, which makes every
// outbound message look like a new thread.
type EmailResolver struct {
	store Store
	now   func() time.Time
	log   *slog.Logger
}

// EmailResolverOption configures an EmailResolver.
type EmailResolverOption func(*EmailResolver)

// WithEmailClock overrides the time source.
func WithEmailClock(now func() time.Time) EmailResolverOption {
	return func(r *EmailResolver) { r.now = now }
}

// WithEmailLogger sets the logger.
func WithEmailLogger(log *slog.Logger) EmailResolverOption {
	return func(r *EmailResolver) { r.log = log }
}

// NewEmailResolver creates an email session resolver backed by store.
func NewEmailResolver(store Store, opts ...EmailResolverOption) *EmailResolver {
	r := &EmailResolver{
		store: store,
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the session id for an inbound email. "Login bug" and
// "Re: login bug" from the same sender resolve to the same id; the same
// subject from a different sender resolves to a different one. Store
// failures degrade to a deterministic, non-persisted fallback id.
func (r *EmailResolver) Resolve(ctx context.Context, subject, sender string) (string, error) {
	normSender := NormalizeEmail(sender)
	if normSender == "" {
		return "", errors.New("empty sender address")
	}
	normSubject := NormalizeSubject(subject)

	key := EmailKey(normSubject, normSender)
	nowMs := millis(r.now())

	rec, err := r.store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return r.create(ctx, key, normSubject, normSender, nowMs), nil

	case err != nil:
		return r.fallback(normSubject, normSender, "get", err), nil
	}

	// The key embeds both fields, so a stored pair that differs from the
	// inbound one means the key derivation itself collided. Same for
	// malformed or superseded records: rotate rather than trust them.
	if rec.Subject == normSubject && rec.Sender == normSender && !rec.Malformed() && rec.Active {
		if err := r.store.Touch(ctx, key, nowMs); err != nil {
			r.log.Warn("session touch failed",
				"sender", Redact(normSender), "error", err)
		}
		observability.RecordSessionResolution(string(ChannelEmail), "continued")
		return rec.SessionID, nil
	}

	return r.rotate(ctx, rec, normSubject, normSender, nowMs), nil
}

func (r *EmailResolver) create(ctx context.Context, key, normSubject, normSender string, nowMs int64) string {
	rec := &Record{
		SessionKey:   key,
		SessionID:    emailID(normSubject, normSender, 1),
		Version:      1,
		Channel:      ChannelEmail,
		CreatedAt:    nowMs,
		LastActivity: nowMs,
		Active:       true,
		Sender:       normSender,
		Subject:      normSubject,
	}

	if err := r.store.PutIf(ctx, rec, 0); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			if winner, gerr := r.store.Get(ctx, key); gerr == nil && !winner.Malformed() {
				observability.RecordSessionResolution(string(ChannelEmail), "continued")
				return winner.SessionID
			}
		}
		return r.fallback(normSubject, normSender, "create", err)
	}

	observability.RecordSessionResolution(string(ChannelEmail), "created")
	return rec.SessionID
}

func (r *EmailResolver) rotate(ctx context.Context, prev *Record, normSubject, normSender string, nowMs int64) string {
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
				"sender", Redact(normSender), "error", err)
		}
	}

	rec := &Record{
		SessionKey:   prev.SessionKey,
		SessionID:    emailID(normSubject, normSender, next),
		Version:      next,
		Channel:      ChannelEmail,
		CreatedAt:    nowMs,
		LastActivity: nowMs,
		Active:       true,
		Sender:       normSender,
		Subject:      normSubject,
	}

	var err error
	if prev.Malformed() {
		err = r.store.Put(ctx, rec)
	} else {
		err = r.store.PutIf(ctx, rec, prev.Version)
	}

	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			if winner, gerr := r.store.Get(ctx, prev.SessionKey); gerr == nil && !winner.Malformed() {
				observability.RecordSessionResolution(string(ChannelEmail), "continued")
				return winner.SessionID
			}
		}
		return r.fallback(normSubject, normSender, "rotate", err)
	}

	r.log.Info("email session rotated",
		"sender", Redact(normSender), "version", next)
	observability.RecordSessionResolution(string(ChannelEmail), "rotated")
	return rec.SessionID
}

func (r *EmailResolver) fallback(normSubject, normSender, op string, err error) string {
	r.log.Error("session store unavailable, using fallback id",
		"channel", ChannelEmail, "sender", Redact(normSender), "op", op, "error", err)
	observability.RecordSessionFallback(string(ChannelEmail))
	return emailID(normSubject, normSender, 1)
}

// emailID builds the versioned id from slugged sender and subject segments.
// The subject segment is omitted when it slugs to nothing.
func emailID(normSubject, normSender string, version int64) string {
	base := SlugForID(normSender)
	if base == "" {
		base = "mail"
	}
	if subj := SlugForID(normSubject); subj != "" {
		base += "-" + subj
	}
	return fmt.Sprintf("%s-v%d", base, version)
}
