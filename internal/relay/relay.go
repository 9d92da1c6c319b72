// Package relay wires one inbound message through session resolution, the
// query API, and the originating channel's send path.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/textrelay/textrelay/internal/channel/gmail"
	"github.com/textrelay/textrelay/internal/channel/twilio"
	"github.com/textrelay/textrelay/pkg/observability"
	"github.com/textrelay/textrelay/pkg/session"
)

// ChatResolver resolves session ids for SMS/WhatsApp messages.
type ChatResolver interface {
	Resolve(ctx context.Context, ch session.Channel, rawPhone, body string) (string, error)
}

// EmailResolver resolves session ids for email messages.
type EmailResolver interface {
	Resolve(ctx context.Context, subject, sender string) (string, error)
}

// Querier asks the downstream query API.
type Querier interface {
	Ask(ctx context.Context, sessionID, text string) (string, error)
}

// ChatSender sends a reply back through Twilio.
type ChatSender interface {
	Send(ctx context.Context, ch session.Channel, to, body string) error
}

// MailSender sends a reply back through Gmail.
type MailSender interface {
	SendReply(ctx context.Context, original gmail.Message, body string) error
}

// Relay orchestrates inbound messages end to end. Session resolution is
// best-effort and already degrades internally; query or send failures are
// the only things that can fail a relay.
type Relay struct {
	chat   ChatResolver
	email  EmailResolver
	query  Querier
	chatTx ChatSender
	mailTx MailSender
	log    *slog.Logger
}

// New creates a Relay. mailTx may be nil when the Gmail channel is
// disabled.
func New(chat ChatResolver, email EmailResolver, query Querier, chatTx ChatSender, mailTx MailSender, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		chat:   chat,
		email:  email,
		query:  query,
		chatTx: chatTx,
		mailTx: mailTx,
		log:    log,
	}
}

// HandleChat relays one SMS or WhatsApp message.
func (r *Relay) HandleChat(ctx context.Context, in twilio.Inbound) error {
	start := time.Now()

	sessionID, err := r.chat.Resolve(ctx, in.Channel, in.From, in.Body)
	if err != nil {
		observability.RecordRelayMessage(string(in.Channel), "bad_request", time.Since(start))
		return fmt.Errorf("resolve chat session: %w", err)
	}

	reply, err := r.query.Ask(ctx, sessionID, in.Body)
	if err != nil {
		observability.RecordRelayMessage(string(in.Channel), "query_error", time.Since(start))
		return fmt.Errorf("query api: %w", err)
	}

	if err := r.chatTx.Send(ctx, in.Channel, in.From, reply); err != nil {
		observability.RecordRelayMessage(string(in.Channel), "send_error", time.Since(start))
		return fmt.Errorf("send reply: %w", err)
	}

	r.log.Info("relayed chat message",
		"channel", in.Channel, "from", session.Redact(in.From), "session", sessionID)
	observability.RecordRelayMessage(string(in.Channel), "ok", time.Since(start))
	return nil
}

// HandleEmail relays one inbound email.
func (r *Relay) HandleEmail(ctx context.Context, msg gmail.Message) error {
	start := time.Now()

	sessionID, err := r.email.Resolve(ctx, msg.Subject, msg.From)
	if err != nil {
		observability.RecordRelayMessage(string(session.ChannelEmail), "bad_request", time.Since(start))
		return fmt.Errorf("resolve email session: %w", err)
	}

	reply, err := r.query.Ask(ctx, sessionID, msg.Body)
	if err != nil {
		observability.RecordRelayMessage(string(session.ChannelEmail), "query_error", time.Since(start))
		return fmt.Errorf("query api: %w", err)
	}

	if err := r.mailTx.SendReply(ctx, msg, reply); err != nil {
		observability.RecordRelayMessage(string(session.ChannelEmail), "send_error", time.Since(start))
		return fmt.Errorf("send reply: %w", err)
	}

	r.log.Info("relayed email message",
		"from", session.Redact(session.NormalizeEmail(msg.From)), "session", sessionID)
	observability.RecordRelayMessage(string(session.ChannelEmail), "ok", time.Since(start))
	return nil
}
