package gmail

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Handler processes one inbound email.
type Handler func(ctx context.Context, msg Message) error

// Mailbox is the part of Service the poller needs. Tests substitute a fake.
type Mailbox interface {
	ListUnread(ctx context.Context) ([]Message, error)
	MarkRead(ctx context.Context, id string) error
}

// Poller drains unread messages on a cron schedule and hands each one to
// the handler. A message is marked read only after the handler returns, so
// a crashed tick retries it on the next run.
type Poller struct {
	mailbox Mailbox
	handler Handler
	log     *slog.Logger
	cron    *cron.Cron
	mu      sync.Mutex
	busy    bool
}

// NewPoller creates a poller. schedule is a standard cron expression.
func NewPoller(mailbox Mailbox, handler Handler, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		mailbox: mailbox,
		handler: handler,
		log:     log,
	}
}

// Start schedules ticks and begins polling. It returns after scheduling;
// ticks run on the cron goroutine.
func (p *Poller) Start(ctx context.Context, schedule string) error {
	p.cron = cron.New()
	if _, err := p.cron.AddFunc(schedule, func() { p.Tick(ctx) }); err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

// Stop halts scheduling and waits for a running tick to finish.
func (p *Poller) Stop() {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
}

// Tick processes all currently unread messages. Overlapping ticks are
// skipped rather than queued; the mail is still unread next time.
func (p *Poller) Tick(ctx context.Context) {
	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		return
	}
	p.busy = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.busy = false
		p.mu.Unlock()
	}()

	messages, err := p.mailbox.ListUnread(ctx)
	if err != nil {
		p.log.Error("gmail poll failed", "error", err)
		return
	}

	for _, msg := range messages {
		if err := p.handler(ctx, msg); err != nil {
			p.log.Error("email handling failed", "message_id", msg.ID, "error", err)
			continue
		}
		if err := p.mailbox.MarkRead(ctx, msg.ID); err != nil {
			p.log.Error("mark read failed", "message_id", msg.ID, "error", err)
		}
	}
}
