package session

import (
	"context"
	"testing"
	"time"
)

func newTestEmailResolver(t *testing.T, store Store, clock *fakeClock) *EmailResolver {
	t.Helper()
	return NewEmailResolver(store,
		WithEmailClock(clock.Now),
		WithEmailLogger(quietLogger()))
}

func TestEmailResolveReplyContinuesThread(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	r := newTestEmailResolver(t, store, clock)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "Login bug", "jane@x.com")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	clock.Advance(48 * time.Hour)
	second, err := r.Resolve(ctx, "Re: login bug", "Jane Doe <jane@x.com>")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if second != first {
		t.Errorf("reply got new id: %q -> %q", first, second)
	}
}

func TestEmailResolveDifferentSenderDifferentSession(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	r := newTestEmailResolver(t, store, clock)
	ctx := context.Background()

	jane, err := r.Resolve(ctx, "Login bug", "jane@x.com")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	bob, err := r.Resolve(ctx, "Login bug", "bob@x.com")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if jane == bob {
		t.Errorf("different senders share id %q", jane)
	}
}

func TestEmailResolveDifferentSubjectDifferentSession(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	r := newTestEmailResolver(t, store, clock)
	ctx := context.Background()

	a, err := r.Resolve(ctx, "Login bug", "jane@x.com")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	b, err := r.Resolve(ctx, "Billing question", "jane@x.com")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a == b {
		t.Errorf("different subjects share id %q", a)
	}
}

func TestEmailResolveSessionKey(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	r := newTestEmailResolver(t, store, clock)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, "Invoice #42", "Jane Doe <jane@x.com>"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	rec, err := store.Get(ctx, "email-subject:invoice-42|from:jane@x.com")
	if err != nil {
		t.Fatalf("record not under expected key: %v", err)
	}
	if rec.Subject != "invoice #42" || rec.Sender != "jane@x.com" {
		t.Errorf("stored pair = %q / %q", rec.Subject, rec.Sender)
	}
}

func TestEmailResolveSlugCollisionRotates(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	r := newTestEmailResolver(t, store, clock)
	ctx := context.Background()

	// "Invoice #42" and "Invoice !42" slug to the same key segment but are
	// different normalized subjects, so the second must not inherit the
	// first one's session.
	first, err := r.Resolve(ctx, "Invoice #42", "jane@x.com")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, err := r.Resolve(ctx, "Invoice !42", "jane@x.com")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if second == first {
		t.Errorf("slug collision reused id %q", first)
	}
}

func TestEmailResolveEmptySubject(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	r := newTestEmailResolver(t, store, clock)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "", "jane@x.com")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !ValidID(first) {
		t.Errorf("invalid id %q", first)
	}

	// "Re:" alone normalizes to the same empty subject.
	second, err := r.Resolve(ctx, "Re:", "jane@x.com")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if second != first {
		t.Errorf("empty subjects diverged: %q -> %q", first, second)
	}
}

func TestEmailResolveEmptySenderIsHardError(t *testing.T) {
	r := newTestEmailResolver(t, NewMemoryStore(), newFakeClock())

	for _, raw := range []string{"", "   "} {
		if _, err := r.Resolve(context.Background(), "Login bug", raw); err == nil {
			t.Errorf("Resolve(sender=%q): expected error", raw)
		}
	}
}

func TestEmailResolveInactiveRecordRotates(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	r := newTestEmailResolver(t, store, clock)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "Login bug", "jane@x.com")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	key := EmailKey("login bug", "jane@x.com")
	rec, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	rec.Active = false
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	second, err := r.Resolve(ctx, "Login bug", "jane@x.com")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if second == first {
		t.Errorf("inactive record reused id %q", first)
	}

	archived, err := store.Get(ctx, key+"#v1")
	if err != nil {
		t.Fatalf("Get archive: %v", err)
	}
	if archived.Active {
		t.Errorf("archived record still active")
	}
}

func TestEmailResolveFallbackOnStoreFailure(t *testing.T) {
	r := newTestEmailResolver(t, failingStore{}, newFakeClock())

	id, err := r.Resolve(context.Background(), "Login bug", "jane@x.com")
	if err != nil {
		t.Fatalf("store failure must not surface: %v", err)
	}
	if id == "" || !ValidID(id) {
		t.Errorf("fallback id = %q", id)
	}
}

func TestEmailIDShape(t *testing.T) {
	tests := []struct {
		subject string
		sender  string
		version int64
		want    string
	}{
		{"login bug", "jane@x.com", 1, "jane-x-com-login-bug-v1"},
		{"login bug", "jane@x.com", 2, "jane-x-com-login-bug-v2"},
		{"", "jane@x.com", 1, "jane-x-com-v1"},
		{"", "", 1, "mail-v1"},
	}

	for _, tt := range tests {
		got := emailID(tt.subject, tt.sender, tt.version)
		if got != tt.want {
			t.Errorf("emailID(%q, %q, %d) = %q, want %q",
				tt.subject, tt.sender, tt.version, got, tt.want)
		}
		if got != "" && !ValidID(got) {
			t.Errorf("emailID produced invalid id %q", got)
		}
	}
}
