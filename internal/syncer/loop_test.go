package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/viewchat/internal/geo"
	"github.com/onnwee/viewchat/internal/message"
	"github.com/onnwee/viewchat/internal/session"
)

// fakeStore is an in-memory log store with injectable failures.
type fakeStore struct {
	mu        sync.Mutex
	rows      []message.Message
	appendErr error
	listErr   error
	appends   int
	lists     int
}

func (f *fakeStore) AppendMessage(ctx context.Context, msg *message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends++
	if f.appendErr != nil {
		return f.appendErr
	}
	f.rows = append(f.rows, *msg)
	return nil
}

func (f *fakeStore) ListMessages(ctx context.Context) ([]message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]message.Message, len(f.rows))
	copy(out, f.rows)
	return out, nil
}

// stubAcquirer returns a fixed record and remembers the precise flag.
type stubAcquirer struct {
	mu          sync.Mutex
	record      *geo.Record
	wantPrecise []bool
}

func (s *stubAcquirer) Acquire(ctx context.Context, wantPrecise bool) *geo.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wantPrecise = append(s.wantPrecise, wantPrecise)
	if s.record != nil {
		return s.record
	}
	return &geo.Record{Status: geo.StatusNoDataOrDenied, ServerTime: time.Now().UTC()}
}

// fakeUploader records uploads and optionally fails them.
type fakeUploader struct {
	mu      sync.Mutex
	uploads int
	err     error
}

func (f *fakeUploader) Upload(ctx context.Context, data []byte, name, contentType string) (*message.AttachmentDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	desc := &message.AttachmentDescriptor{
		Name:        name,
		ContentType: contentType,
		Key:         "key-" + name,
	}
	if f.err != nil {
		return desc, f.err
	}
	desc.URL = "https://objects.example.com/key-" + name
	return desc, nil
}

func newTestLoop(t *testing.T, cfg Config) *Loop {
	t.Helper()
	if cfg.Geo == nil {
		cfg.Geo = &stubAcquirer{}
	}
	if cfg.Session == nil {
		cfg.Session = session.New()
	}
	loop, err := NewLoop(cfg)
	if err != nil {
		t.Fatalf("NewLoop() error: %v", err)
	}
	return loop
}

// TestSubmitRejectsInvalid tests that validation failures cause no
// side effects at all.
func TestSubmitRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		req     SubmitRequest
		wantErr error
	}{
		{name: "missing author", req: SubmitRequest{Body: "hi"}, wantErr: message.ErrMissingAuthor},
		{name: "whitespace-only author", req: SubmitRequest{Author: "   ", Body: "hi"}, wantErr: message.ErrMissingAuthor},
		{name: "empty submission", req: SubmitRequest{Author: "ada"}, wantErr: message.ErrEmptySubmission},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			acq := &stubAcquirer{}
			loop := newTestLoop(t, Config{Store: store, Geo: acq})

			msg, err := loop.Submit(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if msg != nil {
				t.Errorf("got message %+v, want nil", msg)
			}
			if store.appends != 0 {
				t.Errorf("store called %d times on rejected submission", store.appends)
			}
			if len(acq.wantPrecise) != 0 {
				t.Error("geo acquired for rejected submission")
			}
			if len(loop.Snapshot()) != 0 {
				t.Error("rejected submission reached the view")
			}
		})
	}
}

// TestSubmitAttachmentWithoutUploader tests that attachment bytes are
// never dropped on the floor: with no uploader configured the
// submission is rejected before any I/O.
func TestSubmitAttachmentWithoutUploader(t *testing.T) {
	store := &fakeStore{}
	loop := newTestLoop(t, Config{Store: store})

	msg, err := loop.Submit(context.Background(), SubmitRequest{
		Author:         "ada",
		AttachmentName: "photo.png",
		AttachmentType: "image/png",
		AttachmentData: []byte("blob"),
	})
	if !errors.Is(err, ErrAttachmentsDisabled) {
		t.Errorf("error = %v, want ErrAttachmentsDisabled", err)
	}
	if msg != nil {
		t.Errorf("got message %+v, want nil", msg)
	}
	if store.appends != 0 {
		t.Errorf("store called %d times on rejected submission", store.appends)
	}
	if len(loop.Snapshot()) != 0 {
		t.Error("rejected submission reached the view")
	}
}

// TestSubmitAttachmentOnly tests that an attachment satisfies the
// body-or-attachment rule.
func TestSubmitAttachmentOnly(t *testing.T) {
	store := &fakeStore{}
	up := &fakeUploader{}
	loop := newTestLoop(t, Config{Store: store, Uploader: up})

	msg, err := loop.Submit(context.Background(), SubmitRequest{
		Author:         "ada",
		AttachmentName: "cat.png",
		AttachmentType: "image/png",
		AttachmentData: []byte("blob"),
	})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if msg.Attachment == nil || msg.Attachment.URL == "" {
		t.Errorf("attachment = %+v, want descriptor with URL", msg.Attachment)
	}
	if up.uploads != 1 {
		t.Errorf("uploads = %d, want 1", up.uploads)
	}
	if store.appends != 1 {
		t.Errorf("appends = %d, want 1", store.appends)
	}
}

// TestSubmitOptimisticInsert tests that a submission is visible
// locally before any poll.
func TestSubmitOptimisticInsert(t *testing.T) {
	loop := newTestLoop(t, Config{Store: &fakeStore{}})

	msg, err := loop.Submit(context.Background(), SubmitRequest{Author: "ada", Body: "hello"})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if msg.Delivery != message.DeliveryDelivered {
		t.Errorf("delivery = %q, want %q", msg.Delivery, message.DeliveryDelivered)
	}

	snap := loop.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot has %d messages, want 1", len(snap))
	}
	if snap[0].Body != "hello" {
		t.Errorf("body = %q", snap[0].Body)
	}
}

// TestSubmitUploadFailureStillPersists tests that a failed upload is a
// warning, not a dropped message.
func TestSubmitUploadFailureStillPersists(t *testing.T) {
	store := &fakeStore{}
	up := &fakeUploader{err: errors.New("bucket unavailable")}
	loop := newTestLoop(t, Config{Store: store, Uploader: up})

	msg, err := loop.Submit(context.Background(), SubmitRequest{
		Author:         "ada",
		Body:           "see attached",
		AttachmentName: "cat.png",
		AttachmentType: "image/png",
		AttachmentData: []byte("blob"),
	})
	if err == nil {
		t.Fatal("expected a warning error for the failed upload")
	}
	if msg == nil {
		t.Fatal("message dropped on upload failure")
	}
	if msg.Attachment == nil || msg.Attachment.URL != "" {
		t.Errorf("attachment = %+v, want metadata without URL", msg.Attachment)
	}
	if store.appends != 1 {
		t.Errorf("appends = %d, want 1", store.appends)
	}
	if msg.Delivery != message.DeliveryDelivered {
		t.Errorf("delivery = %q, want %q", msg.Delivery, message.DeliveryDelivered)
	}
}

// TestSubmitAppendFailureKeepsLocal tests that a failed append leaves
// the message visible with a failed delivery state.
func TestSubmitAppendFailureKeepsLocal(t *testing.T) {
	store := &fakeStore{appendErr: errors.New("store down")}
	loop := newTestLoop(t, Config{Store: store})

	msg, err := loop.Submit(context.Background(), SubmitRequest{Author: "ada", Body: "hello"})
	if err == nil {
		t.Fatal("expected a warning error for the failed append")
	}
	if msg == nil {
		t.Fatal("message dropped on append failure")
	}
	if msg.Delivery != message.DeliveryFailed {
		t.Errorf("delivery = %q, want %q", msg.Delivery, message.DeliveryFailed)
	}

	snap := loop.Snapshot()
	if len(snap) != 1 || snap[0].Body != "hello" {
		t.Errorf("snapshot = %+v, want the failed message kept locally", snap)
	}
}

// TestRefreshReplacesView tests the wholesale replacement: the view
// after a poll is exactly what the store served, in store order.
func TestRefreshReplacesView(t *testing.T) {
	store := &fakeStore{rows: []message.Message{
		{ID: "1", Author: "ada", Body: "first"},
		{ID: "2", Author: "bob", Body: "second"},
	}}
	loop := newTestLoop(t, Config{Store: store})

	if err := loop.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}

	snap := loop.Snapshot()
	if len(snap) != 2 || snap[0].ID != "1" || snap[1].ID != "2" {
		t.Fatalf("snapshot = %+v, want rows 1, 2 in store order", snap)
	}

	// A shrunken remote log shrinks the view too; nothing is patched in.
	store.mu.Lock()
	store.rows = store.rows[:1]
	store.mu.Unlock()

	if err := loop.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh() error: %v", err)
	}
	if snap = loop.Snapshot(); len(snap) != 1 {
		t.Errorf("snapshot has %d messages after shrink, want 1", len(snap))
	}
}

// TestRefreshFailureKeepsPriorView tests that a failed poll does not
// clear the view.
func TestRefreshFailureKeepsPriorView(t *testing.T) {
	store := &fakeStore{rows: []message.Message{{ID: "1", Author: "ada", Body: "first"}}}
	loop := newTestLoop(t, Config{Store: store})

	if err := loop.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}

	store.mu.Lock()
	store.listErr = errors.New("store down")
	store.mu.Unlock()

	if err := loop.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if snap := loop.Snapshot(); len(snap) != 1 {
		t.Errorf("snapshot has %d messages after failed poll, want 1", len(snap))
	}
}

// TestRefreshPrunesConfirmedPending tests the overlay de-duplication:
// once a poll returns the submitted message, the optimistic copy is
// dropped and the row appears exactly once.
func TestRefreshPrunesConfirmedPending(t *testing.T) {
	store := &fakeStore{}
	loop := newTestLoop(t, Config{Store: store})

	if _, err := loop.Submit(context.Background(), SubmitRequest{Author: "ada", Body: "hello"}); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	// The store echoes the row back with its own ID but the same
	// client ID.
	store.mu.Lock()
	store.rows[0].ID = "41"
	store.mu.Unlock()

	if err := loop.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}

	snap := loop.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot has %d messages, want 1 (no duplicate)", len(snap))
	}
	if snap[0].ID != "41" {
		t.Errorf("ID = %q, want the authoritative row", snap[0].ID)
	}
}

// TestRunGatesOnConsent tests that the loop polls only after consent.
func TestRunGatesOnConsent(t *testing.T) {
	store := &fakeStore{}
	sess := session.New()
	loop := newTestLoop(t, Config{
		Store:    store,
		Session:  sess,
		Interval: 5 * time.Millisecond,
	})

	if loop.State() != StateAwaitingConsent {
		t.Fatalf("state = %q, want %q", loop.State(), StateAwaitingConsent)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	store.mu.Lock()
	listsBeforeConsent := store.lists
	store.mu.Unlock()
	if listsBeforeConsent != 0 {
		t.Errorf("polled %d times before consent", listsBeforeConsent)
	}

	sess.GrantConsent()
	if loop.State() != StateActive {
		t.Fatalf("state = %q, want %q", loop.State(), StateActive)
	}

	deadline := time.After(time.Second)
	for {
		store.mu.Lock()
		lists := store.lists
		store.mu.Unlock()
		if lists > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("loop never polled after consent")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() returned %v, want context.Canceled", err)
	}
}

// TestGatedAcquirerPreciseNeedsConsent tests the consent gate: precise
// is downgraded without consent while the IP lookup still runs.
func TestGatedAcquirerPreciseNeedsConsent(t *testing.T) {
	inner := &stubAcquirer{}
	sess := session.New()
	gated := &GatedAcquirer{Geo: inner, Session: sess}

	gated.Acquire(context.Background(), true)
	if len(inner.wantPrecise) != 1 || inner.wantPrecise[0] {
		t.Errorf("precise flags before consent = %v, want one false call", inner.wantPrecise)
	}

	sess.GrantConsent()
	gated.Acquire(context.Background(), true)
	if len(inner.wantPrecise) != 2 || !inner.wantPrecise[1] {
		t.Errorf("precise flags after consent = %v, want second call true", inner.wantPrecise)
	}
}

// TestGatedAcquirerIPGate tests the opt-in strict mode where even IP
// lookups wait for consent.
func TestGatedAcquirerIPGate(t *testing.T) {
	inner := &stubAcquirer{}
	sess := session.New()
	gated := &GatedAcquirer{Geo: inner, Session: sess, RequireConsentForIP: true}

	rec := gated.Acquire(context.Background(), false)
	if len(inner.wantPrecise) != 0 {
		t.Error("inner acquirer reached before consent in strict mode")
	}
	if rec.Status != geo.StatusNotRequested {
		t.Errorf("status = %q, want %q", rec.Status, geo.StatusNotRequested)
	}

	sess.GrantConsent()
	gated.Acquire(context.Background(), false)
	if len(inner.wantPrecise) != 1 {
		t.Error("inner acquirer not reached after consent")
	}
}
