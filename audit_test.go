package authkit

import (
	"context"
	"sync"
	"testing"
)

// collectSink records every event it receives.
type collectSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *collectSink) Emit(_ context.Context, event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *collectSink) byType(eventType string) []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditEvent
	for _, e := range s.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := &collectSink{}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 16, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: auditEventSignInSuccess})
	}
	// Close must flush everything already buffered.
	d.Close()

	if got := len(sink.byType(auditEventSignInSuccess)); got != 10 {
		t.Fatalf("delivered %d events, want 10", got)
	}
	if d.Dropped() != 0 {
		t.Fatalf("dropped = %d, want 0", d.Dropped())
	}
}

func TestDispatcherEmitAfterCloseIsNoOp(t *testing.T) {
	sink := &collectSink{}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 4, DropIfFull: true}, sink)
	d.Close()

	d.Emit(context.Background(), AuditEvent{EventType: auditEventSignInSuccess})
	if got := len(sink.byType(auditEventSignInSuccess)); got != 0 {
		t.Fatalf("delivered %d events after close", got)
	}
}

func TestDispatcherDisabledReturnsNil(t *testing.T) {
	if d := newAuditDispatcher(AuditConfig{Enabled: false}, &collectSink{}); d != nil {
		t.Fatal("disabled dispatcher must be nil")
	}
	// Nil-safe calls.
	var d *auditDispatcher
	d.Emit(context.Background(), AuditEvent{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reported drops")
	}
}

func TestEngineEmitsSignInAudit(t *testing.T) {
	cfg := engineTestConfig()
	cfg.Audit.Enabled = true

	sink := &collectSink{}
	st := memoryStoreWithUser(t)
	engine, err := New().
		WithStore(st).
		WithConfig(cfg).
		WithHasher(plainHasher{}).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	ctx := WithClientIP(context.Background(), "10.1.2.3")
	if _, err := engine.SignIn(ctx, "ops@example.com", "correct-horse", ""); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if _, err := engine.SignIn(ctx, "ops@example.com", "wrong", ""); err == nil {
		t.Fatal("expected failure")
	}
	engine.Close()

	success := sink.byType(auditEventSignInSuccess)
	if len(success) != 1 {
		t.Fatalf("got %d success events, want 1", len(success))
	}
	if success[0].UserID != "u1" || success[0].IP != "10.1.2.3" || !success[0].Success {
		t.Fatalf("bad success event: %+v", success[0])
	}

	failure := sink.byType(auditEventSignInFailure)
	if len(failure) != 1 {
		t.Fatalf("got %d failure events, want 1", len(failure))
	}
	if failure[0].Error != string(auditErrInvalidCredentials) {
		t.Fatalf("failure event error = %q", failure[0].Error)
	}
}

func TestEngineEmitsRefreshReuseAudit(t *testing.T) {
	cfg := engineTestConfig()
	cfg.Audit.Enabled = true

	sink := &collectSink{}
	st := memoryStoreWithUser(t)
	engine, err := New().
		WithStore(st).
		WithConfig(cfg).
		WithHasher(plainHasher{}).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	result, err := engine.SignIn(context.Background(), "ops@example.com", "correct-horse", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Refresh(context.Background(), result.RefreshToken); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Refresh(context.Background(), result.RefreshToken); err == nil {
		t.Fatal("expected replay rejection")
	}
	engine.Close()

	if got := len(sink.byType(auditEventRefreshReuse)); got != 1 {
		t.Fatalf("got %d reuse events, want 1", got)
	}
}
