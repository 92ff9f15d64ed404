package formguard

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestDispatcherDeliversInOrderAndDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(16)
	d := newAuditDispatcher(AuditConfig{BufferSize: 16}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), AuditEvent{
			EventType: AuditCaptchaIssued,
			Identity:  "u1",
		})
	}
	d.Close()

	received := 0
	for {
		select {
		case <-sink.Events():
			received++
		default:
			if received != 5 {
				t.Fatalf("expected 5 events after drain, got %d", received)
			}
			return
		}
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	// A sink that never consumes: the buffer fills and stays full.
	blocked := make(chan struct{})
	sink := blockingSink{release: blocked}

	d := newAuditDispatcher(AuditConfig{BufferSize: 1}, sink)
	defer func() {
		close(blocked)
		d.Close()
	}()

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: AuditCaptchaIssued})
	}

	// The run goroutine holds at most one event in flight plus one buffered;
	// the rest must be counted as dropped, not silently lost.
	if d.Dropped() == 0 {
		t.Fatal("expected drop counter to advance under backpressure")
	}
}

type blockingSink struct {
	release <-chan struct{}
}

func (s blockingSink) Emit(_ context.Context, _ AuditEvent) {
	<-s.release
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Disabled: true}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	// Nil receivers must be safe on the hot path.
	d.Emit(context.Background(), AuditEvent{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("expected zero drops from nil dispatcher")
	}
}

func TestJSONWriterSinkWritesOneEventPerLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Unix(1700000000, 0).UTC(),
		EventType: AuditTOTPVerified,
		Identity:  "u1",
		Success:   true,
	})
	sink.Emit(context.Background(), AuditEvent{
		EventType: AuditCaptchaFailed,
		Reason:    ReasonCaptchaInvalid,
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var first AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode first line failed: %v", err)
	}
	if first.EventType != AuditTOTPVerified || first.Identity != "u1" || !first.Success {
		t.Fatalf("first event mismatch: %+v", first)
	}
}

func TestGuardEmitsAuditEventsThroughSink(t *testing.T) {
	cfg := guardTestConfig()
	cfg.Audit.Disabled = false
	sink := NewChannelSink(64)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	guard, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("guard build failed: %v", err)
	}

	if _, err := guard.IssueCaptcha(context.Background()); err != nil {
		t.Fatalf("IssueCaptcha failed: %v", err)
	}
	guard.Close()

	select {
	case event := <-sink.Events():
		if event.EventType != AuditCaptchaIssued {
			t.Fatalf("expected captcha_issued event, got %s", event.EventType)
		}
	default:
		t.Fatal("expected an audit event after Close drain")
	}
}
