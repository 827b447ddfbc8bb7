package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/formationhq/riskgate/internal/domain"
)

func sampleAssessment(recommendation domain.Recommendation) *domain.RiskAssessment {
	return &domain.RiskAssessment{
		AssessmentID:    "asmt-001",
		OrderID:         "ord-001",
		TenantID:        "tenant-001",
		CustomerID:      "cust-001",
		AggregatedScore: 64,
		Level:           domain.LevelHigh,
		Recommendation:  recommendation,
		CreatedAt:       time.Now().UTC(),
	}
}

func awaitCount(t *testing.T, c *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.Load() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d deliveries, got %d", want, c.Load())
}

func TestChannelBusAssessmentEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("RecordedEventRoundTrips", func(t *testing.T) {
		eventBus := NewChannelBus(100)
		defer eventBus.Close()

		var got atomic.Pointer[domain.Message]
		var wg sync.WaitGroup
		wg.Add(1)

		_, err := eventBus.Subscribe(ctx, "tenant-001", domain.TopicAssessmentRecorded, func(ctx context.Context, msg *domain.Message) error {
			got.Store(msg)
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		time.Sleep(10 * time.Millisecond)

		if err := PublishAssessmentRecorded(ctx, eventBus, sampleAssessment(domain.RecommendApprove)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for assessment event")
		}

		ev, err := DecodeAssessmentEvent(got.Load())
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if ev.OrderID != "ord-001" || ev.AssessmentID != "asmt-001" {
			t.Errorf("unexpected event identity: %+v", ev)
		}
		if ev.Score != 64 || ev.Level != domain.LevelHigh {
			t.Errorf("unexpected scoring projection: %+v", ev)
		}
	})

	t.Run("VerifyFansOutToHeld", func(t *testing.T) {
		eventBus := NewChannelBus(100)
		defer eventBus.Close()

		var recorded, held, refused atomic.Int32

		eventBus.Subscribe(ctx, "tenant-001", domain.TopicAssessmentRecorded, func(ctx context.Context, msg *domain.Message) error {
			recorded.Add(1)
			return nil
		})
		eventBus.Subscribe(ctx, "tenant-001", domain.TopicAssessmentHeld, func(ctx context.Context, msg *domain.Message) error {
			held.Add(1)
			return nil
		})
		eventBus.Subscribe(ctx, "tenant-001", domain.TopicAssessmentRefused, func(ctx context.Context, msg *domain.Message) error {
			refused.Add(1)
			return nil
		})
		time.Sleep(10 * time.Millisecond)

		if err := PublishAssessmentRecorded(ctx, eventBus, sampleAssessment(domain.RecommendVerify)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		awaitCount(t, &recorded, 1)
		awaitCount(t, &held, 1)
		if refused.Load() != 0 {
			t.Errorf("VERIFY must not reach assessment.refused, got %d", refused.Load())
		}
	})

	t.Run("DeclineFansOutToRefused", func(t *testing.T) {
		eventBus := NewChannelBus(100)
		defer eventBus.Close()

		var refused atomic.Int32

		eventBus.Subscribe(ctx, "tenant-002", domain.TopicAssessmentRefused, func(ctx context.Context, msg *domain.Message) error {
			refused.Add(1)
			return nil
		})
		time.Sleep(10 * time.Millisecond)

		a := sampleAssessment(domain.RecommendDecline)
		a.TenantID = "tenant-002"
		if err := PublishAssessmentRecorded(ctx, eventBus, a); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		awaitCount(t, &refused, 1)
	})
}

func TestChannelBusTenantIsolation(t *testing.T) {
	eventBus := NewChannelBus(100)
	defer eventBus.Close()

	ctx := context.Background()
	var acme, globex atomic.Int32

	eventBus.Subscribe(ctx, "acme", domain.TopicAssessmentRecorded, func(ctx context.Context, msg *domain.Message) error {
		acme.Add(1)
		return nil
	})
	eventBus.Subscribe(ctx, "globex", domain.TopicAssessmentRecorded, func(ctx context.Context, msg *domain.Message) error {
		globex.Add(1)
		return nil
	})
	time.Sleep(10 * time.Millisecond)

	a := sampleAssessment(domain.RecommendApprove)
	a.TenantID = "acme"
	if err := PublishAssessmentRecorded(ctx, eventBus, a); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	awaitCount(t, &acme, 1)
	if globex.Load() != 0 {
		t.Errorf("another tenant's subscriber saw the event, got %d", globex.Load())
	}
}

func TestChannelBusGlobalSubscriber(t *testing.T) {
	eventBus := NewChannelBus(100)
	defer eventBus.Close()

	ctx := context.Background()
	var seen atomic.Int32

	_, err := eventBus.Subscribe(ctx, domain.GlobalSubscriber, domain.TopicOrderSubmitted, func(ctx context.Context, msg *domain.Message) error {
		seen.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	req := domain.SubmissionRequest{OrderID: "ord-acme"}
	if err := PublishSubmissionQueued(ctx, eventBus, "acme", &req); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	req2 := domain.SubmissionRequest{OrderID: "ord-globex"}
	if err := PublishSubmissionQueued(ctx, eventBus, "globex", &req2); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	awaitCount(t, &seen, 2)

	// Publishing under the global subscriber itself must be rejected.
	if err := eventBus.Publish(ctx, domain.GlobalSubscriber, domain.TopicOrderSubmitted, []byte("{}")); err == nil {
		t.Error("expected error publishing as the global subscriber")
	}
}

func TestDecodeSubmissionQueued(t *testing.T) {
	eventBus := NewChannelBus(100)
	defer eventBus.Close()

	ctx := context.Background()
	var got atomic.Pointer[domain.Message]
	var wg sync.WaitGroup
	wg.Add(1)

	eventBus.Subscribe(ctx, domain.GlobalSubscriber, domain.TopicOrderSubmitted, func(ctx context.Context, msg *domain.Message) error {
		got.Store(msg)
		wg.Done()
		return nil
	})
	time.Sleep(10 * time.Millisecond)

	req := domain.SubmissionRequest{
		OrderID: "ord-decode",
		Order:   domain.OrderInfo{ProductCode: "LLC_FORMATION", Value: 349, Currency: "USD"},
	}
	if err := PublishSubmissionQueued(ctx, eventBus, "acme", &req); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for submission event")
	}

	ev, err := DecodeSubmissionQueued(got.Load())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if ev.TenantID != "acme" {
		t.Errorf("expected tenant 'acme', got '%s'", ev.TenantID)
	}
	if ev.Submission.OrderID != "ord-decode" || ev.Submission.Order.Value != 349 {
		t.Errorf("submission did not round-trip: %+v", ev.Submission)
	}

	if _, err := DecodeSubmissionQueued(&domain.Message{Payload: []byte("not json")}); err == nil {
		t.Error("expected decode error for malformed payload")
	}
}

func TestChannelBusUnsubscribe(t *testing.T) {
	eventBus := NewChannelBus(100)
	defer eventBus.Close()

	ctx := context.Background()
	var count atomic.Int32

	sub, _ := eventBus.Subscribe(ctx, "tenant-001", domain.TopicReviewDecided, func(ctx context.Context, msg *domain.Message) error {
		count.Add(1)
		return nil
	})
	time.Sleep(10 * time.Millisecond)

	decision := &domain.ReviewDecision{AssessmentID: "asmt-001", ReviewerID: "rev-1", Outcome: domain.ReviewConfirm}
	PublishReviewDecided(ctx, eventBus, "tenant-001", decision)
	awaitCount(t, &count, 1)

	sub.Unsubscribe()
	time.Sleep(10 * time.Millisecond)

	PublishReviewDecided(ctx, eventBus, "tenant-001", decision)
	time.Sleep(50 * time.Millisecond)

	if count.Load() != 1 {
		t.Errorf("expected no deliveries after unsubscribe, got %d", count.Load())
	}

	if sub.Topic() != domain.TopicReviewDecided {
		t.Errorf("unexpected subscription topic '%s'", sub.Topic())
	}
}

func TestChannelBusClose(t *testing.T) {
	eventBus := NewChannelBus(100)

	ctx := context.Background()

	eventBus.Subscribe(ctx, "tenant-001", domain.TopicPaymentCaptured, func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := eventBus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}

	ev := CaptureEvent{TenantID: "tenant-001", OrderID: "ord-001", AssessmentID: "asmt-001", CapturedAt: time.Now().UTC()}
	if err := PublishPaymentCaptured(ctx, eventBus, ev); err == nil {
		t.Error("expected publish error after close")
	}
	if err := eventBus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		cfg := domain.EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 50,
		}

		eventBus, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer eventBus.Close()

		if _, ok := eventBus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		_, err := New(domain.EventBusConfig{Type: "kafka"})
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	eventBus := NewChannelBus(1000)
	defer eventBus.Close()

	ctx := context.Background()

	var received atomic.Int32
	const eventCount = 100

	var wg sync.WaitGroup
	wg.Add(eventCount)

	eventBus.Subscribe(ctx, "tenant-load", domain.TopicAssessmentRecorded, func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})
	time.Sleep(10 * time.Millisecond)

	a := sampleAssessment(domain.RecommendApprove)
	a.TenantID = "tenant-load"
	for i := 0; i < eventCount; i++ {
		if err := PublishAssessmentRecorded(ctx, eventBus, a); err != nil {
			t.Fatalf("publish %d failed: %v", i, err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Load() != eventCount {
			t.Errorf("expected %d events, got %d", eventCount, received.Load())
		}
		if eventBus.Dropped() != 0 {
			t.Errorf("expected no drops with a large buffer, got %d", eventBus.Dropped())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d events", received.Load(), eventCount)
	}
}
