package realtime

import (
	"bytes"
	"context"
	"testing"
	"time"

	"phishguard/core/domain"

	"github.com/rs/zerolog"
)

func drain(ch <-chan *domain.PresentationEvent) []*domain.PresentationEvent {
	var out []*domain.PresentationEvent
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func testVerdict(at time.Time) *domain.CombinedVerdict {
	return &domain.CombinedVerdict{RiskScore: 88, Category: domain.CategoryPhishing, IsPhishing: true, GeneratedAt: at}
}

func TestPublishIsIdempotentPerVerdict(t *testing.T) {
	hub := NewPresenterHub(zerolog.Nop())
	ch := hub.Subscribe("tab-1")
	id := domain.ContentIdentity{Kind: domain.IdentityElement, Key: "msg:1"}
	v := testVerdict(time.Unix(100, 0))

	for i := 0; i < 3; i++ {
		hub.Publish(context.Background(), domain.NewVerdictEvent(id, v))
	}
	if got := drain(ch); len(got) != 1 {
		t.Fatalf("delivered = %d, want 1", len(got))
	}

	// a re-analysis produces a new verdict
	hub.Publish(context.Background(), domain.NewVerdictEvent(id, testVerdict(time.Unix(200, 0))))
	if got := drain(ch); len(got) != 1 {
		t.Fatalf("delivered = %d, want the new verdict", len(got))
	}
	if m := hub.GetMetrics(); m.Deduplicated != 2 {
		t.Errorf("deduplicated = %d, want 2", m.Deduplicated)
	}
}

func TestForgetAllowsRedelivery(t *testing.T) {
	hub := NewPresenterHub(zerolog.Nop())
	ch := hub.Subscribe("tab-1")
	id := domain.ContentIdentity{Kind: domain.IdentityURL, Key: "https://a.example/"}
	v := testVerdict(time.Unix(100, 0))

	hub.Publish(context.Background(), domain.NewVerdictEvent(id, v))
	hub.Forget(id.String())
	hub.Publish(context.Background(), domain.NewVerdictEvent(id, v))

	if got := drain(ch); len(got) != 2 {
		t.Fatalf("delivered = %d, want 2 after Forget", len(got))
	}
}

func TestSubscribeReplaysLatest(t *testing.T) {
	hub := NewPresenterHub(zerolog.Nop())
	id := domain.ContentIdentity{Kind: domain.IdentityElement, Key: "msg:2"}
	hub.Publish(context.Background(), domain.NewVerdictEvent(id, testVerdict(time.Unix(1, 0))))

	ch := hub.Subscribe("late")
	got := drain(ch)
	if len(got) != 1 || got[0].Identity != "msg:2" {
		t.Fatalf("replay = %+v", got)
	}

	hub.Publish(context.Background(), domain.NewRemovedEvent(id))
	drain(ch)
	if hub.GetMetrics().TrackedVerdicts != 0 {
		t.Error("removal should clear the replay memo")
	}
}

func TestSequenceAndUnsubscribe(t *testing.T) {
	hub := NewPresenterHub(zerolog.Nop())
	ch := hub.Subscribe("c")
	id := domain.ContentIdentity{Kind: domain.IdentityElement, Key: "msg:3"}

	hub.Publish(context.Background(), domain.NewFailureEvent(id, domain.FailureServiceUnreachable))
	hub.Publish(context.Background(), domain.NewFailureEvent(id, domain.FailureServiceUnreachable))
	got := drain(ch)
	if len(got) != 2 || got[1].Seq <= got[0].Seq {
		t.Fatalf("failure events = %+v, want two ordered events", got)
	}

	hub.Unsubscribe("c")
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
	if hub.ConnectedCount() != 0 {
		t.Error("client should be removed")
	}
}

func TestSerializeEvent(t *testing.T) {
	id := domain.ContentIdentity{Kind: domain.IdentityElement, Key: "msg:4"}
	frame, err := SerializeEvent(domain.NewVerdictEvent(id, testVerdict(time.Unix(1, 0))))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(frame, []byte("event: verdict.completed\ndata: {")) || !bytes.HasSuffix(frame, []byte("\n\n")) {
		t.Errorf("frame = %q", frame)
	}
}
