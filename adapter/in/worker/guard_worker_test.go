package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"phishguard/adapter/out/messaging"
	"phishguard/core/domain"
	"phishguard/core/port/in"
	"phishguard/core/port/out"
	"phishguard/core/service/detection"

	"github.com/rs/zerolog"
)

type stubScoring struct {
	textCalls atomic.Int32
	urlCalls  atomic.Int32
	fail      atomic.Bool
}

func (s *stubScoring) ScoreText(_ context.Context, text string, urls []string) (*domain.ScoreResult, error) {
	s.textCalls.Add(1)
	if s.fail.Load() {
		return nil, &domain.ScoringError{Kind: domain.FailureServiceUnreachable, Err: errors.New("down")}
	}
	return &domain.ScoreResult{Text: &domain.SignalVerdict{RiskScore: 42}}, nil
}

func (s *stubScoring) ScoreURL(context.Context, string) (*domain.SignalVerdict, error) {
	s.urlCalls.Add(1)
	if s.fail.Load() {
		return nil, &domain.ScoringError{Kind: domain.FailureServiceUnreachable, Err: errors.New("down")}
	}
	return &domain.SignalVerdict{RiskScore: 10}, nil
}

func (s *stubScoring) Health(context.Context) error { return nil }

type enabled struct{}

func (enabled) Current() domain.DetectionSettings { return domain.DefaultDetectionSettings() }

func newOrchestrator(scoring *stubScoring) *detection.Orchestrator {
	return detection.NewOrchestrator(detection.NewAnalysisCache(), scoring, enabled{}, nil)
}

type stubSettings struct {
	reloads atomic.Int32
}

func (s *stubSettings) Current() domain.DetectionSettings { return domain.DefaultDetectionSettings() }

func (s *stubSettings) Update(context.Context, *in.UpdateSettingsRequest) (domain.DetectionSettings, error) {
	return domain.DefaultDetectionSettings(), nil
}

func (s *stubSettings) Reload(context.Context) (domain.DetectionSettings, error) {
	s.reloads.Add(1)
	return domain.DefaultDetectionSettings(), nil
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"observed", `{"id":"1","type":"content.observed","url":"https://a.example/"}`, false},
		{"removed", `{"type":"content.removed","identity":"msg:1"}`, false},
		{"settings", `{"type":"settings.changed"}`, false},
		{"unknown type", `{"type":"mail.sync"}`, true},
		{"not json", `{{`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvent([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, messaging.ErrMalformedEvent) {
				t.Errorf("err = %v, want ErrMalformedEvent", err)
			}
		})
	}
}

func TestDispatchObserveAndRemove(t *testing.T) {
	scoring := &stubScoring{}
	orch := newOrchestrator(scoring)
	rescan := NewRescanScheduler(orch, 0, 10)
	d := NewDispatcher(orch, nil, rescan, nil, zerolog.Nop())
	ctx := context.Background()

	ev := &out.ContentEvent{Type: out.ContentObserved, MessageID: "m-1", Text: "click https://x.example/"}
	for i := 0; i < 3; i++ {
		if err := d.Dispatch(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	if n := scoring.textCalls.Load(); n != 1 {
		t.Errorf("text scoring calls = %d, want 1", n)
	}
	if rescan.Len() != 1 {
		t.Errorf("tracked = %d, want 1", rescan.Len())
	}

	if err := d.Dispatch(ctx, &out.ContentEvent{Type: out.ContentRemoved, Identity: "msg:m-1"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := orch.Record(domain.ContentIdentity{Kind: domain.IdentityElement, Key: "msg:m-1"}); ok {
		t.Error("record should be gone after removal")
	}
	if rescan.Len() != 0 {
		t.Errorf("tracked = %d after removal, want 0", rescan.Len())
	}

	if err := d.Dispatch(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if n := scoring.textCalls.Load(); n != 2 {
		t.Errorf("text scoring calls = %d after re-observe, want 2", n)
	}
}

func TestDispatchForceReanalyzes(t *testing.T) {
	scoring := &stubScoring{}
	orch := newOrchestrator(scoring)
	d := NewDispatcher(orch, nil, nil, nil, zerolog.Nop())

	ev := &out.ContentEvent{Type: out.ContentObserved, URL: "https://page.example/"}
	d.Dispatch(context.Background(), ev)
	ev.Force = true
	d.Dispatch(context.Background(), ev)

	if n := scoring.urlCalls.Load(); n != 2 {
		t.Errorf("url scoring calls = %d, want 2", n)
	}
}

func TestDispatchSettingsChanged(t *testing.T) {
	settings := &stubSettings{}
	d := NewDispatcher(newOrchestrator(&stubScoring{}), settings, nil, nil, zerolog.Nop())
	if err := d.Dispatch(context.Background(), &out.ContentEvent{Type: out.SettingsChanged}); err != nil {
		t.Fatal(err)
	}
	if settings.reloads.Load() != 1 {
		t.Errorf("reloads = %d, want 1", settings.reloads.Load())
	}
}

func TestDispatchUnresolvableIsDropped(t *testing.T) {
	scoring := &stubScoring{}
	d := NewDispatcher(newOrchestrator(scoring), nil, nil, nil, zerolog.Nop())
	if err := d.Dispatch(context.Background(), &out.ContentEvent{Type: out.ContentObserved}); err != nil {
		t.Errorf("err = %v, want nil", err)
	}
	if scoring.textCalls.Load()+scoring.urlCalls.Load() != 0 {
		t.Error("nothing should be scored")
	}
}

func TestRescanUsesCache(t *testing.T) {
	scoring := &stubScoring{}
	orch := newOrchestrator(scoring)
	rescan := NewRescanScheduler(orch, 0, 10)
	d := NewDispatcher(orch, nil, rescan, nil, zerolog.Nop())
	ctx := context.Background()

	d.Dispatch(ctx, &out.ContentEvent{Type: out.ContentObserved, URL: "https://a.example/"})
	d.Dispatch(ctx, &out.ContentEvent{Type: out.ContentObserved, ElementID: "e-1", Text: "hello"})
	before := scoring.textCalls.Load() + scoring.urlCalls.Load()

	if n := rescan.Sweep(ctx); n != 0 {
		t.Errorf("Sweep analyzed %d, want 0", n)
	}
	if after := scoring.textCalls.Load() + scoring.urlCalls.Load(); after != before {
		t.Errorf("scoring calls grew from %d to %d on a cached sweep", before, after)
	}
}

func TestRescanRetriesFailed(t *testing.T) {
	scoring := &stubScoring{}
	scoring.fail.Store(true)
	orch := newOrchestrator(scoring)
	rescan := NewRescanScheduler(orch, 0, 10)
	d := NewDispatcher(orch, nil, rescan, nil, zerolog.Nop())
	ctx := context.Background()

	d.Dispatch(ctx, &out.ContentEvent{Type: out.ContentObserved, URL: "https://a.example/"})
	rec, _ := orch.Record(domain.ContentIdentity{Kind: domain.IdentityURL, Key: "https://a.example/"})
	if rec.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want Failed", rec.Status)
	}

	scoring.fail.Store(false)
	if n := rescan.Sweep(ctx); n != 1 {
		t.Errorf("Sweep analyzed %d, want 1", n)
	}
	rec, _ = orch.Record(domain.ContentIdentity{Kind: domain.IdentityURL, Key: "https://a.example/"})
	if rec.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want Completed", rec.Status)
	}
}

func TestRescanBounded(t *testing.T) {
	rescan := NewRescanScheduler(newOrchestrator(&stubScoring{}), 0, 2)
	src := domain.StaticSignals(domain.ContentSignals{Text: "x"})

	rescan.Track(domain.ContentIdentity{Kind: domain.IdentityElement, Key: "el:1"}, src)
	time.Sleep(time.Millisecond)
	rescan.Track(domain.ContentIdentity{Kind: domain.IdentityElement, Key: "el:2"}, src)
	time.Sleep(time.Millisecond)
	rescan.Track(domain.ContentIdentity{Kind: domain.IdentityElement, Key: "el:3"}, src)

	if rescan.Len() != 2 {
		t.Fatalf("tracked = %d, want 2", rescan.Len())
	}
	rescan.mu.Lock()
	_, hasOldest := rescan.units["el:1"]
	rescan.mu.Unlock()
	if hasOldest {
		t.Error("oldest unit should have been evicted")
	}
}

func TestRescanStartStop(t *testing.T) {
	rescan := NewRescanScheduler(newOrchestrator(&stubScoring{}), 10*time.Millisecond, 10)
	rescan.Start()
	time.Sleep(30 * time.Millisecond)
	rescan.Stop()

	disabled := NewRescanScheduler(newOrchestrator(&stubScoring{}), 0, 10)
	disabled.Start()
	disabled.Stop()
}

func TestPoolProcessesEvents(t *testing.T) {
	scoring := &stubScoring{}
	orch := newOrchestrator(scoring)
	p := NewPool(NewDispatcher(orch, nil, nil, nil, zerolog.Nop()), &PoolConfig{Workers: 4, WorkerChanSize: 10}, zerolog.Nop())

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Handle(ctx, messaging.StreamContentEvents, []byte(`{"type":"content.observed","url":"https://same.example/"}`))
		}()
	}
	wg.Wait()

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}

	m := p.Metrics()
	if m.Submitted != 20 || m.Processed != 20 {
		t.Errorf("metrics = %+v", m)
	}
	if n := scoring.urlCalls.Load(); n != 1 {
		t.Errorf("url scoring calls = %d, want 1", n)
	}

	if err := p.Handle(ctx, "", []byte(`{"type":"content.observed","url":"https://b.example/"}`)); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Handle after stop = %v, want ErrPoolStopped", err)
	}
	if err := p.Handle(ctx, "", []byte(`nope`)); !errors.Is(err, messaging.ErrMalformedEvent) {
		t.Errorf("Handle malformed = %v, want ErrMalformedEvent", err)
	}
}
