package detection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"phishguard/core/domain"
	"phishguard/core/port/out"
)

type fakeScoring struct {
	textCalls atomic.Int32
	urlCalls  atomic.Int32

	// started is signalled on every call; release gates the answer when set.
	started chan struct{}
	release chan struct{}

	textResult *domain.ScoreResult
	urlScores  map[string]float64
	err        error

	mu       sync.Mutex
	lastText string
	lastURLs []string
}

func (f *fakeScoring) ScoreText(ctx context.Context, text string, urls []string) (*domain.ScoreResult, error) {
	f.textCalls.Add(1)
	f.mu.Lock()
	f.lastText, f.lastURLs = text, urls
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	r := *f.textResult
	if r.Text != nil {
		tv := *r.Text
		r.Text = &tv
	}
	r.URLs = append([]domain.URLVerdict(nil), r.URLs...)
	return &r, nil
}

func (f *fakeScoring) ScoreURL(ctx context.Context, url string) (*domain.SignalVerdict, error) {
	f.urlCalls.Add(1)
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &domain.SignalVerdict{RiskScore: f.urlScores[url], Explanations: []string{"checked " + url}}, nil
}

func (f *fakeScoring) Health(context.Context) error { return nil }

func (f *fakeScoring) wait(ctx context.Context) error {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release == nil {
		return nil
	}
	select {
	case <-f.release:
		return nil
	case <-ctx.Done():
		return &domain.ScoringError{Kind: domain.FailureServiceUnreachable, Err: ctx.Err()}
	}
}

type fakeSettings struct {
	mu sync.Mutex
	s  domain.DetectionSettings
}

func (f *fakeSettings) Current() domain.DetectionSettings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

func (f *fakeSettings) set(s domain.DetectionSettings) {
	f.mu.Lock()
	f.s = s
	f.mu.Unlock()
}

type fakePresenter struct {
	mu     sync.Mutex
	events []*domain.PresentationEvent
	forgot []string
}

func (f *fakePresenter) Publish(_ context.Context, ev *domain.PresentationEvent) error {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	return nil
}

func (f *fakePresenter) Forget(identity string) {
	f.mu.Lock()
	f.forgot = append(f.forgot, identity)
	f.mu.Unlock()
}

func (f *fakePresenter) count(t domain.PresentationEventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type fakeVerdictLog struct {
	mu      sync.Mutex
	entries []*out.VerdictLogEntry
}

func (f *fakeVerdictLog) Append(_ context.Context, e *out.VerdictLogEntry) error {
	f.mu.Lock()
	f.entries = append(f.entries, e)
	f.mu.Unlock()
	return nil
}

func (f *fakeVerdictLog) ListByIdentity(context.Context, string, int) ([]*out.VerdictLogEntry, error) {
	return nil, nil
}

func newTestOrchestrator(scoring *fakeScoring) (*Orchestrator, *fakeSettings, *fakePresenter) {
	settings := &fakeSettings{s: domain.DefaultDetectionSettings()}
	presenter := &fakePresenter{}
	o := NewOrchestrator(NewAnalysisCache(), scoring, settings, nil).WithPresenter(presenter)
	return o, settings, presenter
}

func textResult(score float64, phishing bool) *domain.ScoreResult {
	return &domain.ScoreResult{
		Text: &domain.SignalVerdict{RiskScore: score, IsPhishing: phishing, Explanations: []string{"body"}},
	}
}

var emailSignals = domain.StaticSignals(domain.ContentSignals{Text: "Please verify your account", URLs: []string{"https://login.example.com/"}})

func TestObserveCompletesAndCaches(t *testing.T) {
	scoring := &fakeScoring{textResult: textResult(82, false)}
	o, _, presenter := newTestOrchestrator(scoring)
	id := elementID("m1")

	res := o.Observe(context.Background(), id, emailSignals)
	if res.Status != domain.ObserveCompleted || res.Verdict == nil {
		t.Fatalf("result = %+v, want completed", res)
	}
	if res.Verdict.Category != domain.CategoryPhishing {
		t.Errorf("category = %s, want PHISHING", res.Verdict.Category)
	}

	for i := 0; i < 5; i++ {
		again := o.Observe(context.Background(), id, emailSignals)
		if again.Status != domain.ObserveCompleted || again.Verdict != res.Verdict || !again.Cached {
			t.Fatalf("re-observe %d = %+v, want cached verdict", i, again)
		}
	}
	if got := scoring.textCalls.Load(); got != 1 {
		t.Errorf("scoring calls = %d, want 1", got)
	}
	if presenter.count(domain.EventVerdictCompleted) != 1 {
		t.Errorf("verdict events = %d, want 1", presenter.count(domain.EventVerdictCompleted))
	}
	if presenter.count(domain.EventNotification) != 1 {
		t.Errorf("notification events = %d, want 1 for PHISHING", presenter.count(domain.EventNotification))
	}
}

func TestObserveConcurrentDedup(t *testing.T) {
	scoring := &fakeScoring{
		textResult: textResult(45, false),
		started:    make(chan struct{}, 1),
		release:    make(chan struct{}),
	}
	o, _, _ := newTestOrchestrator(scoring)
	id := elementID("race")
	ctx := context.Background()

	first := make(chan domain.ObserveResult, 1)
	go func() { first <- o.Observe(ctx, id, emailSignals) }()
	<-scoring.started

	const n = 10
	results := make([]domain.ObserveResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if r := o.Observe(ctx, id, emailSignals); r.Status != domain.ObservePending {
				t.Errorf("concurrent observe = %s, want pending", r.Status)
			}
			results[i] = o.Await(ctx, id)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(scoring.release)
	wg.Wait()
	winner := <-first

	if got := scoring.textCalls.Load(); got != 1 {
		t.Fatalf("scoring calls = %d, want exactly 1", got)
	}
	for i, r := range results {
		if r.Status != domain.ObserveCompleted || r.Verdict != winner.Verdict {
			t.Errorf("observer %d = %+v, want the winner's verdict", i, r)
		}
	}
}

func TestObserveFailureIsRetryable(t *testing.T) {
	scoring := &fakeScoring{
		textResult: textResult(10, false),
		err:        &domain.ScoringError{Kind: domain.FailureServiceError, Op: opCombined, StatusCode: 500},
	}
	o, _, presenter := newTestOrchestrator(scoring)
	id := elementID("flaky")

	res := o.Observe(context.Background(), id, emailSignals)
	if res.Status != domain.ObserveError || res.Failure != domain.FailureServiceError {
		t.Fatalf("result = %+v, want ServiceError", res)
	}
	if presenter.count(domain.EventVerdictFailed) != 1 {
		t.Error("failure should be published")
	}

	scoring.err = nil
	res = o.Observe(context.Background(), id, emailSignals)
	if res.Status != domain.ObserveCompleted {
		t.Fatalf("retry = %+v, want completed", res)
	}
	rec, _ := o.Record(id)
	if rec.RetryCount != 1 || rec.Attempts != 2 {
		t.Errorf("record = %+v, want one retry", rec)
	}
	if got := scoring.textCalls.Load(); got != 2 {
		t.Errorf("scoring calls = %d, want 2", got)
	}
}

func TestObserveDisabledSkipsWithoutRecord(t *testing.T) {
	scoring := &fakeScoring{textResult: textResult(10, false)}
	o, settings, _ := newTestOrchestrator(scoring)
	settings.set(domain.DetectionSettings{Enabled: false})
	id := elementID("off")

	res := o.Observe(context.Background(), id, emailSignals)
	if res.Status != domain.ObserveSkipped || res.Reason != domain.SkipDisabled {
		t.Fatalf("result = %+v, want skipped/disabled", res)
	}
	if _, ok := o.Record(id); ok {
		t.Error("disabled observe must not create a record")
	}
	if scoring.textCalls.Load() != 0 {
		t.Error("disabled observe must not call scoring")
	}
}

func TestObserveEmptyExtractionReleases(t *testing.T) {
	scoring := &fakeScoring{textResult: textResult(10, false)}
	o, _, _ := newTestOrchestrator(scoring)
	id := elementID("empty")

	res := o.Observe(context.Background(), id, domain.StaticSignals(domain.ContentSignals{Text: "  \n\t "}))
	if res.Status != domain.ObserveSkipped || res.Reason != domain.SkipExtractionEmpty {
		t.Fatalf("result = %+v, want skipped/extraction_empty", res)
	}
	if _, ok := o.Record(id); ok {
		t.Error("empty extraction should leave the identity idle")
	}
}

func TestObserveExtractionErrorsAreContained(t *testing.T) {
	scoring := &fakeScoring{textResult: textResult(10, false)}
	o, _, _ := newTestOrchestrator(scoring)

	tests := []struct {
		name  string
		fetch domain.SignalSource
	}{
		{"error", func(context.Context) (domain.ContentSignals, error) {
			return domain.ContentSignals{}, errors.New("detached node")
		}},
		{"panic", func(context.Context) (domain.ContentSignals, error) {
			panic("nil element")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := elementID(tt.name)
			res := o.Observe(context.Background(), id, tt.fetch)
			if res.Status != domain.ObserveSkipped || res.Reason != domain.SkipExtractionError {
				t.Fatalf("result = %+v, want skipped/extraction_error", res)
			}
			if _, ok := o.Record(id); ok {
				t.Error("claim should be released")
			}
		})
	}
}

func TestObserveBoundsOutboundInput(t *testing.T) {
	scoring := &fakeScoring{textResult: textResult(10, false)}
	o := NewOrchestrator(NewAnalysisCache(), scoring, &fakeSettings{s: domain.DefaultDetectionSettings()},
		&OrchestratorConfig{MaxTextRunes: 10, MaxURLs: 2})

	fetch := domain.StaticSignals(domain.ContentSignals{
		Text: "héllo   wörld and more text",
		URLs: []string{"https://a.example/", "https://a.example/", " ", "https://b.example/", "https://c.example/"},
	})
	o.Observe(context.Background(), elementID("bounds"), fetch)

	scoring.mu.Lock()
	defer scoring.mu.Unlock()
	if scoring.lastText != "héllo wörl" {
		t.Errorf("text = %q, want collapsed and cut to 10 runes", scoring.lastText)
	}
	if len(scoring.lastURLs) != 2 || scoring.lastURLs[0] != "https://a.example/" || scoring.lastURLs[1] != "https://b.example/" {
		t.Errorf("urls = %v, want de-duplicated and capped", scoring.lastURLs)
	}
}

func TestObserveURLOnly(t *testing.T) {
	scoring := &fakeScoring{urlScores: map[string]float64{"https://evil.example/": 91}}
	o, _, _ := newTestOrchestrator(scoring)

	id, err := domain.URLIdentity("https://EVIL.example/#top")
	if err != nil {
		t.Fatal(err)
	}
	res := o.Observe(context.Background(), id, domain.StaticSignals(domain.ContentSignals{URLs: []string{id.Key}}))
	if res.Status != domain.ObserveCompleted {
		t.Fatalf("result = %+v", res)
	}
	if scoring.urlCalls.Load() != 1 || scoring.textCalls.Load() != 0 {
		t.Errorf("url calls = %d text calls = %d, want url scoring only", scoring.urlCalls.Load(), scoring.textCalls.Load())
	}
	if res.Verdict.RiskScore != 91 || res.Verdict.Category != domain.CategoryPhishing {
		t.Errorf("verdict = %+v", res.Verdict)
	}
}

func TestReanalyzeForcesNewCall(t *testing.T) {
	scoring := &fakeScoring{textResult: textResult(20, false)}
	o, _, _ := newTestOrchestrator(scoring)
	id := elementID("force")

	o.Observe(context.Background(), id, emailSignals)
	scoring.textResult = textResult(75, false)
	res := o.Reanalyze(context.Background(), id, emailSignals)

	if res.Cached || res.Verdict.Category != domain.CategoryPhishing {
		t.Fatalf("result = %+v, want fresh PHISHING verdict", res)
	}
	if scoring.textCalls.Load() != 2 {
		t.Errorf("scoring calls = %d, want 2", scoring.textCalls.Load())
	}
}

func TestAwaitTimeoutLeavesPending(t *testing.T) {
	scoring := &fakeScoring{
		textResult: textResult(20, false),
		started:    make(chan struct{}, 1),
		release:    make(chan struct{}),
	}
	o, _, _ := newTestOrchestrator(scoring)
	id := elementID("slow")

	go o.Observe(context.Background(), id, emailSignals)
	<-scoring.started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if res := o.Await(ctx, id); res.Status != domain.ObservePending {
		t.Errorf("Await = %+v, want pending", res)
	}
	close(scoring.release)
	if res := o.Await(context.Background(), id); res.Status != domain.ObserveCompleted {
		t.Errorf("Await after release = %+v, want completed", res)
	}
}

func TestSettingsChangeSurfacesStoredVerdicts(t *testing.T) {
	scoring := &fakeScoring{
		textResult: textResult(90, false),
		started:    make(chan struct{}, 1),
		release:    make(chan struct{}),
	}
	o, settings, presenter := newTestOrchestrator(scoring)
	id := elementID("toggle")

	done := make(chan domain.ObserveResult, 1)
	go func() { done <- o.Observe(context.Background(), id, emailSignals) }()
	<-scoring.started

	off := domain.DetectionSettings{Enabled: false, NotificationsEnabled: true}
	settings.set(off)
	o.ApplySettings(context.Background(), off)

	close(scoring.release)
	if res := <-done; res.Status != domain.ObserveCompleted {
		t.Fatalf("in-flight analysis should complete while disabled, got %+v", res)
	}
	if presenter.count(domain.EventVerdictCompleted) != 0 {
		t.Fatal("verdict must not be surfaced while disabled")
	}

	on := domain.DefaultDetectionSettings()
	settings.set(on)
	o.ApplySettings(context.Background(), on)

	if presenter.count(domain.EventVerdictCompleted) != 1 {
		t.Errorf("verdict events = %d, want 1 after re-enable", presenter.count(domain.EventVerdictCompleted))
	}
	if scoring.textCalls.Load() != 1 {
		t.Error("re-enable must not re-analyze")
	}
}

// flippingSettings runs onRead once, on the next Current call after arm.
type flippingSettings struct {
	fakeSettings
	hookMu sync.Mutex
	onRead func()
}

func (f *flippingSettings) arm(fn func()) {
	f.hookMu.Lock()
	f.onRead = fn
	f.hookMu.Unlock()
}

func (f *flippingSettings) Current() domain.DetectionSettings {
	f.hookMu.Lock()
	hook := f.onRead
	f.onRead = nil
	f.hookMu.Unlock()
	if hook != nil {
		hook()
	}
	return f.fakeSettings.Current()
}

func TestReenableDuringResolveSurfacesVerdict(t *testing.T) {
	scoring := &fakeScoring{
		textResult: textResult(90, false),
		started:    make(chan struct{}, 1),
		release:    make(chan struct{}),
	}
	settings := &flippingSettings{fakeSettings: fakeSettings{s: domain.DefaultDetectionSettings()}}
	presenter := &fakePresenter{}
	o := NewOrchestrator(NewAnalysisCache(), scoring, settings, nil).WithPresenter(presenter)
	id := elementID("flip")

	done := make(chan domain.ObserveResult, 1)
	go func() { done <- o.Observe(context.Background(), id, emailSignals) }()
	<-scoring.started

	off := domain.DetectionSettings{Enabled: false, NotificationsEnabled: true}
	settings.set(off)
	o.ApplySettings(context.Background(), off)

	// 재활성화 알림이 판정 저장 도중 도착
	on := domain.DefaultDetectionSettings()
	settings.arm(func() {
		settings.set(on)
		o.ApplySettings(context.Background(), on)
	})

	close(scoring.release)
	if res := <-done; res.Status != domain.ObserveCompleted {
		t.Fatalf("Observe = %+v, want completed", res)
	}
	settings.Current()

	if !settings.Current().Enabled {
		t.Fatal("settings should be enabled")
	}
	if n := presenter.count(domain.EventVerdictCompleted); n != 1 {
		t.Errorf("verdict events = %d, want 1 after re-enable", n)
	}
}

func TestForgetEvicts(t *testing.T) {
	scoring := &fakeScoring{textResult: textResult(20, false)}
	o, _, presenter := newTestOrchestrator(scoring)
	id := elementID("gone")

	o.Observe(context.Background(), id, emailSignals)
	o.Forget(id)

	if _, ok := o.Record(id); ok {
		t.Fatal("record should be evicted")
	}
	if presenter.count(domain.EventContentRemoved) != 1 || len(presenter.forgot) != 1 {
		t.Error("presenter should be told to drop the identity")
	}
	o.Observe(context.Background(), id, emailSignals)
	if scoring.textCalls.Load() != 2 {
		t.Error("evicted identity should be analyzed again")
	}
}

func TestVerdictLogAppend(t *testing.T) {
	scoring := &fakeScoring{textResult: textResult(20, false)}
	o, _, _ := newTestOrchestrator(scoring)
	vlog := &fakeVerdictLog{}
	o.WithVerdictLog(vlog)

	o.Observe(context.Background(), elementID("logged"), emailSignals)
	if err := o.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	vlog.mu.Lock()
	defer vlog.mu.Unlock()
	if len(vlog.entries) != 1 || vlog.entries[0].Status != domain.StatusCompleted || vlog.entries[0].Category != domain.CategorySafe {
		t.Errorf("entries = %+v", vlog.entries)
	}
}

func TestStats(t *testing.T) {
	scoring := &fakeScoring{textResult: textResult(20, false)}
	o, _, _ := newTestOrchestrator(scoring)
	o.Observe(context.Background(), elementID("s1"), emailSignals)
	o.Observe(context.Background(), elementID("s2"), emailSignals)

	s := o.Stats()
	if s.Total != 2 || s.ByStatus[domain.StatusCompleted] != 2 || !s.Enabled {
		t.Errorf("stats = %+v", s)
	}
}
