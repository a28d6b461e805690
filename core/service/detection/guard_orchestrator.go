package detection

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"phishguard/core/domain"
	"phishguard/core/port/in"
	"phishguard/core/port/out"
	"phishguard/pkg/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxTextRunes = 5000
	DefaultMaxURLs      = 50

	opCombined = "analyze_combined"
	opURL      = "analyze_url"

	urlScoringConcurrency = 4
	verdictLogTimeout     = 5 * time.Second
)

// SettingsProvider is the narrow read side of the settings store.
type SettingsProvider interface {
	Current() domain.DetectionSettings
}

// OrchestratorConfig bounds what is sent to the scoring service.
type OrchestratorConfig struct {
	MaxTextRunes     int
	MaxURLs          int
	ExplanationLimit int
}

// Orchestrator is the single funnel for every analysis trigger. It consults
// the cache, claims InFlight, scores, classifies, aggregates and publishes.
type Orchestrator struct {
	cache      *AnalysisCache
	scoring    out.ScoringPort
	settings   SettingsProvider
	aggregator *Aggregator

	presenter  out.PresenterPort
	verdictLog out.VerdictLogRepository
	metrics    *metrics.DetectionMetrics
	log        zerolog.Logger

	maxTextRunes int
	maxURLs      int

	mu         sync.Mutex
	applied    domain.DetectionSettings
	unsurfaced map[string]domain.ContentIdentity

	bg sync.WaitGroup
}

var _ in.DetectionService = (*Orchestrator)(nil)

// NewOrchestrator creates an orchestrator. cfg may be nil.
func NewOrchestrator(cache *AnalysisCache, scoring out.ScoringPort, settings SettingsProvider, cfg *OrchestratorConfig) *Orchestrator {
	if cfg == nil {
		cfg = &OrchestratorConfig{}
	}
	o := &Orchestrator{
		cache:        cache,
		scoring:      scoring,
		settings:     settings,
		aggregator:   NewAggregator(cfg.ExplanationLimit),
		log:          zerolog.Nop(),
		maxTextRunes: cfg.MaxTextRunes,
		maxURLs:      cfg.MaxURLs,
		applied:      settings.Current(),
		unsurfaced:   make(map[string]domain.ContentIdentity),
	}
	if o.maxTextRunes <= 0 {
		o.maxTextRunes = DefaultMaxTextRunes
	}
	if o.maxURLs <= 0 {
		o.maxURLs = DefaultMaxURLs
	}
	return o
}

func (o *Orchestrator) WithPresenter(p out.PresenterPort) *Orchestrator {
	o.presenter = p
	return o
}

func (o *Orchestrator) WithVerdictLog(r out.VerdictLogRepository) *Orchestrator {
	o.verdictLog = r
	return o
}

func (o *Orchestrator) WithMetrics(m *metrics.DetectionMetrics) *Orchestrator {
	o.metrics = m
	return o
}

func (o *Orchestrator) WithLogger(l zerolog.Logger) *Orchestrator {
	o.log = l.With().Str("component", "orchestrator").Logger()
	return o
}

// Observe analyzes id unless it is completed or already in flight.
func (o *Orchestrator) Observe(ctx context.Context, id domain.ContentIdentity, fetch domain.SignalSource) domain.ObserveResult {
	return o.observe(ctx, id, fetch, false)
}

// Reanalyze discards a completed verdict and analyzes id again. An analysis
// already in flight is joined, not duplicated.
func (o *Orchestrator) Reanalyze(ctx context.Context, id domain.ContentIdentity, fetch domain.SignalSource) domain.ObserveResult {
	return o.observe(ctx, id, fetch, true)
}

func (o *Orchestrator) observe(ctx context.Context, id domain.ContentIdentity, fetch domain.SignalSource, force bool) (res domain.ObserveResult) {
	res.Identity = id.String()
	defer func() { o.metrics.Observed(string(res.Status)) }()

	if id.IsZero() {
		res.Status, res.Reason = domain.ObserveSkipped, domain.SkipNoIdentity
		return res
	}
	if !o.settings.Current().Enabled {
		res.Status, res.Reason = domain.ObserveSkipped, domain.SkipDisabled
		return res
	}

	claim := o.cache.BeginOrJoin(id, force)
	switch {
	case claim.Completed != nil:
		res.Status, res.Verdict, res.Cached = domain.ObserveCompleted, claim.Completed, true
		return res
	case claim.AlreadyInFlight:
		res.Status = domain.ObservePending
		return res
	}

	o.metrics.InFlightAdd(1)
	defer o.metrics.InFlightAdd(-1)

	signals, err := o.extract(ctx, fetch)
	if err != nil {
		o.cache.Release(id, claim.Token)
		o.log.Warn().Err(err).Str("identity", res.Identity).Msg("extraction failed")
		res.Status, res.Reason = domain.ObserveSkipped, domain.SkipExtractionError
		return res
	}
	signals = o.prepare(signals)
	if signals.Empty() {
		o.cache.Release(id, claim.Token)
		res.Status, res.Reason = domain.ObserveSkipped, domain.SkipExtractionEmpty
		return res
	}

	start := time.Now()
	verdict, err := o.score(ctx, signals)
	elapsed := time.Since(start)

	if err != nil {
		kind := domain.FailureKindOf(err)
		if o.cache.Fail(id, claim.Token, kind) {
			o.log.Warn().Err(err).Str("identity", res.Identity).Str("kind", string(kind)).Msg("analysis failed")
			o.publish(ctx, domain.NewFailureEvent(id, kind))
			o.appendLog(id, domain.StatusFailed, nil, kind, elapsed)
		}
		res.Status, res.Failure = domain.ObserveError, kind
		return res
	}

	if o.cache.Complete(id, claim.Token, verdict) {
		o.metrics.Verdict(string(verdict.Category))
		o.log.Debug().Str("identity", res.Identity).Str("category", string(verdict.Category)).
			Float64("risk_score", verdict.RiskScore).Dur("elapsed", elapsed).Msg("analysis completed")
		o.surface(ctx, id, verdict)
		o.appendLog(id, domain.StatusCompleted, verdict, "", elapsed)
	}
	res.Status, res.Verdict = domain.ObserveCompleted, verdict
	return res
}

// Await blocks until the current InFlight period of id resolves, then
// reports the resulting record. A done ctx yields Pending.
func (o *Orchestrator) Await(ctx context.Context, id domain.ContentIdentity) domain.ObserveResult {
	if done := o.cache.Wait(id); done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return domain.ObserveResult{Identity: id.String(), Status: domain.ObservePending}
		}
	}
	rec, ok := o.cache.Get(id)
	return resultOf(id, rec, ok)
}

// Forget evicts id after the host removed the content.
func (o *Orchestrator) Forget(id domain.ContentIdentity) {
	removed := o.cache.Remove(id)

	o.mu.Lock()
	delete(o.unsurfaced, id.String())
	o.mu.Unlock()

	if o.presenter != nil {
		o.presenter.Forget(id.String())
		if removed {
			o.publish(context.Background(), domain.NewRemovedEvent(id))
		}
	}
}

// Record returns the analysis record of id.
func (o *Orchestrator) Record(id domain.ContentIdentity) (domain.AnalysisRecord, bool) {
	return o.cache.Get(id)
}

// Stats summarizes the cache.
func (o *Orchestrator) Stats() *in.DetectionStats {
	counts := o.cache.Counts()
	total := 0
	for _, n := range counts {
		total += n
	}
	return &in.DetectionStats{
		Total:    total,
		ByStatus: counts,
		Enabled:  o.settings.Current().Enabled,
		Scoring:  o.metrics.ScoringLatency(),
	}
}

// ApplySettings handles a settings change notification. Re-enabling does not
// re-analyze anything; it only surfaces verdicts stored while disabled.
func (o *Orchestrator) ApplySettings(ctx context.Context, s domain.DetectionSettings) {
	o.mu.Lock()
	prev := o.applied
	o.applied = s
	var pending []domain.ContentIdentity
	if !prev.Enabled && s.Enabled {
		for _, id := range o.unsurfaced {
			pending = append(pending, id)
		}
		o.unsurfaced = make(map[string]domain.ContentIdentity)
	}
	o.mu.Unlock()

	if prev.Enabled != s.Enabled {
		o.log.Info().Bool("enabled", s.Enabled).Int("surfacing", len(pending)).Msg("detection toggled")
	}
	for _, id := range pending {
		if rec, ok := o.cache.Get(id); ok && rec.Status == domain.StatusCompleted {
			o.present(ctx, id, rec.Verdict, s)
		}
	}
}

// Shutdown waits for background verdict-log writes.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) extract(ctx context.Context, fetch domain.SignalSource) (s domain.ContentSignals, err error) {
	if fetch == nil {
		return s, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extraction panic: %v", r)
		}
	}()
	return fetch(ctx)
}

// prepare applies the outbound bounds: collapsed text cut to maxTextRunes,
// URLs trimmed, de-duplicated in order and capped at maxURLs.
func (o *Orchestrator) prepare(s domain.ContentSignals) domain.ContentSignals {
	s.Text = domain.TruncateRunes(domain.CollapseWhitespace(s.Text), o.maxTextRunes)

	seen := make(map[string]struct{}, len(s.URLs))
	urls := make([]string, 0, len(s.URLs))
	for _, u := range s.URLs {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
		if len(urls) == o.maxURLs {
			break
		}
	}
	s.URLs = urls
	return s
}

// score calls the scoring service and turns its answer into a combined
// verdict. Text goes through the combined operation; URL-only units are
// scored one URL at a time.
func (o *Orchestrator) score(ctx context.Context, s domain.ContentSignals) (v *domain.CombinedVerdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.ScoringError{Kind: domain.FailureInvalidResponse, Op: "classify", Err: fmt.Errorf("%v", r)}
		}
	}()

	if s.Text != "" {
		start := time.Now()
		result, err := o.scoring.ScoreText(ctx, s.Text, s.URLs)
		o.metrics.ScoringCall(opCombined, outcome(err), time.Since(start))
		if err != nil {
			return nil, err
		}
		ClassifySignal(result.Text)
		for i := range result.URLs {
			ClassifySignal(&result.URLs[i].Verdict)
		}
		return o.aggregator.Aggregate(result.Text, result.URLs), nil
	}

	urls := make([]domain.URLVerdict, len(s.URLs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(urlScoringConcurrency)
	for i, u := range s.URLs {
		i, u := i, u
		g.Go(func() error {
			start := time.Now()
			sv, err := o.scoring.ScoreURL(gctx, u)
			o.metrics.ScoringCall(opURL, outcome(err), time.Since(start))
			if err != nil {
				return err
			}
			ClassifySignal(sv)
			urls[i] = domain.URLVerdict{URL: u, Verdict: *sv}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return o.aggregator.Aggregate(nil, urls), nil
}

// surface publishes a fresh verdict, or parks it while detection is disabled.
// The decision uses the applied settings under o.mu so a concurrent
// re-enable either sees the parked verdict or this call presents it.
func (o *Orchestrator) surface(ctx context.Context, id domain.ContentIdentity, v *domain.CombinedVerdict) {
	o.mu.Lock()
	s := o.applied
	if !s.Enabled {
		o.unsurfaced[id.String()] = id
	}
	o.mu.Unlock()

	if s.Enabled {
		o.present(ctx, id, v, s)
	}
}

func (o *Orchestrator) present(ctx context.Context, id domain.ContentIdentity, v *domain.CombinedVerdict, s domain.DetectionSettings) {
	o.publish(ctx, domain.NewVerdictEvent(id, v))
	if s.NotificationsEnabled && v.Category == domain.CategoryPhishing {
		o.publish(ctx, domain.NewNotificationEvent(id, v))
	}
}

func (o *Orchestrator) publish(ctx context.Context, ev *domain.PresentationEvent) {
	if o.presenter == nil {
		return
	}
	if ev.Type == domain.EventVerdictFailed && !o.settings.Current().Enabled {
		return
	}
	if err := o.presenter.Publish(ctx, ev); err != nil {
		o.log.Warn().Err(err).Str("identity", ev.Identity).Str("type", string(ev.Type)).Msg("publish failed")
	}
}

func (o *Orchestrator) appendLog(id domain.ContentIdentity, status domain.AnalysisStatus, v *domain.CombinedVerdict, kind domain.FailureKind, elapsed time.Duration) {
	if o.verdictLog == nil {
		return
	}
	rec, _ := o.cache.Get(id)
	entry := &out.VerdictLogEntry{
		Identity:   id.String(),
		Kind:       id.Kind,
		Status:     status,
		Failure:    kind,
		Verdict:    v,
		Attempts:   rec.Attempts,
		DurationMS: elapsed.Milliseconds(),
		CreatedAt:  time.Now(),
	}
	if v != nil {
		entry.RiskScore = v.RiskScore
		entry.Category = v.Category
	}

	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), verdictLogTimeout)
		defer cancel()
		if err := o.verdictLog.Append(ctx, entry); err != nil {
			o.log.Warn().Err(err).Str("identity", entry.Identity).Msg("verdict log append failed")
		}
	}()
}

func resultOf(id domain.ContentIdentity, rec domain.AnalysisRecord, ok bool) domain.ObserveResult {
	res := domain.ObserveResult{Identity: id.String()}
	switch {
	case !ok:
		res.Status, res.Reason = domain.ObserveSkipped, domain.SkipNotObserved
	case rec.Status == domain.StatusCompleted:
		res.Status, res.Verdict, res.Cached = domain.ObserveCompleted, rec.Verdict, true
	case rec.Status == domain.StatusFailed:
		res.Status, res.Failure = domain.ObserveError, rec.LastError
	default:
		res.Status = domain.ObservePending
	}
	return res
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(domain.FailureKindOf(err))
}
