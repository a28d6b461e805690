package worker

import (
	"context"
	"fmt"

	"phishguard/core/domain"
	"phishguard/core/port/in"
	"phishguard/core/port/out"
	"phishguard/core/service/extraction"
	"phishguard/pkg/metrics"

	"github.com/rs/zerolog"
)

// Tracker remembers observed units for periodic re-scan.
type Tracker interface {
	Track(id domain.ContentIdentity, fetch domain.SignalSource)
	Untrack(id domain.ContentIdentity)
}

// Dispatcher routes content events to the detection and settings services.
type Dispatcher struct {
	detection in.DetectionService
	settings  in.SettingsService
	tracker   Tracker
	metrics   *metrics.DetectionMetrics
	log       zerolog.Logger
}

// NewDispatcher creates a dispatcher. settings, tracker and m may be nil.
func NewDispatcher(detection in.DetectionService, settings in.SettingsService, tracker Tracker, m *metrics.DetectionMetrics, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		detection: detection,
		settings:  settings,
		tracker:   tracker,
		metrics:   m,
		log:       log.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch handles one event.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *out.ContentEvent) error {
	switch ev.Type {
	case out.ContentObserved:
		return d.observe(ctx, ev)
	case out.ContentRemoved:
		return d.remove(ev)
	case out.SettingsChanged:
		if d.settings == nil {
			return nil
		}
		_, err := d.settings.Reload(ctx)
		d.metrics.StreamEvent(string(ev.Type), resultOf(err))
		return err
	}
	d.metrics.StreamEvent(string(ev.Type), "unknown")
	return fmt.Errorf("unknown event type %q", ev.Type)
}

func (d *Dispatcher) observe(ctx context.Context, ev *out.ContentEvent) error {
	id, fetch, err := extraction.Resolve(UnitOf(ev))
	if err != nil {
		d.metrics.StreamEvent(string(ev.Type), "unresolved")
		d.log.Debug().Err(err).Str("event_id", ev.ID).Msg("event has no analyzable unit")
		return nil
	}

	var res domain.ObserveResult
	if ev.Force {
		res = d.detection.Reanalyze(ctx, id, fetch)
	} else {
		res = d.detection.Observe(ctx, id, fetch)
	}
	if d.tracker != nil && res.Status != domain.ObserveSkipped {
		d.tracker.Track(id, fetch)
	}

	d.metrics.StreamEvent(string(ev.Type), string(res.Status))
	d.log.Debug().
		Str("event_id", ev.ID).
		Str("identity", res.Identity).
		Str("status", string(res.Status)).
		Bool("cached", res.Cached).
		Msg("content event observed")
	return nil
}

func (d *Dispatcher) remove(ev *out.ContentEvent) error {
	var (
		id  domain.ContentIdentity
		err error
	)
	if ev.Identity != "" {
		id, err = domain.ParseIdentity(ev.Identity)
	} else {
		id, _, err = extraction.Resolve(UnitOf(ev))
	}
	if err != nil {
		d.metrics.StreamEvent(string(ev.Type), "unresolved")
		return nil
	}

	d.detection.Forget(id)
	if d.tracker != nil {
		d.tracker.Untrack(id)
	}
	d.metrics.StreamEvent(string(ev.Type), "ok")
	return nil
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
