package worker

import (
	"fmt"

	"phishguard/adapter/out/messaging"
	"phishguard/core/port/out"
	"phishguard/core/service/extraction"

	"github.com/goccy/go-json"
)

// ParseEvent decodes one stream payload.
func ParseEvent(data []byte) (*out.ContentEvent, error) {
	var ev out.ContentEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", messaging.ErrMalformedEvent, err)
	}
	switch ev.Type {
	case out.ContentObserved, out.ContentRemoved, out.SettingsChanged:
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", messaging.ErrMalformedEvent, ev.Type)
	}
	return &ev, nil
}

// UnitOf maps a content event onto an extraction unit.
func UnitOf(ev *out.ContentEvent) *extraction.Unit {
	return &extraction.Unit{
		Identity:  ev.Identity,
		URL:       ev.URL,
		MessageID: ev.MessageID,
		ElementID: ev.ElementID,
		Text:      ev.Text,
		HTML:      ev.HTML,
		BaseURL:   ev.BaseURL,
		URLs:      ev.URLs,
	}
}
