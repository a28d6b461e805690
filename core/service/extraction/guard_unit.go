package extraction

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"phishguard/core/domain"
)

// ErrNoContent is returned when a unit carries nothing to identify or analyze.
var ErrNoContent = errors.New("extraction: unit has no url, html, text or message")

// Unit is one analyzable unit as the host reports it. A unit with only URL
// set is a navigated page; anything else is element-based.
type Unit struct {
	Identity  string
	URL       string
	MessageID string
	ElementID string
	Text      string
	HTML      string
	BaseURL   string
	RawMIME   []byte
	URLs      []string
}

// IsPage reports whether the unit is a URL-based unit.
func (u *Unit) IsPage() bool {
	return u.URL != "" && u.MessageID == "" && u.ElementID == "" &&
		u.Text == "" && u.HTML == "" && len(u.RawMIME) == 0
}

// Resolve derives the unit's identity and a signal source for it. Extraction
// runs inside the source unless the identity itself depends on the text.
func Resolve(u *Unit) (domain.ContentIdentity, domain.SignalSource, error) {
	if u.IsPage() {
		id, err := URLIdentityOf(u)
		if err != nil {
			return domain.ContentIdentity{}, nil, err
		}
		page := id.Key
		return id, func(context.Context) (domain.ContentSignals, error) {
			return domain.ContentSignals{URLs: []string{page}}, nil
		}, nil
	}

	if len(u.RawMIME) > 0 {
		msg, err := FromMIME(bytes.NewReader(u.RawMIME))
		if err != nil {
			return domain.ContentIdentity{}, nil, err
		}
		messageID := u.MessageID
		if messageID == "" {
			messageID = msg.MessageID
		}
		signals := msg.Signals
		signals.URLs = collect(signals.URLs, u.URLs)
		id, err := identityOf(u, messageID, signals.Text)
		if err != nil {
			return domain.ContentIdentity{}, nil, err
		}
		return id, domain.StaticSignals(signals), nil
	}

	if u.HTML == "" && strings.TrimSpace(u.Text) == "" && len(u.URLs) == 0 {
		return domain.ContentIdentity{}, nil, ErrNoContent
	}

	extract := func() domain.ContentSignals {
		var s domain.ContentSignals
		if u.HTML != "" {
			s = FromHTML(u.HTML, u.BaseURL)
		} else {
			s = FromText(u.Text)
		}
		s.URLs = collect(s.URLs, u.URLs)
		return s
	}

	if u.Identity == "" && u.MessageID == "" && u.ElementID == "" {
		// text hash identity: extraction cannot be deferred
		s := extract()
		id, err := domain.ElementIdentity("", "", s.Text)
		if err != nil {
			return domain.ContentIdentity{}, nil, err
		}
		return id, domain.StaticSignals(s), nil
	}

	id, err := identityOf(u, u.MessageID, "")
	if err != nil {
		return domain.ContentIdentity{}, nil, err
	}
	return id, func(context.Context) (domain.ContentSignals, error) {
		return extract(), nil
	}, nil
}

// URLIdentityOf derives the page identity, preferring an explicit identity key.
func URLIdentityOf(u *Unit) (domain.ContentIdentity, error) {
	if u.Identity != "" {
		return domain.ParseIdentity(u.Identity)
	}
	return domain.URLIdentity(u.URL)
}

func identityOf(u *Unit, messageID, text string) (domain.ContentIdentity, error) {
	if u.Identity != "" {
		return domain.ParseIdentity(u.Identity)
	}
	return domain.ElementIdentity(messageID, u.ElementID, text)
}
