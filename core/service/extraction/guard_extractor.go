// Package extraction turns host content (HTML, MIME, plain text) into the
// text and URL signals sent for scoring.
package extraction

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"phishguard/core/domain"

	"github.com/jaytaylor/html2text"
	"github.com/jhillyerd/enmime"
	"golang.org/x/net/html"
)

const (
	MaxTextRunes = 5000
	MaxURLs      = 50
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"'()\[\]]+`)

// MIMEContent is a parsed raw message.
type MIMEContent struct {
	Signals   domain.ContentSignals
	MessageID string
	Subject   string
	From      string
}

// FromText extracts signals from plain text.
func FromText(text string) domain.ContentSignals {
	collapsed := domain.CollapseWhitespace(text)
	return domain.ContentSignals{
		Text: domain.TruncateRunes(collapsed, MaxTextRunes),
		URLs: collect(nil, urlPattern.FindAllString(collapsed, -1)),
	}
}

// FromHTML extracts visible text and link targets from an HTML fragment.
// Relative hrefs resolve against baseURL when it is absolute.
func FromHTML(markup, baseURL string) domain.ContentSignals {
	text, err := html2text.FromString(markup, html2text.Options{OmitLinks: true})
	if err != nil {
		text = ""
	}
	text = domain.CollapseWhitespace(text)

	base, _ := url.Parse(baseURL)
	if base != nil && !base.IsAbs() {
		base = nil
	}

	urls := collect(nil, hrefs(markup, base))
	urls = collect(urls, urlPattern.FindAllString(text, -1))

	return domain.ContentSignals{
		Text: domain.TruncateRunes(text, MaxTextRunes),
		URLs: urls,
	}
}

// FromMIME parses a raw RFC 5322 message. The text part is preferred for
// the body; links come from the HTML part when there is one.
func FromMIME(r io.Reader) (*MIMEContent, error) {
	env, err := enmime.ReadEnvelope(r)
	if err != nil {
		return nil, fmt.Errorf("read envelope: %w", err)
	}

	var signals domain.ContentSignals
	if env.HTML != "" {
		signals = FromHTML(env.HTML, "")
	}
	if strings.TrimSpace(env.Text) != "" {
		plain := FromText(env.Text)
		signals.Text = plain.Text
		signals.URLs = collect(signals.URLs, plain.URLs)
	}

	return &MIMEContent{
		Signals:   signals,
		MessageID: strings.Trim(strings.TrimSpace(env.GetHeader("Message-ID")), "<>"),
		Subject:   env.GetHeader("Subject"),
		From:      env.GetHeader("From"),
	}, nil
}

func hrefs(markup string, base *url.URL) []string {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil
	}

	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				if u := resolve(a.Val, base); u != "" {
					out = append(out, u)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

func resolve(href string, base *url.URL) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if !u.IsAbs() {
		if base == nil {
			return ""
		}
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

// collect appends candidates to dst, keeping order, dropping duplicates and
// stopping at MaxURLs.
func collect(dst, candidates []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, u := range dst {
		seen[u] = struct{}{}
	}
	for _, c := range candidates {
		if len(dst) >= MaxURLs {
			break
		}
		c = strings.TrimRight(c, ".,;:!?")
		if _, ok := seen[c]; ok || c == "" {
			continue
		}
		seen[c] = struct{}{}
		dst = append(dst, c)
	}
	return dst
}
