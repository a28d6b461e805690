package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/net/idna"
)

// IdentityKind distinguishes URL-based units from element-based units.
type IdentityKind string

const (
	IdentityURL     IdentityKind = "url"
	IdentityElement IdentityKind = "element"
)

// identityPrefixRunes bounds the text prefix hashed for element identities.
const identityPrefixRunes = 256

var (
	ErrEmptyIdentity = errors.New("content identity: no message id, element id or text")
	ErrInvalidURL    = errors.New("content identity: not an absolute http(s) url")
)

// ContentIdentity is the opaque key of one analyzable unit.
type ContentIdentity struct {
	Kind IdentityKind `json:"kind"`
	Key  string       `json:"key"`
}

func (id ContentIdentity) String() string {
	return id.Key
}

// IsZero reports whether the identity was never derived.
func (id ContentIdentity) IsZero() bool {
	return id.Key == ""
}

// ParseIdentity rebuilds an identity from its String form. URL keys are
// normalized so a host-supplied key matches the derived one.
func ParseIdentity(key string) (ContentIdentity, error) {
	lower := strings.ToLower(key)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return URLIdentity(key)
	case strings.HasPrefix(key, "msg:"), strings.HasPrefix(key, "el:"), strings.HasPrefix(key, "txt:"):
		return ContentIdentity{Kind: IdentityElement, Key: key}, nil
	}
	return ContentIdentity{}, ErrEmptyIdentity
}

// URLIdentity derives the identity of a navigated URL.
func URLIdentity(raw string) (ContentIdentity, error) {
	normalized, err := NormalizeURL(raw)
	if err != nil {
		return ContentIdentity{}, err
	}
	return ContentIdentity{Kind: IdentityURL, Key: normalized}, nil
}

// ElementIdentity derives the identity of an element-based unit (an email message).
// Priority: host message id, then element id, then a hash of the text prefix.
func ElementIdentity(messageID, elementID, text string) (ContentIdentity, error) {
	if v := strings.TrimSpace(messageID); v != "" {
		return ContentIdentity{Kind: IdentityElement, Key: "msg:" + v}, nil
	}
	if v := strings.TrimSpace(elementID); v != "" {
		return ContentIdentity{Kind: IdentityElement, Key: "el:" + v}, nil
	}

	prefix := textPrefix(CollapseWhitespace(text), identityPrefixRunes)
	if prefix == "" {
		return ContentIdentity{}, ErrEmptyIdentity
	}
	sum := sha256.Sum256([]byte(prefix))
	return ContentIdentity{Kind: IdentityElement, Key: "txt:" + hex.EncodeToString(sum[:])}, nil
}

// NormalizeURL returns the canonical absolute form of an http(s) URL.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", ErrInvalidURL
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return "", ErrInvalidURL
	}

	host := strings.ToLower(u.Hostname())
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	u.Scheme = scheme
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// CollapseWhitespace trims and folds runs of whitespace into single spaces.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

func textPrefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// TruncateRunes cuts s to at most n runes.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	return textPrefix(s, n)
}
