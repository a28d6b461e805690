package http

import (
	"encoding/base64"
	"net/url"
	"strings"

	"phishguard/core/domain"
	"phishguard/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
)

// bindJSON decodes the request body into dst.
func bindJSON(c *fiber.Ctx, dst any) error {
	if len(c.Body()) == 0 {
		return apperr.BadRequest("request body is required")
	}
	if err := json.Unmarshal(c.Body(), dst); err != nil {
		return apperr.BadRequest("invalid JSON body").WithError(err)
	}
	return nil
}

// identityParam reads a content identity from the ":id" path parameter or
// the "identity" query parameter. URL identities contain slashes, so in the
// path they are passed base64url-encoded.
func identityParam(c *fiber.Ctx) (domain.ContentIdentity, error) {
	raw := c.Query("identity")
	if raw == "" {
		raw = c.Params("id")
	}
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.ContentIdentity{}, apperr.MissingField("identity")
	}

	if id, err := domain.ParseIdentity(raw); err == nil {
		return id, nil
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "=")); err == nil {
		if id, err := domain.ParseIdentity(string(decoded)); err == nil {
			return id, nil
		}
	}
	return domain.ContentIdentity{}, apperr.InvalidIdentity(domain.ErrEmptyIdentity).WithDetail("identity", raw)
}

// queryBool parses a boolean query parameter.
func queryBool(c *fiber.Ctx, key string) bool {
	v := c.Query(key)
	return v == "true" || v == "1"
}
