package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"phishguard/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

func newApp() *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Use(Recover(), RequestID())
	return app
}

func decodeError(t *testing.T, resp *http.Response) ErrorResponse {
	t.Helper()
	body, _ := io.ReadAll(resp.Body)
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return er
}

func TestErrorHandler(t *testing.T) {
	app := newApp()
	app.Get("/app", func(c *fiber.Ctx) error { return apperr.NotFound("content") })
	app.Get("/fiber", func(c *fiber.Ctx) error { return fiber.NewError(fiber.StatusTooManyRequests, "slow down") })
	app.Get("/plain", func(c *fiber.Ctx) error { return io.ErrUnexpectedEOF })
	app.Get("/panic", func(c *fiber.Ctx) error { panic("boom") })

	tests := []struct {
		path       string
		wantStatus int
		wantCode   string
	}{
		{"/app", 404, apperr.CodeNotFound},
		{"/fiber", 429, "RATE_LIMITED"},
		{"/plain", 500, apperr.CodeInternalError},
		{"/panic", 500, apperr.CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			er := decodeError(t, resp)
			if er.Error.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", er.Error.Code, tt.wantCode)
			}
			if er.RequestID == "" || resp.Header.Get("X-Request-ID") != er.RequestID {
				t.Errorf("request id = %q / %q", er.RequestID, resp.Header.Get("X-Request-ID"))
			}
		})
	}
}

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestJWTAuth(t *testing.T) {
	const secret = "test-secret"
	app := newApp()
	app.Use(JWTAuth(secret))
	app.Get("/me", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("subject").(string))
	})

	valid := sign(t, secret, jwt.MapClaims{"sub": "ext-1", "exp": time.Now().Add(time.Hour).Unix()})
	expired := sign(t, secret, jwt.MapClaims{"sub": "ext-1", "exp": time.Now().Add(-time.Hour).Unix()})
	wrongKey := sign(t, "other", jwt.MapClaims{"sub": "ext-1"})

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
		wantCode   string
	}{
		{"header", "Bearer " + valid, "", 200, ""},
		{"query param", "", valid, 200, ""},
		{"missing", "", "", 401, apperr.CodeUnauthorized},
		{"expired", "Bearer " + expired, "", 401, apperr.CodeTokenExpired},
		{"wrong key", "Bearer " + wrongKey, "", 401, apperr.CodeInvalidToken},
		{"not bearer", "Basic abc", "", 401, apperr.CodeUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/me"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus == 200 {
				body, _ := io.ReadAll(resp.Body)
				if string(body) != "ext-1" {
					t.Errorf("subject = %q", body)
				}
				return
			}
			if er := decodeError(t, resp); er.Error.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", er.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestRateLimiterLocal(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute, nil)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		if ok, _, _ := rl.Allow(ctx, "1.2.3.4"); ok != want {
			t.Errorf("request %d allowed = %v, want %v", i, ok, want)
		}
	}
	if ok, _, _ := rl.Allow(ctx, "5.6.7.8"); !ok {
		t.Error("other client should have its own window")
	}

	now = now.Add(time.Minute + time.Second)
	if ok, remaining, _ := rl.Allow(ctx, "1.2.3.4"); !ok || remaining != 1 {
		t.Errorf("after window: ok=%v remaining=%d", ok, remaining)
	}
}

func TestRateLimiterHandler(t *testing.T) {
	app := newApp()
	app.Use(NewRateLimiter(1, time.Minute, nil).Handler())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(204) })

	first, _ := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	second, _ := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	if first.StatusCode != 204 || second.StatusCode != 429 {
		t.Errorf("statuses = %d, %d", first.StatusCode, second.StatusCode)
	}
	if second.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestMaxBodySize(t *testing.T) {
	app := newApp()
	app.Use(MaxBodySize(8))
	app.Post("/", func(c *fiber.Ctx) error { return c.SendStatus(204) })

	resp, _ := app.Test(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	if resp.StatusCode != 413 {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}
}
