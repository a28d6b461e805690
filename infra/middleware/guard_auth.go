package middleware

import (
	"errors"
	"strings"
	"time"

	"phishguard/pkg/apperr"
	"phishguard/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// JWTAuth validates HS256 bearer tokens signed with secret. The token may
// also come from the "token" query parameter, since EventSource cannot set
// headers. The "sub" claim is stored in Locals("subject").
func JWTAuth(secret string) fiber.Handler {
	key := []byte(secret)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(time.Minute),
		jwt.WithIssuedAt(),
	)

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		tokenString := bearerToken(c.Get(fiber.HeaderAuthorization))
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			return apperr.Unauthorized("missing authorization")
		}

		claims := jwt.MapClaims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return apperr.TokenExpired()
		case err != nil:
			logger.WithError(err).Warn("JWT validation failed")
			return apperr.InvalidToken("invalid token")
		case !token.Valid:
			return apperr.InvalidToken("invalid token")
		}

		sub, _ := claims.GetSubject()
		c.Locals("subject", sub)
		return c.Next()
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
