package middlewares

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/khanghh/rms/internal/handlers/api"
	"github.com/khanghh/rms/model"
)

const bearerPrefix = "bearer "

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

func bearerToken(ctx *fiber.Ctx) string {
	header := ctx.Get(fiber.HeaderAuthorization)
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}

func unauthorized(ctx *fiber.Ctx, message string) error {
	ctx.Set(fiber.HeaderWWWAuthenticate, "Bearer")
	return ctx.Status(fiber.StatusUnauthorized).JSON(api.NewErrorResponse(fiber.StatusUnauthorized, message))
}

// Authenticate resolves the bearer token of the request into the current user.
// Requests without a valid token are rejected with 401.
func Authenticate(authn Authenticator) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		token := bearerToken(ctx)
		if token == "" {
			return unauthorized(ctx, "未提供认证凭证")
		}
		user, err := authn.Authenticate(ctx.Context(), token)
		if err != nil {
			if isTokenError(err) {
				return unauthorized(ctx, err.Error())
			}
			return err
		}
		ctx.Locals(api.LocalsCurrentUser, user)
		return ctx.Next()
	}
}
