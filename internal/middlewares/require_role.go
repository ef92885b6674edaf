package middlewares

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/khanghh/rms/internal/access"
	"github.com/khanghh/rms/internal/audit"
	"github.com/khanghh/rms/internal/auth"
	"github.com/khanghh/rms/internal/handlers/api"
	"github.com/khanghh/rms/model"
)

func isTokenError(err error) bool {
	return errors.Is(err, auth.ErrTokenInvalid) || errors.Is(err, auth.ErrTokenExpired)
}

// RoleGate rejects requests whose current user is not allowed by a policy.
// Denials are recorded in the operation log.
type RoleGate struct {
	auditLog *audit.Logger
	onDeny   func(module string)
}

// Require returns a handler that lets the request through only when the current user
// is permitted by policy. It must run after Authenticate.
func (g *RoleGate) Require(policy access.Policy, module string) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		user := api.CurrentUser(ctx)
		switch access.CheckAccess(user, policy) {
		case access.Permit:
			return ctx.Next()
		case access.Unauthenticated:
			return unauthorized(ctx, "未提供认证凭证")
		}

		g.auditLog.LogPermissionDenied(ctx.Context(), actorOf(user), module, audit.FromFiber(ctx), policy.Reason)
		if g.onDeny != nil {
			g.onDeny(module)
		}
		return ctx.Status(fiber.StatusForbidden).JSON(api.NewErrorResponse(fiber.StatusForbidden, policy.Reason))
	}
}

func actorOf(user *model.User) audit.Actor {
	if user == nil {
		return audit.Actor{}
	}
	return audit.UserActor(user.ID, user.Username)
}

func NewRoleGate(auditLog *audit.Logger, onDeny func(module string)) *RoleGate {
	return &RoleGate{
		auditLog: auditLog,
		onDeny:   onDeny,
	}
}
