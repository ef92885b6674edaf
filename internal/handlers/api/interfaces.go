package api

import (
	"context"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/khanghh/rms/internal/audit"
	"github.com/khanghh/rms/internal/auth"
	"github.com/khanghh/rms/internal/policy"
	"github.com/khanghh/rms/model"
)

// LocalsCurrentUser is the fiber locals key holding the authenticated *model.User.
const LocalsCurrentUser = "currentUser"

type AuthService interface {
	Login(ctx context.Context, username, password string, rc audit.RequestContext) (*auth.LoginResult, error)
	Register(ctx context.Context, req auth.RegisterRequest, rc audit.RequestContext) (*model.User, error)
	LogRegisterFailure(ctx context.Context, username string, rc audit.RequestContext, reason string)
	ChangePassword(ctx context.Context, user *model.User, oldPassword, newPassword string, rc audit.RequestContext) error
	Policy() *policy.PasswordPolicy
}

type UserService interface {
	GetUserByID(ctx context.Context, userID uint) (*model.User, error)
	ResetLock(ctx context.Context, userID uint) error
}

type AuditQueryService interface {
	ListLogs(ctx context.Context, filter audit.LogFilter) (*audit.LogPage, error)
	GetLog(ctx context.Context, id uint64) (*model.OperationLog, error)
	Statistics(ctx context.Context, days int) (*audit.Statistics, error)
	ExportLogs(ctx context.Context, filter audit.LogFilter, w io.Writer) (int, error)
}

func CurrentUser(ctx *fiber.Ctx) *model.User {
	user, _ := ctx.Locals(LocalsCurrentUser).(*model.User)
	return user
}

func actorOf(user *model.User) audit.Actor {
	if user == nil {
		return audit.Actor{}
	}
	return audit.UserActor(user.ID, user.Username)
}

func errorJSON(ctx *fiber.Ctx, code int, message string) error {
	return ctx.Status(code).JSON(NewErrorResponse(code, message))
}
