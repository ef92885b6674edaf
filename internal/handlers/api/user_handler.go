package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/khanghh/rms/internal/audit"
	"github.com/khanghh/rms/internal/users"
	"github.com/spf13/cast"
)

const (
	moduleUser       = "user"
	resourceTypeUser = "用户"
)

type UserHandler struct {
	userService UserService
	auditLog    *audit.Logger
}

// PostUnlock clears the failed login counter and lock of an account.
func (h *UserHandler) PostUnlock(ctx *fiber.Ctx) error {
	userID, err := cast.ToUintE(ctx.Params("id"))
	if err != nil || userID == 0 {
		return errorJSON(ctx, fiber.StatusBadRequest, "用户ID格式错误")
	}

	user, err := h.userService.GetUserByID(ctx.Context(), userID)
	if errors.Is(err, users.ErrUserNotFound) {
		return errorJSON(ctx, fiber.StatusNotFound, "用户不存在")
	}
	if err != nil {
		return err
	}

	if err := h.userService.ResetLock(ctx.Context(), user.ID); err != nil {
		return err
	}
	h.auditLog.LogUpdate(ctx.Context(), actorOf(CurrentUser(ctx)), moduleUser, resourceTypeUser, user.ID, audit.FromFiber(ctx), audit.Details{
		"login_failures": 0,
		"locked_until":   nil,
	})

	user.LoginFailures = 0
	user.LockedUntil = nil
	return ctx.JSON(NewDataResponse(newUserResponse(user)))
}

func NewUserHandler(userService UserService, auditLog *audit.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		auditLog:    auditLog,
	}
}
