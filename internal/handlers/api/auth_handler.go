package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/khanghh/rms/internal/audit"
	"github.com/khanghh/rms/internal/auth"
	"github.com/khanghh/rms/model"
)

const msgMalformedRequest = "请求格式错误"

type AuthHandler struct {
	authService AuthService
	auditLog    *audit.Logger
}

func (h *AuthHandler) PostLogin(ctx *fiber.Ctx) error {
	var req loginRequest
	if err := ctx.BodyParser(&req); err != nil {
		h.auditLog.LogLoginAttempt(ctx.Context(), "", audit.FromFiber(ctx), false, msgMalformedRequest)
		return errorJSON(ctx, fiber.StatusBadRequest, msgMalformedRequest)
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		msg := "用户名和密码不能为空"
		h.auditLog.LogLoginAttempt(ctx.Context(), req.Username, audit.FromFiber(ctx), false, msg)
		return errorJSON(ctx, fiber.StatusBadRequest, msg)
	}

	result, err := h.authService.Login(ctx.Context(), req.Username, req.Password, audit.FromFiber(ctx))
	if err != nil {
		var (
			failErr *auth.LoginFailError
			lockErr *auth.AccountLockedError
		)
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials), errors.As(err, &failErr):
			ctx.Set(fiber.HeaderWWWAuthenticate, "Bearer")
			return errorJSON(ctx, fiber.StatusUnauthorized, err.Error())
		case errors.As(err, &lockErr):
			return errorJSON(ctx, fiber.StatusForbidden, err.Error())
		}
		return err
	}

	return ctx.JSON(NewDataResponse(LoginResponse{
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
		ExpiresIn:   int64(result.ExpiresAt.Sub(h.authService.Policy().Now()).Seconds()),
		User:        newUserResponse(result.User),
		Warning:     result.Warning,
	}))
}

func (h *AuthHandler) PostRegister(ctx *fiber.Ctx) error {
	var req registerRequest
	if err := ctx.BodyParser(&req); err != nil {
		h.authService.LogRegisterFailure(ctx.Context(), "", audit.FromFiber(ctx), msgMalformedRequest)
		return errorJSON(ctx, fiber.StatusBadRequest, msgMalformedRequest)
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := validateRegisterRequest(&req); err != nil {
		h.authService.LogRegisterFailure(ctx.Context(), req.Username, audit.FromFiber(ctx), err.Error())
		return errorJSON(ctx, fiber.StatusBadRequest, err.Error())
	}

	user, err := h.authService.Register(ctx.Context(), auth.RegisterRequest{
		Username:      req.Username,
		Password:      req.Password,
		Name:          req.Name,
		Title:         req.Title,
		College:       req.College,
		Email:         req.Email,
		Phone:         req.Phone,
		ResearchField: req.ResearchField,
	}, audit.FromFiber(ctx))
	if err != nil {
		var weakErr *auth.WeakPasswordError
		switch {
		case errors.As(err, &weakErr):
			return errorJSON(ctx, fiber.StatusBadRequest, weakErr.Reason+"。密码要求："+h.authService.Policy().Requirements())
		case errors.Is(err, auth.ErrUsernameTaken), errors.Is(err, auth.ErrEmailRegistered):
			return errorJSON(ctx, fiber.StatusBadRequest, err.Error())
		}
		return err
	}
	return ctx.Status(fiber.StatusCreated).JSON(NewDataResponse(newUserResponse(user)))
}

func (h *AuthHandler) GetPasswordPolicy(ctx *fiber.Ctx) error {
	pwPolicy := h.authService.Policy()
	cfg := pwPolicy.Config()
	return ctx.JSON(NewDataResponse(PasswordPolicyResponse{
		MinLength:        cfg.MinLength,
		MaxLength:        cfg.MaxLength,
		SpecialChars:     cfg.SpecialChars,
		ExpireDays:       int(cfg.ExpireAfter.Hours() / 24),
		MaxLoginFailures: cfg.MaxLoginFailures,
		LockoutMinutes:   pwPolicy.LockoutMinutes(),
		Requirements:     pwPolicy.Requirements(),
	}))
}

// PostLogout only records the event. Tokens stay valid until they expire.
func (h *AuthHandler) PostLogout(ctx *fiber.Ctx) error {
	h.auditLog.LogLogout(ctx.Context(), actorOf(CurrentUser(ctx)), audit.FromFiber(ctx))
	return ctx.JSON(NewDataResponse(fiber.Map{"message": "已退出登录"}))
}

func (h *AuthHandler) GetMe(ctx *fiber.Ctx) error {
	user := CurrentUser(ctx)
	resp := fiber.Map{
		"user": newUserResponse(user),
	}
	if warning := h.authService.Policy().ExpiryWarning(user.PasswordUpdatedAt); warning != "" {
		resp["warning"] = warning
	}
	return ctx.JSON(NewDataResponse(resp))
}

// rejectChangePassword records a change-password request refused before reaching the service.
func (h *AuthHandler) rejectChangePassword(ctx *fiber.Ctx, msg string) error {
	h.auditLog.LogOperation(ctx.Context(), audit.Entry{
		Actor:     actorOf(CurrentUser(ctx)),
		Operation: auth.OperationChangePassword,
		Module:    audit.ModuleAuth,
		Request:   audit.FromFiber(ctx),
		Status:    model.StatusFailed,
		ErrorMsg:  msg,
	})
	return errorJSON(ctx, fiber.StatusBadRequest, msg)
}

func (h *AuthHandler) PostChangePassword(ctx *fiber.Ctx) error {
	var req changePasswordRequest
	if err := ctx.BodyParser(&req); err != nil {
		return h.rejectChangePassword(ctx, msgMalformedRequest)
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		return h.rejectChangePassword(ctx, "旧密码和新密码不能为空")
	}

	err := h.authService.ChangePassword(ctx.Context(), CurrentUser(ctx), req.OldPassword, req.NewPassword, audit.FromFiber(ctx))
	if err != nil {
		var weakErr *auth.WeakPasswordError
		switch {
		case errors.Is(err, auth.ErrIncorrectPassword):
			return errorJSON(ctx, fiber.StatusBadRequest, err.Error())
		case errors.As(err, &weakErr):
			return errorJSON(ctx, fiber.StatusBadRequest, weakErr.Reason)
		}
		return err
	}
	return ctx.JSON(NewDataResponse(fiber.Map{"message": "密码修改成功"}))
}

func NewAuthHandler(authService AuthService, auditLog *audit.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		auditLog:    auditLog,
	}
}
