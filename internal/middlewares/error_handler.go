package middlewares

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/khanghh/rms/internal/handlers/api"
)

// ErrorHandler renders errors returned by handlers as JSON API responses.
// Errors that are not *fiber.Error are logged and reported as internal errors.
func ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "服务器内部错误"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}
	switch code {
	case fiber.StatusNotFound:
		message = "资源不存在"
	case fiber.StatusMethodNotAllowed:
		message = "不支持的请求方法"
	case fiber.StatusInternalServerError:
		slog.Error("Unhandled error", "method", ctx.Method(), "path", ctx.Path(), "error", err)
		message = "服务器内部错误"
	}
	return ctx.Status(code).JSON(api.NewErrorResponse(code, message))
}
