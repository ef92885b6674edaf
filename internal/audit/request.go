package audit

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const unknownIP = "unknown"

// RequestContext is the part of an inbound request recorded with every audit entry.
type RequestContext struct {
	Method       string
	Path         string
	ForwardedFor string // raw X-Forwarded-For header
	RealIP       string // raw X-Real-IP header
	RemoteAddr   string // transport level peer address
	UserAgent    string
}

// FromFiber captures the request context of a fiber request.
func FromFiber(ctx *fiber.Ctx) RequestContext {
	rc := RequestContext{
		Method:       ctx.Method(),
		Path:         ctx.Path(),
		ForwardedFor: ctx.Get(fiber.HeaderXForwardedFor),
		RealIP:       ctx.Get("X-Real-IP"),
		UserAgent:    ctx.Get(fiber.HeaderUserAgent),
	}
	if ip := ctx.Context().RemoteIP(); ip != nil && !ip.IsUnspecified() {
		rc.RemoteAddr = ip.String()
	}
	return rc
}

// GetClientIP resolves the client address preferring the first X-Forwarded-For hop,
// then X-Real-IP, then the peer address.
func GetClientIP(rc RequestContext) string {
	if rc.ForwardedFor != "" {
		first, _, _ := strings.Cut(rc.ForwardedFor, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(rc.RealIP); ip != "" {
		return ip
	}
	if rc.RemoteAddr != "" {
		return rc.RemoteAddr
	}
	return unknownIP
}
