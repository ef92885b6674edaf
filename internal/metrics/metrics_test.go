package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLogin(t *testing.T) {
	m := NewMetrics("rms", prometheus.NewRegistry())

	m.RecordLogin(LoginFailed)
	m.RecordLogin(LoginFailed)
	m.RecordLogin(LoginLocked)
	m.RecordLogin(LoginBlocked)
	m.RecordLogin(LoginBlocked)
	m.RecordLogin(LoginSuccess)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LoginAttemptsTotal.WithLabelValues(LoginFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoginAttemptsTotal.WithLabelValues(LoginLocked)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LoginAttemptsTotal.WithLabelValues(LoginBlocked)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AccountLocksTotal))
}

func TestMiddleware(t *testing.T) {
	m := NewMetrics("rms", prometheus.NewRegistry())
	app := fiber.New()
	app.Use(m.Middleware())
	app.Get("/api/audit/logs/:id", func(ctx *fiber.Ctx) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/audit/logs/42", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/audit/logs/:id", "204")))
}
