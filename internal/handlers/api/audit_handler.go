package api

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/khanghh/rms/internal/audit"
	"github.com/khanghh/rms/params"
	"github.com/spf13/cast"
)

const (
	moduleAudit       = "audit"
	resourceTypeAudit = "审计日志"
)

type AuditHandler struct {
	queryService AuditQueryService
	auditLog     *audit.Logger
}

func parseLogFilter(ctx *fiber.Ctx) audit.LogFilter {
	return audit.LogFilter{
		Username:  ctx.Query("username"),
		Operation: ctx.Query("operation"),
		Module:    ctx.Query("module"),
		Status:    ctx.Query("status"),
		StartDate: ctx.Query("start_date"),
		EndDate:   ctx.Query("end_date"),
		Page:      ctx.QueryInt("page", 1),
		PageSize:  ctx.QueryInt("page_size", params.AuditDefaultPageSize),
	}
}

func (h *AuditHandler) queryError(ctx *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, audit.ErrInvalidStartDate):
		return errorJSON(ctx, fiber.StatusBadRequest, "开始日期格式错误，应为 YYYY-MM-DD")
	case errors.Is(err, audit.ErrInvalidEndDate):
		return errorJSON(ctx, fiber.StatusBadRequest, "结束日期格式错误，应为 YYYY-MM-DD")
	case errors.Is(err, audit.ErrInvalidPage):
		return errorJSON(ctx, fiber.StatusBadRequest, "页码必须大于 0")
	case errors.Is(err, audit.ErrInvalidPageSize):
		return errorJSON(ctx, fiber.StatusBadRequest, fmt.Sprintf("每页数量应为 1-%d", params.AuditMaxPageSize))
	case errors.Is(err, audit.ErrInvalidDays):
		return errorJSON(ctx, fiber.StatusBadRequest, fmt.Sprintf("统计天数应为 1-%d", params.AuditMaxStatsDays))
	case errors.Is(err, audit.ErrLogNotFound):
		return errorJSON(ctx, fiber.StatusNotFound, "日志不存在")
	}
	return err
}

func filterDetails(filter audit.LogFilter) audit.Details {
	details := audit.Details{}
	for key, val := range map[string]string{
		"username":   filter.Username,
		"operation":  filter.Operation,
		"module":     filter.Module,
		"status":     filter.Status,
		"start_date": filter.StartDate,
		"end_date":   filter.EndDate,
	} {
		if val != "" {
			details[key] = val
		}
	}
	return details
}

func (h *AuditHandler) GetLogs(ctx *fiber.Ctx) error {
	start := time.Now()
	filter := parseLogFilter(ctx)
	page, err := h.queryService.ListLogs(ctx.Context(), filter)
	if err != nil {
		return h.queryError(ctx, err)
	}
	h.auditLog.LogQuery(ctx.Context(), actorOf(CurrentUser(ctx)), moduleAudit, resourceTypeAudit, audit.FromFiber(ctx), filterDetails(filter), audit.ElapsedMs(start))

	resp := LogPageResponse{
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
		Data:     make([]OperationLogResponse, 0, len(page.Entries)),
	}
	for _, entry := range page.Entries {
		resp.Data = append(resp.Data, newOperationLogResponse(entry))
	}
	return ctx.JSON(NewDataResponse(resp))
}

func (h *AuditHandler) GetStatistics(ctx *fiber.Ctx) error {
	stats, err := h.queryService.Statistics(ctx.Context(), ctx.QueryInt("days", params.AuditDefaultStatsDays))
	if err != nil {
		return h.queryError(ctx, err)
	}
	return ctx.JSON(NewDataResponse(stats))
}

func (h *AuditHandler) GetLogDetail(ctx *fiber.Ctx) error {
	logID, err := cast.ToUint64E(ctx.Params("id"))
	if err != nil || logID == 0 {
		return errorJSON(ctx, fiber.StatusBadRequest, "日志ID格式错误")
	}
	entry, err := h.queryService.GetLog(ctx.Context(), logID)
	if err != nil {
		return h.queryError(ctx, err)
	}
	return ctx.JSON(NewDataResponse(newOperationLogResponse(entry)))
}

func (h *AuditHandler) GetExport(ctx *fiber.Ctx) error {
	filter := parseLogFilter(ctx)
	var buf bytes.Buffer
	count, err := h.queryService.ExportLogs(ctx.Context(), filter, &buf)
	if err != nil {
		return h.queryError(ctx, err)
	}
	h.auditLog.LogExport(ctx.Context(), actorOf(CurrentUser(ctx)), moduleAudit, resourceTypeAudit, audit.FromFiber(ctx), count)

	filename := fmt.Sprintf("audit_logs_%s.xlsx", time.Now().Format("20060102150405"))
	ctx.Set(fiber.HeaderContentType, audit.ExportContentType)
	ctx.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	return ctx.Send(buf.Bytes())
}

func NewAuditHandler(queryService AuditQueryService, auditLog *audit.Logger) *AuditHandler {
	return &AuditHandler{
		queryService: queryService,
		auditLog:     auditLog,
	}
}
