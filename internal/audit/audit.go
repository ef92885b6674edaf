// Package audit records who did what, from where, and with what outcome.
// Writes are best effort: a failing sink never fails the caller.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/khanghh/rms/model"
	"github.com/khanghh/rms/params"
	"github.com/spf13/cast"
)

const (
	OperationLogin            = "登录"
	OperationLoginFailed      = "登录失败"
	OperationLogout           = "登出"
	OperationCreate           = "创建"
	OperationUpdate           = "更新"
	OperationDelete           = "删除"
	OperationQuery            = "查询"
	OperationExport           = "导出"
	OperationPermissionDenied = "权限拒绝"

	ModuleAuth = "auth"
)

// Actor identifies who performed an operation. A zero Actor is anonymous.
type Actor struct {
	UserID   *uint
	Username string
}

func UserActor(id uint, username string) Actor {
	return Actor{UserID: &id, Username: username}
}

// Entry is the input of LogOperation.
type Entry struct {
	Actor      Actor
	Operation  string
	Module     string
	Request    RequestContext
	Details    Details
	Status     string
	ErrorMsg   string
	DurationMs *int64
}

// ElapsedMs returns the milliseconds elapsed since start, suitable for Entry.DurationMs.
func ElapsedMs(start time.Time) *int64 {
	ms := time.Since(start).Milliseconds()
	return &ms
}

type Option func(*Logger)

// WithFailureHook registers a callback invoked whenever an entry could not be recorded.
func WithFailureHook(hook func(error)) Option {
	return func(l *Logger) { l.onFailure = hook }
}

func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

func WithMaxDetailsLength(n int) Option {
	return func(l *Logger) { l.maxDetails = n }
}

type Logger struct {
	sink       Sink
	now        func() time.Time
	maxDetails int
	onFailure  func(error)
}

// LogOperation builds an operation log entry and appends it to the sink.
// It never returns an error and never panics.
func (l *Logger) LogOperation(ctx context.Context, e Entry) {
	defer func() {
		if r := recover(); r != nil {
			l.fail(e, fmt.Errorf("panic: %v", r))
		}
	}()

	entry := l.buildEntry(e)
	if err := l.sink.Append(ctx, entry); err != nil {
		l.fail(e, err)
		return
	}
	slog.Debug("Operation recorded", "operation", entry.Operation, "module", entry.Module, "username", entry.Username, "status", entry.Status)
}

func (l *Logger) buildEntry(e Entry) *model.OperationLog {
	username := e.Actor.Username
	if username == "" {
		username = params.AuditAnonymousUsername
	}
	status := e.Status
	if status == "" {
		status = model.StatusSuccess
	}
	entry := &model.OperationLog{
		UserID:    e.Actor.UserID,
		Username:  username,
		Operation: e.Operation,
		Module:    e.Module,
		Method:    e.Request.Method,
		Path:      e.Request.Path,
		IP:        GetClientIP(e.Request),
		UserAgent: truncateRunes(e.Request.UserAgent, params.AuditUserAgentMaxLength),
		Status:    status,
		Duration:  e.DurationMs,
		CreatedAt: l.now(),
	}
	if e.ErrorMsg != "" {
		msg := e.ErrorMsg
		entry.ErrorMsg = &msg
	}
	details, err := serializeDetails(e.Details, l.maxDetails)
	if err != nil {
		// keep the entry, drop what could not be encoded
		l.fail(e, fmt.Errorf("encode details: %w", err))
	}
	entry.Details = details
	return entry
}

func (l *Logger) fail(e Entry, err error) {
	slog.Error("Failed to record operation", "operation", e.Operation, "module", e.Module, "username", e.Actor.Username, "error", err)
	if l.onFailure != nil {
		l.onFailure(err)
	}
}

// LogLoginAttempt records a login outcome. The entry carries no user id and the
// attempted username is kept in details.
func (l *Logger) LogLoginAttempt(ctx context.Context, username string, rc RequestContext, success bool, errorMsg string) {
	op, status := OperationLogin, model.StatusSuccess
	if !success {
		op, status = OperationLoginFailed, model.StatusFailed
	}
	l.LogOperation(ctx, Entry{
		Actor:     Actor{Username: username},
		Operation: op,
		Module:    ModuleAuth,
		Request:   rc,
		Details:   Details{"username": username},
		Status:    status,
		ErrorMsg:  errorMsg,
	})
}

func (l *Logger) LogLogout(ctx context.Context, actor Actor, rc RequestContext) {
	l.LogOperation(ctx, Entry{
		Actor:     actor,
		Operation: OperationLogout,
		Module:    ModuleAuth,
		Request:   rc,
	})
}

func (l *Logger) LogCreate(ctx context.Context, actor Actor, module, resourceType string, resourceID any, rc RequestContext, data Details) {
	l.logResource(ctx, OperationCreate, actor, module, resourceType, resourceID, rc, "data", data)
}

func (l *Logger) LogUpdate(ctx context.Context, actor Actor, module, resourceType string, resourceID any, rc RequestContext, changes Details) {
	l.logResource(ctx, OperationUpdate, actor, module, resourceType, resourceID, rc, "changes", changes)
}

func (l *Logger) LogDelete(ctx context.Context, actor Actor, module, resourceType string, resourceID any, rc RequestContext) {
	l.logResource(ctx, OperationDelete, actor, module, resourceType, resourceID, rc, "", nil)
}

func (l *Logger) logResource(ctx context.Context, verb string, actor Actor, module, resourceType string, resourceID any, rc RequestContext, payloadKey string, payload Details) {
	details := Details{
		"resource_type": resourceType,
		"resource_id":   cast.ToString(resourceID),
	}
	if payloadKey != "" && payload != nil {
		details[payloadKey] = payload
	}
	l.LogOperation(ctx, Entry{
		Actor:     actor,
		Operation: verb + resourceType,
		Module:    module,
		Request:   rc,
		Details:   details,
	})
}

// LogQuery records a read of a sensitive resource together with the filters used.
func (l *Logger) LogQuery(ctx context.Context, actor Actor, module, resourceType string, rc RequestContext, filters Details, durationMs *int64) {
	l.LogOperation(ctx, Entry{
		Actor:      actor,
		Operation:  OperationQuery + resourceType,
		Module:     module,
		Request:    rc,
		Details:    Details{"resource_type": resourceType, "filters": filters},
		DurationMs: durationMs,
	})
}

func (l *Logger) LogExport(ctx context.Context, actor Actor, module, resourceType string, rc RequestContext, count int) {
	l.LogOperation(ctx, Entry{
		Actor:     actor,
		Operation: OperationExport + resourceType,
		Module:    module,
		Request:   rc,
		Details:   Details{"resource_type": resourceType, "count": count},
	})
}

func (l *Logger) LogPermissionDenied(ctx context.Context, actor Actor, module string, rc RequestContext, reason string) {
	l.LogOperation(ctx, Entry{
		Actor:     actor,
		Operation: OperationPermissionDenied,
		Module:    module,
		Request:   rc,
		Details:   Details{"reason": reason},
		Status:    model.StatusFailed,
		ErrorMsg:  reason,
	})
}

func NewLogger(sink Sink, opts ...Option) *Logger {
	l := &Logger{
		sink:       sink,
		now:        time.Now,
		maxDetails: params.AuditDetailsMaxLength,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}
