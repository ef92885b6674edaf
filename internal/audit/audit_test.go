package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/khanghh/rms/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type memorySink struct {
	entries []*model.OperationLog
}

func (s *memorySink) Append(ctx context.Context, entry *model.OperationLog) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memorySink) last(t *testing.T) *model.OperationLog {
	require.NotEmpty(t, s.entries)
	return s.entries[len(s.entries)-1]
}

type failingSink struct{ err error }

func (s failingSink) Append(ctx context.Context, entry *model.OperationLog) error {
	return s.err
}

type panickingSink struct{}

func (panickingSink) Append(ctx context.Context, entry *model.OperationLog) error {
	panic("connection reset")
}

var testRequest = RequestContext{
	Method:       "POST",
	Path:         "/api/auth/login",
	ForwardedFor: "203.0.113.1, 198.51.100.1",
	UserAgent:    "curl/8.0",
}

func newTestLogger(sink Sink, opts ...Option) *Logger {
	return NewLogger(sink, append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
}

func decodeDetails(t *testing.T, entry *model.OperationLog) map[string]any {
	require.NotNil(t, entry.Details)
	var details map[string]any
	require.NoError(t, json.Unmarshal([]byte(*entry.Details), &details))
	return details
}

func TestLogOperation(t *testing.T) {
	sink := &memorySink{}
	logger := newTestLogger(sink)

	elapsed := int64(12)
	logger.LogOperation(context.Background(), Entry{
		Actor:      UserActor(7, "alice"),
		Operation:  "创建项目",
		Module:     "project",
		Request:    testRequest,
		Details:    Details{"title": "<b>项目</b>"},
		DurationMs: &elapsed,
	})

	entry := sink.last(t)
	require.NotNil(t, entry.UserID)
	assert.EqualValues(t, 7, *entry.UserID)
	assert.Equal(t, "alice", entry.Username)
	assert.Equal(t, "创建项目", entry.Operation)
	assert.Equal(t, "project", entry.Module)
	assert.Equal(t, "POST", entry.Method)
	assert.Equal(t, "/api/auth/login", entry.Path)
	assert.Equal(t, "203.0.113.1", entry.IP)
	assert.Equal(t, "curl/8.0", entry.UserAgent)
	assert.Equal(t, model.StatusSuccess, entry.Status)
	assert.Nil(t, entry.ErrorMsg)
	assert.Equal(t, &elapsed, entry.Duration)
	assert.Equal(t, fixedNow, entry.CreatedAt)
	assert.Equal(t, `{"title":"<b>项目</b>"}`, *entry.Details)
}

func TestLogOperation_Defaults(t *testing.T) {
	sink := &memorySink{}
	logger := newTestLogger(sink)

	logger.LogOperation(context.Background(), Entry{
		Operation: "查询项目",
		Module:    "project",
		Details:   Details{},
	})

	entry := sink.last(t)
	assert.Nil(t, entry.UserID)
	assert.Equal(t, "anonymous", entry.Username)
	assert.Equal(t, "unknown", entry.IP)
	assert.Equal(t, model.StatusSuccess, entry.Status)
	assert.Nil(t, entry.Details)
	assert.Nil(t, entry.Duration)
}

func TestLogOperation_TruncatesUserAgent(t *testing.T) {
	sink := &memorySink{}
	logger := newTestLogger(sink)

	rc := testRequest
	rc.UserAgent = strings.Repeat("浏", 600)
	logger.LogOperation(context.Background(), Entry{Operation: "登录", Module: ModuleAuth, Request: rc})

	assert.Equal(t, 500, utf8.RuneCountInString(sink.last(t).UserAgent))
}

func TestLogOperation_BoundsDetails(t *testing.T) {
	sink := &memorySink{}
	logger := newTestLogger(sink, WithMaxDetailsLength(64))

	logger.LogOperation(context.Background(), Entry{
		Operation: "更新项目",
		Module:    "project",
		Details:   Details{"abstract": strings.Repeat("研究", 100)},
	})

	details := *sink.last(t).Details
	assert.LessOrEqual(t, len(details), 64)
	assert.True(t, utf8.ValidString(details))

	var marker map[string]any
	require.NoError(t, json.Unmarshal([]byte(details), &marker))
	assert.Equal(t, true, marker["truncated"])
	assert.Greater(t, marker["original_length"], 64.0)
}

func TestLogOperation_TruncatedDetailsStayValidJSON(t *testing.T) {
	for _, maxLen := range []int{16, 48, 200, 1024} {
		sink := &memorySink{}
		logger := newTestLogger(sink, WithMaxDetailsLength(maxLen))

		logger.LogOperation(context.Background(), Entry{
			Operation: "更新论文",
			Module:    "paper",
			Details:   Details{"abstract": strings.Repeat(`"引号"\`, 300), "authors": []string{"张三", "李四"}},
		})

		details := *sink.last(t).Details
		var marker map[string]any
		require.NoError(t, json.Unmarshal([]byte(details), &marker), "max %d: %s", maxLen, details)
		assert.Equal(t, true, marker["truncated"])
		if maxLen >= 48 {
			assert.LessOrEqual(t, len(details), maxLen)
		}
		if maxLen >= 200 {
			assert.NotEmpty(t, marker["preview"])
		}
	}
}

func TestLogOperation_NeverFails(t *testing.T) {
	tests := []struct {
		name string
		sink Sink
	}{
		{"sink error", failingSink{errors.New("database is locked")}},
		{"sink panic", panickingSink{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var failures []error
			logger := newTestLogger(tt.sink, WithFailureHook(func(err error) {
				failures = append(failures, err)
			}))

			createProject := func() (string, error) {
				logger.LogCreate(context.Background(), UserActor(1, "alice"), "project", "项目", 42, testRequest, Details{"title": "x"})
				return "created", nil
			}

			var result string
			var err error
			assert.NotPanics(t, func() { result, err = createProject() })
			assert.NoError(t, err)
			assert.Equal(t, "created", result)
			assert.Len(t, failures, 1)
		})
	}
}

func TestLogOperation_UnencodableDetails(t *testing.T) {
	sink := &memorySink{}
	var failures int
	logger := newTestLogger(sink, WithFailureHook(func(error) { failures++ }))

	logger.LogOperation(context.Background(), Entry{
		Operation: "创建项目",
		Module:    "project",
		Details:   Details{"callback": func() {}},
	})

	entry := sink.last(t)
	assert.Nil(t, entry.Details)
	assert.Equal(t, 1, failures)
}

func TestLogLoginAttempt(t *testing.T) {
	sink := &memorySink{}
	logger := newTestLogger(sink)

	logger.LogLoginAttempt(context.Background(), "alice", testRequest, true, "")
	ok := sink.last(t)
	assert.Equal(t, "登录", ok.Operation)
	assert.Equal(t, "auth", ok.Module)
	assert.Equal(t, model.StatusSuccess, ok.Status)
	assert.Nil(t, ok.UserID)
	assert.Equal(t, map[string]any{"username": "alice"}, decodeDetails(t, ok))

	logger.LogLoginAttempt(context.Background(), "mallory", testRequest, false, "用户不存在")
	failed := sink.last(t)
	assert.Equal(t, "登录失败", failed.Operation)
	assert.Equal(t, model.StatusFailed, failed.Status)
	assert.Equal(t, "mallory", failed.Username)
	require.NotNil(t, failed.ErrorMsg)
	assert.Equal(t, "用户不存在", *failed.ErrorMsg)
}

func TestLogResourceWrappers(t *testing.T) {
	sink := &memorySink{}
	logger := newTestLogger(sink)
	actor := UserActor(3, "bob")
	ctx := context.Background()

	logger.LogCreate(ctx, actor, "project", "项目", 42, testRequest, Details{"title": "量子计算"})
	entry := sink.last(t)
	assert.Equal(t, "创建项目", entry.Operation)
	assert.Equal(t, "project", entry.Module)
	assert.Equal(t, map[string]any{
		"resource_type": "项目",
		"resource_id":   "42",
		"data":          map[string]any{"title": "量子计算"},
	}, decodeDetails(t, entry))

	logger.LogUpdate(ctx, actor, "paper", "论文", uint64(9), testRequest, Details{"status": "published"})
	entry = sink.last(t)
	assert.Equal(t, "更新论文", entry.Operation)
	assert.Equal(t, "9", decodeDetails(t, entry)["resource_id"])
	assert.Contains(t, decodeDetails(t, entry), "changes")

	logger.LogDelete(ctx, actor, "fund", "经费", "F-1", testRequest)
	entry = sink.last(t)
	assert.Equal(t, "删除经费", entry.Operation)
	assert.Equal(t, map[string]any{"resource_type": "经费", "resource_id": "F-1"}, decodeDetails(t, entry))
}

func TestLogQueryAndExport(t *testing.T) {
	sink := &memorySink{}
	logger := newTestLogger(sink)
	actor := UserActor(1, "admin")
	ctx := context.Background()

	logger.LogQuery(ctx, actor, "audit", "审计日志", testRequest, Details{"module": "auth"}, nil)
	entry := sink.last(t)
	assert.Equal(t, "查询审计日志", entry.Operation)
	assert.Equal(t, map[string]any{"module": "auth"}, decodeDetails(t, entry)["filters"])

	logger.LogExport(ctx, actor, "audit", "审计日志", testRequest, 25)
	entry = sink.last(t)
	assert.Equal(t, "导出审计日志", entry.Operation)
	assert.Equal(t, "audit", entry.Module)
	assert.EqualValues(t, 25, decodeDetails(t, entry)["count"])
}

func TestLogPermissionDenied(t *testing.T) {
	sink := &memorySink{}
	logger := newTestLogger(sink)

	logger.LogPermissionDenied(context.Background(), Actor{}, "user", testRequest, "需要管理员权限")

	entry := sink.last(t)
	assert.Equal(t, "权限拒绝", entry.Operation)
	assert.Equal(t, "user", entry.Module)
	assert.Equal(t, "anonymous", entry.Username)
	assert.Equal(t, model.StatusFailed, entry.Status)
	require.NotNil(t, entry.ErrorMsg)
	assert.Equal(t, "需要管理员权限", *entry.ErrorMsg)
}

func TestMultiSink(t *testing.T) {
	first, last := &memorySink{}, &memorySink{}
	sinkErr := errors.New("redis unavailable")
	multi := MultiSink{first, failingSink{sinkErr}, last}

	err := multi.Append(context.Background(), &model.OperationLog{Operation: "登录"})

	assert.ErrorIs(t, err, sinkErr)
	assert.Len(t, first.entries, 1)
	assert.Len(t, last.entries, 1)
}
