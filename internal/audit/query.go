package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/khanghh/rms/model"
	"github.com/khanghh/rms/params"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

// LogFilter holds the query parameters of an operation log search.
// Dates use the YYYY-MM-DD layout and EndDate is inclusive.
type LogFilter struct {
	Username  string
	Operation string
	Module    string
	Status    string
	StartDate string
	EndDate   string
	Page      int
	PageSize  int
}

type LogPage struct {
	Total    int64
	Page     int
	PageSize int
	Entries  []*model.OperationLog
}

type OperationStat struct {
	Operation string `json:"operation"`
	Count     int64  `json:"count"`
}

type StatusStat struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

type UserStat struct {
	Username string `json:"username"`
	Count    int64  `json:"count"`
}

type DailyStat struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

type Statistics struct {
	OperationStats []OperationStat `json:"operation_stats"`
	StatusStats    []StatusStat    `json:"status_stats"`
	UserStats      []UserStat      `json:"user_stats"`
	DailyStats     []DailyStat     `json:"daily_stats"`
}

// QueryService answers read queries over the operation log.
type QueryService struct {
	repo OperationLogRepository
	now  func() time.Time
	loc  *time.Location
}

func (s *QueryService) conditions(filter LogFilter) (LogConditions, error) {
	conds := LogConditions{
		Username:  filter.Username,
		Operation: filter.Operation,
		Module:    filter.Module,
		Status:    filter.Status,
	}
	if filter.StartDate != "" {
		start, err := time.ParseInLocation(dateLayout, filter.StartDate, s.loc)
		if err != nil {
			return conds, fmt.Errorf("%w: %q", ErrInvalidStartDate, filter.StartDate)
		}
		conds.Since = &start
	}
	if filter.EndDate != "" {
		end, err := time.ParseInLocation(dateLayout, filter.EndDate, s.loc)
		if err != nil {
			return conds, fmt.Errorf("%w: %q", ErrInvalidEndDate, filter.EndDate)
		}
		end = end.AddDate(0, 0, 1)
		conds.Before = &end
	}
	return conds, nil
}

func (s *QueryService) ListLogs(ctx context.Context, filter LogFilter) (*LogPage, error) {
	if filter.Page < 1 {
		return nil, ErrInvalidPage
	}
	if filter.PageSize < 1 || filter.PageSize > params.AuditMaxPageSize {
		return nil, ErrInvalidPageSize
	}
	conds, err := s.conditions(filter)
	if err != nil {
		return nil, err
	}
	entries, total, err := s.repo.Find(ctx, conds, (filter.Page-1)*filter.PageSize, filter.PageSize)
	if err != nil {
		return nil, err
	}
	return &LogPage{
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
		Entries:  entries,
	}, nil
}

func (s *QueryService) GetLog(ctx context.Context, id uint64) (*model.OperationLog, error) {
	entry, err := s.repo.First(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLogNotFound
	}
	return entry, err
}

// Statistics aggregates the operation log over the last days days.
func (s *QueryService) Statistics(ctx context.Context, days int) (*Statistics, error) {
	if days < 1 || days > params.AuditMaxStatsDays {
		return nil, ErrInvalidDays
	}
	since := s.now().AddDate(0, 0, -days)

	operations, err := s.repo.CountBy(ctx, "operation", since, params.AuditStatsTopN)
	if err != nil {
		return nil, err
	}
	statuses, err := s.repo.CountBy(ctx, "status", since, 0)
	if err != nil {
		return nil, err
	}
	users, err := s.repo.CountBy(ctx, "username", since, params.AuditStatsTopN)
	if err != nil {
		return nil, err
	}
	daily, err := s.repo.CountByDay(ctx, since)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		OperationStats: make([]OperationStat, 0, len(operations)),
		StatusStats:    make([]StatusStat, 0, len(statuses)),
		UserStats:      make([]UserStat, 0, len(users)),
		DailyStats:     make([]DailyStat, 0, len(daily)),
	}
	for _, row := range operations {
		stats.OperationStats = append(stats.OperationStats, OperationStat{row.Name, row.Count})
	}
	for _, row := range statuses {
		status := row.Name
		if status == "" {
			status = "未知"
		}
		stats.StatusStats = append(stats.StatusStats, StatusStat{status, row.Count})
	}
	for _, row := range users {
		stats.UserStats = append(stats.UserStats, UserStat{row.Name, row.Count})
	}
	for _, row := range daily {
		date := row.Name
		if len(date) > len(dateLayout) {
			// drivers that parse DATE into a timestamp
			date = date[:len(dateLayout)]
		}
		stats.DailyStats = append(stats.DailyStats, DailyStat{date, row.Count})
	}
	return stats, nil
}

func NewQueryService(repo OperationLogRepository) *QueryService {
	return &QueryService{
		repo: repo,
		now:  time.Now,
		loc:  time.Local,
	}
}
