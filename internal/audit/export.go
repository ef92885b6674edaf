package audit

import (
	"context"
	"io"

	"github.com/khanghh/rms/model"
	"github.com/khanghh/rms/params"
	"github.com/xuri/excelize/v2"
)

const (
	ExportSheetName   = "审计日志"
	ExportContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	exportTimeLayout  = "2006-01-02 15:04:05"
)

var exportHeaders = []interface{}{
	"ID", "用户名", "操作", "模块", "请求方法", "请求路径", "IP地址", "状态", "错误信息", "耗时(ms)", "操作时间",
}

func exportRow(entry *model.OperationLog) []interface{} {
	var errorMsg string
	if entry.ErrorMsg != nil {
		errorMsg = *entry.ErrorMsg
	}
	var duration interface{}
	if entry.Duration != nil {
		duration = *entry.Duration
	}
	return []interface{}{
		entry.ID,
		entry.Username,
		entry.Operation,
		entry.Module,
		entry.Method,
		entry.Path,
		entry.IP,
		entry.Status,
		errorMsg,
		duration,
		entry.CreatedAt.Format(exportTimeLayout),
	}
}

// ExportLogs writes the entries matching filter as an xlsx workbook to w, newest first.
// Paging fields of filter are ignored. It returns the number of exported rows.
func (s *QueryService) ExportLogs(ctx context.Context, filter LogFilter, w io.Writer) (int, error) {
	conds, err := s.conditions(filter)
	if err != nil {
		return 0, err
	}
	entries, _, err := s.repo.Find(ctx, conds, 0, params.AuditExportMaxRows)
	if err != nil {
		return 0, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ExportSheetName); err != nil {
		return 0, err
	}
	if err := f.SetSheetRow(ExportSheetName, "A1", &exportHeaders); err != nil {
		return 0, err
	}
	for idx, entry := range entries {
		cell, err := excelize.CoordinatesToCellName(1, idx+2)
		if err != nil {
			return 0, err
		}
		row := exportRow(entry)
		if err := f.SetSheetRow(ExportSheetName, cell, &row); err != nil {
			return 0, err
		}
	}
	f.SetColWidth(ExportSheetName, "B", "D", 14)
	f.SetColWidth(ExportSheetName, "F", "F", 30)
	f.SetColWidth(ExportSheetName, "G", "G", 16)
	f.SetColWidth(ExportSheetName, "K", "K", 20)

	if _, err := f.WriteTo(w); err != nil {
		return 0, err
	}
	return len(entries), nil
}
