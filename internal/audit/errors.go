package audit

import "errors"

var (
	ErrLogNotFound      = errors.New("log not found")
	ErrInvalidStartDate = errors.New("invalid start date")
	ErrInvalidEndDate   = errors.New("invalid end date")
	ErrInvalidPage      = errors.New("invalid page")
	ErrInvalidPageSize  = errors.New("invalid page size")
	ErrInvalidDays      = errors.New("invalid statistics window")
)
