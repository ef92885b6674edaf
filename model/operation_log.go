package model

import "time"

const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// OperationLog is an append-only audit record. Rows are never updated by the application.
type OperationLog struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"    json:"id"`
	UserID    *uint     `gorm:"index"                       json:"user_id"`   // nil for unauthenticated attempts
	Username  string    `gorm:"size:50;not null;index"      json:"username"`  // snapshot of username at event time
	Operation string    `gorm:"size:100;not null"           json:"operation"` // 登录, 创建项目...
	Module    string    `gorm:"size:50;not null;index"      json:"module"`    // auth, project, paper...
	Method    string    `gorm:"size:10"                     json:"method"`
	Path      string    `gorm:"size:200"                    json:"path"`
	Details   *string   `gorm:"type:text"                   json:"details"` // serialized json
	IP        string    `gorm:"column:ip_address;size:50;not null" json:"ip_address"`
	UserAgent string    `gorm:"size:500"                    json:"user_agent"`
	Status    string    `gorm:"size:20;index"               json:"status"`
	ErrorMsg  *string   `gorm:"type:text"                   json:"error_msg"`
	Duration  *int64    `json:"duration"` // milliseconds
	CreatedAt time.Time `gorm:"autoCreateTime;index"        json:"created_at"`
}
