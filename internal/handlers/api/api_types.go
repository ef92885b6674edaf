package api

import (
	"time"

	"github.com/khanghh/rms/model"
	"github.com/khanghh/rms/params"
)

const timeLayout = "2006-01-02 15:04:05"

type APIResponse struct {
	APIVersion string        `json:"apiVersion"`
	Data       any           `json:"data,omitempty"`
	Error      *APIErrorInfo `json:"error,omitempty"`
}

type APIErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewDataResponse(data any) APIResponse {
	return APIResponse{
		APIVersion: params.APIVersion,
		Data:       data,
	}
}

func NewErrorResponse(code int, message string) APIResponse {
	return APIResponse{
		APIVersion: params.APIVersion,
		Error: &APIErrorInfo{
			Code:    code,
			Message: message,
		},
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	Name          string `json:"name"`
	Title         string `json:"title"`
	College       string `json:"college"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	ResearchField string `json:"research_field"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type UserResponse struct {
	ID            uint    `json:"id,string"`
	Username      string  `json:"username"`
	Name          string  `json:"name"`
	Role          string  `json:"role"`
	Title         string  `json:"title,omitempty"`
	College       string  `json:"college,omitempty"`
	Email         string  `json:"email,omitempty"`
	Phone         string  `json:"phone,omitempty"`
	ResearchField string  `json:"research_field,omitempty"`
	LastLoginAt   *string `json:"last_login_at,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

type LoginResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int64        `json:"expires_in"`
	User        UserResponse `json:"user"`
	Warning     string       `json:"warning,omitempty"`
}

type PasswordPolicyResponse struct {
	MinLength        int    `json:"min_length"`
	MaxLength        int    `json:"max_length"`
	SpecialChars     string `json:"special_chars"`
	ExpireDays       int    `json:"expire_days"`
	MaxLoginFailures int    `json:"max_login_failures"`
	LockoutMinutes   int    `json:"lockout_minutes"`
	Requirements     string `json:"requirements"`
}

type OperationLogResponse struct {
	ID        uint64  `json:"id"`
	UserID    *uint   `json:"user_id,string"`
	Username  string  `json:"username"`
	Operation string  `json:"operation"`
	Module    string  `json:"module"`
	Method    string  `json:"method"`
	Path      string  `json:"path"`
	Details   *string `json:"details"`
	IPAddress string  `json:"ip_address"`
	UserAgent string  `json:"user_agent"`
	Status    string  `json:"status"`
	ErrorMsg  *string `json:"error_msg"`
	Duration  *int64  `json:"duration"`
	CreatedAt string  `json:"created_at"`
}

type LogPageResponse struct {
	Total    int64                  `json:"total"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"page_size"`
	Data     []OperationLogResponse `json:"data"`
}

func formatTime(t time.Time) string {
	return t.Format(timeLayout)
}

func newUserResponse(user *model.User) UserResponse {
	resp := UserResponse{
		ID:            user.ID,
		Username:      user.Username,
		Name:          user.Name,
		Role:          string(user.Role),
		Title:         user.Title,
		College:       user.College,
		Email:         user.EmailAddress(),
		Phone:         user.Phone,
		ResearchField: user.ResearchField,
		CreatedAt:     formatTime(user.CreatedAt),
	}
	if user.LastLoginAt != nil {
		lastLogin := formatTime(*user.LastLoginAt)
		resp.LastLoginAt = &lastLogin
	}
	return resp
}

func newOperationLogResponse(entry *model.OperationLog) OperationLogResponse {
	return OperationLogResponse{
		ID:        entry.ID,
		UserID:    entry.UserID,
		Username:  entry.Username,
		Operation: entry.Operation,
		Module:    entry.Module,
		Method:    entry.Method,
		Path:      entry.Path,
		Details:   entry.Details,
		IPAddress: entry.IP,
		UserAgent: entry.UserAgent,
		Status:    entry.Status,
		ErrorMsg:  entry.ErrorMsg,
		Duration:  entry.Duration,
		CreatedAt: formatTime(entry.CreatedAt),
	}
}
