package model

import (
	"time"

	"gorm.io/gorm"
)

// Unique index names are fixed in the struct tags so they stay the same under a table prefix.
const (
	IdxUserUsername = "idx_users_username"
	IdxUserEmail    = "idx_users_email"
)

type Role string

const (
	RoleAdmin     Role = "管理员"
	RoleSecretary Role = "科研秘书"
	RoleTeacher   Role = "普通教师"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSecretary, RoleTeacher:
		return true
	}
	return false
}

// User stores a research staff account together with its login security state.
type User struct {
	ID                uint       `gorm:"primarykey"`
	Username          string     `gorm:"uniqueIndex:idx_users_username;size:50;not null"`
	PasswordHash      string     `gorm:"size:255;not null"`
	Name              string     `gorm:"size:50;not null"`
	Role              Role       `gorm:"size:16;not null"`
	Title             string     `gorm:"size:50"`
	College           string     `gorm:"size:100"`
	Email             *string    `gorm:"uniqueIndex:idx_users_email;size:100"` // optional, NULL keeps the unique index usable
	Phone             string     `gorm:"size:20"`
	ResearchField     string     `gorm:"size:200"`
	PasswordUpdatedAt *time.Time // nil means unknown and is treated as expired
	LoginFailures     int        `gorm:"not null;default:0"` // consecutive failed logins
	LockedUntil       *time.Time // lock deadline, a past value means unlocked
	LastLoginAt       *time.Time
	LastLoginIP       string `gorm:"size:50"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == 0 {
		u.ID = GenerateID()
	}
	if u.PasswordUpdatedAt == nil {
		now := time.Now()
		u.PasswordUpdatedAt = &now
	}
	return nil
}

func (u *User) EmailAddress() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}
