package models

import "time"

const (
	RoleEmployee = "employee"
	RoleManager  = "manager"
	RoleAdmin    = "admin"
)

// User is a plain directory record. The manager relation is queried through domain.Hierarchy.
type User struct {
	ID             string    `yaml:"id" json:"id"`
	Name           string    `yaml:"name" json:"name"`
	Email          string    `yaml:"email" json:"email,omitempty"`
	ManagerID      string    `yaml:"manager_id" json:"manager_id,omitempty"`
	Role           string    `yaml:"role" json:"role"`
	TelegramChatID int64     `yaml:"telegram_chat_id" json:"-"`
	CreatedAt      time.Time `yaml:"-" json:"created_at"`
	UpdatedAt      time.Time `yaml:"-" json:"updated_at"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
