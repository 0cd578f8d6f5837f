// Package models defines the GORM models for the user directory, table
// permission configuration, and session checkpoints.
package models

import "time"

// Row status values shared by directory tables.
const (
	StatusActive   = 1
	StatusDisabled = 0
)

// User maps a login name to a numeric identity.
type User struct {
	UserID    int64  `gorm:"primaryKey;autoIncrement"`
	Username  string `gorm:"size:64;uniqueIndex;not null"`
	Status    int    `gorm:"default:1;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName overrides the default pluralized name.
func (User) TableName() string { return "user" }

// UserRole assigns a role to a user.
type UserRole struct {
	ID     int64 `gorm:"primaryKey;autoIncrement"`
	UserID int64 `gorm:"index;not null"`
	RoleID int64 `gorm:"index;not null"`
}

func (UserRole) TableName() string { return "user_role" }

// RoleTablePermission grants a role access to a permission-configured table.
type RoleTablePermission struct {
	ID                int64 `gorm:"primaryKey;autoIncrement"`
	RoleID            int64 `gorm:"index;not null"`
	TablePermissionID int64 `gorm:"index;not null"`
}

func (RoleTablePermission) TableName() string { return "role_table_permission" }

// TablePermissionConfig declares a queryable table and whether rows must be
// filtered by department scope.
type TablePermissionConfig struct {
	TablePermissionID int64  `gorm:"primaryKey;autoIncrement"`
	Name              string `gorm:"column:table_name;size:128;uniqueIndex;not null"`
	NeedDeptControl   bool   `gorm:"default:false"`
	DeptPathField     string `gorm:"size:64"`
	Status            int    `gorm:"default:1;index"`
}

func (TablePermissionConfig) TableName() string { return "table_permission_config" }

// UserDepartment records a department scope path for a user. DeptID is a
// delimiter-separated ancestry string, e.g. "1>4>12".
type UserDepartment struct {
	ID     int64  `gorm:"primaryKey;autoIncrement"`
	UserID int64  `gorm:"index;not null"`
	DeptID string `gorm:"size:255;not null"`
}

func (UserDepartment) TableName() string { return "user_department" }
