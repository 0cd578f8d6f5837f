// Package directory resolves user identities, table grants, and department
// scope paths from the permission database.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/querydesk/internal/models"
	"gorm.io/gorm"
)

// TablePermission is the permission configuration of a single table.
type TablePermission struct {
	TableName       string
	NeedDeptControl bool
	DeptPathField   string
}

// Directory is the user/permission lookup collaborator.
type Directory interface {
	// UserID resolves a username to its id. ok is false when the user
	// has no active mapping.
	UserID(ctx context.Context, username string) (id int64, ok bool, err error)

	// AccessibleTables returns the table names the user's roles grant.
	AccessibleTables(ctx context.Context, userID int64) ([]string, error)

	// ScopePaths returns the user's department ancestry paths.
	ScopePaths(ctx context.Context, userID int64) ([]string, error)

	// AllTableNames returns every active permission-configured table,
	// the name universe used for table-reference extraction.
	AllTableNames(ctx context.Context) ([]string, error)

	// TablePermissionConfigs returns the active permission config for
	// each of the named tables that has one.
	TablePermissionConfigs(ctx context.Context, names []string) (map[string]TablePermission, error)
}

// DB is a Directory backed by the permission database via GORM.
type DB struct {
	db *gorm.DB
}

// New wraps db as a Directory.
func New(db *gorm.DB) *DB {
	return &DB{db: db}
}

// UserID resolves a username against active user rows.
func (d *DB) UserID(ctx context.Context, username string) (int64, bool, error) {
	var u models.User
	err := d.db.WithContext(ctx).
		Where("username = ? AND status = ?", username, models.StatusActive).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("directory: user %s: %w", username, err)
	}
	return u.UserID, true, nil
}

// AccessibleTables joins the user's roles to their table grants.
func (d *DB) AccessibleTables(ctx context.Context, userID int64) ([]string, error) {
	var names []string
	err := d.db.WithContext(ctx).
		Table("user_role ur").
		Select("DISTINCT tpc.table_name").
		Joins("JOIN role_table_permission rtp ON ur.role_id = rtp.role_id").
		Joins("JOIN table_permission_config tpc ON rtp.table_permission_id = tpc.table_permission_id").
		Where("ur.user_id = ? AND tpc.status = ?", userID, models.StatusActive).
		Scan(&names).Error
	if err != nil {
		return nil, fmt.Errorf("directory: accessible tables for %d: %w", userID, err)
	}
	return names, nil
}

// ScopePaths returns the department paths assigned to the user.
func (d *DB) ScopePaths(ctx context.Context, userID int64) ([]string, error) {
	var paths []string
	err := d.db.WithContext(ctx).
		Model(&models.UserDepartment{}).
		Select("dept_id").
		Where("user_id = ?", userID).
		Scan(&paths).Error
	if err != nil {
		return nil, fmt.Errorf("directory: scope paths for %d: %w", userID, err)
	}
	return paths, nil
}

// AllTableNames returns every active configured table name.
func (d *DB) AllTableNames(ctx context.Context) ([]string, error) {
	var names []string
	err := d.db.WithContext(ctx).
		Model(&models.TablePermissionConfig{}).
		Select("table_name").
		Where("status = ?", models.StatusActive).
		Scan(&names).Error
	if err != nil {
		return nil, fmt.Errorf("directory: all table names: %w", err)
	}
	return names, nil
}

// TablePermissionConfigs fetches the active configs for the named tables.
func (d *DB) TablePermissionConfigs(ctx context.Context, names []string) (map[string]TablePermission, error) {
	configs := make(map[string]TablePermission)
	if len(names) == 0 {
		return configs, nil
	}
	var rows []models.TablePermissionConfig
	err := d.db.WithContext(ctx).
		Where("table_name IN ? AND status = ?", names, models.StatusActive).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("directory: permission configs: %w", err)
	}
	for _, r := range rows {
		configs[r.Name] = TablePermission{
			TableName:       r.Name,
			NeedDeptControl: r.NeedDeptControl,
			DeptPathField:   r.DeptPathField,
		}
	}
	return configs, nil
}
