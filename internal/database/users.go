package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"peregovorka/internal/models"
)

const userColumns = `id, name, email, manager_id, role, telegram_chat_id, created_at, updated_at`

// SyncUsers upserts directory records.
func (db *DB) SyncUsers(ctx context.Context, users []models.User) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                name = excluded.name,
                email = excluded.email,
                manager_id = excluded.manager_id,
                role = excluded.role,
                telegram_chat_id = excluded.telegram_chat_id,
                updated_at = excluded.updated_at`
	now := time.Now().UTC()
	for _, u := range users {
		if u.ID == "" {
			return fmt.Errorf("user %q has empty id", u.Name)
		}
		role := u.Role
		if role == "" {
			role = models.RoleEmployee
		}
		if _, err := tx.ExecContext(ctx, query,
			u.ID, u.Name, u.Email, u.ManagerID, role, u.TelegramChatID, now, now,
		); err != nil {
			return fmt.Errorf("failed to sync user %s: %w", u.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit users: %w", err)
	}
	return nil
}

func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id).Scan(
		&u.ID, &u.Name, &u.Email, &u.ManagerID, &u.Role, &u.TelegramChatID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// DirectReports returns ids of users whose manager is managerID.
func (db *DB) DirectReports(ctx context.Context, managerID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT id FROM users WHERE manager_id = ? ORDER BY id`, managerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get direct reports: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
