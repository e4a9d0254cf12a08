package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"peregovorka/internal/models"
)

// SyncRooms upserts rooms from the directory seed and refreshes the cache.
func (db *DB) SyncRooms(ctx context.Context, rooms []models.Room) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `INSERT INTO rooms (id, name, capacity, amenities, is_available, sort_order, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                name = excluded.name,
                capacity = excluded.capacity,
                amenities = excluded.amenities,
                is_available = excluded.is_available,
                sort_order = excluded.sort_order,
                updated_at = excluded.updated_at`
	now := time.Now().UTC()
	for _, room := range rooms {
		if room.ID == "" {
			return fmt.Errorf("room %q has empty id", room.Name)
		}
		amenities, err := json.Marshal(room.Amenities)
		if err != nil {
			return fmt.Errorf("failed to encode amenities: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query,
			room.ID, room.Name, room.Capacity, string(amenities), room.IsAvailable, room.SortOrder, now, now,
		); err != nil {
			return fmt.Errorf("failed to sync room %s: %w", room.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rooms: %w", err)
	}

	db.invalidateRooms()
	return nil
}

func (db *DB) invalidateRooms() {
	db.mu.Lock()
	db.roomsCache = make(map[string]*models.Room)
	db.roomsLoadedAt = time.Time{}
	db.mu.Unlock()
}

func (db *DB) cachedRooms() (map[string]*models.Room, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.roomsLoadedAt.IsZero() || time.Since(db.roomsLoadedAt) > models.RoomsCacheTTL {
		return nil, false
	}
	return db.roomsCache, true
}

func (db *DB) loadRooms(ctx context.Context) (map[string]*models.Room, error) {
	if rooms, ok := db.cachedRooms(); ok {
		return rooms, nil
	}

	query := `SELECT id, name, capacity, amenities, is_available, sort_order, created_at, updated_at FROM rooms`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load rooms: %w", err)
	}
	defer rows.Close()

	rooms := make(map[string]*models.Room)
	for rows.Next() {
		var room models.Room
		var amenities string
		if err := rows.Scan(
			&room.ID, &room.Name, &room.Capacity, &amenities, &room.IsAvailable, &room.SortOrder, &room.CreatedAt, &room.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		if err := json.Unmarshal([]byte(amenities), &room.Amenities); err != nil {
			return nil, fmt.Errorf("failed to decode amenities of room %s: %w", room.ID, err)
		}
		rooms[room.ID] = &room
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	db.mu.Lock()
	db.roomsCache = rooms
	db.roomsLoadedAt = time.Now()
	db.mu.Unlock()
	return rooms, nil
}

func (db *DB) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	rooms, err := db.loadRooms(ctx)
	if err != nil {
		return nil, err
	}
	if room, ok := rooms[id]; ok {
		copied := *room
		return &copied, nil
	}

	// Комнату могли добавить в обход кэша
	var room models.Room
	var amenities string
	err = db.QueryRowContext(ctx,
		`SELECT id, name, capacity, amenities, is_available, sort_order, created_at, updated_at FROM rooms WHERE id = ?`, id,
	).Scan(&room.ID, &room.Name, &room.Capacity, &amenities, &room.IsAvailable, &room.SortOrder, &room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	if err := json.Unmarshal([]byte(amenities), &room.Amenities); err != nil {
		return nil, fmt.Errorf("failed to decode amenities of room %s: %w", room.ID, err)
	}
	db.invalidateRooms()
	return &room, nil
}

// ListRooms returns every room ordered by sort_order, then name.
func (db *DB) ListRooms(ctx context.Context) ([]*models.Room, error) {
	rooms, err := db.loadRooms(ctx)
	if err != nil {
		return nil, err
	}

	list := make([]*models.Room, 0, len(rooms))
	for _, room := range rooms {
		copied := *room
		list = append(list, &copied)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].SortOrder != list[j].SortOrder {
			return list[i].SortOrder < list[j].SortOrder
		}
		return list[i].Name < list[j].Name
	})
	return list, nil
}
