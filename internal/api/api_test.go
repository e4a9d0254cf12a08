package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"peregovorka/internal/config"
	"peregovorka/internal/database"
	"peregovorka/internal/events"
	"peregovorka/internal/models"
	"peregovorka/internal/policy"
	"peregovorka/internal/repository"
	"peregovorka/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type testServices struct {
	bookings  *service.BookingService
	approvals *service.ApprovalService
}

// newTestServices wires real services over an in-memory store; room r2 requires approval.
func newTestServices(t *testing.T) *testServices {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.SyncRooms(ctx, []models.Room{
		{ID: "r1", Name: "Ладога", Capacity: 6, IsAvailable: true, SortOrder: 1},
		{ID: "r2", Name: "Онега", Capacity: 10, IsAvailable: true, SortOrder: 2},
		{ID: "r3", Name: "Селигер", Capacity: 4, IsAvailable: true, SortOrder: 3},
	}))
	require.NoError(t, db.SyncUsers(ctx, []models.User{
		{ID: "boss", Name: "Boss", Role: models.RoleManager},
		{ID: "alice", Name: "Alice", ManagerID: "boss"},
		{ID: "bob", Name: "Bob", ManagerID: "boss"},
	}))

	bus := events.NewEventBus()
	rooms := service.NewRoomService(db, &logger)
	users := service.NewUserService(db, &logger)
	approvals := service.NewApprovalService(db, rooms, users, bus, &logger)
	bookings := service.NewBookingService(
		db,
		rooms,
		users,
		policy.NewConfigPolicy(config.ApprovalConfig{Rooms: []string{"r2"}}),
		repository.NewMemoryLocker(5*time.Second),
		approvals,
		bus,
		service.BookingOptions{},
		&logger,
	)
	return &testServices{bookings: bookings, approvals: approvals}
}

// slot returns a window on the next day so bookings are always in the future.
func slot(hour, durationMinutes int) (time.Time, time.Time) {
	day := time.Now().UTC().Add(24 * time.Hour).Truncate(24 * time.Hour)
	start := day.Add(time.Duration(hour) * time.Hour)
	return start, start.Add(time.Duration(durationMinutes) * time.Minute)
}

func openAPIConfig() *config.APIConfig {
	return &config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true},
	}
}

func newTestHTTP(t *testing.T, cfg *config.APIConfig) (*httptest.Server, *testServices) {
	t.Helper()
	svc := newTestServices(t)
	logger := zerolog.New(io.Discard)
	srv := NewHTTPServer(cfg, svc.bookings, svc.approvals, &logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, svc
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error body, got %v", body)
	code, _ := errBody["code"].(string)
	return code
}

func bookingRequest(roomID, organizerID string, start, end time.Time) service.CreateBookingRequest {
	return service.CreateBookingRequest{
		RoomID:      roomID,
		OrganizerID: organizerID,
		Title:       "Планерка",
		Start:       start,
		End:         end,
	}
}
