package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"peregovorka/internal/config"
	"peregovorka/internal/database"
	"peregovorka/internal/events"
	"peregovorka/internal/models"
	"peregovorka/internal/policy"
	"peregovorka/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

type testEnv struct {
	db        *database.DB
	bookings  *BookingService
	approvals *ApprovalService
	users     *UserService

	mu     sync.Mutex
	events []string
}

func (e *testEnv) published() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func (e *testEnv) setNow(t time.Time) {
	e.bookings.now = func() time.Time { return t }
	e.approvals.now = func() time.Time { return t }
}

// newTestEnv wires the services over an in-memory store.
// Room r2 and emergency bookings require approval.
func newTestEnv(t *testing.T) *testEnv {
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
		{ID: "r4", Name: "Валдай", Capacity: 20, IsAvailable: false, SortOrder: 4},
	}))
	require.NoError(t, db.SyncUsers(ctx, []models.User{
		{ID: "boss", Name: "Boss", Role: models.RoleManager},
		{ID: "alice", Name: "Alice", ManagerID: "boss"},
		{ID: "bob", Name: "Bob", ManagerID: "boss"},
		{ID: "carol", Name: "Carol", ManagerID: "boss"},
		{ID: "eve", Name: "Eve", Role: models.RoleManager},
		{ID: "root", Name: "Root", Role: models.RoleAdmin},
	}))

	env := &testEnv{db: db}
	bus := events.NewEventBus()
	bus.SubscribeAll(func(e *events.Event) error {
		env.mu.Lock()
		env.events = append(env.events, e.Type)
		env.mu.Unlock()
		return nil
	})

	rooms := NewRoomService(db, &logger)
	env.users = NewUserService(db, &logger)
	env.approvals = NewApprovalService(db, rooms, env.users, bus, &logger)
	env.bookings = NewBookingService(
		db,
		rooms,
		env.users,
		policy.NewConfigPolicy(config.ApprovalConfig{Rooms: []string{"r2"}, EmergencyRequiresApproval: true}),
		repository.NewMemoryLocker(5 * time.Second),
		env.approvals,
		bus,
		BookingOptions{},
		&logger,
	)
	env.setNow(testNow)
	return env
}

func (e *testEnv) create(t *testing.T, req CreateBookingRequest) *models.Booking {
	t.Helper()
	if req.Title == "" {
		req.Title = "Планерка"
	}
	b, err := e.bookings.Create(context.Background(), req)
	require.NoError(t, err)
	return b
}

func (e *testEnv) pendingApproval(t *testing.T, bookingID string) *models.ApprovalRequest {
	t.Helper()
	list, err := e.approvals.GetAllApprovals(context.Background(), "boss")
	require.NoError(t, err)
	for _, a := range list {
		if a.BookingID == bookingID && a.Status == models.ApprovalPending {
			return a
		}
	}
	t.Fatalf("no pending approval for booking %s", bookingID)
	return nil
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishJSON(eventType string, payload interface{}) error {
	return m.Called(eventType, payload).Error(0)
}
