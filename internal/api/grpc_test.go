package api

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"peregovorka/internal/apperrors"
	"peregovorka/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func newTestGRPC(t *testing.T, cfg *config.APIConfig) (*AvailabilityClient, *testServices) {
	t.Helper()
	svc := newTestServices(t)
	logger := zerolog.New(io.Discard)
	srv, err := NewGRPCServer(cfg, svc.bookings, &logger)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewAvailabilityClient(conn), svc
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestGRPCAvailability(t *testing.T) {
	client, svc := newTestGRPC(t, &config.APIConfig{})
	ctx := context.Background()
	start, end := slot(9, 90)
	_, err := svc.bookings.Create(ctx, bookingRequest("r1", "alice", start, end))
	require.NoError(t, err)

	resp, err := client.CheckRoomAvailability(ctx, mustStruct(t, map[string]any{
		"room_id": "r1",
		"start":   start.Format(time.RFC3339),
		"end":     end.Format(time.RFC3339),
	}))
	require.NoError(t, err)
	assert.False(t, resp.GetFields()["available"].GetBoolValue())

	resp, err = client.CheckRoomAvailability(ctx, mustStruct(t, map[string]any{
		"room_id": "r1",
		"start":   end.Format(time.RFC3339),
		"end":     end.Add(time.Hour).Format(time.RFC3339),
	}))
	require.NoError(t, err)
	assert.True(t, resp.GetFields()["available"].GetBoolValue())

	resp, err = client.CheckConflicts(ctx, mustStruct(t, map[string]any{
		"room_id":      "r3",
		"organizer_id": "bob",
		"attendee_ids": []any{"alice"},
		"start":        start.Format(time.RFC3339),
		"end":          end.Format(time.RFC3339),
	}))
	require.NoError(t, err)
	assert.True(t, resp.GetFields()["has_conflicts"].GetBoolValue())
	assert.Len(t, resp.GetFields()["attendee_conflicts"].GetListValue().GetValues(), 1)

	resp, err = client.ListRooms(ctx, nil)
	require.NoError(t, err)
	rooms := resp.GetFields()["rooms"].GetListValue().GetValues()
	require.Len(t, rooms, 3)
	assert.Equal(t, "Ладога", rooms[0].GetStructValue().GetFields()["name"].GetStringValue())
}

func TestGRPCErrorCodes(t *testing.T) {
	client, _ := newTestGRPC(t, &config.APIConfig{})
	ctx := context.Background()
	start, end := slot(9, 60)

	_, err := client.CheckRoomAvailability(ctx, mustStruct(t, map[string]any{
		"start": start.Format(time.RFC3339),
		"end":   end.Format(time.RFC3339),
	}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.CheckRoomAvailability(ctx, mustStruct(t, map[string]any{
		"room_id": "nope",
		"start":   start.Format(time.RFC3339),
		"end":     end.Format(time.RFC3339),
	}))
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.CheckRoomAvailability(ctx, mustStruct(t, map[string]any{
		"room_id": "r1",
		"start":   "10:00",
		"end":     end.Format(time.RFC3339),
	}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPCAuth(t *testing.T) {
	cfg := &config.APIConfig{
		Enabled: true,
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{
				{Key: "rooms-only", Extra: "s", Permissions: []string{permReadRooms}},
			},
		},
	}
	client, _ := newTestGRPC(t, cfg)

	_, err := client.ListRooms(context.Background(), nil)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "rooms-only", "x-api-extra", "s")
	_, err = client.ListRooms(ctx, nil)
	assert.NoError(t, err)

	_, err = client.CheckRoomAvailability(ctx, mustStruct(t, map[string]any{"room_id": "r1"}))
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestAuthInterceptor(t *testing.T) {
	cfg := config.APIConfig{
		Enabled: true,
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			HeaderExtra:  "x-api-extra",
			APIKeys: []config.APIClientKey{
				{Key: "valid-key", Extra: "valid-extra", Permissions: []string{permReadRooms}},
			},
		},
		RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 1},
	}

	interceptor := NewAuthInterceptor(&cfg).Unary()
	handler := func(_ context.Context, _ any) (any, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: methodListRooms}

	_, err := interceptor(context.Background(), "req", info, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	bad := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "valid-key", "x-api-extra", "nope"))
	_, err = interceptor(bad, "req", info, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	good := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "valid-key", "x-api-extra", "valid-extra"))
	resp, err := interceptor(good, "req", info, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)

	_, err = interceptor(good, "req", info, handler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestGRPCErrorMapping(t *testing.T) {
	tests := map[apperrors.Kind]codes.Code{
		apperrors.KindValidation:   codes.InvalidArgument,
		apperrors.KindConflict:     codes.Aborted,
		apperrors.KindForbidden:    codes.PermissionDenied,
		apperrors.KindNotFound:     codes.NotFound,
		apperrors.KindInvalidState: codes.FailedPrecondition,
		apperrors.KindUnavailable:  codes.Unavailable,
		apperrors.KindInternal:     codes.Internal,
	}
	for kind, want := range tests {
		err := grpcError(&apperrors.Error{Kind: kind, Message: "x"})
		assert.Equal(t, want, status.Code(err), string(kind))
	}

	passthrough := status.Error(codes.DeadlineExceeded, "late")
	assert.Equal(t, passthrough, grpcError(passthrough))
	assert.Nil(t, grpcError(nil))
}
