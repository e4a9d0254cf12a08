package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"peregovorka/internal/apperrors"
	"peregovorka/internal/models"
	"peregovorka/internal/service"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	availabilityServiceName     = "peregovorka.v1.AvailabilityService"
	methodCheckRoomAvailability = "/" + availabilityServiceName + "/CheckRoomAvailability"
	methodCheckConflicts        = "/" + availabilityServiceName + "/CheckConflicts"
	methodListRooms             = "/" + availabilityServiceName + "/ListRooms"
)

// AvailabilityServer is the read-only gRPC surface. Messages are google.protobuf.Struct.
type AvailabilityServer interface {
	CheckRoomAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CheckConflicts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListRooms(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var AvailabilityServiceDesc = grpc.ServiceDesc{
	ServiceName: availabilityServiceName,
	HandlerType: (*AvailabilityServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CheckRoomAvailability",
			Handler:    unaryHandler(methodCheckRoomAvailability, AvailabilityServer.CheckRoomAvailability),
		},
		{
			MethodName: "CheckConflicts",
			Handler:    unaryHandler(methodCheckConflicts, AvailabilityServer.CheckConflicts),
		},
		{
			MethodName: "ListRooms",
			Handler:    unaryHandler(methodListRooms, AvailabilityServer.ListRooms),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "peregovorka/v1/availability.proto",
}

func RegisterAvailabilityServer(s grpc.ServiceRegistrar, srv AvailabilityServer) {
	s.RegisterService(&AvailabilityServiceDesc, srv)
}

type structCall func(AvailabilityServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call structCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AvailabilityServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AvailabilityServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AvailabilityClient calls AvailabilityService over an existing connection.
type AvailabilityClient struct {
	cc grpc.ClientConnInterface
}

func NewAvailabilityClient(cc grpc.ClientConnInterface) *AvailabilityClient {
	return &AvailabilityClient{cc: cc}
}

func (c *AvailabilityClient) CheckRoomAvailability(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodCheckRoomAvailability, req, opts...)
}

func (c *AvailabilityClient) CheckConflicts(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodCheckConflicts, req, opts...)
}

func (c *AvailabilityClient) ListRooms(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodListRooms, req, opts...)
}

func (c *AvailabilityClient) invoke(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type availabilityReader interface {
	CheckRoomAvailability(ctx context.Context, roomID string, start, end time.Time) (bool, error)
	CheckConflicts(ctx context.Context, req service.ConflictCheckRequest) (*models.ConflictReport, error)
	ListRooms(ctx context.Context) ([]*models.Room, error)
}

// AvailabilityService answers availability questions without touching bookings.
type AvailabilityService struct {
	bookings availabilityReader
}

func NewAvailabilityService(bookings availabilityReader) *AvailabilityService {
	return &AvailabilityService{bookings: bookings}
}

func (s *AvailabilityService) CheckRoomAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	roomID := stringField(req, "room_id")
	if roomID == "" {
		return nil, apperrors.Validation("room_id is required", nil)
	}
	start, end, err := windowFields(req)
	if err != nil {
		return nil, err
	}

	available, err := s.bookings.CheckRoomAvailability(ctx, roomID, start, end)
	if err != nil {
		return nil, err
	}
	return toStruct(map[string]any{
		"room_id":   roomID,
		"start":     start,
		"end":       end,
		"available": available,
	})
}

func (s *AvailabilityService) CheckConflicts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	start, end, err := windowFields(req)
	if err != nil {
		return nil, err
	}

	report, err := s.bookings.CheckConflicts(ctx, service.ConflictCheckRequest{
		RoomID:           stringField(req, "room_id"),
		OrganizerID:      stringField(req, "organizer_id"),
		AttendeeIDs:      stringList(req, "attendee_ids"),
		Start:            start,
		End:              end,
		ExcludeBookingID: stringField(req, "exclude_booking_id"),
	})
	if err != nil {
		return nil, err
	}
	return toStruct(conflictsResponse(report))
}

func (s *AvailabilityService) ListRooms(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	rooms, err := s.bookings.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	return toStruct(map[string]any{"rooms": rooms})
}

func conflictsResponse(report *models.ConflictReport) map[string]any {
	if report == nil {
		report = &models.ConflictReport{}
	}
	if report.RoomConflicts == nil {
		report.RoomConflicts = []*models.Booking{}
	}
	if report.AttendeeConflicts == nil {
		report.AttendeeConflicts = []models.AttendeeConflict{}
	}
	return map[string]any{
		"has_conflicts":      !report.Empty(),
		"room_conflicts":     report.RoomConflicts,
		"attendee_conflicts": report.AttendeeConflicts,
	}
}

func stringField(req *structpb.Struct, name string) string {
	return strings.TrimSpace(req.GetFields()[name].GetStringValue())
}

func stringList(req *structpb.Struct, name string) []string {
	values := req.GetFields()[name].GetListValue().GetValues()
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s := strings.TrimSpace(v.GetStringValue()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func windowFields(req *structpb.Struct) (time.Time, time.Time, error) {
	start, err := parseTimeField("start", stringField(req, "start"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseTimeField("end", stringField(req, "end"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func parseTimeField(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, apperrors.Validation(fmt.Sprintf("%s is required", name), map[string]any{name: "required"})
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperrors.Validation(
			fmt.Sprintf("invalid %s; expected RFC 3339", name),
			map[string]any{name: raw},
		)
	}
	return t, nil
}

// toStruct goes through JSON so model tags define the wire shape.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, apperrors.Internal("encode response", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, apperrors.Internal("encode response", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, apperrors.Internal("encode response", err)
	}
	return out, nil
}
