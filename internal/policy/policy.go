package policy

import (
	"time"

	"peregovorka/internal/config"
	"peregovorka/internal/models"
)

// ConfigPolicy decides whether a booking needs managerial approval from static rules.
// Any matching rule is enough.
type ConfigPolicy struct {
	allRooms    bool
	rooms       map[string]struct{}
	maxDuration time.Duration
	emergency   bool
}

func NewConfigPolicy(cfg config.ApprovalConfig) *ConfigPolicy {
	rooms := make(map[string]struct{}, len(cfg.Rooms))
	for _, id := range cfg.Rooms {
		rooms[id] = struct{}{}
	}
	return &ConfigPolicy{
		allRooms:    cfg.AllRooms,
		rooms:       rooms,
		maxDuration: cfg.MaxDurationWithoutApproval,
		emergency:   cfg.EmergencyRequiresApproval,
	}
}

func (p *ConfigPolicy) RequiresApproval(room *models.Room, booking *models.Booking) bool {
	if p.allRooms {
		return true
	}
	if room != nil {
		if _, ok := p.rooms[room.ID]; ok {
			return true
		}
	}
	if booking == nil {
		return false
	}
	if p.maxDuration > 0 && booking.End.Sub(booking.Start) > p.maxDuration {
		return true
	}
	return p.emergency && booking.IsEmergency
}

// Static always returns the same answer. Used in tests and when approval is disabled.
type Static bool

func (s Static) RequiresApproval(*models.Room, *models.Booking) bool {
	return bool(s)
}
