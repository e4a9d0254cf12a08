package models

import "time"

type Room struct {
	ID          string    `yaml:"id" json:"id"`
	Name        string    `yaml:"name" json:"name"`
	Capacity    int       `yaml:"capacity" json:"capacity"`
	Amenities   []string  `yaml:"amenities" json:"amenities,omitempty"`
	IsAvailable bool      `yaml:"is_available" json:"is_available"`
	SortOrder   int64     `yaml:"sort_order" json:"sort_order"`
	CreatedAt   time.Time `yaml:"-" json:"created_at"`
	UpdatedAt   time.Time `yaml:"-" json:"updated_at"`
}
