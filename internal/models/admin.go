package models

import "time"

// RegionAll marks an admin who can take trades from any country.
const RegionAll = "ALL"

// Admin is an operator eligible to settle trades
type Admin struct {
	Id                  string     `db:"id" json:"id" yaml:"id"`
	Name                string     `db:"name" json:"name" yaml:"name"`
	Region              string     `db:"region" json:"region" yaml:"region"`
	Rating              float64    `db:"rating" json:"rating" yaml:"rating"`
	ResponseTimeSeconds int64      `db:"response_time_seconds" json:"response_time_seconds" yaml:"response_time_seconds"`
	CurrentLoad         int        `db:"current_load" json:"current_load" yaml:"-"`
	IsOnline            bool       `db:"is_online" json:"is_online" yaml:"-"`
	LastSeenAt          *time.Time `db:"last_seen_at" json:"last_seen_at,omitempty" yaml:"-"`
}
