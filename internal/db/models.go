package db

import (
	"time"
)

// StationCheckpoint represents a station cursor row in the database
type StationCheckpoint struct {
	PartitionKey    string
	StationKey      string
	LastCommittedAt time.Time
	UpdatedAt       time.Time
}
