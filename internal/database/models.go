package database

import "time"

// SessionRecord is the persisted history of a single remote shell session
// bridged for a client. One row is created when the SSH session opens and
// finalized when the bridge tears it down.
type SessionRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string `gorm:"uniqueIndex;not null;size:36" json:"session_id"`

	Host     string `gorm:"not null" json:"host"`
	Port     int    `gorm:"not null;default:22" json:"port"`
	Username string `gorm:"not null" json:"username"`

	ConnectedAt time.Time  `gorm:"autoCreateTime;index" json:"connected_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CloseReason string     `json:"close_reason,omitempty"`

	BytesIn  int64 `gorm:"not null;default:0" json:"bytes_in"`
	BytesOut int64 `gorm:"not null;default:0" json:"bytes_out"`
}
