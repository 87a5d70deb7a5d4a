package models

import "time"

// Complaint statuses.
const (
	ComplaintNew       = "new"
	ComplaintProcessed = "processed"
	ComplaintBanned    = "banned"
)

// Complaint is a report_user event stored by the relay.
type Complaint struct {
	ID         uint   `gorm:"primaryKey"`
	ReporterID string `gorm:"index"`
	TargetID   string `gorm:"index:idx_target_created"`
	RoomID     string
	Reason     string
	Status     string
	CreatedAt  time.Time `gorm:"index:idx_target_created"`
}
