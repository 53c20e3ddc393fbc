package models

import "time"

// 通知类别
const (
	NotifyTypeAlert            = "alert"
	NotifyTypeBloodRequest     = "blood_request"
	NotifyTypeSystem           = "system"
	NotifyTypeDonationReminder = "donation_reminder"
)

// Notification 站内通知（notifications 表）
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"` // alert/blood_request/system/donation_reminder
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
