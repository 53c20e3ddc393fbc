package models

import "time"

// 警报类别
const (
	AlertTypeMedical = "medical"
	AlertTypeFire    = "fire"
	AlertTypePolice  = "police"
	AlertTypeOther   = "other"
)

// 警报状态（active → responded → resolved）
const (
	AlertStatusActive    = "active"
	AlertStatusResponded = "responded"
	AlertStatusResolved  = "resolved"
)

// EmergencyAlert SOS 警报（emergency_alerts 表）
type EmergencyAlert struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	AlertType   string       `json:"type"`   // medical/fire/police/other
	Status      string       `json:"status"` // active/responded/resolved
	Location    UserLocation `json:"location"`
	Description *string      `json:"description,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// 献血请求紧急程度
const (
	UrgencyLow      = "low"
	UrgencyMedium   = "medium"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

// 献血请求状态（active → fulfilled/cancelled）
const (
	RequestStatusActive    = "active"
	RequestStatusFulfilled = "fulfilled"
	RequestStatusCancelled = "cancelled"
)

// BloodRequest 献血请求（blood_requests 表）
type BloodRequest struct {
	ID           string       `json:"id"`
	RequesterID  string       `json:"requester_id"`
	BloodType    BloodType    `json:"blood_type"`
	UnitsNeeded  int          `json:"units_needed"`
	HospitalName *string      `json:"hospital_name,omitempty"`
	Urgency      string       `json:"urgency"` // low/medium/high/critical
	Status       string       `json:"status"`  // active/fulfilled/cancelled
	Location     UserLocation `json:"location"`
	Description  *string      `json:"description,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	ExpiresAt    time.Time    `json:"expires_at"` // 默认创建时间 + 24小时
}
