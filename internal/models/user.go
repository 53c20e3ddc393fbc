package models

import "time"

// BloodType ABO/Rh 血型
type BloodType string

const (
	BloodAPos  BloodType = "A+"
	BloodANeg  BloodType = "A-"
	BloodBPos  BloodType = "B+"
	BloodBNeg  BloodType = "B-"
	BloodABPos BloodType = "AB+"
	BloodABNeg BloodType = "AB-"
	BloodOPos  BloodType = "O+"
	BloodONeg  BloodType = "O-"
)

// BloodTypes 全部血型（用于校验）
var BloodTypes = []BloodType{
	BloodAPos, BloodANeg,
	BloodBPos, BloodBNeg,
	BloodABPos, BloodABNeg,
	BloodOPos, BloodONeg,
}

// User 用户档案（profiles 表）
type User struct {
	ID                string             `json:"id"`
	Email             string             `json:"email"`
	FullName          *string            `json:"full_name,omitempty"`
	Phone             *string            `json:"phone,omitempty"`
	BloodType         *BloodType         `json:"blood_type,omitempty"`
	IsDonor           bool               `json:"is_donor"`
	LastDonationDate  *time.Time         `json:"last_donation_date,omitempty"`
	EmergencyContacts []EmergencyContact `json:"emergency_contacts,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// EmergencyContact 紧急联系人（emergency_contacts 表）
type EmergencyContact struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship"`
}

// UserLocation 一次位置采样（值语义，警报/献血请求中内嵌快照）
type UserLocation struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"` // 精度半径（米），可选
	Timestamp time.Time `json:"timestamp"`
}
