package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"lifeline-sync/internal/models"

	"go.uber.org/zap"
)

// ProfilesRepository 用户档案仓库（profiles + emergency_contacts 表）
type ProfilesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewProfilesRepository 创建用户档案仓库
func NewProfilesRepository(db *sql.DB, logger *zap.Logger) *ProfilesRepository {
	return &ProfilesRepository{
		db:     db,
		logger: logger,
	}
}

// Create 创建用户档案
func (r *ProfilesRepository) Create(ctx context.Context, user *models.User) error {
	if user == nil {
		return fmt.Errorf("user is required")
	}
	if user.ID == "" {
		return fmt.Errorf("user.id is required")
	}
	if user.Email == "" {
		return fmt.Errorf("user.email is required")
	}

	query := `
		INSERT INTO profiles (
			id,
			email,
			full_name,
			phone,
			blood_type,
			is_donor,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	var bloodType interface{}
	if user.BloodType != nil {
		bloodType = string(*user.BloodType)
	}

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.FullName,
		user.Phone,
		bloodType,
		user.IsDonor,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}

	return nil
}

// GetByID 根据用户 id 获取档案（含紧急联系人）
// 档案行不存在是正常状态（注册后尚未建档），返回 (nil, nil)
func (r *ProfilesRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := `
		SELECT
			id,
			email,
			full_name,
			phone,
			blood_type,
			is_donor,
			last_donation_date,
			created_at,
			updated_at
		FROM profiles
		WHERE id = $1
	`

	var user models.User
	var fullName, phone, bloodType sql.NullString
	var lastDonation sql.NullTime

	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&user.ID,
		&user.Email,
		&fullName,
		&phone,
		&bloodType,
		&user.IsDonor,
		&lastDonation,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			// 良性缺失：没有档案行不是错误
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if fullName.Valid {
		user.FullName = &fullName.String
	}
	if phone.Valid {
		user.Phone = &phone.String
	}
	if bloodType.Valid {
		bt := models.BloodType(bloodType.String)
		user.BloodType = &bt
	}
	if lastDonation.Valid {
		user.LastDonationDate = &lastDonation.Time
	}

	contacts, err := r.listContacts(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.EmergencyContacts = contacts

	return &user, nil
}

// Update 部分更新用户档案
// updates 是一个 map，包含要更新的字段
func (r *ProfilesRepository) Update(ctx context.Context, userID string, updates map[string]interface{}) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}
	if len(updates) == 0 {
		return fmt.Errorf("updates cannot be empty")
	}

	// 允许更新的字段
	allowedFields := map[string]bool{
		"full_name":          true,
		"phone":              true,
		"blood_type":         true,
		"is_donor":           true,
		"last_donation_date": true,
	}

	setParts := []string{}
	args := []interface{}{}
	argN := 1

	for field, value := range updates {
		if !allowedFields[field] {
			return fmt.Errorf("field '%s' is not allowed to update", field)
		}
		setParts = append(setParts, fmt.Sprintf("%s = $%d", field, argN))
		args = append(args, value)
		argN++
	}

	setParts = append(setParts, "updated_at = CURRENT_TIMESTAMP")

	args = append(args, userID)
	query := fmt.Sprintf(`
		UPDATE profiles
		SET %s
		WHERE id = $%d
	`, strings.Join(setParts, ", "), argN)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("profile not found: id=%s", userID)
	}

	return nil
}

// AddContact 添加紧急联系人
func (r *ProfilesRepository) AddContact(ctx context.Context, contact *models.EmergencyContact) error {
	if contact == nil {
		return fmt.Errorf("contact is required")
	}
	if contact.ID == "" {
		return fmt.Errorf("contact.id is required")
	}
	if contact.UserID == "" {
		return fmt.Errorf("contact.user_id is required")
	}
	if contact.Name == "" {
		return fmt.Errorf("contact.name is required")
	}
	if contact.Phone == "" {
		return fmt.Errorf("contact.phone is required")
	}

	query := `
		INSERT INTO emergency_contacts (
			id,
			user_id,
			name,
			phone,
			relationship
		) VALUES (
			$1, $2, $3, $4, $5
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		contact.ID,
		contact.UserID,
		contact.Name,
		contact.Phone,
		contact.Relationship,
	)
	if err != nil {
		return fmt.Errorf("failed to add emergency contact: %w", err)
	}

	return nil
}

// RemoveContact 删除紧急联系人（需验证归属）
func (r *ProfilesRepository) RemoveContact(ctx context.Context, userID, contactID string) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}
	if contactID == "" {
		return fmt.Errorf("contact_id is required")
	}

	query := `DELETE FROM emergency_contacts WHERE id = $1 AND user_id = $2`

	result, err := r.db.ExecContext(ctx, query, contactID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove emergency contact: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("emergency contact not found: id=%s, user_id=%s", contactID, userID)
	}

	return nil
}

// listContacts 获取用户的紧急联系人列表
func (r *ProfilesRepository) listContacts(ctx context.Context, userID string) ([]models.EmergencyContact, error) {
	query := `
		SELECT
			id,
			user_id,
			name,
			phone,
			relationship
		FROM emergency_contacts
		WHERE user_id = $1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list emergency contacts: %w", err)
	}
	defer rows.Close()

	contacts := make([]models.EmergencyContact, 0)
	for rows.Next() {
		var c models.EmergencyContact
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Phone, &c.Relationship); err != nil {
			return nil, fmt.Errorf("failed to scan emergency contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate emergency contacts: %w", err)
	}

	return contacts, nil
}
