package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a donor identity. Receipt delivery prefers this email over
// anything fetched from the payment processor.
type User struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email     string     `gorm:"type:text;not null;uniqueIndex"`
	FirstName string     `gorm:"column:first_name;not null"`
	LastName  string     `gorm:"column:last_name;not null"`
	Phone     *string    `gorm:"column:phone"`
	IsActive  bool       `gorm:"column:is_active;not null;default:true"`
	LastSeen  *time.Time `gorm:"column:last_seen_at"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// FullName joins the donor's first and last names for receipts.
func (u User) FullName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
