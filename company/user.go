package company

import "time"

// Role is the custom type for the role of a User within a Company
type Role string

// Defining constants
const (
	RoleOwner   Role = "OWNER"
	RoleManager Role = "MANAGER"
	RoleMember  Role = "MEMBER"
)

// ReminderRecipientRoles are the roles that receive maintenance reminders
var ReminderRecipientRoles = []Role{RoleOwner, RoleManager}

// User belongs to a Company with a given Role
type User struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Email     string    `json:"email" gorm:"uniqueIndex"`
	Name      string    `json:"name"`
	CompanyID string    `json:"companyId" gorm:"index"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
