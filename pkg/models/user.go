package models

import "time"

// User status values.
const (
	UserStatusNormal  = "normal"
	UserStatusBlocked = "blocked"
)

// ValidUserStatuses contains all valid status values.
var ValidUserStatuses = []string{UserStatusNormal, UserStatusBlocked}

// IsValidUserStatus checks if the given status is valid.
func IsValidUserStatus(status string) bool {
	for _, s := range ValidUserStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// User is a system account.
type User struct {
	BaseEntity
	Username  string    `db:"username" json:"username"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email,omitempty"`
	Status    string    `db:"status" json:"status"`
	TeamID    *int64    `db:"team_id" json:"team_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at" goqu:"skipupdate"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (User) TableName() string {
	return "cy_sys_user"
}

func (u *User) Touch(now time.Time, creating bool) {
	if creating || u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
}

var (
	_ Entity[int64] = (*User)(nil)
	_ TableNamer    = User{}
	_ Timestamped   = (*User)(nil)
)
