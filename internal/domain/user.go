package domain

import "time"

// Role is the closed set of membership roles a user can hold.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Gender values accepted on signup.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// User represents an account that can authenticate against the service.
//
// PasswordHash never serializes; the repository only loads it on the
// explicit WithPassword lookups. PasswordResetTokenHash and
// PasswordResetExpiresAt are always written and cleared together.
type User struct {
	ID                     int64      `json:"id,string"`
	FullName               string     `json:"fullName"`
	Gender                 Gender     `json:"gender,omitempty"`
	DateOfBirth            *time.Time `json:"dateOfBirth,omitempty"`
	Email                  string     `json:"email"`
	PhoneNumber            string     `json:"phoneNumber"`
	Username               string     `json:"username"`
	Role                   Role       `json:"role"`
	PasswordHash           string     `json:"-"`
	PasswordChangedAt      *time.Time `json:"-"`
	PasswordResetTokenHash *string    `json:"-"`
	PasswordResetExpiresAt *time.Time `json:"-"`
	Active                 bool       `json:"-"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

// ChangedPasswordAfter reports whether the password changed at or after
// the given token issue time. Comparison happens at second granularity;
// a token is only honored when issued strictly after the change.
func (u User) ChangedPasswordAfter(issuedAt time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	return u.PasswordChangedAt.Unix() >= issuedAt.Unix()
}

// HasActiveResetToken reports whether an unexpired reset token is set.
func (u User) HasActiveResetToken(now time.Time) bool {
	return u.PasswordResetTokenHash != nil &&
		u.PasswordResetExpiresAt != nil &&
		u.PasswordResetExpiresAt.After(now)
}

// Sanitize strips credential material before the record leaves the service.
func (u User) Sanitize() User {
	u.PasswordHash = ""
	u.PasswordChangedAt = nil
	u.PasswordResetTokenHash = nil
	u.PasswordResetExpiresAt = nil
	return u
}
