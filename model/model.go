// Package model declares the values exchanged by the user directory call.
//
// Every type here is an immutable value built once per call. Defaults that
// must differ between instances (creation time, identifier) are computed by
// the constructors, never shared.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
)

// LoginRecord is a single sign-in event.
type LoginRecord struct {
	Timestamp time.Time `json:"timestamp"`
	IPAddress string    `json:"ip_address"`
}

// Scores is a fixed triple of integers.
type Scores [3]int

// UnmarshalJSON rejects arrays that do not hold exactly three integers.
func (s *Scores) UnmarshalJSON(data []byte) error {
	var raw []int
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != len(s) {
		return errors.NotValidf("scores with %d values (expected %d)", len(raw), len(s))
	}
	copy(s[:], raw)
	return nil
}

// UserMeta holds optional profile attributes.
type UserMeta struct {
	Tags   TagSet `json:"tags"`
	Scores Scores `json:"scores"`
}

// UserRequest is the only input of the list-users call.
type UserRequest struct {
	Name string `json:"name" mapstructure:"name"`
	Age  int    `json:"age" mapstructure:"age"`
}

// User is one directory entry.
type User struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	Email        string        `json:"email"`
	Age          *int          `json:"age,omitempty"`
	IsActive     bool          `json:"is_active"`
	CreatedAt    time.Time     `json:"created_at"`
	UUID         uuid.UUID     `json:"uuid"`
	LoginHistory []LoginRecord `json:"login_history"`
	Meta         *UserMeta     `json:"meta,omitempty"`
}

// UnmarshalJSON treats a missing is_active as true.
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	decoded := plain{IsActive: true}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	if decoded.LoginHistory == nil {
		decoded.LoginHistory = []LoginRecord{}
	}
	*u = User(decoded)
	return nil
}

// UserOption customizes a User built by NewUser.
type UserOption func(*User)

// WithAge sets the optional age.
func WithAge(age int) UserOption {
	return func(u *User) { u.Age = &age }
}

// WithLoginHistory sets the login history, oldest first.
func WithLoginHistory(records ...LoginRecord) UserOption {
	return func(u *User) { u.LoginHistory = append([]LoginRecord(nil), records...) }
}

// WithMeta attaches profile attributes.
func WithMeta(meta UserMeta) UserOption {
	return func(u *User) { u.Meta = &meta }
}

// WithCreatedAt overrides the creation time.
func WithCreatedAt(t time.Time) UserOption {
	return func(u *User) { u.CreatedAt = t }
}

// WithUUID overrides the generated identifier.
func WithUUID(id uuid.UUID) UserOption {
	return func(u *User) { u.UUID = id }
}

// Inactive marks the user as inactive.
func Inactive() UserOption {
	return func(u *User) { u.IsActive = false }
}

// NewUser builds an active user with a fresh creation time and identifier.
func NewUser(id int64, name, email string, opts ...UserOption) User {
	u := User{
		ID:           id,
		Name:         name,
		Email:        email,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
		UUID:         uuid.New(),
		LoginHistory: []LoginRecord{},
	}
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

// UserListResponse is the only output of the list-users call.
type UserListResponse struct {
	Users       []User    `json:"users"`
	TotalCount  int       `json:"total_count"`
	Greeting    string    `json:"greeting"`
	GeneratedAt time.Time `json:"generated_at"`
}

// NewUserListResponse derives TotalCount from the users actually returned.
func NewUserListResponse(users []User, greeting string, generatedAt time.Time) *UserListResponse {
	if users == nil {
		users = []User{}
	}
	return &UserListResponse{
		Users:       users,
		TotalCount:  len(users),
		Greeting:    greeting,
		GeneratedAt: generatedAt,
	}
}

// Consistent reports whether TotalCount matches the number of users.
func (r *UserListResponse) Consistent() bool {
	return r.TotalCount == len(r.Users)
}
