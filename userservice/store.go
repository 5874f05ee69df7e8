package userservice

import (
	"slices"
	"time"

	"github.com/juju/clock"

	"user-rpc/model"
)

// Store is the read-only user directory behind the service.
type Store struct {
	users []model.User
}

// NewStore returns a store holding users.
func NewStore(users ...model.User) *Store {
	return &Store{users: slices.Clone(users)}
}

// NewSampleStore returns the directory the service starts with. Timestamps
// are taken from clk.
func NewSampleStore(clk clock.Clock) *Store {
	now := clk.Now().UTC()
	return NewStore(
		model.NewUser(1, "Alice", "alice@example.com",
			model.WithAge(30),
			model.WithCreatedAt(now),
			model.WithLoginHistory(
				model.LoginRecord{Timestamp: now.Add(-24 * time.Hour), IPAddress: "192.168.1.10"},
				model.LoginRecord{Timestamp: now, IPAddress: "192.168.1.11"},
			),
			model.WithMeta(model.UserMeta{
				Tags:   model.NewTagSet("admin", "beta"),
				Scores: model.Scores{88, 92, 85},
			}),
		),
		model.NewUser(2, "Bob", "bob@example.com",
			model.WithAge(25),
			model.WithCreatedAt(now),
			model.WithLoginHistory(
				model.LoginRecord{Timestamp: now.Add(-2 * time.Hour), IPAddress: "192.168.1.20"},
			),
			model.WithMeta(model.UserMeta{
				Tags:   model.NewTagSet("tester"),
				Scores: model.Scores{75, 80, 70},
			}),
		),
	)
}

// Users returns a copy of every user. Callers may modify the result freely.
func (s *Store) Users() []model.User {
	out := make([]model.User, len(s.users))
	for i, u := range s.users {
		u.LoginHistory = slices.Clone(u.LoginHistory)
		if u.Age != nil {
			age := *u.Age
			u.Age = &age
		}
		if u.Meta != nil {
			meta := *u.Meta
			u.Meta = &meta
		}
		out[i] = u
	}
	return out
}

// Len returns the number of users.
func (s *Store) Len() int {
	return len(s.users)
}
