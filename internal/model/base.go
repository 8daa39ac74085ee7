package model

import (
	"time"
)

// A Base contains the fields shared by every stored record.
type Base struct {
	ID        string     `json:"-" msgpack:"id"         storm:"id"`
	CreatedAt *time.Time `json:"-" msgpack:"created_at"`
	UpdatedAt *time.Time `json:"-" msgpack:"updated_at"`
}

// A Timestamped record tracks its creation and last update dates.
type Timestamped interface {
	touch(t time.Time)
}

func (m *Base) touch(t time.Time) {
	if m.CreatedAt == nil {
		created := t
		m.CreatedAt = &created
	}
	m.UpdatedAt = &t
}

// Touch sets the creation date when missing and always refreshes the update date.
func Touch(m Timestamped, t time.Time) {
	m.touch(t)
}
