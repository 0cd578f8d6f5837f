package models

import "time"

// Checkpoint stores the JSON-encoded session state of one thread.
type Checkpoint struct {
	ThreadID  string    `gorm:"primaryKey;size:64"`
	State     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"index"`
}
