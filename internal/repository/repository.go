// Package repository holds what every job record store backend shares.
package repository

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrJobTerminal is returned by conditional updates when the stored job
	// already reached a terminal status (for example cancelled by a client).
	ErrJobTerminal = errors.New("job already in terminal status")
)

// Stamp selects where updated_at comes from: the store's own clock (zero
// value) or a timestamp generated by this process.
type Stamp struct {
	Local time.Time
}

func ServerStamp() Stamp { return Stamp{} }

func LocalStamp(t time.Time) Stamp { return Stamp{Local: t.UTC()} }

func (s Stamp) IsServer() bool { return s.Local.IsZero() }
