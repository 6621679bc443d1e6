//go:build !deadlock

// Package syncutil holds the mutex used to serialize the engine's step and
// tick calls. Without the deadlock build tag it is a plain sync.Mutex.
package syncutil

import "sync"

// Mutex is a sync.Mutex unless built with -tags=deadlock.
//
//nolint:gocritic // embedding exposes Lock/Unlock directly
type Mutex struct {
	sync.Mutex
}
