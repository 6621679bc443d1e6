//go:build deadlock

// Package syncutil holds the mutex used to serialize the engine's step and
// tick calls. This file is compiled with -tags=deadlock and reports lock
// inversions and long waits through github.com/sasha-s/go-deadlock.
package syncutil

import deadlock "github.com/sasha-s/go-deadlock"

// Mutex is a deadlock-detecting mutex.
type Mutex struct {
	deadlock.Mutex
}
