package session

import (
	"context"
	"errors"
	"sync"
)

// ErrDeviceBusy is returned by Start when another active session owns the device.
var ErrDeviceBusy = errors.New("recording device is owned by another session")

// LockKey scopes a client-supplied device id to its user, so one user cannot claim
// another user's device.
func LockKey(userID, deviceID string) string {
	if userID == "" {
		return deviceID
	}
	return userID + "/" + deviceID
}

// DeviceLock grants exclusive ownership of a recording device.
type DeviceLock interface {
	// Acquire takes the device for owner, or fails fast with ErrDeviceBusy.
	// Acquiring a device already held by the same owner succeeds.
	Acquire(ctx context.Context, deviceID, owner string) error
	// Release frees the device if owner holds it.
	Release(ctx context.Context, deviceID, owner string) error
}

// MemoryLock is a process-local DeviceLock.
type MemoryLock struct {
	mu     sync.Mutex
	owners map[string]string
}

// NewMemoryLock creates an empty in-process lock table.
func NewMemoryLock() *MemoryLock {
	return &MemoryLock{owners: make(map[string]string)}
}

// Acquire implements DeviceLock.
func (l *MemoryLock) Acquire(_ context.Context, deviceID, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.owners[deviceID]; ok && cur != owner {
		return ErrDeviceBusy
	}
	l.owners[deviceID] = owner
	return nil
}

// Release implements DeviceLock.
func (l *MemoryLock) Release(_ context.Context, deviceID, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owners[deviceID] == owner {
		delete(l.owners, deviceID)
	}
	return nil
}

// Owner returns the session holding deviceID, if any.
func (l *MemoryLock) Owner(deviceID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.owners[deviceID]
	return o, ok
}
