package posoffline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrInvalidKey is returned for an empty cache or storage key.
	ErrInvalidKey = errors.New("posoffline: invalid key")
	// ErrQuotaExceeded is returned by a Storage that ran out of space.
	ErrQuotaExceeded = errors.New("posoffline: storage quota exceeded")
	// ErrNotDurable signals that a write was applied in memory but could not be persisted.
	ErrNotDurable = errors.New("posoffline: change kept in memory but not persisted")
	// ErrUnknownMutation is returned when enqueueing a call that is not a registered mutation.
	ErrUnknownMutation = errors.New("posoffline: unknown mutation")
	// ErrActionNotFound is returned when a queued action id does not exist.
	ErrActionNotFound = errors.New("posoffline: action not found")
	// ErrActionBusy is returned when an operation conflicts with an action's current status.
	ErrActionBusy = errors.New("posoffline: action is not in a state that allows this operation")
	// ErrLeaseHeld is returned when another process holds the queue lease.
	ErrLeaseHeld = errors.New("posoffline: queue lease held by another process")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("posoffline: closed")
	// ErrOffline is returned when a live call is attempted while the signal reports offline.
	ErrOffline = errors.New("posoffline: offline")
)

// ConnectivityError is a transient failure: nothing reachable, timeout, or an
// overloaded/unavailable server. Reads fall back to the cache, writes are queued.
type ConnectivityError struct {
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *ConnectivityError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("connectivity error: status=%d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("connectivity error: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// RejectedError is a permanent failure: the server understood the request and refused it.
// It is never retried automatically.
type RejectedError struct {
	StatusCode int
	API        *APIError
	Body       []byte
}

func (e *RejectedError) Error() string {
	if e.API != nil {
		return fmt.Sprintf("rejected: status=%d: %s", e.StatusCode, e.API.Error())
	}
	return fmt.Sprintf("rejected: status=%d body=%s", e.StatusCode, string(e.Body))
}

// StorageError describes a failed Storage operation.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsConnectivity reports whether err is transient and worth retrying.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}
	var ce *ConnectivityError
	if errors.As(err, &ce) {
		return true
	}
	if errors.Is(err, ErrOffline) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// IsRejected reports whether err is a permanent server rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// retryableStatus mirrors the statuses a POS backend uses for overload or outage.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusRequestTimeout ||
		(code >= 500 && code <= 599)
}
