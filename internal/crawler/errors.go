package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrValidationRejected marks raw items that fail lead validation.
	ErrValidationRejected = errors.New("lead rejected by validation")
	// ErrNavigation marks transient navigation, element or API failures.
	ErrNavigation = errors.New("navigation failed")
	// ErrCheckpointIO marks checkpoint read/write failures.
	ErrCheckpointIO = errors.New("checkpoint io")
	// ErrUnrecoverableSession is fatal to the current batch only.
	ErrUnrecoverableSession = errors.New("session unrecoverable")
	// ErrDispatch marks a failed delivery attempt through one channel.
	ErrDispatch = errors.New("dispatch failed")
	// ErrNotFound is returned by backends when a key does not exist.
	ErrNotFound = errors.New("not found")
)

// NavigationError describes a failed page, element or API operation.
type NavigationError struct {
	Op     string
	Target string
	Err    error
}

func (e *NavigationError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is.
func (e *NavigationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrNavigation}
	}
	return []error{ErrNavigation, e.Err}
}

// Navigation wraps err as a NavigationError. A nil err yields nil.
func Navigation(op, target string, err error) error {
	if err == nil {
		return nil
	}
	var navErr *NavigationError
	if errors.As(err, &navErr) {
		return err
	}
	return &NavigationError{Op: op, Target: target, Err: err}
}

// unrecoverableError keeps the cause visible while matching ErrUnrecoverableSession.
type unrecoverableError struct {
	err error
}

func (e *unrecoverableError) Error() string {
	return fmt.Sprintf("%v: %v", ErrUnrecoverableSession, e.err)
}

func (e *unrecoverableError) Unwrap() []error {
	return []error{ErrUnrecoverableSession, e.err}
}

// Unrecoverable marks err as fatal to the batch. A nil err yields nil.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnrecoverableSession) {
		return err
	}
	return &unrecoverableError{err: err}
}

// DispatchError reports a failed send through a named channel.
type DispatchError struct {
	Channel string
	Lead    string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s via %s: %v", e.Lead, e.Channel, e.Err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is.
func (e *DispatchError) Unwrap() []error {
	return []error{ErrDispatch, e.Err}
}
