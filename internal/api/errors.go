package api

import (
	"errors"
	"fmt"
)

var (
	// ErrNoToken short-circuits authenticated calls before any request is sent.
	ErrNoToken          = errors.New("no bearer token available")
	ErrUnexpectedStatus = errors.New("unexpected status")
)

const defaultCreateMessage = "Impossible de créer la course."

// CreateError is the surfaced failure of trip creation. Message carries the
// backend's own message when it sent one.
type CreateError struct {
	Status  int
	Message string
	Err     error
}

func (e *CreateError) Error() string { return e.Message }

func (e *CreateError) Unwrap() error { return e.Err }

// AssignmentError is any wait-assignment answer other than 200 or 204.
type AssignmentError struct {
	Status int
}

func (e *AssignmentError) Error() string {
	return fmt.Sprintf("wait assignment: %v %d", ErrUnexpectedStatus, e.Status)
}

func (e *AssignmentError) Unwrap() error { return ErrUnexpectedStatus }
