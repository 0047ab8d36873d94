package client

import (
	"context"
	"errors"
	"fmt"
)

// ValidationError is raised before any request is sent, or by a 400 reply.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Message)
}

// AuthError means the identity token was missing or rejected (401/403).
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %d %s", e.Status, e.Message)
}

type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	return "not found: " + e.Message
}

// ConflictError is returned when the target changed under the caller, such
// as deciding a request that was already decided.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Message
}

// ServerError covers 5xx replies, undecodable bodies and success:false.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server: %d %s", e.Status, e.Message)
}

// NetworkError means no reply was received.
type NetworkError struct {
	Timeout bool
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return "network: timeout: " + e.Err.Error()
	}
	return "network: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the call may succeed.
func (e *NetworkError) Retryable() bool { return true }

// PartialFailureError means a task was created but neither its reminder
// nor the rollback of the task went through.
type PartialFailureError struct {
	TaskID      string
	ReminderErr error
	RollbackErr error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("task %s created without reminder: %v (rollback failed: %v)", e.TaskID, e.ReminderErr, e.RollbackErr)
}

func (e *PartialFailureError) Unwrap() error { return e.ReminderErr }

// DataError marks a reply that decoded but broke an expected invariant.
type DataError struct {
	Err error
}

func (e *DataError) Error() string { return "data: " + e.Err.Error() }

func (e *DataError) Unwrap() error { return e.Err }

// UserMessage turns any error returned by this package into a message fit
// for an alert.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var (
		validationErr *ValidationError
		authErr       *AuthError
		notFoundErr   *NotFoundError
		conflictErr   *ConflictError
		serverErr     *ServerError
		networkErr    *NetworkError
		partialErr    *PartialFailureError
		dataErr       *DataError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return ""
	case errors.As(err, &validationErr):
		if validationErr.Field != "" {
			return fmt.Sprintf("Please check %s: %s.", validationErr.Field, validationErr.Message)
		}
		return validationErr.Message
	case errors.As(err, &authErr):
		return "Your session has expired or you are not allowed to do this. Please sign in again."
	case errors.As(err, &notFoundErr):
		return "This item no longer exists. It may already have been processed; refresh and try again."
	case errors.As(err, &conflictErr):
		return "This item was already changed by someone else. Refresh to see its current state."
	case errors.As(err, &partialErr):
		return fmt.Sprintf("The task was created but its reminder could not be saved. Please remove task %s manually.", partialErr.TaskID)
	case errors.As(err, &networkErr):
		if networkErr.Timeout {
			return "The server took too long to respond. Please try again."
		}
		return "Could not reach the server. Check your connection and try again."
	case errors.As(err, &dataErr):
		return "The server returned inconsistent data. Please try again later."
	case errors.As(err, &serverErr):
		if serverErr.Message != "" && serverErr.Status < 500 {
			return serverErr.Message
		}
		return "Something went wrong on the server. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}
