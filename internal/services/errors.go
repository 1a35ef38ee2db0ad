package services

import "fmt"

// NotFoundError is returned when a camera or result does not exist
type NotFoundError struct {
	Message string
	ID      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.ID)
}

// BadRequestError is returned for invalid payloads
type BadRequestError struct {
	Message string
	Details string
}

func (e *BadRequestError) Error() string {
	if e.Details == "" {
		return e.Message
	}
	return e.Message + ": " + e.Details
}

// UnauthorizedError is returned for failed logins
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string { return e.Message }

// UnavailableError is returned when a dependency is not ready
type UnavailableError struct {
	Message string
}

func (e *UnavailableError) Error() string { return e.Message }

// InternalError wraps unexpected failures
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string { return e.Message }
