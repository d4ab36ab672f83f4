package services

import "errors"

// Request errors
var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrBadRequest   = errors.New("request: missing body or id")
)

// Task errors
var (
	ErrTaskNotFound     = errors.New("task: not found")
	ErrFreezeInProgress = errors.New("freeze: snapshot name already has a freeze in progress")
)

// Database errors
var (
	ErrDatabaseFailure = errors.New("database: command failed")
)
