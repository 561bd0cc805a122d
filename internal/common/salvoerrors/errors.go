// Package salvoerrors contains generic errors that should be returned by code handling
// API requests. The HTTP handlers look for the error types defined in this file and
// set the response status code accordingly.
//
// If multiple errors occur in some function (e.g., if launching several worker tasks
// fails), that function should return an error of type multierror.Error from package
// github.com/hashicorp/go-multierror that encapsulates those individual errors.
package salvoerrors

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// ErrNotFound is a generic error to be returned whenever some resource isn't found.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrNotFound struct {
	Type    string // Resource type, e.g., "run" or "scenario"
	Value   string // Resource id, e.g., "01gexample"
	Message string // An optional message to include in the error message
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrAlreadyTerminal indicates an operation was rejected because the run has
// already reached a terminal state, e.g., cancelling a completed run.
type ErrAlreadyTerminal struct {
	TestId string
	Status string // The terminal status the run is in
}

func (err *ErrAlreadyTerminal) Error() string {
	return fmt.Sprintf("run %q is already in terminal state %s", err.TestId, err.Status)
}

// ErrCapacityExceeded indicates a run was rejected up front because it would
// require more worker tasks than the fleet allows.
type ErrCapacityExceeded struct {
	Requested int // Worker tasks the run would need
	Limit     int // Maximum fleet size
	Message   string
}

func (err *ErrCapacityExceeded) Error() string {
	s := fmt.Sprintf("run requires %d worker tasks, exceeding the fleet limit of %d", err.Requested, err.Limit)
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "targetConcurrency"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %q is invalid for field %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %q is invalid for field %q; %s", err.Value, err.Name, err.Message)
}

// ErrLaunchFailure indicates that launching the worker fleet for a run failed.
// If Launched is non-zero the failure was partial and the launched tasks need
// to be stopped.
type ErrLaunchFailure struct {
	TestId    string
	Requested int
	Launched  int
}

func (err *ErrLaunchFailure) Error() string {
	if err.Launched > 0 {
		return fmt.Sprintf("launching worker fleet for run %q partially failed: %d of %d tasks started", err.TestId, err.Launched, err.Requested)
	}
	return fmt.Sprintf("launching worker fleet for run %q failed: no tasks started", err.TestId)
}

// ErrNoArtifacts indicates a run finished without any worker publishing a
// result artifact, so there is nothing to aggregate.
type ErrNoArtifacts struct {
	TestId string
}

func (err *ErrNoArtifacts) Error() string {
	return fmt.Sprintf("no worker result artifacts found for run %q", err.TestId)
}

// StatusFromError maps error types to HTTP status codes.
// Uses errors.As to look through the chain of errors, as opposed to just considering
// the topmost error in the chain.
func StatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}

	// Using {} scopes just to re-use the "e" variable name for each case.
	{
		var e *ErrNotFound
		if errors.As(err, &e) {
			return http.StatusNotFound
		}
	}
	{
		var e *ErrAlreadyTerminal
		if errors.As(err, &e) {
			return http.StatusConflict
		}
	}
	{
		var e *ErrCapacityExceeded
		if errors.As(err, &e) {
			return http.StatusUnprocessableEntity
		}
	}
	{
		var e *ErrInvalidArgument
		if errors.As(err, &e) {
			return http.StatusBadRequest
		}
	}

	return http.StatusInternalServerError
}

// IsNetworkError returns true if err is a transient network error, in which case
// the operation that produced it is safe to retry.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if err == context.DeadlineExceeded {
		return true
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return true
	}
	{
		var e *net.OpError
		if errors.As(err, &e) {
			return true
		}
	}
	{
		var e *url.Error
		if errors.As(err, &e) {
			return true
		}
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	return false
}

// IsRetryableRedisError is largely taken from https://github.com/go-redis/redis/blob/master/error.go#L28
func IsRetryableRedisError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	if s == "ERR max number of clients reached" {
		return true
	}
	if strings.HasPrefix(s, "LOADING ") {
		return true
	}
	if strings.HasPrefix(s, "READONLY ") {
		return true
	}
	if strings.HasPrefix(s, "CLUSTERDOWN ") {
		return true
	}
	if strings.HasPrefix(s, "TRYAGAIN ") {
		return true
	}
	return false
}
