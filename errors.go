package gbackup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// Identity provider conditions, each carrying its own Code.
var (
	ErrSignInCancelled    = errors.New("sign in cancelled")
	ErrSignInInProgress   = errors.New("sign in already in progress")
	ErrServiceUnavailable = errors.New("identity service not available or outdated")
	ErrSignInRequired     = errors.New("sign in required")
)

var (
	ErrMalformedBackup = errors.New("backup content is not valid JSON")
	ErrMissingFileID   = errors.New("upload response has no file id")
	ErrNoFileID        = errors.New("no backup file id given")
)

// Code is the status a failure carries: an HTTP status rendered as a string,
// the network error code "7", or an identity provider status name.
type Code string

const (
	CodeUnauthorized       Code = "401"
	CodeNotFound           Code = "404"
	CodeNetworkError       Code = "7"
	CodeSignInCancelled    Code = "SIGN_IN_CANCELLED"
	CodeInProgress         Code = "IN_PROGRESS"
	CodeServiceUnavailable Code = "SERVICE_NOT_AVAILABLE"
	CodeSignInRequired     Code = "SIGN_IN_REQUIRED"
	CodeUnknown            Code = ""
)

type Category int

const (
	CategoryGeneric Category = iota
	CategoryInvalidCredentials
	CategoryBackupNotFound
	CategoryConnectionRequired
	CategoryCancelled
	CategoryInProgress
	CategoryServiceUnavailable
)

var categoryNames = map[Category]string{
	CategoryGeneric:            "generic",
	CategoryInvalidCredentials: "invalid_credentials",
	CategoryBackupNotFound:     "backup_not_found",
	CategoryConnectionRequired: "connection_required",
	CategoryCancelled:          "cancelled",
	CategoryInProgress:         "in_progress",
	CategoryServiceUnavailable: "service_unavailable",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "category(" + strconv.Itoa(int(c)) + ")"
}

// Notification is what the account screen should show for a failure.
type Notification struct {
	Category Category
	Message  string
}

// CodeOf extracts the status code a failure carries, CodeUnknown if none.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeUnknown
	case errors.Is(err, ErrSignInCancelled):
		return CodeSignInCancelled
	case errors.Is(err, ErrSignInInProgress):
		return CodeInProgress
	case errors.Is(err, ErrServiceUnavailable):
		return CodeServiceUnavailable
	case errors.Is(err, ErrSignInRequired):
		return CodeSignInRequired
	case errors.Is(err, ErrNoFileID):
		return CodeNotFound
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return Code(strconv.Itoa(apiErr.Code))
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" {
			return CodeUnauthorized
		}
		if retrieveErr.Response != nil {
			return Code(strconv.Itoa(retrieveErr.Response.StatusCode))
		}
		return CodeUnknown
	}

	if errors.Is(err, context.Canceled) {
		return CodeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeNetworkError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return CodeNetworkError
	}
	return CodeUnknown
}

// Classify maps a failure to the notification shown to the user. It performs
// no recovery.
func Classify(err error) Notification {
	switch CodeOf(err) {
	case CodeUnauthorized, CodeSignInRequired:
		return Notification{Category: CategoryInvalidCredentials, Message: "invalid credentials"}
	case CodeNotFound:
		return Notification{Category: CategoryBackupNotFound, Message: "backup not found"}
	case CodeNetworkError:
		return Notification{Category: CategoryConnectionRequired, Message: "connection required"}
	case CodeSignInCancelled:
		return Notification{Category: CategoryCancelled, Message: "cancelled"}
	case CodeInProgress:
		return Notification{Category: CategoryInProgress, Message: "in progress"}
	case CodeServiceUnavailable:
		return Notification{Category: CategoryServiceUnavailable, Message: "identity service not available or outdated"}
	}
	msg := "something went wrong"
	if err != nil {
		msg = fmt.Sprintf("%s: %s", msg, err.Error())
	}
	return Notification{Category: CategoryGeneric, Message: msg}
}

// Error is returned by every Service operation.
type Error struct {
	Op           string
	Notification Notification
	Err          error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gbackup: %s: %s: %v", e.Op, e.Notification.Category, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CategoryOf returns the category of an error returned by a Service
// operation, classifying it on the fly for any other error.
func CategoryOf(err error) Category {
	var opErr *Error
	if errors.As(err, &opErr) {
		return opErr.Notification.Category
	}
	return Classify(err).Category
}
