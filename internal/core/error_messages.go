package core

// error_messages.go maps technical errors to short messages with a support
// code. Codes are grouped by where the failure happened:
//
//	FILE001-FILE099  ingestion (format, size, empty, malformed input)
//	UPL001-UPL099    upload handling (busy, cancelled, timed out, no dataset)
//	ENG001-ENG099    analytics engine loading and calls
//	REQ001           malformed API request body
//	RATE001          request throttling
//	ERR000           anything else; check the logs for the original error
//
// Patterns are matched case-insensitively with strings.Contains and the first
// match wins, so wrapped errors must list the outer pattern first (an
// exhausted load wraps the last attempt's timeout, for example).

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Ingestion
	{
		pattern: "unsupported file format",
		msg: UserMessage{
			Message: "This file type is not supported",
			Action:  "Upload a .csv, .json, or .txt file",
			Code:    "FILE001",
		},
	},
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum upload size",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE002",
		},
	},
	{
		pattern: "file is empty",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Upload a file with a header row and data",
			Code:    "FILE003",
		},
	},
	{
		pattern: "invalid json format",
		msg: UserMessage{
			Message: "The file is not valid JSON",
			Action:  "Check the file in a JSON validator and upload it again",
			Code:    "FILE004",
		},
	},
	{
		pattern: "invalid json structure",
		msg: UserMessage{
			Message: "JSON must be an object or an array of objects",
			Action:  "Wrap each record in {} and the records in []",
			Code:    "FILE005",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Choose a file to upload",
			Code:    "FILE006",
		},
	},

	// Engine. Exhaustion wraps the per-attempt causes, so it comes first.
	{
		pattern: "all engine load attempts exhausted",
		msg: UserMessage{
			Message: "The analytics engine could not be loaded",
			Action:  "Reload the page to try again",
			Code:    "ENG001",
		},
	},
	{
		pattern: "engine dependency unavailable",
		msg: UserMessage{
			Message: "A library the analytics engine needs is unavailable",
			Action:  "Check your network connection and reload",
			Code:    "ENG002",
		},
	},
	{
		pattern: "engine script load timed out",
		msg: UserMessage{
			Message: "Loading the analytics engine timed out",
			Action:  "Reload the page to try again",
			Code:    "ENG003",
		},
	},
	{
		pattern: "engine script failed to load",
		msg: UserMessage{
			Message: "The analytics engine failed to download",
			Action:  "Reload the page to try again",
			Code:    "ENG004",
		},
	},
	{
		pattern: "engine not found",
		msg: UserMessage{
			Message: "The analytics engine did not start",
			Action:  "Reload the page or contact support",
			Code:    "ENG005",
		},
	},
	{
		pattern: "timed out waiting for engine",
		msg: UserMessage{
			Message: "The analytics engine is still loading",
			Action:  "Wait a moment and try again",
			Code:    "ENG006",
		},
	},
	{
		pattern: "engine not loaded",
		msg: UserMessage{
			Message: "The analytics engine is not ready yet",
			Action:  "Wait for the engine to load and try again",
			Code:    "ENG007",
		},
	},
	{
		pattern: "engine not initialized",
		msg: UserMessage{
			Message: "The analytics engine has not started",
			Action:  "Reload the page to restart the engine",
			Code:    "ENG009",
		},
	},
	{
		pattern: "engine request failed",
		msg: UserMessage{
			Message: "The analytics engine did not respond",
			Action:  "Please try again in a few moments",
			Code:    "ENG008",
		},
	},

	// Upload handling
	{
		pattern: "too many concurrent uploads",
		msg: UserMessage{
			Message: "System is busy processing other uploads",
			Action:  "Please wait a moment and try again",
			Code:    "UPL001",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL002",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or check your connection",
			Code:    "UPL003",
		},
	},
	{
		pattern: "no dataset loaded",
		msg: UserMessage{
			Message: "No dataset has been uploaded",
			Action:  "Upload a file first",
			Code:    "UPL004",
		},
	},

	{
		pattern: "invalid request",
		msg: UserMessage{
			Message: "The request could not be understood",
			Action:  "Check the request body and try again",
			Code:    "REQ001",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// If no pattern matches, the ERR000 fallback is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError formats err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern, meaning its own
// text is safe to show alongside the mapped message.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err; it returns nil for a nil err.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
