package core

// Error codes reference.
//
// User-facing errors carry a code so support staff can find the cause quickly.
//
//	ING001 - FormatUnresolved: the file matches no known reseller format
//	         Action: check that the export uses the reseller's standard template
//	ING002 - DuplicateUpload: identical content was already submitted
//	         Action: nothing to do, the existing batch is returned
//	ING003 - ApprovalPreconditionFailed: the batch is not in the required state
//	         Action: refresh the batch status before approving or retrying
//	ING004 - InfrastructureFailure: storage was unavailable
//	         Action: retry the batch later
//	ROW001 - RowParseError: the row could not be read
//	ROW002 - MissingRequiredField: a required value is empty
//	ROW003 - InvalidFieldValue: a value has the wrong type, range or date
//	ROW004 - MappingNotFound: the product code has no confirmed mapping
//	         Action: confirm a mapping, then revalidate the batch
//	REQ001 - Batch not found
//	REQ002 - Invalid request
//	FILE001 - File too large
//	ERR000 - Unknown error
//
// Kind errors are matched first; other errors fall back to case-insensitive
// substring patterns, first match wins.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var kindMessages = map[ErrorKind]UserMessage{
	KindFormatUnresolved: {
		Message: "The file does not match any known reseller format",
		Action:  "Check that the export uses the reseller's standard template",
		Code:    "ING001",
	},
	KindDuplicateUpload: {
		Message: "This file was already submitted",
		Action:  "The existing batch is returned; no new processing was started",
		Code:    "ING002",
	},
	KindApprovalPreconditionFailed: {
		Message: "The batch is not in a state that allows this action",
		Action:  "Refresh the batch status and try again",
		Code:    "ING003",
	},
	KindInfrastructureFailure: {
		Message: "Storage was temporarily unavailable",
		Action:  "Retry the batch in a few moments",
		Code:    "ING004",
	},
	KindRowParseError: {
		Message: "The row could not be read",
		Action:  "Check the row for broken quoting or corrupt cells",
		Code:    "ROW001",
	},
	KindMissingRequiredField: {
		Message: "A required value is empty",
		Action:  "Fill in the required column and resubmit",
		Code:    "ROW002",
	},
	KindInvalidFieldValue: {
		Message: "A value has the wrong type or is out of range",
		Action:  "Correct the value and resubmit",
		Code:    "ROW003",
	},
	KindMappingNotFound: {
		Message: "The product code has no confirmed mapping",
		Action:  "Confirm a mapping for the code, then revalidate the batch",
		Code:    "ROW004",
	},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{
		pattern: "batch not found",
		msg: UserMessage{
			Message: "The batch does not exist",
			Action:  "Check the batch id; deleted batches cannot be recovered",
			Code:    "REQ001",
		},
	},
	{
		pattern: "batch state conflict",
		msg:     kindMessages[KindApprovalPreconditionFailed],
	},
	{
		pattern: "invalid request",
		msg: UserMessage{
			Message: "The request is missing required information",
			Action:  "Provide tenant, reseller and file",
			Code:    "REQ002",
		},
	},
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum size limit",
			Action:  "Split the file into smaller exports",
			Code:    "FILE001",
		},
	},
	{
		pattern: "too many",
		msg: UserMessage{
			Message: "The system is busy",
			Action:  "Please wait a moment and try again",
			Code:    "ING004",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error into a UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	if kind := KindOf(err); kind != "" {
		if msg, ok := kindMessages[kind]; ok {
			return msg
		}
	}

	lower := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(lower, ep.pattern) {
			return ep.msg
		}
	}

	if errors.Is(err, ErrBatchNotFound) {
		return errorPatterns[0].msg
	}
	return defaultMessage
}

// MessageForKind returns the catalog message of a taxonomy kind.
func MessageForKind(kind ErrorKind) UserMessage {
	if msg, ok := kindMessages[kind]; ok {
		return msg
	}
	return defaultMessage
}

// FormatUserError creates "Message (Code: XXX). Action" for display.
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific catalog entry.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
