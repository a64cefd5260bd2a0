/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to
standardize HTTP responses and WebSocket error events.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters."},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported event format."},
	ErrUnsupportedEventType: {Code: ErrUnsupportedEventType, Message: "Unsupported event type."},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Presence and Room Business Logic Errors
	ErrInvalidUserData: {Code: ErrInvalidUserData, Message: "Invalid user data."},
	ErrInvalidRoomID:   {Code: ErrInvalidRoomID, Message: "Invalid room id."},
	ErrInvalidPosition: {Code: ErrInvalidPosition, Message: "Invalid position."},
	ErrInvalidAvatar:   {Code: ErrInvalidAvatar, Message: "Invalid avatar."},
	ErrInvalidMessage:  {Code: ErrInvalidMessage, Message: "Invalid message."},
	ErrNotInitialized:  {Code: ErrNotInitialized, Message: "Connection is not initialized."},

	// 3xxx: Connection and Session Errors
	ErrCapacityExceeded:   {Code: ErrCapacityExceeded, Message: "Too many connections from this address.", Status: http.StatusTooManyRequests},
	ErrReconnectExhausted: {Code: ErrReconnectExhausted, Message: "Reconnect attempts exhausted."},

	// 5xxx: Internal System Errors
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
