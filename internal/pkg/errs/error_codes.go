/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific business or system errors both internally
within the server and in the error events sent to clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrInvalidJSONFormat indicates that an inbound event was not valid JSON.
	ErrInvalidJSONFormat = 1002

	// ErrUnsupportedEventType indicates an inbound event with an unknown type field.
	ErrUnsupportedEventType = 1003

	// ErrRateLimitExceeded indicates that the handshake rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Presence and Room Business Logic Errors
const (
	// ErrInvalidUserData indicates that an initialization payload failed validation.
	ErrInvalidUserData = 2101

	// ErrInvalidRoomID indicates a room id that is empty or too long after sanitization.
	ErrInvalidRoomID = 2102

	// ErrInvalidPosition indicates a position outside the space bounds or not finite.
	ErrInvalidPosition = 2103

	// ErrInvalidAvatar indicates an avatar update that could not be applied.
	ErrInvalidAvatar = 2104

	// ErrInvalidMessage indicates a chat message that is empty or too long after sanitization.
	ErrInvalidMessage = 2105

	// ErrNotInitialized indicates an event sent before a successful initializeUser.
	ErrNotInitialized = 2106
)

// 3xxx: Connection and Session Errors
const (
	// ErrCapacityExceeded indicates the per-origin connection ceiling was reached.
	ErrCapacityExceeded = 3001

	// ErrReconnectExhausted indicates the client gave up reconnecting after the
	// bounded number of attempts. Client-side only.
	ErrReconnectExhausted = 3002
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000
)
