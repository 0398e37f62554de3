package errors

// Code classifies an engine error for callers. The UI layer decides how a
// given code is displayed; nothing here is fatal to the process.
type Code string

const (
	CodeValidation          Code = "VALIDATION"
	CodePermissionDenied    Code = "PERMISSION_DENIED"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodeTransientNetwork    Code = "TRANSIENT_NETWORK"
	CodePresenceUnavailable Code = "PRESENCE_UNAVAILABLE"
	CodeInternal            Code = "INTERNAL"
)
