package domain

import "errors"

// Operation error kinds. Remote/transient failures are converted into one of
// these at the operation boundary and never crash the process. Translation
// unavailability is deliberately absent: it degrades to tagged fallback text
// and delivery proceeds.
var (
	ErrConfiguration  = errors.New("staychat: configuration")
	ErrAuthentication = errors.New("staychat: authentication")
	ErrRegistration   = errors.New("staychat: registration")
	ErrCheckIn        = errors.New("staychat: check-in")
	ErrCheckOut       = errors.New("staychat: check-out")
	ErrSend           = errors.New("staychat: send")
	ErrNotFound       = errors.New("staychat: not found")
)
