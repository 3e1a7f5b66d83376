package errno

// Errno defines the error code logic
type Errno struct {
	Code    int
	Message string
}

func (e Errno) Error() string {
	return e.Message
}

// WithMessage returns a copy of the Errno carrying a more specific message
func (e Errno) WithMessage(msg string) *Errno {
	return &Errno{Code: e.Code, Message: msg}
}

// Decode tries to convert an error to Errno
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	switch typed := err.(type) {
	case *Errno:
		return typed.Code, typed.Message
	case Errno:
		return typed.Code, typed.Message
	default:
		return InternalServerError.Code, err.Error()
	}
}

// Common Errors
var (
	OK                  = Errno{Code: 0, Message: "Success"}
	InternalServerError = Errno{Code: 10001, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, Message: "Error occurred while binding the request body to the struct"}
	ErrDatabase         = Errno{Code: 10004, Message: "Database error"}
)

// Business Errors (20000+)
var (
	ErrValidation          = Errno{Code: 20001, Message: "Validation error"}
	ErrInvalidAmount       = Errno{Code: 20002, Message: "Credits must be a positive integer"}
	ErrInvalidAddress      = Errno{Code: 20003, Message: "Destination address is not a valid hex address"}
	ErrUserNotFound        = Errno{Code: 20101, Message: "User not found"}
	ErrInsufficientCredits = Errno{Code: 20301, Message: "Insufficient credits"}
	ErrPayoutNotConfigured = Errno{Code: 20302, Message: "Payout engine is not configured"}
	ErrBroadcastFailed     = Errno{Code: 20303, Message: "Payout broadcast failed"}
	ErrPayoutNotFound      = Errno{Code: 20304, Message: "Payout not found"}
	ErrUnknownSetting      = Errno{Code: 20401, Message: "Unsupported setting key"}
	ErrSettingReadOnly     = Errno{Code: 20402, Message: "Setting is overridden by environment"}
)
