package apierr

// Exit codes for the CLI.
const (
	ExitOK           = 0 // Success
	ExitUsage        = 1 // Invalid arguments or flags
	ExitNotFound     = 2 // Resource not found
	ExitAuth         = 3 // Not authenticated or session expired
	ExitForbidden    = 4 // Access denied
	ExitValidation   = 5 // Server rejected input (422)
	ExitNetwork      = 6 // Connection/DNS/timeout error
	ExitAPI          = 7 // Server returned error
	ExitTokenInvalid = 8 // Token failed decoding or expiry checks
)

// ExitCodeFor returns the exit code for a failure kind.
func ExitCodeFor(k Kind) int {
	switch k {
	case KindNotFound:
		return ExitNotFound
	case KindUnauthorized:
		return ExitAuth
	case KindForbidden:
		return ExitForbidden
	case KindValidation:
		return ExitValidation
	case KindNetwork, KindTimeout:
		return ExitNetwork
	case KindTokenInvalid:
		return ExitTokenInvalid
	case KindRequest:
		return ExitUsage
	default:
		return ExitAPI
	}
}
