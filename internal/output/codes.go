// Package output provides the CLI's JSON envelope, styled rendering,
// jq filtering and error-to-exit-code mapping.
package output

import "github.com/renewdesk/renewctl/internal/apierr"

// Error codes for the JSON envelope.
const (
	CodeUsage        = "usage"
	CodeNotFound     = "not_found"
	CodeAuth         = "auth_required"
	CodeForbidden    = "forbidden"
	CodeValidation   = "validation"
	CodeNetwork      = "network"
	CodeAPI          = "api_error"
	CodeTokenInvalid = "token_invalid"
)

// ExitCodeFor returns the exit code for a given error code.
func ExitCodeFor(code string) int {
	switch code {
	case CodeUsage:
		return apierr.ExitUsage
	case CodeAuth:
		return apierr.ExitCodeFor(apierr.KindUnauthorized)
	case CodeNetwork:
		return apierr.ExitCodeFor(apierr.KindNetwork)
	default:
		// The remaining codes share their spelling with a failure kind.
		return apierr.ExitCodeFor(apierr.Kind(code))
	}
}

// codeForKind maps a gateway failure kind to an envelope code.
func codeForKind(k apierr.Kind) string {
	switch k {
	case apierr.KindNetwork, apierr.KindTimeout:
		return CodeNetwork
	case apierr.KindUnauthorized:
		return CodeAuth
	case apierr.KindForbidden:
		return CodeForbidden
	case apierr.KindNotFound:
		return CodeNotFound
	case apierr.KindValidation:
		return CodeValidation
	case apierr.KindTokenInvalid:
		return CodeTokenInvalid
	case apierr.KindRequest:
		return CodeUsage
	default:
		return CodeAPI
	}
}

// codeForAuth maps an auth flow error code to an envelope code.
func codeForAuth(code string) string {
	switch code {
	case apierr.CodeNetworkError:
		return CodeNetwork
	case apierr.CodeInvalidCredentials, apierr.CodeNoRefreshToken:
		return CodeAuth
	case apierr.CodeValidationError, apierr.CodePasswordMismatch:
		return CodeValidation
	case apierr.CodeInvalidToken:
		return CodeTokenInvalid
	default:
		return CodeAPI
	}
}
