// Package output provides console status rendering and error handling.
package output

// Process exit codes.
const (
	ExitOK           = 0 // Success, including a keypress or signal ending the poll loop
	ExitUsage        = 1 // Invalid arguments or flags
	ExitConfig       = 2 // Missing or ambiguous configuration
	ExitAuth         = 3 // Identity provider refused to issue a token
	ExitInvalidScope = 4 // Requested scope has the wrong shape
	ExitNetwork      = 6 // Connection/DNS/timeout error
	ExitAPI          = 7 // Protected API returned an error
)

// Error codes.
const (
	CodeUsage        = "usage"
	CodeConfig       = "config"
	CodeProvider     = "provider"
	CodeInvalidScope = "invalid_scope"
	CodeNetwork      = "network"
	CodeAPI          = "api_call"
)

// ExitCodeFor returns the exit code for a given error code.
func ExitCodeFor(code string) int {
	switch code {
	case CodeUsage:
		return ExitUsage
	case CodeConfig:
		return ExitConfig
	case CodeProvider:
		return ExitAuth
	case CodeInvalidScope:
		return ExitInvalidScope
	case CodeNetwork:
		return ExitNetwork
	case CodeAPI:
		return ExitAPI
	default:
		return ExitAPI
	}
}
