package utils

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrTransientNetwork = errors.New("transient network error")         // Connection reset/refused, peer disconnect; retried
	ErrNetwork          = errors.New("network error")                   // Any other transport failure; not retried
	ErrResponseStatus   = errors.New("non-2xx response status")         // Wraps status code; not retried
	ErrFetchTimeout     = errors.New("fetch timed out")                 // Overall fetch budget exhausted
	ErrEmptyBody        = errors.New("empty response body")             // 2xx with zero bytes
	ErrTooLarge         = errors.New("response exceeds max image size") // Body above configured limit
	ErrImageDecode      = errors.New("image could not be decoded")      // File exists but is not a readable image
	ErrFileNotFound     = errors.New("expected file not found")         // File consumed by an earlier duplicate
	ErrFilesystem       = errors.New("filesystem error")                // Wraps os errors
	ErrDatabase         = errors.New("database error")                  // Wraps badger/sqlite errors
	ErrParsing          = errors.New("parsing error")                   // Wraps JSON/URL parse errors
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrConfigValidation = errors.New("configuration validation error")
)

// CategorizeError maps an error to a predefined category string for logging and exception summaries.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrFetchTimeout):
		return "TimeoutError"
	case errors.Is(err, ErrTransientNetwork):
		errMsg := strings.ToLower(err.Error())
		if strings.Contains(errMsg, "connection refused") {
			return "TransientNetworkError_ConnectionRefused"
		}
		if strings.Contains(errMsg, "reset by peer") {
			return "TransientNetworkError_ConnectionReset"
		}
		return "TransientNetworkError_Disconnected"
	case errors.Is(err, ErrResponseStatus):
		errMsg := err.Error()
		for _, code := range []string{"403", "404", "410", "429"} {
			if strings.Contains(errMsg, " "+code+" ") || strings.HasSuffix(errMsg, " "+code) {
				return "NonTransientResponseError_HTTP_" + code
			}
		}
		if strings.Contains(errMsg, "status 5") {
			return "NonTransientResponseError_HTTP_5xx"
		}
		return "NonTransientResponseError_HTTP_Other"
	case errors.Is(err, ErrEmptyBody):
		return "NonTransientResponseError_EmptyBody"
	case errors.Is(err, ErrTooLarge):
		return "NonTransientResponseError_TooLarge"
	case errors.Is(err, ErrNetwork):
		errMsg := strings.ToLower(err.Error())
		if strings.Contains(errMsg, "no such host") {
			return "NetworkError_DNSLookup"
		}
		if strings.Contains(errMsg, "tls") || strings.Contains(errMsg, "certificate") {
			return "NetworkError_TLS"
		}
		return "NetworkError_Other"
	case errors.Is(err, ErrImageDecode):
		return "DecodeError"
	case errors.Is(err, ErrFileNotFound):
		return "NotFoundError"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrParsing):
		return "Parsing"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	// --- Fallback checks for errors that reached here unwrapped ---
	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "TimeoutError"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "TimeoutError"
	}
	return "Unknown"
}
