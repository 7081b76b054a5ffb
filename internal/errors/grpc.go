package errors

import (
	"errors"

	"github.com/louisbranch/undertow/internal/errors/i18n"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultLocale is the default locale for error messages.
const DefaultLocale = "en-US"

// HandleError converts domain errors to gRPC status for client responses.
// It formats the user-facing message using the i18n catalog for the given locale,
// defaulting to en-US if the locale is empty.
func HandleError(err error, locale string) error {
	if err == nil {
		return nil
	}

	if locale == "" {
		locale = DefaultLocale
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		catalog := i18n.GetCatalog(locale)
		userMsg := catalog.Format(string(appErr.Code), appErr.Metadata)
		return appErr.ToGRPCStatus(userMsg)
	}

	// Unknown error - return internal with generic message
	return status.Error(codes.Internal, "an unexpected error occurred")
}

// UserMessage formats the user-facing message for an error in the given
// locale. Non-domain errors produce a generic message.
func UserMessage(err error, locale string) string {
	if err == nil {
		return ""
	}
	if locale == "" {
		locale = DefaultLocale
	}

	catalog := i18n.GetCatalog(locale)
	var appErr *Error
	if errors.As(err, &appErr) {
		return catalog.Format(string(appErr.Code), appErr.Metadata)
	}
	return catalog.Format(string(CodeUnknown), nil)
}
