package core

import (
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// MapError converts any error into an ErrorEnvelope. Typed errors keep the
// upstream-flavoured numeric code; everything else becomes an internal error.
func MapError(err error) ErrorEnvelope {
	if err == nil {
		return ErrorEnvelope{Code: mcp.INTERNAL_ERROR, Message: "internal error"}
	}

	var e *Error
	if !errors.As(err, &e) {
		return ErrorEnvelope{Code: mcp.INTERNAL_ERROR, Message: err.Error()}
	}

	switch e.Kind {
	case KindAuthentication:
		return ErrorEnvelope{Code: 401, Message: e.Message}
	case KindUpstreamServer:
		return ErrorEnvelope{Code: e.Status, Message: e.Message}
	case KindRateLimited:
		return ErrorEnvelope{
			Code:    429,
			Message: fmt.Sprintf("Rate limit exceeded. Retry after %d seconds", retrySeconds(e.RetryAfter)),
			Data:    map[string]any{"retry_after": retrySeconds(e.RetryAfter)},
		}
	case KindTransport:
		return ErrorEnvelope{Code: 503, Message: e.Message}
	case KindPermissionDenied:
		return ErrorEnvelope{Code: 403, Message: e.Message}
	case KindConfiguration, KindDecode:
		return ErrorEnvelope{Code: 500, Message: e.Message}
	case KindProtocol, KindInvalidRequest:
		return ErrorEnvelope{Code: 400, Message: e.Message}
	default:
		return ErrorEnvelope{Code: mcp.INTERNAL_ERROR, Message: e.Error()}
	}
}
