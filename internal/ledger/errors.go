package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/matheusmosca/offers-marketplace/internal/apperrors"
)

// CodeOrderAlreadyExists is the server sub-code sent with a 409 when an order for
// the same offer is already open. The Location header points at that order.
const CodeOrderAlreadyExists = 4091

// APIError is the structured error body returned by the ledger service.
type APIError struct {
	HTTPCode int    `json:"-"`
	Code     int    `json:"code"`
	Err      string `json:"error"`
	Message  string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s (%d): %s", e.HTTPCode, e.Err, e.Code, e.Message)
}

// convertError turns a transport failure or an error response into an
// apperrors.Error. It returns nil for successful responses.
func convertError(resp *resty.Response, err error, operation string) error {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperrors.Service(apperrors.CodeTimeout, operation, err)
		}
		return apperrors.Service(apperrors.CodeNetworkError, operation, err)
	}
	if !resp.IsError() {
		return nil
	}

	apiErr, ok := resp.Error().(*APIError)
	if !ok || apiErr == nil {
		apiErr = &APIError{Err: http.StatusText(resp.StatusCode()), Message: strings.TrimSpace(resp.String())}
	}
	apiErr.HTTPCode = resp.StatusCode()

	switch {
	case resp.StatusCode() == http.StatusUnauthorized:
		return apperrors.Service(apperrors.CodeUnauthorized, operation, apiErr)
	case resp.StatusCode() == http.StatusNotFound:
		return apperrors.Service(apperrors.CodeOrderNotFound, operation, apiErr)
	case resp.StatusCode() == http.StatusConflict && apiErr.Code == CodeOrderAlreadyExists:
		if id := orderIDFromLocation(resp.Header().Get("Location")); id != "" {
			return apperrors.OrderConflict(id, apiErr)
		}
		return apperrors.Service(apperrors.CodeServiceError, operation, apiErr)
	default:
		return apperrors.Service(apperrors.CodeServiceError, operation, apiErr)
	}
}

// orderIDFromLocation returns the last path segment of a Location header,
// e.g. "https://ledger/v1/orders/o2" -> "o2".
func orderIDFromLocation(location string) string {
	location = strings.TrimRight(strings.TrimSpace(location), "/")
	if location == "" {
		return ""
	}
	if i := strings.IndexAny(location, "?#"); i >= 0 {
		location = location[:i]
	}
	id := path.Base(location)
	if id == "." || id == "/" {
		return ""
	}
	return id
}
