package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies where an error originated so callers can decide whether a retry
// makes sense without inspecting transport-specific types.
type Kind int

const (
	KindUnknown Kind = iota
	KindClient
	KindService
	KindBlockchain
)

func (k Kind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindService:
		return "service"
	case KindBlockchain:
		return "blockchain"
	default:
		return "unknown"
	}
}

// Error codes. Client errors are never retried automatically, service errors are
// retried only by the order poller, blockchain errors either move the account state
// machine to its error state or surface as failed payments.
const (
	CodeSDKNotStarted          = 4001
	CodeBadConfiguration       = 4002
	CodeInternalInconsistency  = 4003
	CodeBadJWT                 = 4004
	CodeWalletNotRestorable    = 4005
	CodeAccountNotLoggedIn     = 4006
	CodeServiceError           = 5001
	CodeNetworkError           = 5002
	CodeTimeout                = 5003
	CodeUnauthorized           = 5004
	CodeOrderNotFound          = 5005
	CodeOrderConflict          = 5006
	CodeAccountCreationTimeout = 6001
	CodeTransactionFailed      = 6002
	CodeAccountNotFound        = 6003
	CodeAccountNotActivated    = 6004
	CodeInsufficientFunds      = 6005
	CodeTrustlineFailed        = 6006
	CodeMigrationFailed        = 6007
)

// Error carries the kind, a numeric code and the originating cause.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Cause   error
	// OrderID is set for conflicts that point at an already existing order.
	OrderID string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error %d: %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error %d: %s", e.Kind, e.Code, e.Message)
}

// Unwrap lets errors.Is and errors.As look at the original cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same kind and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

func Client(code int, message string, cause error) *Error {
	return &Error{Kind: KindClient, Code: code, Message: message, Cause: cause}
}

func Service(code int, message string, cause error) *Error {
	return &Error{Kind: KindService, Code: code, Message: message, Cause: cause}
}

func Blockchain(code int, message string, cause error) *Error {
	return &Error{Kind: KindBlockchain, Code: code, Message: message, Cause: cause}
}

// OrderConflict reports that the server already holds an order for the request.
func OrderConflict(orderID string, cause error) *Error {
	return &Error{
		Kind:    KindService,
		Code:    CodeOrderConflict,
		Message: "order already exists",
		Cause:   cause,
		OrderID: orderID,
	}
}

// Sentinels usable with errors.Is.
var (
	ErrInternalInconsistency = Client(CodeInternalInconsistency, "internal inconsistency", nil)
	ErrTimeout               = Service(CodeTimeout, "timeout", nil)
	ErrUnauthorized          = Service(CodeUnauthorized, "unauthorized", nil)
	ErrNetwork               = Service(CodeNetworkError, "network error", nil)
	ErrOrderConflict         = Service(CodeOrderConflict, "order already exists", nil)
	ErrAccountNotActivated   = Blockchain(CodeAccountNotActivated, "account not activated", nil)
	ErrInsufficientFunds     = Blockchain(CodeInsufficientFunds, "insufficient funds", nil)
	ErrTransactionFailed     = Blockchain(CodeTransactionFailed, "transaction failed", nil)
	ErrCreationTimeout       = Blockchain(CodeAccountCreationTimeout, "account creation timeout", nil)
)

// KindOf returns the kind of the first *Error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ConflictingOrderID extracts the existing order id from a conflict error.
func ConflictingOrderID(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) && e.Code == CodeOrderConflict && e.OrderID != "" {
		return e.OrderID, true
	}
	return "", false
}
