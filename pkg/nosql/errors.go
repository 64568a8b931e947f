package nosql

import "fmt"

// ErrKind classifies store and write-path failures. Kinds map to HTTP
// statuses at the API boundary; the core only ever returns them as values.
type ErrKind int

const (
	KindUnknown ErrKind = iota
	KindTableNotFound
	KindTableAlreadyExists
	KindRecordNotFound
	KindRecordAlreadyExists
	KindOptimisticConcurrencyFail
	KindJsonParseFail
	KindTimestampMissing
	KindUnauthorized
	KindAppIsNotInitialized
	KindAppIsShuttingDown
	KindSessionNotFound
	KindTransactionNotFound
	KindTransactionFailed
)

func (k ErrKind) String() string {
	switch k {
	case KindTableNotFound:
		return "TableNotFound"
	case KindTableAlreadyExists:
		return "TableAlreadyExists"
	case KindRecordNotFound:
		return "RecordNotFound"
	case KindRecordAlreadyExists:
		return "RecordAlreadyExists"
	case KindOptimisticConcurrencyFail:
		return "OptimisticConcurrencyFail"
	case KindJsonParseFail:
		return "JsonParseFail"
	case KindTimestampMissing:
		return "TimestampMissing"
	case KindUnauthorized:
		return "Unauthorized"
	case KindAppIsNotInitialized:
		return "AppIsNotInitialized"
	case KindAppIsShuttingDown:
		return "AppIsShuttingDown"
	case KindSessionNotFound:
		return "SessionNotFound"
	case KindTransactionNotFound:
		return "TransactionNotFound"
	case KindTransactionFailed:
		return "TransactionFailed"
	}
	return "Unknown"
}

// Error is the error value surfaced by the store and the write path.
type Error struct {
	Kind    ErrKind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Message
}

// Errf builds an *Error of the given kind with a formatted message.
func Errf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrKind from err, or KindUnknown for foreign errors.
func KindOf(err error) ErrKind {
	if err == nil {
		return KindUnknown
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindUnknown
}

func ErrTableNotFound(name string) *Error {
	return Errf(KindTableNotFound, "table %q does not exist", name)
}

func ErrTableAlreadyExists(name string) *Error {
	return Errf(KindTableAlreadyExists, "table %q already exists", name)
}

func ErrRecordNotFound(pk, rk string) *Error {
	return Errf(KindRecordNotFound, "record %q/%q not found", pk, rk)
}

func ErrRecordAlreadyExists(pk, rk string) *Error {
	return Errf(KindRecordAlreadyExists, "record %q/%q already exists", pk, rk)
}
