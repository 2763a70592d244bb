package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/opensubs-io/subsync/log"
	"github.com/xeipuuv/gojsonschema"
)

type APIError struct {
	Msg    string `json:"message"`
	Status int    `json:"status"`
	Err    error  `json:"-"`
}

func writeHttpError(w http.ResponseWriter, msg string, status int, err error) APIError {
	w.WriteHeader(status)

	var errorDetail string
	if err != nil {
		errorDetail = err.Error()
	}

	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg, "error_detail": errorDetail}); err != nil {
		log.LogNoJobID("error writing HTTP error", "http_error_msg", msg, "error", err)
	}
	return APIError{msg, status, err}
}

// HTTP Errors, used at the Orchestrator's HTTP boundary.
func WriteHTTPUnauthorized(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusUnauthorized, err)
}

func WriteHTTPBadRequest(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusBadRequest, err)
}

func WriteHTTPUnsupportedMediaType(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusUnsupportedMediaType, err)
}

func WriteHTTPNotFound(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusNotFound, err)
}

func WriteHTTPInternalServerError(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusInternalServerError, err)
}

func WriteHTTPServiceUnavailable(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusServiceUnavailable, err)
}

func WriteHTTPBadBodySchema(where string, w http.ResponseWriter, errors []gojsonschema.ResultError) APIError {
	sb := strings.Builder{}
	sb.WriteString("Body validation error in ")
	sb.WriteString(where)
	sb.WriteString(" ")
	for i := 0; i < len(errors); i++ {
		sb.WriteString(errors[i].String())
		sb.WriteString(" ")
	}
	return writeHttpError(w, sb.String(), http.StatusBadRequest, nil)
}

// UnretriableError wraps an error that must not be retried by the
// downloader's requeue-with-retry path regardless of remaining retry_count.
type UnretriableError struct{ error }

func Unretriable(err error) error {
	return UnretriableError{err}
}

func (e UnretriableError) Unwrap() error {
	return e.error
}

func IsUnretriable(err error) bool {
	return errors.As(err, &UnretriableError{})
}

// ErrorType is implemented by every error in the taxonomy (§7) so the
// consumer and event publishers can fill `error_type` on job.failed events
// without a type switch.
type ErrorTyper interface {
	ErrorType() string
}

const (
	ErrorTypeRateLimit       = "rate_limit"
	ErrorTypeSubtitleMissing = "subtitle_not_found"
	ErrorTypeInternal        = "internal"
)

// ClassifyErrorType extracts the error_type to attach to a job.failed event,
// defaulting to "internal" for anything not in the taxonomy.
func ClassifyErrorType(err error) string {
	var typed ErrorTyper
	if errors.As(err, &typed) {
		return typed.ErrorType()
	}
	return ErrorTypeInternal
}

// ValidationError — malformed inputs at the Orchestrator boundary; no job
// is created and the caller gets a 400-class response.
type ValidationError struct {
	msg string
}

func NewValidationError(msg string) error {
	return ValidationError{msg: msg}
}

func (e ValidationError) Error() string    { return e.msg }
func (e ValidationError) ErrorType() string { return "validation" }

func IsValidationError(err error) bool {
	return errors.As(err, &ValidationError{})
}

// TransientInfraError — broker/store hiccup. The orchestrator does not
// retry it in-process; its HTTP handlers answer it with a 503 on the first
// failure.
type TransientInfraError struct {
	msg   string
	cause error
}

func NewTransientInfraError(msg string, cause error) error {
	return TransientInfraError{msg: msg, cause: cause}
}

func (e TransientInfraError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.msg, e.cause)
	}
	return e.msg
}
func (e TransientInfraError) Unwrap() error  { return e.cause }
func (e TransientInfraError) ErrorType() string { return "infra" }

func IsTransientInfraError(err error) bool {
	return errors.As(err, &TransientInfraError{})
}

// CatalogRateLimit — downloader hit the subtitle catalog's rate limit.
// Emitted as job.failed with error_type=rate_limit; not retried in-process.
type CatalogRateLimit struct {
	msg string
}

func NewCatalogRateLimit(msg string) error {
	return CatalogRateLimit{msg: msg}
}

func (e CatalogRateLimit) Error() string    { return e.msg }
func (e CatalogRateLimit) ErrorType() string { return ErrorTypeRateLimit }

func IsCatalogRateLimit(err error) bool {
	return errors.As(err, &CatalogRateLimit{})
}

// CatalogNotFound — no subtitle exists in any searched tier and no
// translation fallback applies. Emitted as job.failed with
// error_type=subtitle_not_found.
type CatalogNotFound struct {
	msg string
}

func NewCatalogNotFound(msg string) error {
	return CatalogNotFound{msg: msg}
}

func (e CatalogNotFound) Error() string    { return e.msg }
func (e CatalogNotFound) ErrorType() string { return ErrorTypeSubtitleMissing }

func IsCatalogNotFound(err error) bool {
	return errors.As(err, &CatalogNotFound{})
}

// TranslationChunkError — a single translation chunk failed after its
// per-chunk retries were exhausted. It is not recorded on the checkpoint,
// which lists completed chunks only; if any chunk is fatal the overall task
// emits subtitle.translation.failed naming the chunk index.
type TranslationChunkError struct {
	ChunkIndex int
	msg        string
	cause      error
}

func NewTranslationChunkError(chunkIndex int, msg string, cause error) error {
	return TranslationChunkError{ChunkIndex: chunkIndex, msg: msg, cause: cause}
}

func (e TranslationChunkError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("chunk %d: %s: %s", e.ChunkIndex, e.msg, e.cause)
	}
	return fmt.Sprintf("chunk %d: %s", e.ChunkIndex, e.msg)
}
func (e TranslationChunkError) Unwrap() error  { return e.cause }
func (e TranslationChunkError) ErrorType() string { return "translation_chunk_failed" }

func IsTranslationChunkError(err error) bool {
	return errors.As(err, &TranslationChunkError{})
}

// UnexpectedError — an uncaught failure inside a worker's message handler
// (the translator wraps subtitle parse failures in it). It never escapes to
// the broker library: the translator logs it, acks the task on the first
// failure without retry, and emits subtitle.translation.failed. No
// job.failed event is published for it.
type UnexpectedError struct {
	cause error
}

func NewUnexpectedError(cause error) error {
	return UnexpectedError{cause: cause}
}

func (e UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected error: %s", e.cause)
}
func (e UnexpectedError) Unwrap() error  { return e.cause }
func (e UnexpectedError) ErrorType() string { return ErrorTypeInternal }

type ObjectNotFoundError struct {
	msg   string
	cause error
}

func (e ObjectNotFoundError) Error() string {
	return e.msg
}

func (e ObjectNotFoundError) Unwrap() error {
	return e.cause
}

func NewObjectNotFoundError(msg string, cause error) error {
	if cause != nil {
		msg = fmt.Sprintf("ObjectNotFoundError: %s: %s", msg, cause)
	} else {
		msg = fmt.Sprintf("ObjectNotFoundError: %s", msg)
	}
	// every not found is unretriable
	return Unretriable(ObjectNotFoundError{msg: msg, cause: cause})
}

// IsObjectNotFound checks if the error is an ObjectNotFoundError.
func IsObjectNotFound(err error) bool {
	return errors.As(err, &ObjectNotFoundError{})
}

var (
	UnauthorisedError = errors.New("UnauthorisedError")
	InvalidJWT        = errors.New("InvalidJWTError")
)
