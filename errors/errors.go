package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/vodloop/hlsfetch/log"
	"github.com/xeipuuv/gojsonschema"
)

// Sentinel kinds for the download engine. Callers classify with the Is helpers
// below; the wrapped message carries the offending URL or detail.
var (
	errForbidden       = errors.New("forbidden")
	errPlaylistExpired = errors.New("playlist expired")
	errNotFound        = errors.New("not found")
	errInvalidInput    = errors.New("invalid input")
	errMergeFailed     = errors.New("merge failed")
)

type unretriableError struct {
	err error
}

func (e unretriableError) Error() string { return e.err.Error() }
func (e unretriableError) Unwrap() error { return e.err }

// Unretriable wraps err so that retry loops running under backoff.Retry stop
// immediately instead of burning through the remaining attempts.
func Unretriable(err error) error {
	return backoff.Permanent(unretriableError{err})
}

func IsUnretriable(err error) bool {
	var u unretriableError
	return errors.As(err, &u)
}

// Forbidden is a 403 from the origin. Terminal for the job: only refreshed
// cookies from the captcha collaborator can recover it.
func Forbidden(url string) error {
	return Unretriable(fmt.Errorf("%w: origin returned 403 for %s", errForbidden, url))
}

func IsForbidden(err error) bool {
	return errors.Is(err, errForbidden)
}

// PlaylistExpired is a 410 on a segment; the job driver recovers it by
// re-running the playlist fetcher.
func PlaylistExpired(url string) error {
	return Unretriable(fmt.Errorf("%w: origin returned 410 for %s", errPlaylistExpired, url))
}

func IsPlaylistExpired(err error) bool {
	return errors.Is(err, errPlaylistExpired)
}

// NotFound means the origin consistently 404ed the playlist.
func NotFound(url string) error {
	return Unretriable(fmt.Errorf("%w: origin returned 404 for %s", errNotFound, url))
}

func IsNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}

func InvalidInput(format string, args ...interface{}) error {
	return Unretriable(fmt.Errorf("%w: %s", errInvalidInput, fmt.Sprintf(format, args...)))
}

func IsInvalidInput(err error) bool {
	return errors.Is(err, errInvalidInput)
}

func MergeFailed(err error) error {
	return fmt.Errorf("%w: %s", errMergeFailed, err)
}

func IsMergeFailed(err error) bool {
	return errors.Is(err, errMergeFailed)
}

// InvalidJobSchema flattens gojsonschema validation results into a single
// InvalidInput error for the jobs file.
func InvalidJobSchema(where string, results []gojsonschema.ResultError) error {
	sb := strings.Builder{}
	for i, r := range results {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(r.String())
	}
	return InvalidInput("schema validation failed in %s: %s", where, sb.String())
}

type apiError struct {
	Msg    string `json:"message"`
	Status int    `json:"status"`
	Err    error  `json:"-"`
}

func writeHTTPError(w http.ResponseWriter, msg string, status int, err error) apiError {
	var errorDetail string
	if err != nil {
		errorDetail = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg, "error_detail": errorDetail}); err != nil {
		log.LogNoJobID("error writing HTTP error", "http_error_msg", msg, "error", err)
	}

	return apiError{msg, status, err}
}

// HTTP errors for the sender API
func WriteHTTPBadRequest(w http.ResponseWriter, msg string, err error) apiError {
	return writeHTTPError(w, msg, http.StatusBadRequest, err)
}

func WriteHTTPNotFound(w http.ResponseWriter, msg string, err error) apiError {
	return writeHTTPError(w, msg, http.StatusNotFound, err)
}

func WriteHTTPInternalServerError(w http.ResponseWriter, msg string, err error) apiError {
	return writeHTTPError(w, msg, http.StatusInternalServerError, err)
}
