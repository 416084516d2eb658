package httpapi

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/deemkeen/stegodon-federate/internal/fetch"
	"github.com/deemkeen/stegodon-federate/internal/follow"
	"github.com/deemkeen/stegodon-federate/internal/inbox"
	"github.com/deemkeen/stegodon-federate/internal/pagination"
	"github.com/deemkeen/stegodon-federate/internal/resolve"
)

// StatusFor maps a known domain/federation error to the HTTP status
// spec.md §7 documents for it, generalizing the teacher's scattered
// http.Error(w, msg, code) call sites in activitypub/inbox.go into one
// lookup function. Unknown errors fall through to 500, logged by the
// caller and never exposing internal shape to the client.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound
	case errors.Is(err, inbox.ErrMissingSignature), errors.Is(err, inbox.ErrBadSignature):
		return http.StatusUnauthorized
	case errors.Is(err, inbox.ErrUnknownActor), errors.Is(err, inbox.ErrUnknownRecipient):
		return http.StatusBadRequest
	case errors.Is(err, inbox.ErrNotFollowing):
		return http.StatusForbidden
	case errors.Is(err, fetch.ErrGone):
		return http.StatusGone
	case errors.Is(err, resolve.ErrRecursionLimit):
		return http.StatusBadRequest
	case errors.Is(err, follow.ErrUnauthorizedUndo):
		return http.StatusForbidden
	case errors.Is(err, follow.ErrAlreadyFollowing):
		return http.StatusOK
	case errors.Is(err, pagination.ErrInvalidCursor):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
