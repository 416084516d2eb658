// Package id implements the opaque identifiers used throughout
// the federation core (C1): random generation, trusted deserialization from
// storage, and parsing the tail of a local canonical URL back into an ID.
package id

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ID is the underlying 128-bit opaque identifier shared by every entity
// kind, so storage and wire code has one representation to marshal.
type ID = uuid.UUID

// UserID, NoteID and UploadID are type aliases of ID. They name the entity
// kind at a use site, but the compiler treats all three as the same type:
// passing a NoteID where a UserID is expected compiles, and id.ID carries
// no kind tag at runtime.
type (
	UserID   = ID
	NoteID   = ID
	UploadID = ID
)

// New generates a fresh random ID.
func New() ID {
	return uuid.New()
}

// Parse performs trusted deserialization of an ID from its canonical string
// form, as read back from storage.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// Kind names a URL path segment used in local canonical URLs.
type Kind string

const (
	KindUser     Kind = "user"
	KindNote     Kind = "note"
	KindUpload   Kind = "upload"
	KindActivity Kind = "activities"
)

// ToLocalURL builds the canonical local URL for an ID of the given kind
// under base, e.g. ToLocalURL(base, KindUser, id) -> "{base}/user/{id}".
func ToLocalURL(base string, kind Kind, i ID) string {
	base = strings.TrimSuffix(base, "/")
	return fmt.Sprintf("%s/%s/%s", base, kind, i.String())
}

// ParseLocalURL parses a URL against myDomain. It reports ok=false (treat as
// remote) unless the host matches myDomain and the path has exactly two
// segments "{kind}/{id}" with a valid ID encoding in the second segment.
func ParseLocalURL(myDomain string, kind Kind, raw string) (out ID, ok bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return ID{}, false
	}
	if !strings.EqualFold(u.Host, myDomain) {
		return ID{}, false
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) != 2 {
		return ID{}, false
	}
	if segments[0] != string(kind) {
		return ID{}, false
	}
	parsed, err := uuid.Parse(segments[1])
	if err != nil {
		return ID{}, false
	}
	return parsed, true
}

// IsLocal reports whether raw is a local canonical URL under myDomain, for
// any entity kind.
func IsLocal(myDomain, raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, myDomain)
}
