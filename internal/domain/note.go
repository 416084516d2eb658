package domain

import (
	"time"

	"github.com/deemkeen/stegodon-federate/internal/id"
)

// Visibility is the internal visibility enum of spec.md §3/§4.7, totally
// ordered by broadness for the renote/reply rules.
type Visibility int

const (
	Public Visibility = iota
	Unlisted
	Follower
	Private
)

func (v Visibility) String() string {
	switch v {
	case Public:
		return "public"
	case Unlisted:
		return "unlisted"
	case Follower:
		return "follower"
	case Private:
		return "private"
	default:
		return "unknown"
	}
}

// Broader reports whether v is at least as broad as other, using the total
// order Public > Unlisted > Follower > Private.
func (v Visibility) Broader(other Visibility) bool {
	return v <= other
}

type ContentType string

const (
	ContentPlain ContentType = "plain"
	ContentMD    ContentType = "md"
	ContentHTML  ContentType = "html"
	ContentLatex ContentType = "latex"
)

// Note is a local or remote post. Either Content is set (original/quote/
// reply) or RenoteOfID is set (bare renote) — never both, per spec.md §3.
type Note struct {
	Id          id.NoteID
	AuthorId    id.UserID
	Content     *string
	ContentType ContentType
	Visibility  Visibility
	CreatedAt   time.Time
	UpdatedAt   *time.Time
	DeletedAt   *time.Time
	ReplyToId   *id.NoteID
	RenoteOfId  *id.NoteID
	Sensitive   bool
	URL         string // remote note's AP id; empty for local
	ViewURL     string
	FetchedAt   *time.Time
	LikeCount   int
	BoostCount  int
	ReplyCount  int
}

// IsBareRenote reports whether this note is a content-less renote.
func (n *Note) IsBareRenote() bool {
	return n.Content == nil && n.RenoteOfId != nil
}

// IsDeleted reports whether the note has been soft-deleted.
func (n *Note) IsDeleted() bool {
	return n.DeletedAt != nil
}

// previewLength bounds Notification.NotePreview to a short excerpt, enough
// for a notification list line without storing the full body twice.
const previewLength = 80

// Preview returns a short excerpt of the note's content for a
// Notification's NotePreview, empty for a bare renote.
func (n *Note) Preview() string {
	if n.Content == nil {
		return ""
	}
	c := *n.Content
	if len(c) <= previewLength {
		return c
	}
	return c[:previewLength] + "…"
}

type NoteMention struct {
	Id                id.ID
	NoteId            id.NoteID
	MentionedActorURI string
	MentionedUsername string
	MentionedDomain   string
	CreatedAt         time.Time
}

type NoteHashtag struct {
	Id      id.ID
	NoteId  id.NoteID
	Hashtag string
}

type NoteUpload struct {
	Id       id.UploadID
	NoteId   id.NoteID
	URL      string
	MimeType string
}
