// Package activity implements C9: typed ActivityPub activity and object
// shapes, builders from the domain model, and the OrderedCollection(Page)
// envelopes used by the outbox/followers/following endpoints (C13).
// Grounded on klppl-klistr/internal/ap/types.go's typed-struct approach
// (Actor/Note/Activity with @context/omitempty tags) rather than the
// teacher's inline map[string]any literals in activitypub/outbox.go -
// upgraded per SPEC_FULL.md so every C9 consumer gets compile-time field
// checking instead of stringly-typed maps.
package activity

import (
	"fmt"

	"github.com/deemkeen/stegodon-federate/internal/domain"
)

// ActivityStreamsContext is the JSON-LD @context every outbound object and
// activity carries, per klppl-klistr/internal/ap/types.go's DefaultContext
// (trimmed to the AS/security namespaces this server actually emits).
var ActivityStreamsContext = []interface{}{
	"https://www.w3.org/ns/activitystreams",
	"https://w3id.org/security/v1",
}

// PublicURI is the ActivityStreams "everyone" sentinel address.
const PublicURI = "https://www.w3.org/ns/activitystreams#Public"

// Tag is a Mention or Hashtag entry in an object's tag array.
type Tag struct {
	Type string `json:"type"`
	Href string `json:"href"`
	Name string `json:"name,omitempty"`
}

// Attachment describes a media upload attached to a Note.
type Attachment struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	MediaType string `json:"mediaType,omitempty"`
}

// Object is the AP Note/Tombstone/Person payload embedded in or pointed to
// by an Activity.
type Object struct {
	Context      interface{}  `json:"@context,omitempty"`
	Id           string       `json:"id"`
	Type         string       `json:"type"`
	AttributedTo string       `json:"attributedTo,omitempty"`
	Content      string       `json:"content,omitempty"`
	Published    string       `json:"published,omitempty"`
	Updated      string       `json:"updated,omitempty"`
	To           []string     `json:"to,omitempty"`
	Cc           []string     `json:"cc,omitempty"`
	InReplyTo    string       `json:"inReplyTo,omitempty"`
	Sensitive    bool         `json:"sensitive,omitempty"`
	Tag          []Tag        `json:"tag,omitempty"`
	Attachment   []Attachment `json:"attachment,omitempty"`
	URL          string       `json:"url,omitempty"`
}

// Activity is the envelope shared by every AP verb this server emits or
// accepts (Follow, Accept, Reject, Undo, Create, Update, Delete, Announce,
// Like). Object holds either a bare URI string or an embedded *Object,
// matching the teacher's Object any pattern in activitypub/inbox.go's
// Activity struct.
type Activity struct {
	Context   interface{} `json:"@context,omitempty"`
	Id        string      `json:"id"`
	Type      string      `json:"type"`
	Actor     string      `json:"actor"`
	Object    interface{} `json:"object"`
	To        []string    `json:"to,omitempty"`
	Cc        []string    `json:"cc,omitempty"`
	Published string      `json:"published,omitempty"`
}

// Validate checks the invariants every outbound and inbound activity must
// satisfy: a non-empty id, type and actor, and a present object. This
// catches malformed activities before they are enqueued for delivery or
// passed on to a handler.
func Validate(a *Activity) error {
	if a.Id == "" {
		return fmt.Errorf("activity: missing id")
	}
	if a.Type == "" {
		return fmt.Errorf("activity: missing type")
	}
	if a.Actor == "" {
		return fmt.Errorf("activity: missing actor")
	}
	if a.Object == nil {
		return fmt.Errorf("activity: missing object")
	}
	return nil
}

// NewFollow builds a Follow activity addressed directly at the target
// actor, per spec.md §4.2.
func NewFollow(activityId, actorURI, targetURI string) *Activity {
	return &Activity{Context: ActivityStreamsContext, Id: activityId, Type: "Follow", Actor: actorURI, Object: targetURI}
}

// NewAccept wraps an embedded Follow object, sent back to the actor that
// created it.
func NewAccept(activityId, actorURI, followId, followActorURI, followObjectURI string) *Activity {
	return &Activity{
		Context: ActivityStreamsContext,
		Id:      activityId,
		Type:    "Accept",
		Actor:   actorURI,
		Object: &Activity{
			Id:     followId,
			Type:   "Follow",
			Actor:  followActorURI,
			Object: followObjectURI,
		},
	}
}

// NewReject mirrors NewAccept's shape for a declined Follow.
func NewReject(activityId, actorURI, followId, followActorURI, followObjectURI string) *Activity {
	a := NewAccept(activityId, actorURI, followId, followActorURI, followObjectURI)
	a.Type = "Reject"
	return a
}

// NewUndo wraps any previously-sent activity (by id, type, actor and
// object) in an Undo, used to retract a Follow or a Like.
func NewUndo(activityId, actorURI string, undone *Activity) *Activity {
	return &Activity{Context: ActivityStreamsContext, Id: activityId, Type: "Undo", Actor: actorURI, Object: undone}
}

// NewCreate wraps obj in a Create activity, addressed per obj's own to/cc.
func NewCreate(activityId, actorURI string, obj *Object) *Activity {
	return &Activity{Context: ActivityStreamsContext, Id: activityId, Type: "Create", Actor: actorURI, Object: obj, To: obj.To, Cc: obj.Cc}
}

// NewUpdate mirrors NewCreate for an edited Note.
func NewUpdate(activityId, actorURI string, obj *Object) *Activity {
	return &Activity{Context: ActivityStreamsContext, Id: activityId, Type: "Update", Actor: actorURI, Object: obj, To: obj.To, Cc: obj.Cc}
}

// NewDelete wraps a Tombstone referencing the deleted object's id, per the
// AP spec's soft-delete convention (no cascading semantics implied).
func NewDelete(activityId, actorURI, objectURI string) *Activity {
	return &Activity{
		Context: ActivityStreamsContext,
		Id:      activityId,
		Type:    "Delete",
		Actor:   actorURI,
		Object:  &Object{Id: objectURI, Type: "Tombstone"},
		To:      []string{PublicURI},
	}
}

// NewAnnounce (boost/renote) points at an already-resolvable object URI
// rather than embedding it.
func NewAnnounce(activityId, actorURI, objectURI string, to, cc []string) *Activity {
	return &Activity{Context: ActivityStreamsContext, Id: activityId, Type: "Announce", Actor: actorURI, Object: objectURI, To: to, Cc: cc}
}

// NewLike points at the liked object's URI; likes are always addressed
// directly to the object's author, never fanned out publicly.
func NewLike(activityId, actorURI, objectURI string) *Activity {
	return &Activity{Context: ActivityStreamsContext, Id: activityId, Type: "Like", Actor: actorURI, Object: objectURI}
}

// FromNote builds the Object embedded in a Create/Update for a local note,
// given its already-computed to/cc addressing (see internal/visibility).
func FromNote(n *domain.Note, author *domain.Actor, to, cc []string) *Object {
	obj := &Object{
		Id:           n.ViewURL,
		Type:         "Note",
		AttributedTo: author.ViewURL,
		Published:    n.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		To:           to,
		Cc:           cc,
		Sensitive:    n.Sensitive,
	}
	if n.Content != nil {
		obj.Content = *n.Content
	}
	if n.UpdatedAt != nil {
		obj.Updated = n.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	return obj
}

// OrderedCollection is the top-level outbox/followers/following summary
// object, pointing at its first page.
type OrderedCollection struct {
	Context    interface{} `json:"@context,omitempty"`
	Id         string      `json:"id"`
	Type       string      `json:"type"`
	TotalItems int         `json:"totalItems"`
	First      string      `json:"first,omitempty"`
	Last       string      `json:"last,omitempty"`
}

// NewOrderedCollection builds the summary object for collectionURL.
func NewOrderedCollection(collectionURL string, totalItems int, firstPageURL string) *OrderedCollection {
	return &OrderedCollection{
		Context:    ActivityStreamsContext,
		Id:         collectionURL,
		Type:       "OrderedCollection",
		TotalItems: totalItems,
		First:      firstPageURL,
	}
}

// OrderedCollectionPage is one page of items, opaquely cursored via Next
// (see internal/pagination for cursor encoding).
type OrderedCollectionPage struct {
	Context      interface{}   `json:"@context,omitempty"`
	Id           string        `json:"id"`
	Type         string        `json:"type"`
	PartOf       string        `json:"partOf"`
	OrderedItems []interface{} `json:"orderedItems"`
	Next         string        `json:"next,omitempty"`
}

// NewOrderedCollectionPage builds a single page of a collection.
func NewOrderedCollectionPage(pageURL, partOfURL string, items []interface{}, nextPageURL string) *OrderedCollectionPage {
	return &OrderedCollectionPage{
		Context:      ActivityStreamsContext,
		Id:           pageURL,
		Type:         "OrderedCollectionPage",
		PartOf:       partOfURL,
		OrderedItems: items,
		Next:         nextPageURL,
	}
}
