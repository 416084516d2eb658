// Package inbox implements C11: the shared-inbox and per-user inbox receive
// path. Grounded on gnp-x-stegodon/activitypub/inbox.go's HandleInboxWithDeps
// dispatcher and its seven handleXxxActivityWithDeps handlers, generalized
// from the teacher's bespoke Database/HTTPClient deps over internal/resolve
// (C6), internal/follow (C8) and internal/httpsig (C4) instead of direct SQL
// and a package-level HTTP client.
package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/deemkeen/stegodon-federate/internal/db"
	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/follow"
	"github.com/deemkeen/stegodon-federate/internal/httpsig"
	"github.com/deemkeen/stegodon-federate/internal/id"
	"github.com/deemkeen/stegodon-federate/internal/resolve"
)

// maxBodySize bounds the inbox POST body read, per spec.md §4.4's anti-DoS
// requirement, matching the teacher's 1MB cap.
const maxBodySize = 1 * 1024 * 1024

// ErrMissingSignature, ErrUnknownActor, ErrBadSignature, ErrUnknownRecipient
// and ErrNotFollowing let the HTTP layer (C11's consumer, internal/httpapi) translate a
// processing failure into the right status code without string matching.
var (
	ErrMissingSignature = errors.New("inbox: missing HTTP signature")
	ErrUnknownActor     = errors.New("inbox: could not resolve sending actor")
	ErrBadSignature     = errors.New("inbox: signature verification failed")
	ErrUnknownRecipient = errors.New("inbox: recipient actor not found")
	ErrNotFollowing     = errors.New("inbox: sender is not followed and object is not a reply to the recipient")
)

// Store is the persistence seam inbox depends on, satisfied by
// *store.Store (the ...WithNotification methods are not on *db.DB).
type Store interface {
	CreateActivity(a *domain.Activity) error
	ReadActivityByObjectURI(objectURI string) (*domain.Activity, error)
	ReadActorByUsernameDomain(username, domain string) (*domain.Actor, error)
	ReadActorById(actorId id.ID) (*domain.Actor, error)
	ReadNoteByURL(url string) (*domain.Note, error)
	UpdateNoteContent(noteId id.ID, content string) error
	SoftDeleteNote(noteId id.ID) error
	IncrementReplyCount(noteId id.ID, delta int) error
	IncrementReplyCountWithNotification(ctx context.Context, noteId id.ID, n *domain.Notification) error
	CreateNoteMention(m *domain.NoteMention) error
	CreateNoteMentionWithNotification(ctx context.Context, m *domain.NoteMention, n *domain.Notification) error
	ReadFollowByAccountIds(accountId, targetId id.ID) (*domain.Follow, error)
	ReadLikeByAccountAndNote(accountId, noteId id.ID) (*domain.Like, error)
	CreateLike(l *domain.Like) error
	CreateLikeWithNotification(ctx context.Context, l *domain.Like, n *domain.Notification) error
	DeleteLikeByURI(uri string) error
	IncrementLikeCount(noteId id.ID, delta int) error
	CreateBoost(b *domain.Boost) error
	CreateBoostWithNotification(ctx context.Context, b *domain.Boost, n *domain.Notification) error
	DeleteBoostByURI(uri string) error
	IncrementBoostCount(noteId id.ID, delta int) error
}

// Notifier delivers the best-effort push side-effect for a notification
// inbox has already persisted via Store, satisfied by *notify.Service.
type Notifier interface {
	PushNotification(n *domain.Notification)
}

// Handler processes inbound ActivityPub activities for either the shared
// inbox or a specific user's inbox.
type Handler struct {
	store    Store
	resolver *resolve.Resolver
	follows  *follow.Manager
	notifier Notifier
	myDomain string
}

// New builds a Handler. notifier may be nil, in which case notifications
// are persisted but never pushed.
func New(store Store, resolver *resolve.Resolver, follows *follow.Manager, notifier Notifier, myDomain string) *Handler {
	return &Handler{store: store, resolver: resolver, follows: follows, notifier: notifier, myDomain: myDomain}
}

func (h *Handler) notify(n *domain.Notification) {
	if h.notifier != nil {
		h.notifier.PushNotification(n)
	}
}

// envelope is the outer shape every inbound activity shares; object is kept
// raw because its shape (bare URI vs. embedded object) varies by verb and
// each handler below knows how to interpret its own.
type envelope struct {
	Id     string          `json:"id"`
	Type   string          `json:"type"`
	Actor  string          `json:"actor"`
	Object json.RawMessage `json:"object"`
}

// Receive validates, deduplicates and dispatches one inbound POST.
// username is the path segment of the inbox the activity was POSTed to
// ("" for the shared inbox, where addressing alone determines delivery).
func (h *Handler) Receive(ctx context.Context, r *http.Request, username string) error {
	if r.Header.Get("Signature") == "" {
		return ErrMissingSignature
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return fmt.Errorf("inbox: read body: %w", err)
	}
	r.Body.Close()
	if len(body) > maxBodySize {
		return fmt.Errorf("inbox: body exceeds %d bytes", maxBodySize)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("inbox: parse activity: %w", err)
	}

	remote, err := h.resolver.ResolveActorByURI(ctx, env.Actor)
	if err != nil || remote == nil {
		return fmt.Errorf("%w: %s: %v", ErrUnknownActor, env.Actor, err)
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	if err := httpsig.VerifyDigest(r, body); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if _, err := httpsig.Verify(r, remote.PublicKeyPem); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	record := &domain.Activity{
		Id:           id.New(),
		ActivityURI:  env.Id,
		ActivityType: env.Type,
		ActorURI:     env.Actor,
		ObjectURI:    objectURIOf(env.Object),
		RawJSON:      string(body),
		CreatedAt:    time.Now(),
	}
	if err := h.store.CreateActivity(record); err != nil {
		if errors.Is(err, db.ErrUniqueViolation) {
			log.Printf("inbox: activity %s already processed", env.Id)
			return nil
		}
		log.Printf("inbox: failed to log activity %s: %v", env.Id, err)
	}

	var local *domain.Actor
	if username != "" {
		local, err = h.store.ReadActorByUsernameDomain(username, "")
		if err != nil || local == nil {
			return fmt.Errorf("%w: %s", ErrUnknownRecipient, username)
		}
	}

	switch env.Type {
	case "Follow":
		return h.handleFollow(ctx, local, remote, env)
	case "Undo":
		return h.handleUndo(ctx, local, remote, env)
	case "Create":
		return h.handleCreate(ctx, local, remote, env)
	case "Update":
		return h.handleUpdate(ctx, remote, env)
	case "Delete":
		return h.handleDelete(remote, env)
	case "Like":
		return h.handleLike(ctx, remote, env)
	case "Announce":
		return h.handleAnnounce(ctx, remote, env)
	case "Accept":
		return h.handleAccept(env)
	case "Reject":
		return h.handleReject(env)
	default:
		log.Printf("inbox: unsupported activity type %q from %s", env.Type, env.Actor)
		return nil
	}
}

// objectURIOf extracts the object's id whether it's a bare URI string or an
// embedded object, for the activities dedup/log row.
func objectURIOf(raw json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var asObject struct {
		Id string `json:"id"`
	}
	if err := json.Unmarshal(raw, &asObject); err == nil {
		return asObject.Id
	}
	return ""
}

func (h *Handler) handleFollow(ctx context.Context, local, remote *domain.Actor, env envelope) error {
	if local == nil {
		return ErrUnknownRecipient
	}
	_, err := h.follows.HandleInboundFollow(ctx, local, remote, env.Id)
	return err
}

func (h *Handler) handleUndo(ctx context.Context, local, remote *domain.Actor, env envelope) error {
	var target struct {
		Type string `json:"type"`
		Id   string `json:"id"`
	}
	if err := json.Unmarshal(env.Object, &target); err != nil {
		return fmt.Errorf("inbox: parse Undo object: %w", err)
	}

	switch target.Type {
	case "Follow":
		return h.follows.HandleInboundUndo(target.Id, env.Actor)
	case "Like":
		if err := h.store.DeleteLikeByURI(target.Id); err != nil {
			return fmt.Errorf("inbox: undo like %s: %w", target.Id, err)
		}
		return nil
	case "Announce":
		if err := h.store.DeleteBoostByURI(target.Id); err != nil {
			return fmt.Errorf("inbox: undo announce %s: %w", target.Id, err)
		}
		return nil
	default:
		log.Printf("inbox: unsupported Undo target type %q from %s", target.Type, env.Actor)
		return nil
	}
}

func (h *Handler) handleCreate(ctx context.Context, local, remote *domain.Actor, env envelope) error {
	var obj struct {
		Id           string `json:"id"`
		Type         string `json:"type"`
		Content      string `json:"content"`
		AttributedTo string `json:"attributedTo"`
		InReplyTo    string `json:"inReplyTo"`
		Tag          []struct {
			Type string `json:"type"`
			Href string `json:"href"`
			Name string `json:"name"`
		} `json:"tag"`
	}
	if err := json.Unmarshal(env.Object, &obj); err != nil {
		return fmt.Errorf("inbox: parse Create object: %w", err)
	}

	if local != nil {
		if err := h.authorizeCreate(local, remote, obj.InReplyTo); err != nil {
			return err
		}
	}

	var objMap map[string]interface{}
	if err := json.Unmarshal(env.Object, &objMap); err != nil {
		return fmt.Errorf("inbox: parse Create object map: %w", err)
	}
	note, err := h.resolver.IngestNote(ctx, objMap)
	if err != nil {
		return fmt.Errorf("inbox: ingest note %s: %w", obj.Id, err)
	}

	if obj.InReplyTo != "" {
		if parent, err := h.store.ReadNoteByURL(obj.InReplyTo); err == nil && parent != nil {
			if err := h.notifyReply(ctx, parent, remote, note); err != nil {
				log.Printf("inbox: increment reply count for %s: %v", obj.InReplyTo, err)
			}
		}
	}

	for _, tag := range obj.Tag {
		if tag.Type != "Mention" {
			continue
		}
		name := strings.TrimPrefix(tag.Name, "@")
		parts := strings.SplitN(name, "@", 2)
		if len(parts) != 2 {
			continue
		}
		mention := &domain.NoteMention{
			Id:                id.New(),
			NoteId:            note.Id,
			MentionedActorURI: tag.Href,
			MentionedUsername: parts[0],
			MentionedDomain:   parts[1],
			CreatedAt:         time.Now(),
		}
		if err := h.storeMention(ctx, mention, parts[0], parts[1], remote, note); err != nil {
			log.Printf("inbox: store mention %s for note %s: %v", tag.Name, note.Id, err)
		}
	}
	return nil
}

// notifyReply bumps parent's reply_count and, when parent is locally
// authored, records and pushes the reply notification atomically with the
// count bump per spec.md §4.12.
func (h *Handler) notifyReply(ctx context.Context, parent *domain.Note, remote *domain.Actor, reply *domain.Note) error {
	author, err := h.store.ReadActorById(parent.AuthorId)
	if err != nil || author == nil || !author.IsLocal() {
		return h.store.IncrementReplyCount(parent.Id, 1)
	}
	n := &domain.Notification{
		Id:               id.New(),
		AccountId:        author.Id,
		NotificationType: domain.NotificationReply,
		ActorId:          remote.Id,
		ActorUsername:    remote.Username,
		ActorDomain:      remote.Domain,
		NoteId:           reply.Id,
		NoteURI:          reply.URL,
		NotePreview:      reply.Preview(),
		CreatedAt:        time.Now(),
	}
	if err := h.store.IncrementReplyCountWithNotification(ctx, parent.Id, n); err != nil {
		return err
	}
	h.notify(n)
	return nil
}

// storeMention records a parsed mention and, when it names a local actor,
// that actor's mention notification, atomically.
func (h *Handler) storeMention(ctx context.Context, mention *domain.NoteMention, username, domainHost string, remote *domain.Actor, note *domain.Note) error {
	if domainHost != h.myDomain {
		return h.store.CreateNoteMention(mention)
	}
	mentioned, err := h.store.ReadActorByUsernameDomain(username, "")
	if err != nil || mentioned == nil {
		return h.store.CreateNoteMention(mention)
	}
	n := &domain.Notification{
		Id:               id.New(),
		AccountId:        mentioned.Id,
		NotificationType: domain.NotificationMention,
		ActorId:          remote.Id,
		ActorUsername:    remote.Username,
		ActorDomain:      remote.Domain,
		NoteId:           note.Id,
		NoteURI:          note.URL,
		NotePreview:      note.Preview(),
		CreatedAt:        time.Now(),
	}
	if err := h.store.CreateNoteMentionWithNotification(ctx, mention, n); err != nil {
		return err
	}
	h.notify(n)
	return nil
}

// authorizeCreate enforces spec.md §4.4's inbound Create rule: accept from a
// followed actor, or from anyone replying to a note the recipient authored.
func (h *Handler) authorizeCreate(local, remote *domain.Actor, inReplyTo string) error {
	if f, err := h.store.ReadFollowByAccountIds(local.Id, remote.Id); err == nil && f != nil {
		return nil
	}
	if inReplyTo != "" {
		if parent, err := h.store.ReadNoteByURL(inReplyTo); err == nil && parent != nil && parent.AuthorId == local.Id {
			return nil
		}
	}
	return ErrNotFollowing
}

func (h *Handler) handleLike(ctx context.Context, remote *domain.Actor, env envelope) error {
	objectURI := objectURIOf(env.Object)
	if objectURI == "" {
		return fmt.Errorf("inbox: Like has no object")
	}
	note, err := h.resolver.ResolveNoteByURL(ctx, objectURI, 0)
	if err != nil {
		return fmt.Errorf("inbox: resolve liked note %s: %w", objectURI, err)
	}
	if existing, err := h.store.ReadLikeByAccountAndNote(remote.Id, note.Id); err == nil && existing != nil {
		return nil
	}
	like := &domain.Like{Id: id.New(), AccountId: remote.Id, NoteId: note.Id, URI: env.Id, CreatedAt: time.Now()}
	author, _ := h.store.ReadActorById(note.AuthorId)
	if author == nil || !author.IsLocal() {
		if err := h.store.CreateLike(like); err != nil {
			if errors.Is(err, db.ErrUniqueViolation) {
				return nil
			}
			return fmt.Errorf("inbox: create like: %w", err)
		}
		return h.store.IncrementLikeCount(note.Id, 1)
	}

	n := &domain.Notification{
		Id:               id.New(),
		AccountId:        author.Id,
		NotificationType: domain.NotificationLike,
		ActorId:          remote.Id,
		ActorUsername:    remote.Username,
		ActorDomain:      remote.Domain,
		NoteId:           note.Id,
		NoteURI:          note.URL,
		NotePreview:      note.Preview(),
		CreatedAt:        time.Now(),
	}
	if err := h.store.CreateLikeWithNotification(ctx, like, n); err != nil {
		if errors.Is(err, db.ErrUniqueViolation) {
			return nil
		}
		return fmt.Errorf("inbox: create like: %w", err)
	}
	h.notify(n)
	return nil
}

func (h *Handler) handleAnnounce(ctx context.Context, remote *domain.Actor, env envelope) error {
	objectURI := objectURIOf(env.Object)
	if objectURI == "" {
		return fmt.Errorf("inbox: Announce has no object")
	}
	note, err := h.resolver.ResolveNoteByURL(ctx, objectURI, 0)
	if err != nil {
		return fmt.Errorf("inbox: resolve announced note %s: %w", objectURI, err)
	}
	boost := &domain.Boost{Id: id.New(), AccountId: remote.Id, NoteId: note.Id, URI: env.Id, CreatedAt: time.Now()}
	author, _ := h.store.ReadActorById(note.AuthorId)
	if author == nil || !author.IsLocal() {
		if err := h.store.CreateBoost(boost); err != nil {
			if errors.Is(err, db.ErrUniqueViolation) {
				return nil
			}
			return fmt.Errorf("inbox: create boost: %w", err)
		}
		return h.store.IncrementBoostCount(note.Id, 1)
	}

	n := &domain.Notification{
		Id:               id.New(),
		AccountId:        author.Id,
		NotificationType: domain.NotificationRenoted,
		ActorId:          remote.Id,
		ActorUsername:    remote.Username,
		ActorDomain:      remote.Domain,
		NoteId:           note.Id,
		NoteURI:          note.URL,
		NotePreview:      note.Preview(),
		CreatedAt:        time.Now(),
	}
	if err := h.store.CreateBoostWithNotification(ctx, boost, n); err != nil {
		if errors.Is(err, db.ErrUniqueViolation) {
			return nil
		}
		return fmt.Errorf("inbox: create boost: %w", err)
	}
	h.notify(n)
	return nil
}

func (h *Handler) handleAccept(env envelope) error {
	followURI := objectURIOf(env.Object)
	if followURI == "" {
		return fmt.Errorf("inbox: Accept has no Follow reference")
	}
	return h.follows.AcceptPending(followURI)
}

func (h *Handler) handleReject(env envelope) error {
	followURI := objectURIOf(env.Object)
	if followURI == "" {
		return fmt.Errorf("inbox: Reject has no Follow reference")
	}
	return h.follows.RejectPending(followURI)
}

func (h *Handler) handleUpdate(ctx context.Context, remote *domain.Actor, env envelope) error {
	var obj struct {
		Type    string `json:"type"`
		Id      string `json:"id"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(env.Object, &obj); err != nil {
		return fmt.Errorf("inbox: parse Update object: %w", err)
	}

	switch obj.Type {
	case "Person":
		_, err := h.resolver.RefreshActorByURI(ctx, env.Actor)
		return err
	case "Note", "Article":
		existing, err := h.store.ReadNoteByURL(obj.Id)
		if err != nil || existing == nil {
			log.Printf("inbox: note %s not found for update, ignoring", obj.Id)
			return nil
		}
		return h.store.UpdateNoteContent(existing.Id, obj.Content)
	default:
		log.Printf("inbox: unsupported Update object type %q", obj.Type)
		return nil
	}
}

func (h *Handler) handleDelete(remote *domain.Actor, env envelope) error {
	objectURI := objectURIOf(env.Object)
	if objectURI == "" {
		return fmt.Errorf("inbox: Delete has no object")
	}

	if objectURI == env.Actor {
		// Per DESIGN.md's Open Question #3: no cascading deletes through
		// notes/follows. The actor row stays resolvable (so historical
		// content it authored keeps an attributable author); a future
		// ResolveActorByURI against its now-dead inbox will fail quietly
		// on next delivery rather than looping.
		log.Printf("inbox: actor %s deleted their account", env.Actor)
		return nil
	}

	activityRecord, err := h.store.ReadActivityByObjectURI(objectURI)
	if err != nil || activityRecord == nil {
		log.Printf("inbox: object %s not found for deletion, ignoring", objectURI)
		return nil
	}
	if activityRecord.ActorURI != env.Actor {
		return fmt.Errorf("inbox: unauthorized: actor %s cannot delete content created by %s", env.Actor, activityRecord.ActorURI)
	}

	note, err := h.store.ReadNoteByURL(objectURI)
	if err != nil || note == nil {
		return nil
	}
	return h.store.SoftDeleteNote(note.Id)
}
