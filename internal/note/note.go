// Package note implements the outbound half of C9/C10 for local domain
// events: create_note, renote, like/unlike and delete, mirroring
// internal/follow.Manager's pattern of building an AP activity, persisting
// the triggering mutation and its delivery_queue fan-out atomically via
// internal/store, and enqueueing any secondary (notification, mention)
// side effects the same way internal/inbox.Handler does for the inbound
// direction.
package note

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/stegodon-federate/internal/activity"
	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/id"
	"github.com/deemkeen/stegodon-federate/internal/visibility"
)

// ErrContentTooLong is returned when a note's content exceeds the
// configured byte limit (spec.md §8's 50000-byte boundary).
var ErrContentTooLong = errors.New("note: content exceeds maximum length")

// ErrRepliedNoteNotFound is returned by CreateNote when the reply target
// either doesn't exist or the replying actor is not authorized to view it,
// per spec.md's S4 scenario - from the replier's perspective an
// unviewable parent is indistinguishable from a missing one.
var ErrRepliedNoteNotFound = errors.New("note: replied-to note not found")

// ErrRenoteNotAllowed is returned by Renote when either the requested
// visibility or the target note's visibility falls outside {Public,
// Unlisted}, per spec.md §8 invariant 1.
var ErrRenoteNotAllowed = errors.New("note: renote requires public or unlisted visibility on both the renote and its target")

// ErrAlreadyLiked is returned by Like when actor has already liked target.
var ErrAlreadyLiked = errors.New("note: already liked")

// ErrLikeNotFound is returned by Unlike when no matching like exists.
var ErrLikeNotFound = errors.New("note: like not found")

// ErrNotAuthor is returned by DeleteNote when the caller did not author
// the note it is asked to delete.
var ErrNotAuthor = errors.New("note: caller did not author this note")

// Store is the persistence seam note depends on, satisfied by *store.Store.
type Store interface {
	ReadNoteById(noteId id.ID) (*domain.Note, error)
	ReadActorById(actorId id.ID) (*domain.Actor, error)
	ReadFollowByAccountIds(accountId, targetId id.ID) (*domain.Follow, error)
	ReadAcceptedFollowerActors(accountId id.ID) ([]domain.Actor, error)
	ReadLikeByAccountAndNote(accountId, noteId id.ID) (*domain.Like, error)
	ReadBareRenotesByTargetId(targetId id.ID) ([]domain.Note, error)

	CreateNoteWithDelivery(ctx context.Context, n *domain.Note, deliveries []*domain.DeliveryQueueItem) error
	CreateRenoteWithDelivery(ctx context.Context, n *domain.Note, targetId id.ID, deliveries []*domain.DeliveryQueueItem) error
	CreateLikeWithDelivery(ctx context.Context, l *domain.Like, deliveries []*domain.DeliveryQueueItem) error

	CreateNoteMention(m *domain.NoteMention) error
	CreateNoteMentionWithNotification(ctx context.Context, m *domain.NoteMention, n *domain.Notification) error
	IncrementReplyCount(noteId id.ID, delta int) error
	IncrementReplyCountWithNotification(ctx context.Context, noteId id.ID, n *domain.Notification) error
	IncrementLikeCount(noteId id.ID, delta int) error
	DeleteLikeByURI(uri string) error
	SoftDeleteNote(noteId id.ID) error
	EnqueueDelivery(item *domain.DeliveryQueueItem) error
}

// Notifier delivers the best-effort push side-effect for a notification
// note has already persisted via Store, satisfied by *notify.Service.
type Notifier interface {
	PushNotification(n *domain.Notification)
}

// Manager drives outbound note/renote/like creation against a Store.
type Manager struct {
	store           Store
	notifier        Notifier
	baseURL         string
	myDomain        string
	maxContentBytes int
}

// New builds a Manager. baseURL mints local note/activity URLs; maxContentBytes
// enforces spec.md §8's content-length boundary. notifier may be nil, in
// which case notifications are persisted but never pushed.
func New(store Store, notifier Notifier, baseURL, myDomain string, maxContentBytes int) *Manager {
	return &Manager{store: store, notifier: notifier, baseURL: baseURL, myDomain: myDomain, maxContentBytes: maxContentBytes}
}

func (m *Manager) activityURI() string {
	return id.ToLocalURL(m.baseURL, id.KindActivity, id.New())
}

func (m *Manager) notify(n *domain.Notification) {
	if m.notifier != nil {
		m.notifier.PushNotification(n)
	}
}

// canonicalNoteURL returns the URL a note should be referenced by from an
// Announce or a reply chain: its own view URL if this server minted it,
// otherwise the remote AP id resolve.mapToNote stored verbatim.
func canonicalNoteURL(n *domain.Note) string {
	if n.ViewURL != "" {
		return n.ViewURL
	}
	return n.URL
}

// CreateNote implements create_note: validates content length and (for a
// reply) the replier's authorization to view the parent, addresses the
// Create per internal/visibility's to/cc mapping, and persists the note
// with its fan-out delivery rows in one transaction.
func (m *Manager) CreateNote(ctx context.Context, author *domain.Actor, content string, contentType domain.ContentType, v domain.Visibility, replyTo *domain.Note, mentions []*domain.Actor, sensitive bool) (*domain.Note, error) {
	if len(content) > m.maxContentBytes {
		return nil, ErrContentTooLong
	}

	var replyToId *id.NoteID
	var replyToAuthor *domain.Actor
	if replyTo != nil {
		parentAuthor, err := m.store.ReadActorById(replyTo.AuthorId)
		if err != nil || parentAuthor == nil {
			return nil, ErrRepliedNoteNotFound
		}
		var viewerFollowsAuthor bool
		if f, err := m.store.ReadFollowByAccountIds(author.Id, parentAuthor.Id); err == nil && f != nil && !f.Pending {
			viewerFollowsAuthor = true
		}
		if !visibility.CanView(replyTo.Visibility, parentAuthor, author, viewerFollowsAuthor) {
			return nil, ErrRepliedNoteNotFound
		}
		rid := replyTo.Id
		replyToId = &rid
		replyToAuthor = parentAuthor
	}

	n := &domain.Note{
		Id:          id.New(),
		AuthorId:    author.Id,
		Content:     &content,
		ContentType: contentType,
		Visibility:  v,
		CreatedAt:   time.Now(),
		ReplyToId:   replyToId,
		Sensitive:   sensitive,
	}
	n.ViewURL = id.ToLocalURL(m.baseURL, id.KindNote, n.Id)

	mentionURIs := make([]string, 0, len(mentions))
	for _, a := range mentions {
		mentionURIs = append(mentionURIs, a.ViewURL)
	}
	to, cc := visibility.ToAP(v, author, replyToAuthor, mentionURIs)
	obj := activity.FromNote(n, author, to, cc)
	act := activity.NewCreate(n.ViewURL+"/activity", author.ViewURL, obj)

	direct := make([]*domain.Actor, 0, len(mentions)+1)
	if replyToAuthor != nil {
		direct = append(direct, replyToAuthor)
	}
	direct = append(direct, mentions...)

	deliveries, err := m.buildDeliveries(author, act, v, direct)
	if err != nil {
		return nil, err
	}
	if err := m.store.CreateNoteWithDelivery(ctx, n, deliveries); err != nil {
		return nil, fmt.Errorf("note: create note with delivery: %w", err)
	}

	for _, mentioned := range mentions {
		m.recordMention(ctx, n, author, mentioned)
	}
	if replyTo != nil {
		m.notifyReply(ctx, replyTo, author, n)
	}
	return n, nil
}

// Renote implements S3's renote(L, T, v): a content-less note pointing at
// target, addressed per spec.md §4.7's literal renote rule (to=[PUBLIC],
// cc=[author.followers_url, target_author.url]) rather than the general
// ToAP mapping, since an Announce has no reply-to/mention slots for ToAP's
// extra-recipient unioning to bind to. Fan-out goes to target's author and
// every remote follower of author, deduped by shared-inbox origin.
func (m *Manager) Renote(ctx context.Context, author *domain.Actor, target *domain.Note, v domain.Visibility) (*domain.Note, error) {
	if v != domain.Public && v != domain.Unlisted {
		return nil, ErrRenoteNotAllowed
	}
	if target.Visibility != domain.Public && target.Visibility != domain.Unlisted {
		return nil, ErrRenoteNotAllowed
	}
	targetAuthor, err := m.store.ReadActorById(target.AuthorId)
	if err != nil || targetAuthor == nil {
		return nil, fmt.Errorf("note: renote target author not found: %w", err)
	}

	targetId := target.Id
	n := &domain.Note{
		Id:         id.New(),
		AuthorId:   author.Id,
		Visibility: v,
		CreatedAt:  time.Now(),
		RenoteOfId: &targetId,
	}
	n.ViewURL = id.ToLocalURL(m.baseURL, id.KindNote, n.Id)

	to := []string{activity.PublicURI}
	var cc []string
	if author.FollowersURI != "" {
		cc = append(cc, author.FollowersURI)
	}
	cc = append(cc, targetAuthor.ViewURL)

	act := activity.NewAnnounce(n.ViewURL+"/activity", author.ViewURL, canonicalNoteURL(target), to, cc)

	deliveries, err := m.buildDeliveries(author, act, v, []*domain.Actor{targetAuthor})
	if err != nil {
		return nil, err
	}
	if err := m.store.CreateRenoteWithDelivery(ctx, n, target.Id, deliveries); err != nil {
		return nil, fmt.Errorf("note: create renote with delivery: %w", err)
	}
	return n, nil
}

// Like records actor's like of target and, unless private (a bookmark) or
// target is locally authored, enqueues the Like activity to target's
// author, all atomically via CreateLikeWithDelivery.
func (m *Manager) Like(ctx context.Context, actor *domain.Actor, target *domain.Note, private bool) (*domain.Like, error) {
	if existing, err := m.store.ReadLikeByAccountAndNote(actor.Id, target.Id); err == nil && existing != nil {
		return existing, ErrAlreadyLiked
	}

	l := &domain.Like{Id: id.New(), AccountId: actor.Id, NoteId: target.Id, URI: m.activityURI(), IsPrivate: private, CreatedAt: time.Now()}

	var deliveries []*domain.DeliveryQueueItem
	if !private {
		targetAuthor, err := m.store.ReadActorById(target.AuthorId)
		if err == nil && targetAuthor != nil && !targetAuthor.IsLocal() {
			act := activity.NewLike(l.URI, actor.ViewURL, canonicalNoteURL(target))
			item, err := buildDeliveryItem(&actor.Id, targetAuthor.PreferredInbox(), act)
			if err != nil {
				return nil, err
			}
			deliveries = append(deliveries, item)
		}
	}
	if err := m.store.CreateLikeWithDelivery(ctx, l, deliveries); err != nil {
		return nil, fmt.Errorf("note: create like with delivery: %w", err)
	}
	return l, nil
}

// Unlike retracts actor's like of target: removes the row, decrements the
// denormalized counter, and for a non-private like of a remote note
// enqueues an Undo(Like) to the target's author.
func (m *Manager) Unlike(ctx context.Context, actor *domain.Actor, target *domain.Note) error {
	l, err := m.store.ReadLikeByAccountAndNote(actor.Id, target.Id)
	if err != nil || l == nil {
		return ErrLikeNotFound
	}
	if err := m.store.DeleteLikeByURI(l.URI); err != nil {
		return fmt.Errorf("note: delete like: %w", err)
	}
	if err := m.store.IncrementLikeCount(target.Id, -1); err != nil {
		return fmt.Errorf("note: decrement like count: %w", err)
	}
	if l.IsPrivate {
		return nil
	}
	targetAuthor, err := m.store.ReadActorById(target.AuthorId)
	if err != nil || targetAuthor == nil || targetAuthor.IsLocal() {
		return nil
	}
	undo := activity.NewUndo(m.activityURI(), actor.ViewURL, activity.NewLike(l.URI, actor.ViewURL, canonicalNoteURL(target)))
	return m.enqueue(&actor.Id, targetAuthor.PreferredInbox(), undo)
}

// DeleteNote implements op 5 of spec.md §4.5: author-match check, tombstone
// the note, cascade-tombstone every bare renote targeting it, and enqueue a
// Delete to the note's fan-out audience.
func (m *Manager) DeleteNote(ctx context.Context, author *domain.Actor, n *domain.Note) error {
	if n.AuthorId != author.Id {
		return ErrNotAuthor
	}
	if err := m.store.SoftDeleteNote(n.Id); err != nil {
		return fmt.Errorf("note: soft delete: %w", err)
	}

	renotes, err := m.store.ReadBareRenotesByTargetId(n.Id)
	if err != nil {
		log.Printf("note: read bare renotes of %s: %v", n.Id, err)
	}
	for i := range renotes {
		if err := m.store.SoftDeleteNote(renotes[i].Id); err != nil {
			log.Printf("note: cascade soft delete renote %s: %v", renotes[i].Id, err)
		}
	}

	act := activity.NewDelete(m.activityURI(), author.ViewURL, canonicalNoteURL(n))
	deliveries, err := m.buildDeliveries(author, act, n.Visibility, nil)
	if err != nil {
		return err
	}
	for _, item := range deliveries {
		if err := m.store.EnqueueDelivery(item); err != nil {
			return fmt.Errorf("note: enqueue delete delivery: %w", err)
		}
	}
	return nil
}

// buildDeliveries marshals act once and expands it into one delivery row
// per deduplicated inbox: a local author's accepted followers (skipped for
// Private, which only reaches direct recipients) plus direct, via
// internal/visibility.FanOutInboxes - the same shared-inbox dedup C7 uses
// for inbound fan-out, reused here for the outbound direction.
func (m *Manager) buildDeliveries(author *domain.Actor, act *activity.Activity, v domain.Visibility, direct []*domain.Actor) ([]*domain.DeliveryQueueItem, error) {
	raw, err := json.Marshal(act)
	if err != nil {
		return nil, fmt.Errorf("note: marshal activity: %w", err)
	}

	var followers []domain.Actor
	if v != domain.Private {
		followers, err = m.store.ReadAcceptedFollowerActors(author.Id)
		if err != nil {
			return nil, fmt.Errorf("note: read followers: %w", err)
		}
	}
	inboxes := visibility.FanOutInboxes(followers, direct)

	deliveries := make([]*domain.DeliveryQueueItem, 0, len(inboxes))
	for _, inbox := range inboxes {
		deliveries = append(deliveries, &domain.DeliveryQueueItem{
			Id:           id.New(),
			AccountId:    &author.Id,
			InboxURI:     inbox,
			ActivityJSON: string(raw),
			Status:       domain.DeliveryPending,
			Attempts:     0,
			NextRetryAt:  time.Now(),
			CreatedAt:    time.Now(),
		})
	}
	return deliveries, nil
}

// recordMention persists a local author's mention of mentioned and, when
// mentioned is local, its notification - mirroring internal/inbox's
// storeMention for the outbound direction. Best-effort: a failure here
// does not unwind the already-committed note.
func (m *Manager) recordMention(ctx context.Context, n *domain.Note, author *domain.Actor, mentioned *domain.Actor) {
	mention := &domain.NoteMention{
		Id:                id.New(),
		NoteId:            n.Id,
		MentionedActorURI: mentioned.ViewURL,
		MentionedUsername: mentioned.Username,
		MentionedDomain:   mentioned.Domain,
		CreatedAt:         time.Now(),
	}
	if !mentioned.IsLocal() {
		if err := m.store.CreateNoteMention(mention); err != nil {
			log.Printf("note: record mention %s for note %s: %v", mentioned.ViewURL, n.Id, err)
		}
		return
	}

	notif := &domain.Notification{
		Id:               id.New(),
		AccountId:        mentioned.Id,
		NotificationType: domain.NotificationMention,
		ActorId:          author.Id,
		ActorUsername:    author.Username,
		ActorDomain:      author.Domain,
		NoteId:           n.Id,
		NoteURI:          n.URL,
		NotePreview:      n.Preview(),
		CreatedAt:        time.Now(),
	}
	if err := m.store.CreateNoteMentionWithNotification(ctx, mention, notif); err != nil {
		log.Printf("note: record mention %s for note %s: %v", mentioned.ViewURL, n.Id, err)
		return
	}
	m.notify(notif)
}

// notifyReply bumps parent's reply_count and, when parent is locally
// authored, records and pushes the reply notification atomically with the
// count bump - mirroring internal/inbox's notifyReply for the outbound
// direction.
func (m *Manager) notifyReply(ctx context.Context, parent *domain.Note, author *domain.Actor, reply *domain.Note) {
	parentAuthor, err := m.store.ReadActorById(parent.AuthorId)
	if err != nil || parentAuthor == nil || !parentAuthor.IsLocal() {
		if err := m.store.IncrementReplyCount(parent.Id, 1); err != nil {
			log.Printf("note: increment reply count for %s: %v", parent.Id, err)
		}
		return
	}

	notif := &domain.Notification{
		Id:               id.New(),
		AccountId:        parentAuthor.Id,
		NotificationType: domain.NotificationReply,
		ActorId:          author.Id,
		ActorUsername:    author.Username,
		ActorDomain:      author.Domain,
		NoteId:           reply.Id,
		NoteURI:          reply.URL,
		NotePreview:      reply.Preview(),
		CreatedAt:        time.Now(),
	}
	if err := m.store.IncrementReplyCountWithNotification(ctx, parent.Id, notif); err != nil {
		log.Printf("note: increment reply count for %s: %v", parent.Id, err)
		return
	}
	m.notify(notif)
}

func (m *Manager) enqueue(senderId *id.UserID, inbox string, act *activity.Activity) error {
	item, err := buildDeliveryItem(senderId, inbox, act)
	if err != nil {
		return err
	}
	return m.store.EnqueueDelivery(item)
}

// buildDeliveryItem marshals act into a pending delivery_queue row
// addressed to inbox, without persisting it - the caller either hands it to
// EnqueueDelivery directly or folds it into an atomic CreateXxxWithDelivery
// write, mirroring internal/follow's buildDeliveryItem.
func buildDeliveryItem(senderId *id.UserID, inbox string, act *activity.Activity) (*domain.DeliveryQueueItem, error) {
	raw, err := json.Marshal(act)
	if err != nil {
		return nil, fmt.Errorf("note: marshal activity: %w", err)
	}
	return &domain.DeliveryQueueItem{
		Id:           id.New(),
		AccountId:    senderId,
		InboxURI:     inbox,
		ActivityJSON: string(raw),
		Status:       domain.DeliveryPending,
		Attempts:     0,
		NextRetryAt:  time.Now(),
		CreatedAt:    time.Now(),
	}, nil
}
