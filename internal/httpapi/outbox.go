package httpapi

import (
	"net/http"
	"time"

	"github.com/deemkeen/stegodon-federate/internal/activity"
	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/id"
	"github.com/deemkeen/stegodon-federate/internal/pagination"
	"github.com/deemkeen/stegodon-federate/internal/visibility"
	"github.com/gin-gonic/gin"
)

// noteCanonicalURL returns the URL a note should be referenced by from an
// Announce: its own view URL if this server minted it, otherwise the
// remote id resolve.mapToNote stored verbatim.
func noteCanonicalURL(n *domain.Note) string {
	if n.ViewURL != "" {
		return n.ViewURL
	}
	return n.URL
}

// mentionURLs looks up a note's recorded mentions and returns the mentioned
// actors' AP ids, for unioning into visibility.ToAP's to/cc per spec.md
// §4.7's M_urls. A lookup failure degrades to no mentions rather than
// failing the request - re-serving a note without one of its Mention
// recipients is better than not serving it at all.
func mentionURLs(store Store, noteId id.ID) []string {
	mentions, err := store.ReadNoteMentionsByNoteId(noteId)
	if err != nil {
		return nil
	}
	urls := make([]string, 0, len(mentions))
	for _, m := range mentions {
		urls = append(urls, m.MentionedActorURI)
	}
	return urls
}

// outboxItem renders one outbox entry per spec.md §4.13: a Create wrapping
// the note's Object for ordinary content, an Announce pointing at the
// renoted note's canonical URL for a bare renote. targetURL is ignored
// unless n is a bare renote.
func outboxItem(n *domain.Note, author *domain.Actor, to, cc []string, targetURL string) interface{} {
	if n.IsBareRenote() {
		return activity.NewAnnounce(n.ViewURL+"/activity", author.ViewURL, targetURL, to, cc)
	}
	obj := activity.FromNote(n, author, to, cc)
	return activity.NewCreate(n.ViewURL+"/activity", author.ViewURL, obj)
}

// dbPageFetch adapts a *string-cursor DB page fetch to pagination.Paginate's
// *time.Time contract: internal/db's page queries take the cursor as a
// *string, so it is formatted as RFC3339Nano and bound as a string rather
// than a typed time.Time parameter.
func dbPageFetch[T any](fetch func(before *string, limit int) ([]T, error)) func(*time.Time, int) ([]T, error) {
	return func(before *time.Time, limit int) ([]T, error) {
		var cursor *string
		if before != nil {
			s := before.Format(time.RFC3339Nano)
			cursor = &s
		}
		return fetch(cursor, limit)
	}
}

func (s *Server) handleOutbox(c *gin.Context) {
	actorID, ok := parseActorID(c)
	if !ok {
		return
	}
	author, err := s.store.ReadActorById(actorID)
	if err != nil || author == nil {
		c.Status(http.StatusNotFound)
		return
	}

	collectionURL := author.OutboxURI
	firstPageURL := collectionURL + "?key="

	before, err := pagination.Decode(c.Query("key"))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	c.Header("Content-Type", activityJSONContentType)

	if !hasQueryKey(c, "key") {
		total, err := s.store.CountNotesByAuthor(actorID)
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, activity.NewOrderedCollection(collectionURL, total, firstPageURL))
		return
	}

	page, err := pagination.Paginate(s.cfg.OutboxPageSize, before,
		dbPageFetch(func(before *string, limit int) ([]domain.Note, error) {
			return s.store.ReadOutboxPage(actorID, before, limit)
		}),
		func(n domain.Note) time.Time { return n.CreatedAt },
	)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	items := make([]interface{}, 0, len(page.Items))
	for i := range page.Items {
		n := &page.Items[i]
		to, cc := visibility.ToAP(n.Visibility, author, nil, mentionURLs(s.store, n.Id))
		var targetURL string
		if n.IsBareRenote() {
			if target, err := s.store.ReadNoteById(*n.RenoteOfId); err == nil && target != nil {
				targetURL = noteCanonicalURL(target)
			}
		}
		items = append(items, outboxItem(n, author, to, cc, targetURL))
	}

	var next string
	if page.Next != "" {
		next = collectionURL + "?key=" + page.Next
	}
	c.JSON(http.StatusOK, activity.NewOrderedCollectionPage(c.Request.URL.String(), collectionURL, items, next))
}

func hasQueryKey(c *gin.Context, name string) bool {
	_, ok := c.GetQuery(name)
	return ok
}

func (s *Server) handleFollowers(c *gin.Context) {
	s.handleFollowCollection(c, true)
}

func (s *Server) handleFollowing(c *gin.Context) {
	s.handleFollowCollection(c, false)
}

// handleFollowCollection renders the followers or following collection for
// a local actor, sharing the count+page logic between the two since they
// differ only in which side of the follows table id occupies.
func (s *Server) handleFollowCollection(c *gin.Context, followers bool) {
	actorID, ok := parseActorID(c)
	if !ok {
		return
	}
	author, err := s.store.ReadActorById(actorID)
	if err != nil || author == nil {
		c.Status(http.StatusNotFound)
		return
	}

	collectionURL := author.FollowingURI
	if followers {
		collectionURL = author.FollowersURI
	}

	c.Header("Content-Type", activityJSONContentType)

	before, err := pagination.Decode(c.Query("key"))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	if !hasQueryKey(c, "key") {
		var total int
		var err error
		if followers {
			total, err = s.store.CountFollowers(actorID)
		} else {
			total, err = s.store.CountFollowing(actorID)
		}
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, activity.NewOrderedCollection(collectionURL, total, collectionURL+"?key="))
		return
	}

	fetch := s.store.ReadFollowingPage
	if followers {
		fetch = s.store.ReadFollowersPage
	}
	page, err := pagination.Paginate(s.cfg.OutboxPageSize, before,
		dbPageFetch(func(before *string, limit int) ([]domain.Follow, error) {
			return fetch(actorID, before, limit)
		}),
		func(f domain.Follow) time.Time { return f.CreatedAt },
	)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	items := make([]interface{}, 0, len(page.Items))
	for i := range page.Items {
		f := &page.Items[i]
		counterpart := f.TargetAccountId
		if followers {
			counterpart = f.AccountId
		}
		other, err := s.store.ReadActorById(counterpart)
		if err != nil || other == nil {
			continue
		}
		items = append(items, other.ViewURL)
	}

	var next string
	if page.Next != "" {
		next = collectionURL + "?key=" + page.Next
	}
	c.JSON(http.StatusOK, activity.NewOrderedCollectionPage(c.Request.URL.String(), collectionURL, items, next))
}

func (s *Server) handleNodeInfo21(c *gin.Context) {
	accounts, err := s.store.CountAccounts()
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	posts, err := s.store.CountLocalPosts()
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	activeMonth, err := s.store.CountActiveUsersMonth()
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	activeHalfYear, err := s.store.CountActiveUsersHalfYear()
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", "application/json; charset=utf-8")
	c.JSON(http.StatusOK, gin.H{
		"version": "2.1",
		"software": gin.H{
			"name":    "stegodon-federate",
			"version": "1.0.0",
		},
		"protocols": []string{"activitypub"},
		"services": gin.H{
			"inbound":  []string{},
			"outbound": []string{},
		},
		"openRegistrations": false,
		"usage": gin.H{
			"users": gin.H{
				"total":          accounts,
				"activeMonth":    activeMonth,
				"activeHalfyear": activeHalfYear,
			},
			"localPosts": posts,
		},
		"metadata": gin.H{},
	})
}
