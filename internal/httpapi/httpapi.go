package httpapi

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/deemkeen/stegodon-federate/internal/activity"
	"github.com/deemkeen/stegodon-federate/internal/config"
	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/id"
	"github.com/deemkeen/stegodon-federate/internal/inbox"
	"github.com/deemkeen/stegodon-federate/internal/util"
	"github.com/deemkeen/stegodon-federate/internal/visibility"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Store is the read surface internal/httpapi needs from internal/store,
// beyond what internal/inbox already depends on for the POST paths.
type Store interface {
	ReadActorById(actorId id.ID) (*domain.Actor, error)
	ReadActorByUsernameDomain(username, domain string) (*domain.Actor, error)
	ReadNoteById(noteId id.ID) (*domain.Note, error)
	ReadOutboxPage(authorId id.ID, beforeCreatedAt *string, limit int) ([]domain.Note, error)
	ReadPublicNotesByAuthor(authorId id.ID, limit int) ([]domain.Note, error)
	ReadNoteMentionsByNoteId(noteId id.ID) ([]domain.NoteMention, error)
	CountNotesByAuthor(authorId id.ID) (int, error)
	ReadFollowersPage(accountId id.ID, beforeCreatedAt *string, limit int) ([]domain.Follow, error)
	ReadFollowingPage(accountId id.ID, beforeCreatedAt *string, limit int) ([]domain.Follow, error)
	CountFollowers(accountId id.ID) (int, error)
	CountFollowing(accountId id.ID) (int, error)
	CountAccounts() (int, error)
	CountLocalPosts() (int, error)
	CountActiveUsersMonth() (int, error)
	CountActiveUsersHalfYear() (int, error)
}

// Server binds the ten spec.md §6 endpoints (plus an RSS feed) against a Store and an
// internal/inbox.Handler.
type Server struct {
	cfg   *config.Config
	store Store
	inbox *inbox.Handler
}

// New builds a Server. Call Engine to get the gin.Engine to run.
func New(cfg *config.Config, store Store, inboxHandler *inbox.Handler) *Server {
	return &Server{cfg: cfg, store: store, inbox: inboxHandler}
}

// Engine builds and wires the gin.Engine, grounded on
// gnp-x-stegodon/web/router.go's Router: gzip, a global per-IP rate limiter
// (10 req/s, burst 20), and a stricter one (5 req/s, burst 10) plus a 1MB
// body cap scoped to the federation endpoints.
func (s *Server) Engine() *gin.Engine {
	g := gin.New()
	g.Use(gin.Logger(), gin.Recovery())
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	global := newRateLimiter(rate.Limit(10), 20)
	g.Use(rateLimitMiddleware(global))

	apLimiter := newRateLimiter(rate.Limit(5), 10)
	maxBody := maxBytesMiddleware(1 * 1024 * 1024)

	g.GET("/.well-known/webfinger", s.handleWebfinger)
	g.GET("/.well-known/nodeinfo", s.handleWellKnownNodeInfo)
	g.GET("/nodeinfo/2.1", s.handleNodeInfo21)

	g.GET("/user/:id", s.handleActor)
	g.GET("/note/:id", s.handleNote)
	g.GET("/user/:id/outbox", s.handleOutbox)
	g.GET("/user/:id/followers", s.handleFollowers)
	g.GET("/user/:id/following", s.handleFollowing)
	g.GET("/user/:id/feed.rss", s.handleFeed)

	g.POST("/inbox", rateLimitMiddleware(apLimiter), maxBody, s.handleSharedInbox)
	g.POST("/user/:id/inbox", rateLimitMiddleware(apLimiter), maxBody, s.handlePerUserInbox)

	return g
}

// parseActorID parses the ":id" path param as an opaque id, failing the
// request with 404 (an invalid id can never name an actor) if malformed.
func parseActorID(c *gin.Context) (id.ID, bool) {
	parsed, err := id.Parse(c.Param("id"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return id.ID{}, false
	}
	return parsed, true
}

func (s *Server) handleActor(c *gin.Context) {
	actorID, ok := parseActorID(c)
	if !ok {
		return
	}
	if !wantsActivityJSON(c.GetHeader("Accept")) {
		c.Status(http.StatusNotFound)
		return
	}
	a, err := s.store.ReadActorById(actorID)
	if err != nil || a == nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Header("Content-Type", activityJSONContentType)
	c.JSON(http.StatusOK, activity.FromActor(a))
}

func (s *Server) handleNote(c *gin.Context) {
	noteID, err := id.Parse(c.Param("id"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	if !wantsActivityJSON(c.GetHeader("Accept")) {
		c.Status(http.StatusNotFound)
		return
	}
	n, err := s.store.ReadNoteById(noteID)
	if err != nil || n == nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Header("Content-Type", activityJSONContentType)
	if n.IsDeleted() {
		c.JSON(http.StatusGone, gin.H{
			"@context": activity.ActivityStreamsContext,
			"id":       n.ViewURL,
			"type":     "Tombstone",
		})
		return
	}
	author, err := s.store.ReadActorById(n.AuthorId)
	if err != nil || author == nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	var replyToAuthor *domain.Actor
	if n.ReplyToId != nil {
		if replyTo, err := s.store.ReadNoteById(*n.ReplyToId); err == nil && replyTo != nil {
			replyToAuthor, _ = s.store.ReadActorById(replyTo.AuthorId)
		}
	}
	to, cc := visibility.ToAP(n.Visibility, author, replyToAuthor, mentionURLs(s.store, n.Id))
	obj := activity.FromNote(n, author, to, cc)
	obj.Context = activity.ActivityStreamsContext
	c.JSON(http.StatusOK, obj)
}

func (s *Server) handleSharedInbox(c *gin.Context) {
	s.receiveInbox(c, "")
}

func (s *Server) handlePerUserInbox(c *gin.Context) {
	actorID, ok := parseActorID(c)
	if !ok {
		return
	}
	a, err := s.store.ReadActorById(actorID)
	if err != nil || a == nil {
		c.Status(http.StatusNotFound)
		return
	}
	s.receiveInbox(c, a.Username)
}

// receiveInbox runs internal/inbox.Handler.Receive and maps its result to
// an HTTP status via StatusFor. username is "" for the shared inbox, where
// addressing alone (not the path) determines which local actor the
// activity concerns.
func (s *Server) receiveInbox(c *gin.Context, username string) {
	err := s.inbox.Receive(c.Request.Context(), c.Request, username)
	if err != nil {
		log.Printf("httpapi: inbox receive failed: %v", err)
		c.Status(StatusFor(err))
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleWebfinger(c *gin.Context) {
	resource := c.Query("resource")
	c.Header("Content-Type", "application/jrd+json; charset=utf-8")
	if !strings.HasPrefix(resource, "acct:") {
		c.Status(http.StatusBadRequest)
		return
	}
	handle := strings.TrimPrefix(resource, "acct:")
	parts := strings.SplitN(handle, "@", 2)
	username := parts[0]
	if valid, _ := util.IsValidWebFingerUsername(username); !valid {
		c.Status(http.StatusBadRequest)
		return
	}
	if len(parts) == 2 && !strings.EqualFold(parts[1], s.cfg.Domain()) {
		c.Status(http.StatusNotFound)
		return
	}

	a, err := s.store.ReadActorByUsernameDomain(username, "")
	if err != nil || a == nil {
		c.Status(http.StatusNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subject": fmt.Sprintf("acct:%s@%s", a.Username, s.cfg.Domain()),
		"links": []gin.H{
			{"rel": "self", "type": "application/activity+json", "href": a.ViewURL},
		},
	})
}

func (s *Server) handleWellKnownNodeInfo(c *gin.Context) {
	c.Header("Content-Type", "application/json; charset=utf-8")
	c.JSON(http.StatusOK, gin.H{
		"links": []gin.H{
			{"rel": "http://nodeinfo.diaspora.software/ns/schema/2.1", "href": s.cfg.URL("/nodeinfo/2.1")},
		},
	})
}

