package httpapi

import (
	"fmt"
	"net/http"

	"github.com/deemkeen/stegodon-federate/internal/util"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"
)

// handleFeed serves a local actor's public, top-level notes as an RSS feed,
// grounded on gnp-x-stegodon/web/rss.go's GetRSS. Unlike the outbox (C13),
// this is plain syndication: no ActivityPub envelope, no pagination, replies
// excluded, capped at the most recent feedItemLimit notes.
const feedItemLimit = 20

func (s *Server) handleFeed(c *gin.Context) {
	actorID, ok := parseActorID(c)
	if !ok {
		return
	}
	author, err := s.store.ReadActorById(actorID)
	if err != nil || author == nil || !author.IsLocal() {
		c.Status(http.StatusNotFound)
		return
	}

	notes, err := s.store.ReadPublicNotesByAuthor(actorID, feedItemLimit)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s's notes", author.Handle()),
		Link:        &feeds.Link{Href: author.ViewURL},
		Description: fmt.Sprintf("Public posts from %s@%s", author.Username, s.cfg.Domain()),
		Author:      &feeds.Author{Name: author.Username},
	}

	items := make([]*feeds.Item, 0, len(notes))
	for i := range notes {
		n := &notes[i]
		content := ""
		if n.Content != nil {
			content = util.MarkdownLinksToHTML(*n.Content)
		}
		items = append(items, &feeds.Item{
			Id:      n.Id.String(),
			Title:   n.CreatedAt.Format("2006-01-02 15:04"),
			Link:    &feeds.Link{Href: noteCanonicalURL(n)},
			Content: content,
			Author:  &feeds.Author{Name: author.Username},
			Created: n.CreatedAt,
		})
	}
	feed.Items = items

	rss, err := feed.ToRss()
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", []byte(rss))
}
