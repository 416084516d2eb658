// Package visibility implements C7: mapping between the internal
// Visibility enum and AP to/cc addressing, the CanView authorization check,
// and fan-out of a local actor's followers into deduplicated inbox URLs.
// Grounded on klppl-klistr/internal/ap/federation.go's collectRecipients/
// resolveInboxes (follower-collection expansion, shared-inbox
// dedup-by-origin) retargeted at domain.Actor/domain.Follow instead of raw
// AP JSON maps.
package visibility

import (
	"net/url"

	"github.com/deemkeen/stegodon-federate/internal/domain"
)

// PublicAddress is the ActivityStreams "everyone" sentinel.
const PublicAddress = "https://www.w3.org/ns/activitystreams#Public"

// ToAP returns the (to, cc) addressing lists for a note authored by author
// with the given visibility, per spec.md §4.7's mapping table. mentions is
// the set of mentioned actors' AP ids (M_urls in that table's notation),
// unioned into to alongside the reply-to author.
func ToAP(v domain.Visibility, author *domain.Actor, replyToAuthor *domain.Actor, mentions []string) (to, cc []string) {
	followers := author.FollowersURI

	switch v {
	case domain.Public:
		to = []string{PublicAddress}
		if followers != "" {
			cc = append(cc, followers)
		}
	case domain.Unlisted:
		cc = []string{PublicAddress}
		if followers != "" {
			to = append(to, followers)
		}
	case domain.Follower:
		if followers != "" {
			to = []string{followers}
		}
	case domain.Private:
		// addressed directly below, no followers collection
	}

	if replyToAuthor != nil {
		addIfMissing(&to, replyToAuthor.ViewURL)
	}
	for _, m := range mentions {
		addIfMissing(&to, m)
	}
	return to, cc
}

// FromAP infers a Visibility from an inbound activity's to/cc addressing,
// given the actor's own followers collection URL (empty if unknown).
func FromAP(to, cc []string, followersURI string) domain.Visibility {
	if contains(to, PublicAddress) {
		return domain.Public
	}
	if contains(cc, PublicAddress) {
		return domain.Unlisted
	}
	if followersURI != "" && (contains(to, followersURI) || contains(cc, followersURI)) {
		return domain.Follower
	}
	if len(to) == 0 && len(cc) == 0 {
		return domain.Private
	}
	return domain.Follower
}

// CanView reports whether viewer (nil for an anonymous/unauthenticated
// request) may see a note with the given visibility, authored by author,
// given whether viewer currently follows author (accepted, non-pending).
func CanView(v domain.Visibility, author *domain.Actor, viewer *domain.Actor, viewerFollowsAuthor bool) bool {
	switch v {
	case domain.Public, domain.Unlisted:
		return true
	case domain.Follower:
		if viewer == nil {
			return false
		}
		return viewer.Id == author.Id || viewerFollowsAuthor
	case domain.Private:
		return viewer != nil && viewer.Id == author.Id
	default:
		return false
	}
}

// FanOutInboxes expands a local actor's follower set into a deduplicated
// set of inbox URLs, preferring each remote origin's shared inbox exactly
// once so a multi-follower origin receives one delivery, not one per
// follower.
func FanOutInboxes(followers []domain.Actor, extraDirect []*domain.Actor) []string {
	seenOrigin := make(map[string]bool)
	seenInbox := make(map[string]bool)
	var out []string

	add := func(a *domain.Actor) {
		if a.IsLocal() {
			return
		}
		inbox := a.PreferredInbox()
		if inbox == "" {
			return
		}
		if a.SharedInboxURI != "" {
			origin := originOf(a.SharedInboxURI)
			if seenOrigin[origin] {
				return
			}
			seenOrigin[origin] = true
		}
		if !seenInbox[inbox] {
			seenInbox[inbox] = true
			out = append(out, inbox)
		}
	}

	for i := range followers {
		add(&followers[i])
	}
	for _, a := range extraDirect {
		add(a)
	}
	return out
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func addIfMissing(list *[]string, v string) {
	if v == "" || contains(*list, v) {
		return
	}
	*list = append(*list, v)
}
