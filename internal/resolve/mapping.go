package resolve

import (
	"fmt"
	"strings"

	"github.com/deemkeen/stegodon-federate/internal/domain"
)

// mapToActor maps a raw AP Person/Service/Application object to a
// domain.Actor, grounded on klppl-klistr/internal/ap/client.go's
// mapToActor (same field extraction, retargeted at domain.Actor).
func mapToActor(obj map[string]interface{}) (*domain.Actor, error) {
	actorID, _ := obj["id"].(string)
	if actorID == "" {
		return nil, fmt.Errorf("resolve: actor object has no id")
	}
	preferredUsername, _ := obj["preferredUsername"].(string)
	if preferredUsername == "" {
		return nil, fmt.Errorf("resolve: actor %s has no preferredUsername", actorID)
	}

	a := &domain.Actor{
		Username: preferredUsername,
		Domain:   hostOf(actorID),
		ViewURL:  actorID,
	}
	if name, ok := obj["name"].(string); ok {
		a.Nickname = name
	}
	if summary, ok := obj["summary"].(string); ok {
		a.Bio = summary
	}
	if inbox, ok := obj["inbox"].(string); ok {
		a.InboxURI = inbox
	}
	if outbox, ok := obj["outbox"].(string); ok {
		a.OutboxURI = outbox
	}
	if followers, ok := obj["followers"].(string); ok {
		a.FollowersURI = followers
	}
	if following, ok := obj["following"].(string); ok {
		a.FollowingURI = following
	}
	if endpoints, ok := obj["endpoints"].(map[string]interface{}); ok {
		if shared, ok := endpoints["sharedInbox"].(string); ok {
			a.SharedInboxURI = shared
		}
	}
	if pk, ok := obj["publicKey"].(map[string]interface{}); ok {
		if pem, ok := pk["publicKeyPem"].(string); ok {
			a.PublicKeyPem = pem
		}
	}
	if a.PublicKeyPem == "" {
		return nil, fmt.Errorf("resolve: actor %s has no publicKey.publicKeyPem", actorID)
	}
	if typ, ok := obj["type"].(string); ok {
		a.IsBot = typ == "Service" || typ == "Application"
	}
	a.AutoFollowAccept = true // conservative default for never-seen-before remote actors

	return a, nil
}

// mapToNote maps a raw AP Note/Article object to a domain.Note. Visibility
// is derived from the to/cc addressing per spec.md §4.7's AP mapping table.
func mapToNote(obj map[string]interface{}) (*domain.Note, error) {
	objID, _ := obj["id"].(string)
	if objID == "" {
		return nil, fmt.Errorf("resolve: note object has no id")
	}
	attributedTo, _ := obj["attributedTo"].(string)
	if attributedTo == "" {
		return nil, fmt.Errorf("resolve: note %s has no attributedTo", objID)
	}

	content, _ := obj["content"].(string)
	n := &domain.Note{
		Content:     &content,
		ContentType: domain.ContentHTML,
		URL:         objID,
		Visibility:  visibilityFromAddressing(obj),
	}
	if sensitive, ok := obj["sensitive"].(bool); ok {
		n.Sensitive = sensitive
	}
	return n, nil
}

const publicAddress = "https://www.w3.org/ns/activitystreams#Public"

func visibilityFromAddressing(obj map[string]interface{}) domain.Visibility {
	to := stringSlice(obj["to"])
	cc := stringSlice(obj["cc"])

	for _, v := range to {
		if v == publicAddress {
			return domain.Public
		}
	}
	for _, v := range cc {
		if v == publicAddress {
			return domain.Unlisted
		}
	}
	if len(to) > 0 {
		return domain.Follower
	}
	return domain.Private
}

func stringSlice(v interface{}) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hostOf(rawURL string) string {
	rawURL = strings.TrimPrefix(rawURL, "https://")
	rawURL = strings.TrimPrefix(rawURL, "http://")
	if idx := strings.IndexByte(rawURL, '/'); idx != -1 {
		return rawURL[:idx]
	}
	return rawURL
}
