package activity

import "github.com/deemkeen/stegodon-federate/internal/domain"

// PublicKey is the embedded key block every actor document carries, per the
// security-v1 context.
type PublicKey struct {
	Id           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// Endpoints holds the shared-inbox pointer, the one endpoint this server
// publishes.
type Endpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

// Actor is the AP Person/Service document served from a /user/{id} GET,
// grounded on gnp-x-stegodon/web/actor.go's GetActor field set, upgraded
// from its hand-built format string to a typed, round-trip-safe struct.
type Actor struct {
	Context                   interface{} `json:"@context"`
	Id                        string      `json:"id"`
	Type                      string      `json:"type"`
	PreferredUsername         string      `json:"preferredUsername"`
	Name                      string      `json:"name,omitempty"`
	Summary                   string      `json:"summary,omitempty"`
	Inbox                     string      `json:"inbox"`
	Outbox                    string      `json:"outbox"`
	Followers                 string      `json:"followers"`
	Following                 string      `json:"following"`
	URL                       string      `json:"url,omitempty"`
	ManuallyApprovesFollowers bool        `json:"manuallyApprovesFollowers"`
	Endpoints                 Endpoints   `json:"endpoints"`
	PublicKey                 PublicKey   `json:"publicKey"`
}

// FromActor builds the wire Actor document for a, per spec.md §6's
// requirement that id/inbox/outbox/followers/following/publicKey.id/
// publicKey.owner are absolute URLs — all of which are stored verbatim on
// domain.Actor rather than derived here, since a remote actor's endpoints
// don't follow this server's own URL scheme.
func FromActor(a *domain.Actor) *Actor {
	actorType := "Person"
	if a.IsBot {
		actorType = "Service"
	}
	return &Actor{
		Context:                   ActivityStreamsContext,
		Id:                        a.ViewURL,
		Type:                      actorType,
		PreferredUsername:         a.Username,
		Name:                      a.Nickname,
		Summary:                   a.Bio,
		Inbox:                     a.InboxURI,
		Outbox:                    a.OutboxURI,
		Followers:                 a.FollowersURI,
		Following:                 a.FollowingURI,
		URL:                       a.ViewURL,
		ManuallyApprovesFollowers: !a.AutoFollowAccept,
		Endpoints:                 Endpoints{SharedInbox: a.SharedInboxURI},
		PublicKey: PublicKey{
			Id:           a.ViewURL + "#main-key",
			Owner:        a.ViewURL,
			PublicKeyPem: a.PublicKeyPem,
		},
	}
}
