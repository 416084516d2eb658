// Package domain holds the entities of the data model (spec §3): Actor,
// Note, Follow, Like, Boost, Activity, Notification, and the supporting join
// tables. These are plain structs with no storage or AP-wire behavior of
// their own; internal/store persists them and internal/activity serializes
// them.
package domain

import (
	"time"

	"github.com/deemkeen/stegodon-federate/internal/id"
)

// Actor unifies local and remote accounts under one struct, with Domain=""
// denoting "local" per spec.md's actor invariants.
type Actor struct {
	Id                id.ID
	Username          string
	Domain            string // "" for local actors
	Nickname          string
	Bio               string
	PublicKeyPem      string
	PrivateKeyPem     string // local only, empty for remote
	InboxURI          string
	SharedInboxURI    string
	OutboxURI         string
	FollowersURI      string
	FollowingURI      string
	ViewURL           string
	AutoFollowAccept  bool
	IsBot             bool
	FetchedAt         *time.Time
	CreatedAt         time.Time
}

// IsLocal reports whether this actor is hosted on this server.
func (a *Actor) IsLocal() bool {
	return a.Domain == ""
}

// PreferredInbox returns the shared inbox when present, else the actor's own
// inbox, per the fan-out rule in spec.md §4.7.
func (a *Actor) PreferredInbox() string {
	if a.SharedInboxURI != "" {
		return a.SharedInboxURI
	}
	return a.InboxURI
}

// Handle formats the actor as @user or @user@domain.
func (a *Actor) Handle() string {
	if a.Domain == "" {
		return "@" + a.Username
	}
	return "@" + a.Username + "@" + a.Domain
}

// RemoteKey is a cached remote actor public key row (remote_keys). An actor
// refresh in internal/resolve does not delete or reinsert these rows; the
// refreshed key lives on the Actor's PublicKeyPem.
type RemoteKey struct {
	KeyIDURL     string
	OwnerID      id.ID
	PublicKeyPem string
}
