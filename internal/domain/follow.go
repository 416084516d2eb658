package domain

import (
	"time"

	"github.com/deemkeen/stegodon-federate/internal/id"
)

// Follow is a directed edge between two actors (local or remote), unique on
// (AccountId, TargetAccountId) per spec.md §3.
type Follow struct {
	Id              id.ID
	AccountId       id.UserID // the follower
	TargetAccountId id.UserID // the followee
	URI             string    // AP Follow activity URI; empty for local-only follows
	CreatedAt       time.Time
	Pending         bool
	IsLocal         bool
}

type Like struct {
	Id        id.ID
	AccountId id.UserID
	NoteId    id.NoteID
	URI       string
	IsPrivate bool // bookmark: never federated, never counted publicly
	CreatedAt time.Time
}

type Boost struct {
	Id        id.ID
	AccountId id.UserID
	NoteId    id.NoteID
	URI       string
	CreatedAt time.Time
}

// Activity is a logged/deduplicated record of an inbound or outbound AP
// activity, keyed by its AP id for idempotence.
type Activity struct {
	Id           id.ID
	ActivityURI  string
	ActivityType string
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	Processed    bool
	CreatedAt    time.Time
	Local        bool
	FromRelay    bool
	LikeCount    int
	BoostCount   int
}

// DeliveryQueueItem is the write-ahead outbox row backing C10's broker
// relay: written in the same transaction as the triggering mutation, and
// only deleted once the broker has accepted (and a remote 2xx confirms) the
// delivery. See DESIGN.md "Reliable outbox vs broker publish".
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryDead      DeliveryStatus = "dead"
)

type DeliveryQueueItem struct {
	Id           id.ID
	AccountId    *id.UserID // sender, for account-scoped cleanup
	InboxURI     string
	ActivityJSON string
	Status       DeliveryStatus
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}

type RelayStatus string

const (
	RelayPending RelayStatus = "pending"
	RelayActive  RelayStatus = "active"
	RelayFailed  RelayStatus = "failed"
)

type Relay struct {
	Id         id.ID
	ActorURI   string
	InboxURI   string
	FollowURI  string
	Name       string
	Status     RelayStatus
	Paused     bool
	CreatedAt  time.Time
	AcceptedAt *time.Time
}
