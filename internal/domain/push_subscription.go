package domain

import (
	"time"

	"github.com/deemkeen/stegodon-federate/internal/id"
)

// PushSubscription is a browser endpoint registered for Web Push delivery
// of a local account's notifications (spec.md §4.12's optional push leg).
type PushSubscription struct {
	Id        id.ID
	AccountId id.UserID
	Endpoint  string
	P256dhKey string
	AuthKey   string
	CreatedAt time.Time
}
