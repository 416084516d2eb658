package domain

import (
	"fmt"
	"time"

	"github.com/deemkeen/stegodon-federate/internal/id"
)

// NotificationType enumerates the notification variants of spec.md §3,
// supplemented with Renoted (the teacher's own enum lacked it).
type NotificationType string

const (
	NotificationFollow         NotificationType = "follow"
	NotificationFollowRequest  NotificationType = "follow_request"
	NotificationLike           NotificationType = "like"
	NotificationReply          NotificationType = "reply"
	NotificationMention        NotificationType = "mention"
	NotificationRenoted        NotificationType = "renote"
)

// Notification is a recipient-scoped event, inserted in the same
// transaction as its triggering mutation (spec.md §4.12).
type Notification struct {
	Id               id.ID
	AccountId        id.UserID // the local user receiving the notification
	NotificationType NotificationType
	ActorId          id.UserID // who triggered it (local or remote)
	ActorUsername    string
	ActorDomain      string
	NoteId           id.NoteID
	NoteURI          string
	NotePreview      string
	ReadAt           *time.Time
	CreatedAt        time.Time
}

// IsRead reports whether the notification has been marked read.
func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}

func (n *Notification) ActorHandle() string {
	if n.ActorDomain == "" {
		return "@" + n.ActorUsername
	}
	return "@" + n.ActorUsername + "@" + n.ActorDomain
}

func (n *Notification) TypeLabel() string {
	switch n.NotificationType {
	case NotificationFollow:
		return "followed you"
	case NotificationFollowRequest:
		return "requested to follow you"
	case NotificationLike:
		return "liked your post"
	case NotificationReply:
		return "replied to your post"
	case NotificationMention:
		return "mentioned you"
	case NotificationRenoted:
		return "renoted your post"
	default:
		return ""
	}
}

func (n *Notification) TypeIcon() string {
	switch n.NotificationType {
	case NotificationFollow, NotificationFollowRequest:
		return "+"
	case NotificationLike:
		return "*"
	case NotificationReply:
		return ">"
	case NotificationMention:
		return "@"
	case NotificationRenoted:
		return "~"
	default:
		return "-"
	}
}

func (n *Notification) Summary() string {
	return fmt.Sprintf("%s %s %s", n.TypeIcon(), n.ActorHandle(), n.TypeLabel())
}
