package db

import (
	"database/sql"
	"fmt"

	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/id"
)

const sqlNotificationColumns = `id, account_id, notification_type, actor_id, actor_username, actor_domain,
	note_id, note_uri, note_preview, read_at, created_at`

// CreateNotification inserts a notification row, meant to be called in the
// same transaction as the mutation that triggers it (spec.md §4.12).
func (d *DB) CreateNotification(n *domain.Notification) error {
	q := fmt.Sprintf(`INSERT INTO notifications (%s) VALUES (%s)`, sqlNotificationColumns, d.phList(1, 11))
	_, err := d.sql.Exec(q, n.Id.String(), n.AccountId.String(), string(n.NotificationType),
		nullableID(&n.ActorId), n.ActorUsername, n.ActorDomain, nullableID(&n.NoteId), n.NoteURI,
		n.NotePreview, n.ReadAt, n.CreatedAt)
	return err
}

func (d *DB) scanNotification(row interface{ Scan(...interface{}) error }) (*domain.Notification, error) {
	var n domain.Notification
	var idStr, accountStr string
	var actorStr, noteStr sql.NullString
	var readAt sql.NullTime
	if err := row.Scan(&idStr, &accountStr, (*string)(&n.NotificationType), &actorStr,
		&n.ActorUsername, &n.ActorDomain, &noteStr, &n.NoteURI, &n.NotePreview, &readAt, &n.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if n.Id, err = id.Parse(idStr); err != nil {
		return nil, err
	}
	if n.AccountId, err = id.Parse(accountStr); err != nil {
		return nil, err
	}
	if actorStr.Valid {
		if aid, err := id.Parse(actorStr.String); err == nil {
			n.ActorId = aid
		}
	}
	if noteStr.Valid {
		if nid, err := id.Parse(noteStr.String); err == nil {
			n.NoteId = nid
		}
	}
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}
	return &n, nil
}

// ReadNotificationsPage returns up to limit notifications for accountId,
// newest first.
func (d *DB) ReadNotificationsPage(accountId id.ID, limit int) ([]domain.Notification, error) {
	q := fmt.Sprintf(`SELECT %s FROM notifications WHERE account_id=%s ORDER BY created_at DESC LIMIT %s`,
		sqlNotificationColumns, d.ph(1), d.ph(2))
	rows, err := d.sql.Query(q, accountId.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n, err := d.scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// CountUnreadNotifications returns the number of unread notifications for
// accountId, the badge count the operator console and C12's unread-count
// operation expose.
func (d *DB) CountUnreadNotifications(accountId id.ID) (int, error) {
	q := fmt.Sprintf(`SELECT COUNT(*) FROM notifications WHERE account_id=%s AND read_at IS NULL`, d.ph(1))
	var count int
	err := d.sql.QueryRow(q, accountId.String()).Scan(&count)
	return count, err
}

// MarkNotificationRead sets read_at on a single notification.
func (d *DB) MarkNotificationRead(notificationId id.ID) error {
	q := fmt.Sprintf(`UPDATE notifications SET read_at=CURRENT_TIMESTAMP WHERE id=%s AND read_at IS NULL`, d.ph(1))
	_, err := d.sql.Exec(q, notificationId.String())
	return err
}

// MarkAllNotificationsRead sets read_at on every unread notification for
// accountId.
func (d *DB) MarkAllNotificationsRead(accountId id.ID) error {
	q := fmt.Sprintf(`UPDATE notifications SET read_at=CURRENT_TIMESTAMP WHERE account_id=%s AND read_at IS NULL`, d.ph(1))
	_, err := d.sql.Exec(q, accountId.String())
	return err
}
