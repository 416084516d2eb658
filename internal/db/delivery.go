package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/id"
)

const sqlDeliveryColumns = `id, account_id, inbox_uri, activity_json, status, attempts, next_retry_at, created_at`

// EnqueueDelivery writes one write-ahead outbox row as a standalone insert
// on the connection pool; it does not join any transaction. Writes that
// must commit together with their triggering mutation go through
// internal/store's ...WithDelivery methods instead. Rows are published to
// the broker later by internal/deliver's sweep.
func (d *DB) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	q := fmt.Sprintf(`INSERT INTO delivery_queue (%s) VALUES (%s)`, sqlDeliveryColumns, d.phList(1, 8))
	_, err := d.sql.Exec(q, item.Id.String(), nullableID(item.AccountId), item.InboxURI, item.ActivityJSON,
		string(item.Status), item.Attempts, item.NextRetryAt, item.CreatedAt)
	return err
}

func (d *DB) scanDelivery(row interface{ Scan(...interface{}) error }) (*domain.DeliveryQueueItem, error) {
	var item domain.DeliveryQueueItem
	var idStr, status string
	var accountStr sql.NullString
	if err := row.Scan(&idStr, &accountStr, &item.InboxURI, &item.ActivityJSON, &status,
		&item.Attempts, &item.NextRetryAt, &item.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if item.Id, err = id.Parse(idStr); err != nil {
		return nil, err
	}
	item.Status = domain.DeliveryStatus(status)
	if accountStr.Valid {
		aid, err := id.Parse(accountStr.String)
		if err == nil {
			item.AccountId = &aid
		}
	}
	return &item, nil
}

// ReadPendingDeliveries returns up to limit deliveries whose next_retry_at
// has passed, for the sweep that republishes anything the broker publish
// step failed to hand off (process crash between commit and publish).
func (d *DB) ReadPendingDeliveries(limit int) ([]domain.DeliveryQueueItem, error) {
	q := fmt.Sprintf(`SELECT %s FROM delivery_queue WHERE status=%s AND next_retry_at <= %s
		ORDER BY next_retry_at ASC LIMIT %s`, sqlDeliveryColumns, d.ph(1), d.ph(2), d.ph(3))
	rows, err := d.sql.Query(q, string(domain.DeliveryPending), time.Now(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DeliveryQueueItem
	for rows.Next() {
		item, err := d.scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// UpdateDeliveryAttempt bumps a delivery's attempt counter and schedules the
// next retry per the 2^k+4 backoff (computed by the caller).
func (d *DB) UpdateDeliveryAttempt(deliveryId id.ID, attempts int, nextRetry time.Time) error {
	q := fmt.Sprintf(`UPDATE delivery_queue SET attempts=%s, next_retry_at=%s WHERE id=%s`, d.ph(1), d.ph(2), d.ph(3))
	_, err := d.sql.Exec(q, attempts, nextRetry, deliveryId.String())
	return err
}

// MarkDeliveryStatus flips a delivery row to delivered or dead, terminal
// states the sweep no longer selects.
func (d *DB) MarkDeliveryStatus(deliveryId id.ID, status domain.DeliveryStatus) error {
	q := fmt.Sprintf(`UPDATE delivery_queue SET status=%s WHERE id=%s`, d.ph(1), d.ph(2))
	_, err := d.sql.Exec(q, string(status), deliveryId.String())
	return err
}

// DeleteDelivery removes a delivery row outright (used by periodic cleanup
// of terminal rows past a retention window).
func (d *DB) DeleteDelivery(deliveryId id.ID) error {
	q := fmt.Sprintf(`DELETE FROM delivery_queue WHERE id=%s`, d.ph(1))
	_, err := d.sql.Exec(q, deliveryId.String())
	return err
}
