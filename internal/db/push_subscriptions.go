package db

import (
	"fmt"

	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/id"
)

const sqlPushSubscriptionColumns = `id, account_id, endpoint, p256dh_key, auth_key, created_at`

// CreatePushSubscription registers a browser endpoint for accountId. The
// endpoint unique index makes re-subscribing the same browser idempotent
// at the caller's discretion (callers may upsert by deleting first).
func (d *DB) CreatePushSubscription(s *domain.PushSubscription) error {
	q := fmt.Sprintf(`INSERT INTO push_subscriptions (%s) VALUES (%s)`, sqlPushSubscriptionColumns, d.phList(1, 6))
	_, err := d.sql.Exec(q, s.Id.String(), s.AccountId.String(), s.Endpoint, s.P256dhKey, s.AuthKey, s.CreatedAt)
	return wrapUniqueViolation(err)
}

func (d *DB) scanPushSubscription(row interface{ Scan(...interface{}) error }) (*domain.PushSubscription, error) {
	var s domain.PushSubscription
	var idStr, accStr string
	if err := row.Scan(&idStr, &accStr, &s.Endpoint, &s.P256dhKey, &s.AuthKey, &s.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if s.Id, err = id.Parse(idStr); err != nil {
		return nil, err
	}
	if s.AccountId, err = id.Parse(accStr); err != nil {
		return nil, err
	}
	return &s, nil
}

// ReadPushSubscriptionsByAccountId returns every browser endpoint
// registered for accountId, the fan-out set for a single notification push.
func (d *DB) ReadPushSubscriptionsByAccountId(accountId id.ID) ([]domain.PushSubscription, error) {
	q := fmt.Sprintf(`SELECT %s FROM push_subscriptions WHERE account_id=%s`, sqlPushSubscriptionColumns, d.ph(1))
	rows, err := d.sql.Query(q, accountId.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PushSubscription
	for rows.Next() {
		s, err := d.scanPushSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// DeletePushSubscriptionByEndpoint drops a subscription, used both for an
// explicit unsubscribe and for cleanup when the push service reports the
// endpoint gone (410/404).
func (d *DB) DeletePushSubscriptionByEndpoint(endpoint string) error {
	q := fmt.Sprintf(`DELETE FROM push_subscriptions WHERE endpoint=%s`, d.ph(1))
	_, err := d.sql.Exec(q, endpoint)
	return err
}
