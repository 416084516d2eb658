package db

import (
	"database/sql"
	"fmt"

	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/id"
)

const sqlRelayColumns = `id, actor_uri, inbox_uri, follow_uri, name, status, paused, created_at, accepted_at`

// CreateRelay registers a new relay subscription in pending state.
func (d *DB) CreateRelay(r *domain.Relay) error {
	q := fmt.Sprintf(`INSERT INTO relays (%s) VALUES (%s)`, sqlRelayColumns, d.phList(1, 9))
	_, err := d.sql.Exec(q, r.Id.String(), r.ActorURI, r.InboxURI, r.FollowURI, r.Name,
		string(r.Status), r.Paused, r.CreatedAt, r.AcceptedAt)
	return wrapUniqueViolation(err)
}

func (d *DB) scanRelay(row interface{ Scan(...interface{}) error }) (*domain.Relay, error) {
	var r domain.Relay
	var idStr, status string
	var followURI, name sql.NullString
	var acceptedAt sql.NullTime
	if err := row.Scan(&idStr, &r.ActorURI, &r.InboxURI, &followURI, &name, &status, &r.Paused, &r.CreatedAt, &acceptedAt); err != nil {
		return nil, err
	}
	var err error
	if r.Id, err = id.Parse(idStr); err != nil {
		return nil, err
	}
	r.FollowURI = followURI.String
	r.Name = name.String
	r.Status = domain.RelayStatus(status)
	if acceptedAt.Valid {
		t := acceptedAt.Time
		r.AcceptedAt = &t
	}
	return &r, nil
}

// ReadAllRelays returns every registered relay, for the operator console's
// peer overview and for periodic relay health checks.
func (d *DB) ReadAllRelays() ([]domain.Relay, error) {
	q := fmt.Sprintf(`SELECT %s FROM relays ORDER BY created_at ASC`, sqlRelayColumns)
	rows, err := d.sql.Query(q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Relay
	for rows.Next() {
		r, err := d.scanRelay(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// UpdateRelayStatus flips a relay's status (pending -> active on Accept, or
// -> failed), stamping accepted_at when transitioning to active.
func (d *DB) UpdateRelayStatus(relayId id.ID, status domain.RelayStatus) error {
	var q string
	if status == domain.RelayActive {
		q = fmt.Sprintf(`UPDATE relays SET status=%s, accepted_at=CURRENT_TIMESTAMP WHERE id=%s`, d.ph(1), d.ph(2))
	} else {
		q = fmt.Sprintf(`UPDATE relays SET status=%s WHERE id=%s`, d.ph(1), d.ph(2))
	}
	_, err := d.sql.Exec(q, string(status), relayId.String())
	return err
}

// SetRelayPaused toggles whether a relay's inbound activities are accepted.
func (d *DB) SetRelayPaused(relayId id.ID, paused bool) error {
	q := fmt.Sprintf(`UPDATE relays SET paused=%s WHERE id=%s`, d.ph(1), d.ph(2))
	_, err := d.sql.Exec(q, paused, relayId.String())
	return err
}

// DeleteRelay removes a relay subscription outright (after Undo Follow).
func (d *DB) DeleteRelay(relayId id.ID) error {
	q := fmt.Sprintf(`DELETE FROM relays WHERE id=%s`, d.ph(1))
	_, err := d.sql.Exec(q, relayId.String())
	return err
}
