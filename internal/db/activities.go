package db

import (
	"database/sql"
	"fmt"

	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/id"
)

const sqlActivityColumns = `id, activity_uri, activity_type, actor_uri, object_uri, raw_json,
	processed, local, from_relay, created_at`

// CreateActivity inserts the dedup/log row for an activity. The unique
// index on activity_uri is the idempotence guard C9/C11 rely on: a
// duplicate delivery of the same activity_uri fails here and the caller
// treats that as "already processed" rather than an error.
func (d *DB) CreateActivity(a *domain.Activity) error {
	q := fmt.Sprintf(`INSERT INTO activities (%s) VALUES (%s)`, sqlActivityColumns, d.phList(1, 10))
	_, err := d.sql.Exec(q, a.Id.String(), a.ActivityURI, a.ActivityType, a.ActorURI, a.ObjectURI,
		a.RawJSON, a.Processed, a.Local, a.FromRelay, a.CreatedAt)
	return wrapUniqueViolation(err)
}

func (d *DB) scanActivity(row interface{ Scan(...interface{}) error }) (*domain.Activity, error) {
	var a domain.Activity
	var idStr string
	var objectURI sql.NullString
	if err := row.Scan(&idStr, &a.ActivityURI, &a.ActivityType, &a.ActorURI, &objectURI, &a.RawJSON,
		&a.Processed, &a.Local, &a.FromRelay, &a.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if a.Id, err = id.Parse(idStr); err != nil {
		return nil, err
	}
	a.ObjectURI = objectURI.String
	return &a, nil
}

// ReadActivityByURI looks up a logged activity by its AP id.
func (d *DB) ReadActivityByURI(uri string) (*domain.Activity, error) {
	q := fmt.Sprintf(`SELECT %s FROM activities WHERE activity_uri=%s`, sqlActivityColumns, d.ph(1))
	return d.scanActivity(d.sql.QueryRow(q, uri))
}

// ReadActivityByObjectURI looks up the Create activity that introduced a
// given object (used by inbound Delete handling to check who created the
// object being deleted).
func (d *DB) ReadActivityByObjectURI(objectURI string) (*domain.Activity, error) {
	q := fmt.Sprintf(`SELECT %s FROM activities WHERE object_uri=%s AND activity_type=%s ORDER BY created_at DESC LIMIT 1`, sqlActivityColumns, d.ph(1), d.ph(2))
	return d.scanActivity(d.sql.QueryRow(q, objectURI, "Create"))
}

// MarkActivityProcessed flips the dedup row's processed flag once handling
// completes successfully.
func (d *DB) MarkActivityProcessed(activityURI string) error {
	q := fmt.Sprintf(`UPDATE activities SET processed=%s WHERE activity_uri=%s`, d.ph(1), d.ph(2))
	_, err := d.sql.Exec(q, true, activityURI)
	return err
}
