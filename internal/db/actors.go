package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/id"
)

const sqlActorColumns = `id, username, domain, nickname, bio, public_key_pem, private_key_pem,
	inbox_uri, shared_inbox_uri, outbox_uri, followers_uri, following_uri, view_url,
	auto_follow_accept, is_bot, fetched_at, created_at`

// CreateActor inserts a new local or remote actor row.
func (d *DB) CreateActor(a *domain.Actor) error {
	q := fmt.Sprintf(`INSERT INTO actors (%s) VALUES (%s)`, sqlActorColumns, d.phList(1, 17))
	_, err := d.sql.Exec(q,
		a.Id.String(), a.Username, a.Domain, a.Nickname, a.Bio, a.PublicKeyPem, a.PrivateKeyPem,
		a.InboxURI, a.SharedInboxURI, a.OutboxURI, a.FollowersURI, a.FollowingURI, a.ViewURL,
		a.AutoFollowAccept, a.IsBot, a.FetchedAt, a.CreatedAt)
	return wrapUniqueViolation(err)
}

// UpsertRemoteActor inserts a freshly-fetched remote actor, or refreshes an
// existing row's cached fields on conflict (username, domain). Grounded on
// C6's "race-tolerant upsert" requirement: two goroutines resolving the same
// actor_uri concurrently must not both succeed with divergent ids.
func (d *DB) UpsertRemoteActor(a *domain.Actor) error {
	existing, err := d.ReadActorByUsernameDomain(a.Username, a.Domain)
	if err == nil && existing != nil {
		a.Id = existing.Id
		return d.UpdateActorCache(a)
	}
	if err := d.CreateActor(a); err != nil {
		if err == ErrUniqueViolation {
			existing, rerr := d.ReadActorByUsernameDomain(a.Username, a.Domain)
			if rerr != nil {
				return rerr
			}
			a.Id = existing.Id
			return d.UpdateActorCache(a)
		}
		return err
	}
	return nil
}

// UpdateActorCache refreshes the mutable cached-profile fields of a remote
// actor row (the parts that can drift: display fields, endpoints, key,
// fetched_at) without touching its id.
func (d *DB) UpdateActorCache(a *domain.Actor) error {
	q := fmt.Sprintf(`UPDATE actors SET nickname=%s, bio=%s, public_key_pem=%s,
		inbox_uri=%s, shared_inbox_uri=%s, outbox_uri=%s, followers_uri=%s,
		following_uri=%s, view_url=%s, fetched_at=%s WHERE id=%s`,
		d.ph(1), d.ph(2), d.ph(3), d.ph(4), d.ph(5), d.ph(6), d.ph(7), d.ph(8), d.ph(9), d.ph(10), d.ph(11))
	_, err := d.sql.Exec(q, a.Nickname, a.Bio, a.PublicKeyPem, a.InboxURI, a.SharedInboxURI,
		a.OutboxURI, a.FollowersURI, a.FollowingURI, a.ViewURL, a.FetchedAt, a.Id.String())
	return err
}

func (d *DB) scanActor(row interface{ Scan(...interface{}) error }) (*domain.Actor, error) {
	var a domain.Actor
	var idStr string
	var nickname, bio, privKey, sharedInbox, outbox, followers, following, viewURL sql.NullString
	var fetchedAt sql.NullTime
	if err := row.Scan(&idStr, &a.Username, &a.Domain, &nickname, &bio, &a.PublicKeyPem, &privKey,
		&a.InboxURI, &sharedInbox, &outbox, &followers, &following, &viewURL,
		&a.AutoFollowAccept, &a.IsBot, &fetchedAt, &a.CreatedAt); err != nil {
		return nil, err
	}
	parsed, err := id.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("scan actor: bad id %q: %w", idStr, err)
	}
	a.Id = parsed
	a.Nickname = nickname.String
	a.Bio = bio.String
	a.PrivateKeyPem = privKey.String
	a.SharedInboxURI = sharedInbox.String
	a.OutboxURI = outbox.String
	a.FollowersURI = followers.String
	a.FollowingURI = following.String
	a.ViewURL = viewURL.String
	if fetchedAt.Valid {
		t := fetchedAt.Time
		a.FetchedAt = &t
	}
	return &a, nil
}

// ReadActorById returns the actor with the given id, or sql.ErrNoRows.
func (d *DB) ReadActorById(actorId id.ID) (*domain.Actor, error) {
	q := fmt.Sprintf(`SELECT %s FROM actors WHERE id=%s`, sqlActorColumns, d.ph(1))
	row := d.sql.QueryRow(q, actorId.String())
	return d.scanActor(row)
}

// ReadActorByUsernameDomain returns a local actor (domain="") or a cached
// remote actor by its (username, domain) pair.
func (d *DB) ReadActorByUsernameDomain(username, domain string) (*domain.Actor, error) {
	q := fmt.Sprintf(`SELECT %s FROM actors WHERE username=%s AND domain=%s`, sqlActorColumns, d.ph(1), d.ph(2))
	row := d.sql.QueryRow(q, username, domain)
	return d.scanActor(row)
}

// ReadActorByViewURL finds an actor, local or remote, whose view_url
// matches viewURL; inbox and outbox URLs are not searched. internal/resolve
// uses it to find an already-cached actor by its AP id URL.
func (d *DB) ReadActorByViewURL(viewURL string) (*domain.Actor, error) {
	q := fmt.Sprintf(`SELECT %s FROM actors WHERE view_url=%s`, sqlActorColumns, d.ph(1))
	row := d.sql.QueryRow(q, viewURL)
	return d.scanActor(row)
}

// ReadAllLocalActors returns every actor with domain="" (used by the
// delivery sweep to resolve shared-inbox fan-out, and by the operator
// console's peer overview).
func (d *DB) ReadAllLocalActors() ([]domain.Actor, error) {
	q := fmt.Sprintf(`SELECT %s FROM actors WHERE domain=%s ORDER BY created_at ASC`, sqlActorColumns, d.ph(1))
	rows, err := d.sql.Query(q, "")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Actor
	for rows.Next() {
		a, err := d.scanActor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// TouchActorFetchedAt bumps fetched_at to now, recording a fresh
// re-verification of an already-cached remote actor (e.g. key unchanged on
// a signature re-check) without rewriting the rest of the row.
func (d *DB) TouchActorFetchedAt(actorId id.ID, at time.Time) error {
	q := fmt.Sprintf(`UPDATE actors SET fetched_at=%s WHERE id=%s`, d.ph(1), d.ph(2))
	_, err := d.sql.Exec(q, at, actorId.String())
	return err
}
