package db

import (
	"database/sql"
	"fmt"

	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/id"
)

const sqlFollowColumns = `id, account_id, target_account_id, uri, created_at, pending, is_local`

// CreateFollow inserts a new follow edge in Pending state (or Accepted, for
// auto-accept). The (account_id, target_account_id) unique index makes this
// the idempotent "duplicate Follow" guard for C8.
func (d *DB) CreateFollow(f *domain.Follow) error {
	q := fmt.Sprintf(`INSERT INTO follows (%s) VALUES (%s)`, sqlFollowColumns, d.phList(1, 7))
	_, err := d.sql.Exec(q, f.Id.String(), f.AccountId.String(), f.TargetAccountId.String(), f.URI, f.CreatedAt, f.Pending, f.IsLocal)
	return wrapUniqueViolation(err)
}

func (d *DB) scanFollow(row interface{ Scan(...interface{}) error }) (*domain.Follow, error) {
	var f domain.Follow
	var idStr, accStr, targetStr string
	if err := row.Scan(&idStr, &accStr, &targetStr, &f.URI, &f.CreatedAt, &f.Pending, &f.IsLocal); err != nil {
		return nil, err
	}
	var err error
	if f.Id, err = id.Parse(idStr); err != nil {
		return nil, err
	}
	if f.AccountId, err = id.Parse(accStr); err != nil {
		return nil, err
	}
	if f.TargetAccountId, err = id.Parse(targetStr); err != nil {
		return nil, err
	}
	return &f, nil
}

// ReadFollowByURI looks up a follow by its AP activity URI, used to resolve
// incoming Accept/Reject/Undo activities back to the edge they target.
func (d *DB) ReadFollowByURI(uri string) (*domain.Follow, error) {
	q := fmt.Sprintf(`SELECT %s FROM follows WHERE uri=%s`, sqlFollowColumns, d.ph(1))
	return d.scanFollow(d.sql.QueryRow(q, uri))
}

// ReadFollowByAccountIds looks up the edge between two actors, if any.
func (d *DB) ReadFollowByAccountIds(accountId, targetId id.ID) (*domain.Follow, error) {
	q := fmt.Sprintf(`SELECT %s FROM follows WHERE account_id=%s AND target_account_id=%s`, sqlFollowColumns, d.ph(1), d.ph(2))
	return d.scanFollow(d.sql.QueryRow(q, accountId.String(), targetId.String()))
}

// ReadFollowersByAccountId returns every (accepted or pending) follow edge
// targeting accountId, for followers-collection rendering and inbox fan-out.
func (d *DB) ReadFollowersByAccountId(accountId id.ID) ([]domain.Follow, error) {
	q := fmt.Sprintf(`SELECT %s FROM follows WHERE target_account_id=%s ORDER BY created_at ASC`, sqlFollowColumns, d.ph(1))
	return d.queryFollows(q, accountId.String())
}

// ReadAcceptedFollowersByAccountId returns only non-pending follow edges
// targeting accountId, the set used for visibility fan-out (C7).
func (d *DB) ReadAcceptedFollowersByAccountId(accountId id.ID) ([]domain.Follow, error) {
	q := fmt.Sprintf(`SELECT %s FROM follows WHERE target_account_id=%s AND pending=%s ORDER BY created_at ASC`, sqlFollowColumns, d.ph(1), d.ph(2))
	return d.queryFollows(q, accountId.String(), false)
}

// ReadFollowingByAccountId returns every follow edge originating from
// accountId.
func (d *DB) ReadFollowingByAccountId(accountId id.ID) ([]domain.Follow, error) {
	q := fmt.Sprintf(`SELECT %s FROM follows WHERE account_id=%s ORDER BY created_at ASC`, sqlFollowColumns, d.ph(1))
	return d.queryFollows(q, accountId.String())
}

// sqlJoinedActorColumns is sqlActorColumns qualified for a query that joins
// actors against another table under alias "a".
const sqlJoinedActorColumns = `a.id, a.username, a.domain, a.nickname, a.bio, a.public_key_pem, a.private_key_pem,
	a.inbox_uri, a.shared_inbox_uri, a.outbox_uri, a.followers_uri, a.following_uri, a.view_url,
	a.auto_follow_accept, a.is_bot, a.fetched_at, a.created_at`

// ReadAcceptedFollowerActors returns the actor rows of every accepted
// follower of accountId, for C7's fan-out of a local author's followers
// into their home servers' inboxes.
func (d *DB) ReadAcceptedFollowerActors(accountId id.ID) ([]domain.Actor, error) {
	q := fmt.Sprintf(`SELECT %s FROM actors a JOIN follows f ON f.account_id = a.id
		WHERE f.target_account_id=%s AND f.pending=%s ORDER BY f.created_at ASC`,
		sqlJoinedActorColumns, d.ph(1), d.ph(2))
	rows, err := d.sql.Query(q, accountId.String(), false)
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

// CountFollowers returns the number of accepted follow edges targeting
// accountId, for the followers collection's totalItems.
func (d *DB) CountFollowers(accountId id.ID) (int, error) {
	return d.countFollows("target_account_id", accountId)
}

// CountFollowing mirrors CountFollowers for the following collection.
func (d *DB) CountFollowing(accountId id.ID) (int, error) {
	return d.countFollows("account_id", accountId)
}

func (d *DB) countFollows(column string, accountId id.ID) (int, error) {
	q := fmt.Sprintf(`SELECT COUNT(*) FROM follows WHERE %s=%s AND pending=%s`, column, d.ph(1), d.ph(2))
	var n int
	err := d.sql.QueryRow(q, accountId.String(), false).Scan(&n)
	return n, err
}

// ReadFollowersPage returns at most limit accepted follow edges targeting
// accountId with created_at < beforeCreatedAt (or all, if nil), newest
// first, for the followers collection's C13-style pagination.
func (d *DB) ReadFollowersPage(accountId id.ID, beforeCreatedAt *string, limit int) ([]domain.Follow, error) {
	return d.readFollowsPage("target_account_id", accountId, beforeCreatedAt, limit)
}

// ReadFollowingPage mirrors ReadFollowersPage for the following collection.
func (d *DB) ReadFollowingPage(accountId id.ID, beforeCreatedAt *string, limit int) ([]domain.Follow, error) {
	return d.readFollowsPage("account_id", accountId, beforeCreatedAt, limit)
}

func (d *DB) readFollowsPage(column string, accountId id.ID, beforeCreatedAt *string, limit int) ([]domain.Follow, error) {
	var q string
	var args []interface{}
	if beforeCreatedAt != nil {
		q = fmt.Sprintf(`SELECT %s FROM follows WHERE %s=%s AND pending=%s AND created_at < %s
			ORDER BY created_at DESC LIMIT %s`, sqlFollowColumns, column, d.ph(1), d.ph(2), d.ph(3), d.ph(4))
		args = []interface{}{accountId.String(), false, *beforeCreatedAt, limit}
	} else {
		q = fmt.Sprintf(`SELECT %s FROM follows WHERE %s=%s AND pending=%s
			ORDER BY created_at DESC LIMIT %s`, sqlFollowColumns, column, d.ph(1), d.ph(2), d.ph(3))
		args = []interface{}{accountId.String(), false, limit}
	}
	return d.queryFollows(q, args...)
}

func (d *DB) queryFollows(q string, args ...interface{}) ([]domain.Follow, error) {
	rows, err := d.sql.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Follow
	for rows.Next() {
		f, err := d.scanFollow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// AcceptFollowByURI flips a pending follow to accepted.
func (d *DB) AcceptFollowByURI(uri string) error {
	q := fmt.Sprintf(`UPDATE follows SET pending=%s WHERE uri=%s`, d.ph(1), d.ph(2))
	res, err := d.sql.Exec(q, false, uri)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

// DeleteFollowByURI removes a follow edge by its AP activity URI (Undo
// Follow, or Reject).
func (d *DB) DeleteFollowByURI(uri string) error {
	q := fmt.Sprintf(`DELETE FROM follows WHERE uri=%s`, d.ph(1))
	_, err := d.sql.Exec(q, uri)
	return err
}

// DeleteFollowByAccountIds removes the edge between two actors directly,
// used for local unfollow (no remote Undo round trip needed first).
func (d *DB) DeleteFollowByAccountIds(accountId, targetId id.ID) error {
	q := fmt.Sprintf(`DELETE FROM follows WHERE account_id=%s AND target_account_id=%s`, d.ph(1), d.ph(2))
	_, err := d.sql.Exec(q, accountId.String(), targetId.String())
	return err
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
