package db

import (
	"fmt"

	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/id"
)

// CreateLike inserts a like/favorite edge; the (account_id, note_id) unique
// index makes a duplicate Like idempotent at the storage layer.
func (d *DB) CreateLike(l *domain.Like) error {
	q := fmt.Sprintf(`INSERT INTO likes (id, account_id, note_id, uri, is_private, created_at) VALUES (%s)`, d.phList(1, 6))
	_, err := d.sql.Exec(q, l.Id.String(), l.AccountId.String(), l.NoteId.String(), l.URI, l.IsPrivate, l.CreatedAt)
	return wrapUniqueViolation(err)
}

// DeleteLikeByURI removes a like by its AP activity URI (Undo Like).
func (d *DB) DeleteLikeByURI(uri string) error {
	q := fmt.Sprintf(`DELETE FROM likes WHERE uri=%s`, d.ph(1))
	_, err := d.sql.Exec(q, uri)
	return err
}

// ReadLikeByAccountAndNote reports whether accountId already liked noteId.
func (d *DB) ReadLikeByAccountAndNote(accountId, noteId id.ID) (*domain.Like, error) {
	q := fmt.Sprintf(`SELECT id, account_id, note_id, uri, is_private, created_at FROM likes WHERE account_id=%s AND note_id=%s`, d.ph(1), d.ph(2))
	row := d.sql.QueryRow(q, accountId.String(), noteId.String())
	var l domain.Like
	var idStr, accStr, noteStr string
	if err := row.Scan(&idStr, &accStr, &noteStr, &l.URI, &l.IsPrivate, &l.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if l.Id, err = id.Parse(idStr); err != nil {
		return nil, err
	}
	if l.AccountId, err = id.Parse(accStr); err != nil {
		return nil, err
	}
	if l.NoteId, err = id.Parse(noteStr); err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateBoost inserts a boost/announce edge.
func (d *DB) CreateBoost(b *domain.Boost) error {
	q := fmt.Sprintf(`INSERT INTO boosts (id, account_id, note_id, uri, created_at) VALUES (%s)`, d.phList(1, 5))
	_, err := d.sql.Exec(q, b.Id.String(), b.AccountId.String(), b.NoteId.String(), b.URI, b.CreatedAt)
	return wrapUniqueViolation(err)
}

// DeleteBoostByURI removes a boost by its AP activity URI (Undo Announce).
func (d *DB) DeleteBoostByURI(uri string) error {
	q := fmt.Sprintf(`DELETE FROM boosts WHERE uri=%s`, d.ph(1))
	_, err := d.sql.Exec(q, uri)
	return err
}
