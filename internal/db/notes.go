package db

import (
	"database/sql"
	"fmt"

	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/id"
)

const sqlNoteColumns = `id, author_id, content, content_type, visibility, created_at, updated_at,
	deleted_at, reply_to_id, renote_of_id, sensitive, url, view_url, fetched_at,
	like_count, boost_count, reply_count`

// CreateNote inserts a new local or remote note.
func (d *DB) CreateNote(n *domain.Note) error {
	q := fmt.Sprintf(`INSERT INTO notes (%s) VALUES (%s)`, sqlNoteColumns, d.phList(1, 17))
	_, err := d.sql.Exec(q,
		n.Id.String(), n.AuthorId.String(), n.Content, string(n.ContentType), int(n.Visibility),
		n.CreatedAt, n.UpdatedAt, n.DeletedAt, nullableID(n.ReplyToId), nullableID(n.RenoteOfId),
		n.Sensitive, n.URL, n.ViewURL, n.FetchedAt, n.LikeCount, n.BoostCount, n.ReplyCount)
	return wrapUniqueViolation(err)
}

func nullableID(i *id.ID) interface{} {
	if i == nil {
		return nil
	}
	return i.String()
}

func (d *DB) scanNote(row interface{ Scan(...interface{}) error }) (*domain.Note, error) {
	var n domain.Note
	var idStr, authorStr, contentType string
	var visibility int
	var content, url, viewURL, replyTo, renoteOf sql.NullString
	var updatedAt, deletedAt, fetchedAt sql.NullTime

	if err := row.Scan(&idStr, &authorStr, &content, &contentType, &visibility, &n.CreatedAt,
		&updatedAt, &deletedAt, &replyTo, &renoteOf, &n.Sensitive, &url, &viewURL, &fetchedAt,
		&n.LikeCount, &n.BoostCount, &n.ReplyCount); err != nil {
		return nil, err
	}

	parsedID, err := id.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("scan note: bad id %q: %w", idStr, err)
	}
	authorID, err := id.Parse(authorStr)
	if err != nil {
		return nil, fmt.Errorf("scan note: bad author_id %q: %w", authorStr, err)
	}
	n.Id = parsedID
	n.AuthorId = authorID
	n.ContentType = domain.ContentType(contentType)
	n.Visibility = domain.Visibility(visibility)
	if content.Valid {
		n.Content = &content.String
	}
	n.URL = url.String
	n.ViewURL = viewURL.String
	if updatedAt.Valid {
		t := updatedAt.Time
		n.UpdatedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		n.DeletedAt = &t
	}
	if fetchedAt.Valid {
		t := fetchedAt.Time
		n.FetchedAt = &t
	}
	if replyTo.Valid {
		rid, err := id.Parse(replyTo.String)
		if err == nil {
			n.ReplyToId = &rid
		}
	}
	if renoteOf.Valid {
		rid, err := id.Parse(renoteOf.String)
		if err == nil {
			n.RenoteOfId = &rid
		}
	}
	return &n, nil
}

// ReadNoteById returns a note by id, including soft-deleted tombstones.
func (d *DB) ReadNoteById(noteId id.ID) (*domain.Note, error) {
	q := fmt.Sprintf(`SELECT %s FROM notes WHERE id=%s`, sqlNoteColumns, d.ph(1))
	return d.scanNote(d.sql.QueryRow(q, noteId.String()))
}

// ReadNoteByURL returns a note by its url column, which holds a remote
// note's AP id (empty for local notes); used when resolving object and
// in_reply_to references to already-ingested remote notes.
func (d *DB) ReadNoteByURL(url string) (*domain.Note, error) {
	q := fmt.Sprintf(`SELECT %s FROM notes WHERE url=%s`, sqlNoteColumns, d.ph(1))
	return d.scanNote(d.sql.QueryRow(q, url))
}

// ReadOutboxPage returns at most limit notes authored by authorId with
// created_at < *beforeCreatedAt (or from the newest, if beforeCreatedAt is
// nil), skipping soft-deleted notes, newest first, for C13's outbox
// pagination.
func (d *DB) ReadOutboxPage(authorId id.ID, beforeCreatedAt *string, limit int) ([]domain.Note, error) {
	var q string
	var args []interface{}
	if beforeCreatedAt != nil {
		q = fmt.Sprintf(`SELECT %s FROM notes WHERE author_id=%s AND deleted_at IS NULL AND created_at < %s
			ORDER BY created_at DESC LIMIT %s`, sqlNoteColumns, d.ph(1), d.ph(2), d.ph(3))
		args = []interface{}{authorId.String(), *beforeCreatedAt, limit}
	} else {
		q = fmt.Sprintf(`SELECT %s FROM notes WHERE author_id=%s AND deleted_at IS NULL
			ORDER BY created_at DESC LIMIT %s`, sqlNoteColumns, d.ph(1), d.ph(2))
		args = []interface{}{authorId.String(), limit}
	}
	rows, err := d.sql.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Note
	for rows.Next() {
		n, err := d.scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// ReadPublicNotesByAuthor returns at most limit non-deleted, public,
// top-level (non-reply) notes authored by authorId, newest first, for the
// public RSS syndication feed.
func (d *DB) ReadPublicNotesByAuthor(authorId id.ID, limit int) ([]domain.Note, error) {
	q := fmt.Sprintf(`SELECT %s FROM notes WHERE author_id=%s AND deleted_at IS NULL
		AND visibility=0 AND reply_to_id IS NULL ORDER BY created_at DESC LIMIT %s`,
		sqlNoteColumns, d.ph(1), d.ph(2))
	rows, err := d.sql.Query(q, authorId.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Note
	for rows.Next() {
		n, err := d.scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// CountNotesByAuthor returns the number of non-deleted notes authorId has
// authored, for the outbox's OrderedCollection.totalItems.
func (d *DB) CountNotesByAuthor(authorId id.ID) (int, error) {
	q := fmt.Sprintf(`SELECT COUNT(*) FROM notes WHERE author_id=%s AND deleted_at IS NULL`, d.ph(1))
	var n int
	err := d.sql.QueryRow(q, authorId.String()).Scan(&n)
	return n, err
}

// UpdateNoteContent applies an incoming Update activity's edited content.
func (d *DB) UpdateNoteContent(noteId id.ID, content string) error {
	q := fmt.Sprintf(`UPDATE notes SET content=%s, updated_at=CURRENT_TIMESTAMP WHERE id=%s`, d.ph(1), d.ph(2))
	_, err := d.sql.Exec(q, content, noteId.String())
	return err
}

// SoftDeleteNote marks a note as tombstoned without removing the row, so
// engagement counters and thread structure remain resolvable.
func (d *DB) SoftDeleteNote(noteId id.ID) error {
	q := fmt.Sprintf(`UPDATE notes SET deleted_at=CURRENT_TIMESTAMP, content=NULL WHERE id=%s`, d.ph(1))
	_, err := d.sql.Exec(q, noteId.String())
	return err
}

// IncrementReplyCount bumps a note's denormalized reply_count by delta
// (positive on new reply, negative on reply deletion).
func (d *DB) IncrementReplyCount(noteId id.ID, delta int) error {
	q := fmt.Sprintf(`UPDATE notes SET reply_count = reply_count + %s WHERE id=%s`, d.ph(1), d.ph(2))
	_, err := d.sql.Exec(q, delta, noteId.String())
	return err
}

// IncrementLikeCount bumps a note's denormalized like_count by delta.
func (d *DB) IncrementLikeCount(noteId id.ID, delta int) error {
	q := fmt.Sprintf(`UPDATE notes SET like_count = like_count + %s WHERE id=%s`, d.ph(1), d.ph(2))
	_, err := d.sql.Exec(q, delta, noteId.String())
	return err
}

// IncrementBoostCount bumps a note's denormalized boost_count by delta.
func (d *DB) IncrementBoostCount(noteId id.ID, delta int) error {
	q := fmt.Sprintf(`UPDATE notes SET boost_count = boost_count + %s WHERE id=%s`, d.ph(1), d.ph(2))
	_, err := d.sql.Exec(q, delta, noteId.String())
	return err
}

// ReadBareRenotesByTargetId returns every non-deleted bare renote pointing
// at targetId, for cascading a Delete's tombstone onto the renotes it
// invalidates per spec.md §4.5's "cascade-soft-delete bare renotes whose
// target was this note."
func (d *DB) ReadBareRenotesByTargetId(targetId id.ID) ([]domain.Note, error) {
	q := fmt.Sprintf(`SELECT %s FROM notes WHERE renote_of_id=%s AND deleted_at IS NULL`, sqlNoteColumns, d.ph(1))
	rows, err := d.sql.Query(q, targetId.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Note
	for rows.Next() {
		n, err := d.scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// CreateNoteMention records a parsed @user@domain mention for a note.
func (d *DB) CreateNoteMention(m *domain.NoteMention) error {
	q := fmt.Sprintf(`INSERT INTO note_mentions (id, note_id, mentioned_actor_uri, mentioned_username, mentioned_domain, created_at)
		VALUES (%s)`, d.phList(1, 6))
	_, err := d.sql.Exec(q, m.Id.String(), m.NoteId.String(), m.MentionedActorURI, m.MentionedUsername, m.MentionedDomain, m.CreatedAt)
	return err
}

// ReadNoteMentionsByNoteId returns every recorded mention for a note, used
// to union mentioned actors into a note's AP to/cc addressing (spec.md
// §4.7's M_urls) both when re-serving it and when building its outbound
// Create.
func (d *DB) ReadNoteMentionsByNoteId(noteId id.ID) ([]domain.NoteMention, error) {
	q := fmt.Sprintf(`SELECT id, note_id, mentioned_actor_uri, mentioned_username, mentioned_domain, created_at
		FROM note_mentions WHERE note_id=%s`, d.ph(1))
	rows, err := d.sql.Query(q, noteId.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.NoteMention
	for rows.Next() {
		var m domain.NoteMention
		var idStr, noteIdStr string
		if err := rows.Scan(&idStr, &noteIdStr, &m.MentionedActorURI, &m.MentionedUsername, &m.MentionedDomain, &m.CreatedAt); err != nil {
			return nil, err
		}
		if m.Id, err = id.Parse(idStr); err != nil {
			return nil, fmt.Errorf("scan note_mention: bad id %q: %w", idStr, err)
		}
		if m.NoteId, err = id.Parse(noteIdStr); err != nil {
			return nil, fmt.Errorf("scan note_mention: bad note_id %q: %w", noteIdStr, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CreateNoteUpload records an attachment URL for a note.
func (d *DB) CreateNoteUpload(u *domain.NoteUpload) error {
	q := fmt.Sprintf(`INSERT INTO note_uploads (id, note_id, url, media_type) VALUES (%s)`, d.phList(1, 4))
	_, err := d.sql.Exec(q, u.Id.String(), u.NoteId.String(), u.URL, u.MimeType)
	return err
}

// UpsertHashtag increments a hashtag's usage counter, inserting the row on
// first use. SQLite and Postgres both support INSERT ... ON CONFLICT.
func (d *DB) UpsertHashtag(name string) error {
	q := `INSERT INTO hashtags (name, usage_count, last_used_at) VALUES (` + d.ph(1) + `, 1, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET usage_count = usage_count + 1, last_used_at = CURRENT_TIMESTAMP`
	_, err := d.sql.Exec(q, name)
	return err
}
