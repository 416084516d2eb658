package db

import (
	"fmt"
	"time"

	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/id"
)

// UpsertRemoteKey caches an actor's public key by keyId URL, setting
// fetched_at to now on every upsert. There is no background refresh, and
// inbox signature verification does not read or write this table: it
// checks against the PublicKeyPem on the resolved actor row.
func (d *DB) UpsertRemoteKey(k *domain.RemoteKey) error {
	q := `INSERT INTO remote_keys (key_id_url, owner_id, public_key_pem, fetched_at) VALUES (` + d.phList(1, 4) + `)
		ON CONFLICT(key_id_url) DO UPDATE SET owner_id=excluded.owner_id, public_key_pem=excluded.public_key_pem, fetched_at=excluded.fetched_at`
	_, err := d.sql.Exec(q, k.KeyIDURL, k.OwnerID.String(), k.PublicKeyPem, time.Now())
	return err
}

// ReadRemoteKey returns the cached key for a keyId URL, or sql.ErrNoRows.
func (d *DB) ReadRemoteKey(keyIDURL string) (*domain.RemoteKey, error) {
	q := fmt.Sprintf(`SELECT key_id_url, owner_id, public_key_pem FROM remote_keys WHERE key_id_url=%s`, d.ph(1))
	row := d.sql.QueryRow(q, keyIDURL)
	var k domain.RemoteKey
	var ownerStr string
	if err := row.Scan(&k.KeyIDURL, &ownerStr, &k.PublicKeyPem); err != nil {
		return nil, err
	}
	var err error
	if k.OwnerID, err = id.Parse(ownerStr); err != nil {
		return nil, err
	}
	return &k, nil
}

// DeleteRemoteKey drops the cached key row for a keyId URL.
func (d *DB) DeleteRemoteKey(keyIDURL string) error {
	q := fmt.Sprintf(`DELETE FROM remote_keys WHERE key_id_url=%s`, d.ph(1))
	_, err := d.sql.Exec(q, keyIDURL)
	return err
}
