package db

// CountAccounts returns the number of local actors, for NodeInfo's
// usage.users.total per gnp-x-stegodon/web/nodeinfo.go's GetNodeInfo20.
func (d *DB) CountAccounts() (int, error) {
	var n int
	err := d.sql.QueryRow(`SELECT COUNT(*) FROM actors WHERE domain=''`).Scan(&n)
	return n, err
}

// CountLocalPosts returns the number of non-deleted local notes.
func (d *DB) CountLocalPosts() (int, error) {
	q := `SELECT COUNT(*) FROM notes n JOIN actors a ON a.id = n.author_id
		WHERE a.domain='' AND n.deleted_at IS NULL`
	var n int
	err := d.sql.QueryRow(q).Scan(&n)
	return n, err
}

// CountActiveUsersMonth returns the number of distinct local actors who
// authored a note in the last 30 days, NodeInfo's activeMonth metric. The
// data model has no last-seen column, so posting activity stands in for
// login activity, same proxy the teacher's single-process design used.
func (d *DB) CountActiveUsersMonth() (int, error) {
	return d.countActiveLocalAuthors("-30 days")
}

// CountActiveUsersHalfYear mirrors CountActiveUsersMonth over a 180-day
// window.
func (d *DB) CountActiveUsersHalfYear() (int, error) {
	return d.countActiveLocalAuthors("-180 days")
}

// countActiveLocalAuthors counts distinct local note authors with at least
// one note newer than windowSQLite ago (a sqlite "-N days" modifier string);
// the postgres path recomputes the equivalent interval directly in SQL
// since the two drivers have no shared relative-date syntax.
func (d *DB) countActiveLocalAuthors(windowSQLite string) (int, error) {
	var q string
	var args []interface{}
	if d.driver == "postgres" {
		days := "30"
		if windowSQLite == "-180 days" {
			days = "180"
		}
		q = `SELECT COUNT(DISTINCT n.author_id) FROM notes n JOIN actors a ON a.id = n.author_id
			WHERE a.domain='' AND n.created_at >= NOW() - ($1 || ' days')::interval`
		args = []interface{}{days}
	} else {
		q = `SELECT COUNT(DISTINCT n.author_id) FROM notes n JOIN actors a ON a.id = n.author_id
			WHERE a.domain='' AND n.created_at >= datetime('now', ?)`
		args = []interface{}{windowSQLite}
	}
	var n int
	err := d.sql.QueryRow(q, args...).Scan(&n)
	return n, err
}
