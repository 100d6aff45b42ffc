package storage

import "time"

// DeleteSessionsOlderThan removes sessions whose start time predates the
// cutoff. It returns the number of rows removed.
func (d *DB) DeleteSessionsOlderThan(cutoff time.Time) (int64, error) {
	res, err := d.db.Exec("DELETE FROM sessions WHERE start_time < ?", cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
