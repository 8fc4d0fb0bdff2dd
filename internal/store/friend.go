package store

import "database/sql"

// ListFriends returns username's friends joined with their profiles,
// ordered by username for stable list responses.
func (db *DB) ListFriends(username string) ([]Friend, error) {
	rows, err := db.Query(`
		SELECT f.friend, f.remarks, u.avatar_id, u.name, u.sign
		FROM friends f
		JOIN users u ON u.username = f.friend
		WHERE f.username = ?
		ORDER BY f.friend`, username)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var friends []Friend
	for rows.Next() {
		var f Friend
		if err := rows.Scan(&f.Username, &f.Remarks, &f.AvatarID, &f.Name, &f.Sign); err != nil {
			return nil, err
		}
		friends = append(friends, f)
	}
	return friends, rows.Err()
}

// FriendUsernames returns just the usernames of username's friends.
// Friendships are stored in both directions, so this set is also the
// audience for username's presence and profile pushes.
func (db *DB) FriendUsernames(username string) ([]string, error) {
	rows, err := db.Query(`
		SELECT friend FROM friends WHERE username = ?`, username)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// AreFriends reports whether a has b in their friend list.
func (db *DB) AreFriends(a, b string) (bool, error) {
	var one int
	err := db.QueryRow(`
		SELECT 1 FROM friends WHERE username = ? AND friend = ?`, a, b).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AddFriend creates the friendship in both directions atomically.
func (db *DB) AddFriend(a, b string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO friends (username, friend) VALUES (?, ?)`, a, b); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO friends (username, friend) VALUES (?, ?)`, b, a); err != nil {
		return err
	}
	return tx.Commit()
}

// SetRemarks updates the remark a keeps for friend b. Returns false
// when no such friendship edge exists.
func (db *DB) SetRemarks(username, friend, remarks string) (bool, error) {
	res, err := db.Exec(`
		UPDATE friends SET remarks = ? WHERE username = ? AND friend = ?`,
		remarks, username, friend)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
