package store

import "database/sql"

// CreateUser inserts a new account row.
func (db *DB) CreateUser(u *User) error {
	_, err := db.Exec(`
		INSERT INTO users (username, password, avatar_id, avatar_path, name, sign)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.Username, u.Password, u.AvatarID, u.AvatarPath, u.Name, u.Sign)
	return err
}

// GetUser returns the account for username, or nil when absent.
func (db *DB) GetUser(username string) (*User, error) {
	var u User
	err := db.QueryRow(`
		SELECT username, password, avatar_id, avatar_path, name, sign
		FROM users WHERE username = ?`, username).
		Scan(&u.Username, &u.Password, &u.AvatarID, &u.AvatarPath, &u.Name, &u.Sign)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserExists reports whether the username is taken.
func (db *DB) UserExists(username string) (bool, error) {
	var one int
	err := db.QueryRow(`SELECT 1 FROM users WHERE username = ?`, username).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Authenticate checks the username/password pair.
func (db *DB) Authenticate(username, password string) (bool, error) {
	var one int
	err := db.QueryRow(`
		SELECT 1 FROM users WHERE username = ? AND password = ?`,
		username, password).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateName sets the display name.
func (db *DB) UpdateName(username, name string) error {
	_, err := db.Exec(`UPDATE users SET name = ? WHERE username = ?`, name, username)
	return err
}

// UpdateSign sets the signature line.
func (db *DB) UpdateSign(username, sign string) error {
	_, err := db.Exec(`UPDATE users SET sign = ? WHERE username = ?`, sign, username)
	return err
}

// UpdateAvatar records a freshly uploaded avatar.
func (db *DB) UpdateAvatar(username, avatarID, avatarPath string) error {
	_, err := db.Exec(`
		UPDATE users SET avatar_id = ?, avatar_path = ? WHERE username = ?`,
		avatarID, avatarPath, username)
	return err
}

// AvatarPathByID resolves an avatar file id to its path on disk.
// Returns "" when no user has that avatar.
func (db *DB) AvatarPathByID(fileID string) (string, error) {
	var path string
	err := db.QueryRow(`
		SELECT avatar_path FROM users WHERE avatar_id = ?`, fileID).Scan(&path)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return path, nil
}
