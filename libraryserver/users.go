package libraryserver

import (
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // require for Open postgres
)

const (
	// UserPending indicates the account was created but the email address
	// has not been confirmed yet.
	UserPending = 0
	// UserActive indicates the email address is confirmed and the account
	// is usable.
	UserActive = 1
)

// User represents a registered account row.
type User struct {
	uid          string
	username     string
	email        string
	fullName     string
	passwordHash string
	status       int
	hasAvatar    bool
	createdAt    int64
}

// UserInfo is the public representation of an account returned by the API.
type UserInfo struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"name"`
	Status   string `json:"status"`
	Avatar   string `json:"avatar,omitempty"`
	Created  int64  `json:"created"`
}

// newDB creates a new database connection using the provided configuration.
func newDB(config *Config) (*sql.DB, error) {
	connStr := "host=" + config.DbHost +
		" user=" + config.DbUser +
		" password=" + config.DbPassword +
		" dbname=" + config.DbName +
		" sslmode=" + config.DbSSLMode
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database connection")
	}
	err = db.Ping()
	if err != nil {
		err2 := db.Close()
		return nil, appendError(errors.WithStack(err), errors.WithStack(err2))
	}
	return db, err
}

// newUser builds a pending account with a fresh uid. The caller is expected
// to have validated the fields and hashed the password already.
func newUser(username, email, fullName, passwordHash string) *User {
	return &User{
		uid:          uuid.New().String(),
		username:     username,
		email:        email,
		fullName:     fullName,
		passwordHash: passwordHash,
		status:       UserPending,
		createdAt:    time.Now().Unix(),
	}
}

// insertUser stores a new account row.
func insertUser(app *App, u *User) error {
	_, err := app.db.Exec(`insert into users (`+
		` uid, username, email, full_name, password_hash, status, has_avatar, created_at) `+
		`values ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.uid, u.username, u.email, u.fullName, u.passwordHash,
		u.status, u.hasAvatar, u.createdAt)
	if err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// extractUser extracts an account from a database row. It may return a nil
// user if no rows are found.
func extractUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.uid, &u.username, &u.email, &u.fullName,
		&u.passwordHash, &u.status, &u.hasAvatar, &u.createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}
	return &u, nil
}

// getUser retrieves an account by its unique ID.
func getUser(app *App, uid string) (*User, error) {
	row := app.db.QueryRow(`select uid, username, email, full_name, `+
		` password_hash, status, has_avatar, created_at `+
		`from users where uid = $1`,
		uid)
	return extractUser(row)
}

// getUserByUsername retrieves an account by its username.
func getUserByUsername(app *App, username string) (*User, error) {
	row := app.db.QueryRow(`select uid, username, email, full_name, `+
		` password_hash, status, has_avatar, created_at `+
		`from users where username = $1`,
		username)
	return extractUser(row)
}

// getUserByEmail retrieves an account by its email address.
func getUserByEmail(app *App, email string) (*User, error) {
	row := app.db.QueryRow(`select uid, username, email, full_name, `+
		` password_hash, status, has_avatar, created_at `+
		`from users where email = $1`,
		email)
	return extractUser(row)
}

// activate marks the account's email address as confirmed.
func (u *User) activate(app *App) error {
	_, err := app.db.Exec(`update users set status = $1 where uid = $2`,
		UserActive, u.uid)
	if err != nil {
		return errors.WithStack(err)
	}
	u.status = UserActive
	return nil
}

// updateProfile stores a new display name for the account.
func (u *User) updateProfile(app *App, fullName string) error {
	_, err := app.db.Exec(`update users set full_name = $1 where uid = $2`,
		fullName, u.uid)
	if err != nil {
		return errors.WithStack(err)
	}
	u.fullName = fullName
	return nil
}

// setPassword stores a new password hash for the account.
func (u *User) setPassword(app *App, passwordHash string) error {
	_, err := app.db.Exec(`update users set password_hash = $1 where uid = $2`,
		passwordHash, u.uid)
	if err != nil {
		return errors.WithStack(err)
	}
	u.passwordHash = passwordHash
	return nil
}

// setAvatar records whether an avatar object exists for the account.
func (u *User) setAvatar(app *App, has bool) error {
	_, err := app.db.Exec(`update users set has_avatar = $1 where uid = $2`,
		has, u.uid)
	if err != nil {
		return errors.WithStack(err)
	}
	u.hasAvatar = has
	return nil
}

// remove deletes the account row together with its outstanding tokens. The
// avatar object, if any, is the caller's to clean up.
func (u *User) remove(app *App) error {
	err := deleteUserTokens(app, u.uid)
	if err != nil {
		return err
	}
	_, err = app.db.Exec(`delete from users where uid = $1`, u.uid)
	if err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// avatarObject returns the drive object name holding the account's avatar.
func avatarObject(uid string) string {
	return "avatars/" + uid
}

// getUserStatusString converts an account status code to its string
// representation.
func getUserStatusString(status int) string {
	r := "unknown"
	switch status {
	case UserPending:
		r = "pending"
	case UserActive:
		r = "active"
	}
	return r
}

// info converts the account row to its public representation.
func (u *User) info(app *App) UserInfo {
	ui := UserInfo{
		UID:      u.uid,
		Username: u.username,
		Email:    u.email,
		FullName: u.fullName,
		Status:   getUserStatusString(u.status),
		Created:  u.createdAt,
	}
	if u.hasAvatar && app.config.DriveBucket != "" {
		ui.Avatar = "https://storage.googleapis.com/" +
			app.config.DriveBucket + "/" + avatarObject(u.uid)
	}
	return ui
}
