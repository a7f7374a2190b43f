package libraryserver

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	// TokenVerify is a single-use token confirming an email address.
	TokenVerify = "verify"
	// TokenReset is a single-use token authorizing a password reset.
	TokenReset = "reset"
)

// tokenPurgeInterval is how often expired tokens are swept from the table.
const tokenPurgeInterval = 10 * time.Minute

// Token represents a single-use credential row tied to an account.
type Token struct {
	token     string
	uid       string
	kind      string
	expiresAt int64
}

// newTokenValue returns a fresh random token value.
func newTokenValue() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", errors.WithStack(err)
	}
	return hex.EncodeToString(b), nil
}

// createToken issues a token of the given kind for an account. Any earlier
// token of the same kind is dropped so only the latest one works.
func createToken(app *App, uid, kind string) (string, error) {
	value, err := newTokenValue()
	if err != nil {
		return "", err
	}
	expiresAt := time.Now().
		Add(time.Duration(app.config.TokenTTLMinutes) * time.Minute).Unix()

	tx, err := app.db.Begin()
	if err != nil {
		return "", errors.WithStack(err)
	}
	_, err = tx.Exec(`delete from tokens where uid = $1 and kind = $2`,
		uid, kind)
	if err != nil {
		err2 := tx.Rollback()
		return "", appendError(errors.WithStack(err), errors.WithStack(err2))
	}
	_, err = tx.Exec(`insert into tokens (token, uid, kind, expires_at) `+
		`values ($1, $2, $3, $4)`,
		value, uid, kind, expiresAt)
	if err != nil {
		err2 := tx.Rollback()
		return "", appendError(errors.WithStack(err), errors.WithStack(err2))
	}
	err = tx.Commit()
	if err != nil {
		return "", errors.WithStack(err)
	}
	return value, nil
}

// consumeToken redeems a token of the given kind, deleting it in the same
// statement so it cannot be used twice. It may return a nil token if the
// value is unknown, of the wrong kind, or already expired.
func consumeToken(app *App, value, kind string) (*Token, error) {
	row := app.db.QueryRow(`delete from tokens `+
		`where token = $1 and kind = $2 and expires_at > $3 `+
		`returning token, uid, kind, expires_at`,
		value, kind, time.Now().Unix())
	var t Token
	err := row.Scan(&t.token, &t.uid, &t.kind, &t.expiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}
	return &t, nil
}

// deleteUserTokens drops all outstanding tokens for an account.
func deleteUserTokens(app *App, uid string) error {
	_, err := app.db.Exec(`delete from tokens where uid = $1`, uid)
	if err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// purgeExpiredTokens removes tokens past their expiry and reports how many
// were dropped.
func purgeExpiredTokens(app *App) (int64, error) {
	res, err := app.db.Exec(`delete from tokens where expires_at <= $1`,
		time.Now().Unix())
	if err != nil {
		return 0, errors.WithStack(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return n, nil
}

// purgeLoop sweeps expired tokens on a fixed interval until signaled to
// stop. Consumption already filters expired rows, so the sweep only keeps
// the table from growing.
func purgeLoop(app *App, interval time.Duration) {
	for {
		select {
		case <-app.quitPurgeHandler:
			return
		case <-time.After(interval):
			n, err := purgeExpiredTokens(app)
			if err != nil {
				app.logger.Errorf("failed to purge expired tokens: %+v", err)
			} else if n > 0 {
				app.logger.Infow("purged expired tokens", "count", n)
			}
		}
	}
}

// runPurgeLoop starts the token sweep in a separate goroutine.
func runPurgeLoop(app *App) {
	go purgeLoop(app, tokenPurgeInterval)
}
