package libraryserver

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/bcrypt"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// checkEmail validates an email address. The address must parse and must
// not carry a display name.
func (app *App) checkEmail(email string) *AppError {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return invalidErr("invalid email address")
	}
	if addr.Address != email {
		return invalidErr("invalid email address")
	}
	return nil
}

// checkUsername validates a requested username against the format rules and
// the reserved-name list.
func (app *App) checkUsername(username string) *AppError {
	if len(username) < 3 || len(username) > 32 {
		return invalidErr("username must be 3 to 32 characters")
	}
	if !usernamePattern.MatchString(username) {
		return invalidErr("username may only contain a-z, 0-9 and _")
	}
	if app.reserved.contains(username) {
		return invalidErr("username is reserved")
	}
	return nil
}

// checkPassword validates a password against the length rule and the
// weak-password list.
func (app *App) checkPassword(password string) *AppError {
	if len(password) < 8 {
		return invalidErr("password must be at least 8 characters")
	}
	if app.weakPasswords.contains(password) {
		return invalidErr("password is too common")
	}
	return nil
}

// hashPassword derives the storable bcrypt hash of a password.
func hashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return string(b), nil
}

// verifyPassword reports whether the password matches the stored hash.
func verifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// normalizeEmail lowercases the domain part of an address so lookups are
// case-insensitive where SMTP is.
func normalizeEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at+1] + strings.ToLower(email[at+1:])
}

var isbnStrip = strings.NewReplacer("-", "", " ", "")

// checkISBN validates an ISBN-10 or ISBN-13, ignoring separators. Only the
// shape is checked, not the check digit.
func checkISBN(isbn string) *AppError {
	s := isbnStrip.Replace(isbn)
	switch len(s) {
	case 10:
		for i, c := range s {
			if c >= '0' && c <= '9' {
				continue
			}
			if i == 9 && (c == 'X' || c == 'x') {
				continue
			}
			return invalidErr("invalid isbn")
		}
	case 13:
		for _, c := range s {
			if c < '0' || c > '9' {
				return invalidErr("invalid isbn")
			}
		}
	default:
		return invalidErr("invalid isbn")
	}
	return nil
}

// canonicalISBN returns the separator-free uppercase form used for storage
// and duplicate detection.
func canonicalISBN(isbn string) string {
	return strings.ToUpper(isbnStrip.Replace(isbn))
}
