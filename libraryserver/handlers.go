package libraryserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
)

const maxUploadBytes = 5 << 20

// CreateUserRequest represents the request body for account signup.
type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"name"`
	Password string `json:"password"`
}

// UpdateUserRequest represents the request body for a profile update. Nil
// fields stay unchanged.
type UpdateUserRequest struct {
	FullName *string `json:"name"`
	Password *string `json:"password"`
}

// PasswordResetRequest represents the request body asking for a reset mail.
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// PasswordResetCompleteRequest represents the request body redeeming a
// reset token.
type PasswordResetCompleteRequest struct {
	Password string `json:"password"`
}

// CreateBookRequest represents the request body for adding a catalog entry.
type CreateBookRequest struct {
	Title   string `json:"title"`
	Author  string `json:"author"`
	ISBN    string `json:"isbn"`
	Summary string `json:"summary"`
	Year    int    `json:"year"`
	Copies  int    `json:"copies"`
}

// UpdateBookRequest represents the request body for a catalog update. Nil
// fields stay unchanged.
type UpdateBookRequest struct {
	Title   *string `json:"title"`
	Author  *string `json:"author"`
	ISBN    *string `json:"isbn"`
	Summary *string `json:"summary"`
	Year    *int    `json:"year"`
	Copies  *int    `json:"copies"`
}

// BookList represents the response body for catalog listing and search.
type BookList struct {
	Books []BookInfo `json:"books"`
}

func (app *App) hCreateUser(w http.ResponseWriter, r *http.Request) {
	apperr := app.checkApikey(r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	var req CreateUserRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		returnErr(app, w, WrapErr(400, err))
		return
	}

	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	req.Email = normalizeEmail(strings.TrimSpace(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)

	app.logger.Infow("got signup request",
		"username", req.Username,
		"email", req.Email)

	if apperr = app.checkUsername(req.Username); apperr != nil {
		returnErr(app, w, apperr)
		return
	}
	if apperr = app.checkEmail(req.Email); apperr != nil {
		returnErr(app, w, apperr)
		return
	}
	if apperr = app.checkPassword(req.Password); apperr != nil {
		returnErr(app, w, apperr)
		return
	}
	if req.FullName == "" || len(req.FullName) > 128 {
		returnErr(app, w, invalidErr("name must be 1 to 128 characters"))
		return
	}

	other, err := getUserByUsername(app, req.Username)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}
	if other != nil {
		returnErr(app, w, AppErr(409, "username already taken"))
		return
	}
	other, err = getUserByEmail(app, req.Email)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}
	if other != nil {
		returnErr(app, w, AppErr(409, "email already registered"))
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}

	u := newUser(req.Username, req.Email, req.FullName, hash)
	err = insertUser(app, u)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}

	token, err := createToken(app, u.uid, TokenVerify)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}
	app.sendVerificationMail(u, token)

	returnJSONCode(w, http.StatusCreated, u.info(app))
}

func (app *App) hVerifyEmail(w http.ResponseWriter, r *http.Request) {
	value := mux.Vars(r)["token"]

	t, err := consumeToken(app, value, TokenVerify)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}
	if t == nil {
		returnErr(app, w, AppErr(404, "unknown or expired token"))
		return
	}

	u, err := getUser(app, t.uid)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}
	if u == nil {
		returnErr(app, w, notFoundErr("user", t.uid))
		return
	}

	if u.status != UserActive {
		err = u.activate(app)
		if err != nil {
			returnErr(app, w, serverErr(err))
			return
		}
		app.sendWelcomeMail(u)
	}

	returnJSON(w, u.info(app))
}

// lookupUser resolves the {uid} path variable, writing the error response
// itself when the account does not exist.
func (app *App) lookupUser(w http.ResponseWriter, r *http.Request) *User {
	uid := mux.Vars(r)["uid"]
	u, err := getUser(app, uid)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return nil
	}
	if u == nil {
		returnErr(app, w, notFoundErr("user", uid))
		return nil
	}
	return u
}

func (app *App) hGetUser(w http.ResponseWriter, r *http.Request) {
	apperr := app.checkApikey(r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	u := app.lookupUser(w, r)
	if u == nil {
		return
	}
	returnJSON(w, u.info(app))
}

func (app *App) hUpdateUser(w http.ResponseWriter, r *http.Request) {
	apperr := app.checkApikey(r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	var req UpdateUserRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		returnErr(app, w, WrapErr(400, err))
		return
	}

	u := app.lookupUser(w, r)
	if u == nil {
		return
	}

	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if name == "" || len(name) > 128 {
			returnErr(app, w, invalidErr("name must be 1 to 128 characters"))
			return
		}
		err = u.updateProfile(app, name)
		if err != nil {
			returnErr(app, w, serverErr(err))
			return
		}
	}

	if req.Password != nil {
		if apperr = app.checkPassword(*req.Password); apperr != nil {
			returnErr(app, w, apperr)
			return
		}
		hash, err := hashPassword(*req.Password)
		if err != nil {
			returnErr(app, w, serverErr(err))
			return
		}
		err = u.setPassword(app, hash)
		if err != nil {
			returnErr(app, w, serverErr(err))
			return
		}
	}

	returnJSON(w, u.info(app))
}

func (app *App) hDeleteUser(w http.ResponseWriter, r *http.Request) {
	apperr := app.checkApikey(r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	u := app.lookupUser(w, r)
	if u == nil {
		return
	}

	if u.hasAvatar {
		err := app.drive.remove(r.Context(), avatarObject(u.uid))
		if err != nil {
			// The account row still goes away; the object is orphaned
			// until the next upload overwrites it.
			app.logger.Errorf("failed to remove avatar of %s: %+v", u.uid, err)
		}
	}

	err := u.remove(app)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}

	app.logger.Infow("deleted user", "uid", u.uid, "username", u.username)
	w.WriteHeader(http.StatusNoContent)
}

// readImageUpload reads a size-capped request body that must carry an
// image content type.
func readImageUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, *AppError) {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", invalidErr("upload must be an image")
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, "", AppErr(http.StatusRequestEntityTooLarge, "upload too large")
		}
		return nil, "", WrapErr(400, errors.WithStack(err))
	}
	if len(body) == 0 {
		return nil, "", invalidErr("empty upload")
	}
	return body, contentType, nil
}

func (app *App) hPutAvatar(w http.ResponseWriter, r *http.Request) {
	apperr := app.checkApikey(r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	u := app.lookupUser(w, r)
	if u == nil {
		return
	}

	body, contentType, apperr := readImageUpload(w, r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	err := app.drive.upload(r.Context(), avatarObject(u.uid), contentType, body)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}
	err = u.setAvatar(app, true)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}

	returnJSON(w, u.info(app))
}

func (app *App) hDeleteAvatar(w http.ResponseWriter, r *http.Request) {
	apperr := app.checkApikey(r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	u := app.lookupUser(w, r)
	if u == nil {
		return
	}

	err := app.drive.remove(r.Context(), avatarObject(u.uid))
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}
	err = u.setAvatar(app, false)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (app *App) hRequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	apperr := app.checkApikey(r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	var req PasswordResetRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		returnErr(app, w, WrapErr(400, err))
		return
	}

	email := normalizeEmail(strings.TrimSpace(req.Email))
	u, err := getUserByEmail(app, email)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}

	// Respond identically whether or not the address is known, so the
	// endpoint cannot be used to probe for accounts.
	if u == nil {
		app.logger.Infow("password reset for unknown email", "email", email)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	token, err := createToken(app, u.uid, TokenReset)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}
	app.sendPasswordResetMail(u, token)

	w.WriteHeader(http.StatusAccepted)
}

func (app *App) hCompletePasswordReset(w http.ResponseWriter, r *http.Request) {
	apperr := app.checkApikey(r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	var req PasswordResetCompleteRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		returnErr(app, w, WrapErr(400, err))
		return
	}

	if apperr = app.checkPassword(req.Password); apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	t, err := consumeToken(app, mux.Vars(r)["token"], TokenReset)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}
	if t == nil {
		returnErr(app, w, AppErr(404, "unknown or expired token"))
		return
	}

	u, err := getUser(app, t.uid)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}
	if u == nil {
		returnErr(app, w, notFoundErr("user", t.uid))
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}
	err = u.setPassword(app, hash)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}

	app.logger.Infow("password reset completed", "uid", u.uid)
	returnJSON(w, map[string]string{"status": "ok"})
}

// checkBookFields validates the shared title/author/year/copies rules.
func checkBookFields(title, author string, year, copies int) *AppError {
	if title == "" || len(title) > 512 {
		return invalidErr("title must be 1 to 512 characters")
	}
	if author == "" || len(author) > 256 {
		return invalidErr("author must be 1 to 256 characters")
	}
	if year != 0 && (year < 0 || year > time.Now().Year()+1) {
		return invalidErr("implausible publication year")
	}
	if copies < 0 {
		return invalidErr("copies must not be negative")
	}
	return nil
}

func (app *App) hCreateBook(w http.ResponseWriter, r *http.Request) {
	apperr := app.checkApikey(r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	var req CreateBookRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		returnErr(app, w, WrapErr(400, err))
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Author = strings.TrimSpace(req.Author)

	if apperr = checkBookFields(req.Title, req.Author, req.Year, req.Copies); apperr != nil {
		returnErr(app, w, apperr)
		return
	}
	if req.ISBN != "" {
		if apperr = checkISBN(req.ISBN); apperr != nil {
			returnErr(app, w, apperr)
			return
		}
		req.ISBN = canonicalISBN(req.ISBN)
		other, err := getBookByISBN(app, req.ISBN)
		if err != nil {
			returnErr(app, w, serverErr(err))
			return
		}
		if other != nil {
			returnErr(app, w, AppErr(409, "a book with this isbn already exists"))
			return
		}
	}

	b := newBook(req.Title, req.Author, req.ISBN, req.Summary, req.Year, req.Copies)
	err = insertBook(app, b)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}

	app.logger.Infow("added book", "uid", b.uid, "title", b.title)
	returnJSONCode(w, http.StatusCreated, b.info(app))
}

func (app *App) hBooks(w http.ResponseWriter, r *http.Request) {
	apperr := app.checkApikey(r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	q := r.FormValue("query")
	lim := r.FormValue("limit")

	limit := 10
	var err error
	if lim != "" {
		limit, err = strconv.Atoi(lim)
		if err != nil {
			returnErr(app, w, WrapErr(400, err))
			return
		}
	}

	var books []BookInfo
	if q == "" {
		books, apperr = listBooks(app, limit)
	} else {
		var criteria QNode
		criteria, apperr = parseQuery(q)
		if apperr != nil {
			returnErr(app, w, apperr)
			return
		}
		app.logger.Debugw("catalog search",
			"query", q,
			"limit", limit)
		books, apperr = searchBooks(app, criteria, limit)
	}
	if apperr != nil {
		if apperr.Internal != nil {
			app.logger.Errorf("%+v", apperr.Internal)
		}
		returnErr(app, w, apperr)
		return
	}

	returnJSON(w, &BookList{Books: books})
}

// lookupBook resolves the {uid} path variable, writing the error response
// itself when the entry does not exist.
func (app *App) lookupBook(w http.ResponseWriter, r *http.Request) *Book {
	uid := mux.Vars(r)["uid"]
	b, err := getBook(app, uid)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return nil
	}
	if b == nil {
		returnErr(app, w, notFoundErr("book", uid))
		return nil
	}
	return b
}

func (app *App) hGetBook(w http.ResponseWriter, r *http.Request) {
	apperr := app.checkApikey(r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	b := app.lookupBook(w, r)
	if b == nil {
		return
	}
	returnJSON(w, b.info(app))
}

func (app *App) hUpdateBook(w http.ResponseWriter, r *http.Request) {
	apperr := app.checkApikey(r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	var req UpdateBookRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		returnErr(app, w, WrapErr(400, err))
		return
	}

	b := app.lookupBook(w, r)
	if b == nil {
		return
	}

	if req.Title != nil {
		b.title = strings.TrimSpace(*req.Title)
	}
	if req.Author != nil {
		b.author = strings.TrimSpace(*req.Author)
	}
	if req.Summary != nil {
		b.summary = *req.Summary
	}
	if req.Year != nil {
		b.year = *req.Year
	}
	if req.Copies != nil {
		b.copies = *req.Copies
	}
	if apperr = checkBookFields(b.title, b.author, b.year, b.copies); apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	if req.ISBN != nil && *req.ISBN != "" {
		if apperr = checkISBN(*req.ISBN); apperr != nil {
			returnErr(app, w, apperr)
			return
		}
		isbn := canonicalISBN(*req.ISBN)
		if isbn != b.isbn {
			other, err := getBookByISBN(app, isbn)
			if err != nil {
				returnErr(app, w, serverErr(err))
				return
			}
			if other != nil {
				returnErr(app, w, AppErr(409, "a book with this isbn already exists"))
				return
			}
			b.isbn = isbn
		}
	}

	err = b.update(app)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}

	returnJSON(w, b.info(app))
}

func (app *App) hDeleteBook(w http.ResponseWriter, r *http.Request) {
	apperr := app.checkApikey(r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	b := app.lookupBook(w, r)
	if b == nil {
		return
	}

	if b.hasCover {
		err := app.drive.remove(r.Context(), coverObject(b.uid))
		if err != nil {
			app.logger.Errorf("failed to remove cover of %s: %+v", b.uid, err)
		}
	}

	err := b.remove(app)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}

	app.logger.Infow("deleted book", "uid", b.uid, "title", b.title)
	w.WriteHeader(http.StatusNoContent)
}

func (app *App) hPutCover(w http.ResponseWriter, r *http.Request) {
	apperr := app.checkApikey(r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	b := app.lookupBook(w, r)
	if b == nil {
		return
	}

	body, contentType, apperr := readImageUpload(w, r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	err := app.drive.upload(r.Context(), coverObject(b.uid), contentType, body)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}
	err = b.setCover(app, true)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}

	returnJSON(w, b.info(app))
}

func (app *App) hDeleteCover(w http.ResponseWriter, r *http.Request) {
	apperr := app.checkApikey(r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	b := app.lookupBook(w, r)
	if b == nil {
		return
	}

	err := app.drive.remove(r.Context(), coverObject(b.uid))
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}
	err = b.setCover(app, false)
	if err != nil {
		returnErr(app, w, serverErr(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
