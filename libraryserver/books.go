package libraryserver

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Book represents a catalog entry row.
type Book struct {
	uid       string
	title     string
	author    string
	isbn      string
	summary   string
	year      int
	copies    int
	hasCover  bool
	createdAt int64
	updatedAt int64
}

// BookInfo is the public representation of a catalog entry returned by the
// API.
type BookInfo struct {
	UID     string `json:"uid"`
	Title   string `json:"title"`
	Author  string `json:"author"`
	ISBN    string `json:"isbn,omitempty"`
	Summary string `json:"summary,omitempty"`
	Year    int    `json:"year,omitempty"`
	Copies  int    `json:"copies"`
	Cover   string `json:"cover,omitempty"`
	Created int64  `json:"created"`
	Updated int64  `json:"updated"`
}

// newBook builds a catalog entry with a fresh uid.
func newBook(title, author, isbn, summary string, year, copies int) *Book {
	now := time.Now().Unix()
	return &Book{
		uid:       uuid.New().String(),
		title:     title,
		author:    author,
		isbn:      isbn,
		summary:   summary,
		year:      year,
		copies:    copies,
		createdAt: now,
		updatedAt: now,
	}
}

// insertBook stores a new catalog entry row.
func insertBook(app *App, b *Book) error {
	_, err := app.db.Exec(`insert into books (`+
		` uid, title, author, isbn, summary, year, copies, has_cover, `+
		` created_at, updated_at) `+
		`values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.uid, b.title, b.author, b.isbn, b.summary, b.year, b.copies,
		b.hasCover, b.createdAt, b.updatedAt)
	if err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// extractBook extracts a catalog entry from a database row. It may return a
// nil book if no rows are found.
func extractBook(row *sql.Row) (*Book, error) {
	var b Book
	err := row.Scan(&b.uid, &b.title, &b.author, &b.isbn, &b.summary,
		&b.year, &b.copies, &b.hasCover, &b.createdAt, &b.updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}
	return &b, nil
}

// getBook retrieves a catalog entry by its unique ID.
func getBook(app *App, uid string) (*Book, error) {
	row := app.db.QueryRow(`select uid, title, author, isbn, summary, `+
		` year, copies, has_cover, created_at, updated_at `+
		`from books where uid = $1`,
		uid)
	return extractBook(row)
}

// getBookByISBN retrieves a catalog entry by its ISBN.
func getBookByISBN(app *App, isbn string) (*Book, error) {
	row := app.db.QueryRow(`select uid, title, author, isbn, summary, `+
		` year, copies, has_cover, created_at, updated_at `+
		`from books where isbn = $1`,
		isbn)
	return extractBook(row)
}

// update stores the modified fields of the catalog entry.
func (b *Book) update(app *App) error {
	b.updatedAt = time.Now().Unix()
	_, err := app.db.Exec(`update books set `+
		`title = $1, `+
		`author = $2, `+
		`isbn = $3, `+
		`summary = $4, `+
		`year = $5, `+
		`copies = $6, `+
		`updated_at = $7 `+
		`where uid = $8`,
		b.title, b.author, b.isbn, b.summary, b.year, b.copies,
		b.updatedAt, b.uid)
	if err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// setCover records whether a cover image object exists for the entry.
func (b *Book) setCover(app *App, has bool) error {
	_, err := app.db.Exec(`update books set has_cover = $1, updated_at = $2 `+
		`where uid = $3`,
		has, time.Now().Unix(), b.uid)
	if err != nil {
		return errors.WithStack(err)
	}
	b.hasCover = has
	return nil
}

// remove deletes the catalog entry row. The cover object, if any, is the
// caller's to clean up.
func (b *Book) remove(app *App) error {
	_, err := app.db.Exec(`delete from books where uid = $1`, b.uid)
	if err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// coverObject returns the drive object name holding the entry's cover image.
func coverObject(uid string) string {
	return "covers/" + uid
}

// info converts the catalog entry row to its public representation.
func (b *Book) info(app *App) BookInfo {
	bi := BookInfo{
		UID:     b.uid,
		Title:   b.title,
		Author:  b.author,
		ISBN:    b.isbn,
		Summary: b.summary,
		Year:    b.year,
		Copies:  b.copies,
		Created: b.createdAt,
		Updated: b.updatedAt,
	}
	if b.hasCover && app.config.DriveBucket != "" {
		bi.Cover = "https://storage.googleapis.com/" +
			app.config.DriveBucket + "/" + coverObject(b.uid)
	}
	return bi
}

// listBooks returns the most recently added catalog entries.
func listBooks(app *App, limit int) (books []BookInfo, apperr *AppError) {
	q := `select uid, title, author, isbn, summary, year, copies, ` +
		` has_cover, created_at, updated_at ` +
		`from books order by created_at desc `
	if limit > 0 {
		q = q + " limit " + strconv.Itoa(limit)
	}
	rows, err := app.db.Query(q)
	if err != nil {
		return []BookInfo{}, serverErr(err)
	}
	return collectBooks(app, rows)
}

// searchBooks returns the catalog entries matching the given criteria.
func searchBooks(app *App, criteria QNode, limit int) (books []BookInfo, apperr *AppError) {
	q := `select uid, title, author, isbn, summary, year, copies, ` +
		` has_cover, created_at, updated_at ` +
		`from books where `
	var params []any
	conds, params := buildWhereClause(criteria, params)
	q = q + conds + " order by created_at desc "
	if limit > 0 {
		q = q + " limit " + strconv.Itoa(limit)
	}
	rows, err := app.db.Query(q, params...)
	if err != nil {
		return []BookInfo{}, serverErr(err)
	}
	return collectBooks(app, rows)
}

// collectBooks drains a result set into public book representations.
func collectBooks(app *App, rows *sql.Rows) (books []BookInfo, apperr *AppError) {
	defer func() {
		e := rows.Close()
		if e != nil {
			if apperr != nil {
				apperr.Internal = appendError(apperr.Internal, errors.WithStack(e))
				return
			}
			apperr = serverErr(e)
		}
	}()

	var bs []BookInfo
	for rows.Next() {
		var b Book
		err := rows.Scan(&b.uid, &b.title, &b.author, &b.isbn, &b.summary,
			&b.year, &b.copies, &b.hasCover, &b.createdAt, &b.updatedAt)
		if err != nil {
			return []BookInfo{}, serverErr(err)
		}
		bs = append(bs, b.info(app))
	}
	return bs, nil
}

// buildWhereClause builds a SQL WHERE clause from a query node.
func buildWhereClause(qn QNode, args []any) (string, []any) {
	switch qn.getType() {
	case QueryLeaf:
		ql := qn.(*QLeaf)
		switch ql.kind {
		case QueryTitle:
			return buildSubstringQuery("title", ql, args)
		case QueryAuthor:
			return buildSubstringQuery("author", ql, args)
		case QuerySummary:
			return buildSubstringQuery("summary", ql, args)
		case QueryISBN:
			return buildExactQuery("isbn", ql.value, ql, args)
		case QueryYear:
			year, _ := strconv.Atoi(ql.value)
			return buildExactQuery("year", year, ql, args)
		default:
			panic("bad QueryKind")
		}
	case QueryAnd:
		return buildQueryExpr(qn.(*QExpr), "AND", args)
	case QueryOr:
		return buildQueryExpr(qn.(*QExpr), "OR", args)
	default:
		panic("bad QueryType")
	}
}

// buildQueryExpr builds a SQL expression for a compound query with a
// conjunction.
func buildQueryExpr(qe *QExpr, conj string, args []any) (string, []any) {
	s1, args := buildWhereClause(qe.a, args)
	s2, args := buildWhereClause(qe.b, args)
	s := "(" + s1 + " " + conj + " " + s2 + ")"
	return s, args
}

// buildSubstringQuery builds a SQL condition matching a column by substring.
func buildSubstringQuery(column string, ql *QLeaf, args []any) (string, []any) {
	s := "strpos(lower(" + column + "), lower($" + strconv.Itoa(len(args)+1) + "))"
	switch ql.op {
	case QueryEqual:
		s = s + " > 0"
	case QueryNotEqual:
		s = s + " = 0"
	}
	return s, append(args, ql.value)
}

// buildExactQuery builds a SQL condition matching a column exactly.
func buildExactQuery(column string, value any, ql *QLeaf, args []any) (string, []any) {
	s := column + " "
	switch ql.op {
	case QueryEqual:
		s = s + "="
	case QueryNotEqual:
		s = s + "<>"
	}
	s = s + " $" + strconv.Itoa(len(args)+1)
	return s, append(args, value)
}
