package libraryserver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueryParser(t *testing.T) {
	q, e := parseQuery("title=\"dune\"")
	require.Nil(t, e)
	require.Equal(t, &QLeaf{QueryTitle, QueryEqual, "dune"},
		q)

	q, e = parseQuery("title!=\"dune\"")
	require.Nil(t, e)
	require.Equal(t, &QLeaf{QueryTitle, QueryNotEqual, "dune"},
		q)

	q, e = parseQuery("  author   !=    \"Frank Herbert\"  ")
	require.Nil(t, e)
	require.Equal(t, &QLeaf{QueryAuthor, QueryNotEqual, "Frank Herbert"},
		q)

	q, e = parseQuery("summary=\"desert planet\"  ")
	require.Nil(t, e)
	require.Equal(t, &QLeaf{QuerySummary, QueryEqual, "desert planet"},
		q)

	q, e = parseQuery("isbn=\"9780441172719\" ")
	require.Nil(t, e)
	require.Equal(t, &QLeaf{QueryISBN, QueryEqual, "9780441172719"},
		q)

	q, e = parseQuery("year=\"1965\"")
	require.Nil(t, e)
	require.Equal(t, &QLeaf{QueryYear, QueryEqual, "1965"},
		q)

	q, e = parseQuery("author=\"Herbert\" OR author=\"Asimov\"")
	require.Nil(t, e)
	require.Equal(t, &QExpr{QueryOr,
		&QLeaf{QueryAuthor, QueryEqual, "Herbert"},
		&QLeaf{QueryAuthor, QueryEqual, "Asimov"}},
		q)

	q, e = parseQuery("title=\"foundation\" AND year=\"1951\"")
	require.Nil(t, e)
	require.Equal(t, &QExpr{QueryAnd,
		&QLeaf{QueryTitle, QueryEqual, "foundation"},
		&QLeaf{QueryYear, QueryEqual, "1951"}},
		q)

	// Escaped quotes inside values.
	q, e = parseQuery(`title="the \"real\" story"`)
	require.Nil(t, e)
	require.Equal(t, &QLeaf{QueryTitle, QueryEqual, `the "real" story`},
		q)

	_, e = parseQuery("nosuchkind=\"xyz\"")
	require.NotNil(t, e)
	_, e = parseQuery("title")
	require.NotNil(t, e)
	_, e = parseQuery("title=")
	require.NotNil(t, e)
	_, e = parseQuery("title~")
	require.NotNil(t, e)
	_, e = parseQuery("title=dune")
	require.NotNil(t, e)

}

func TestBuildWhereClause(t *testing.T) {
	q, e := parseQuery("title=\"dune\" AND year=\"1965\"")
	require.Nil(t, e)

	s, args := buildWhereClause(q, nil)
	require.Equal(t, "(strpos(lower(title), lower($1)) > 0 AND year = $2)", s)
	require.Equal(t, []any{"dune", 1965}, args)

	q, e = parseQuery("isbn!=\"9780441172719\"")
	require.Nil(t, e)
	s, args = buildWhereClause(q, nil)
	require.Equal(t, "isbn <> $1", s)
	require.Equal(t, []any{"9780441172719"}, args)

	q, e = parseQuery("summary!=\"space\"")
	require.Nil(t, e)
	s, args = buildWhereClause(q, nil)
	require.Equal(t, "strpos(lower(summary), lower($1)) = 0", s)
	require.Equal(t, []any{"space"}, args)
}
