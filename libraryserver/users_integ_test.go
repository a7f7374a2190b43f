//go:build integration

package libraryserver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUserStore(t *testing.T) {
	tapp := initTestBase(t, nil)
	defer tapp.Fini()
	app := tapp.app

	u := mustCreateUser(t, app, 0)

	got, err := getUser(app, u.uid)
	require.Nil(t, err)
	require.NotNil(t, got)
	require.Equal(t, "ada", got.username)
	require.Equal(t, "ada@example.com", got.email)
	require.Equal(t, "Ada Lovelace", got.fullName)
	require.Equal(t, UserPending, got.status)

	got, err = getUserByUsername(app, "ada")
	require.Nil(t, err)
	require.NotNil(t, got)
	require.Equal(t, u.uid, got.uid)

	got, err = getUserByEmail(app, "ada@example.com")
	require.Nil(t, err)
	require.NotNil(t, got)
	require.Equal(t, u.uid, got.uid)

	// lookups for unknown accounts return nil without error
	got, err = getUser(app, "no-such-uid")
	require.Nil(t, err)
	require.Nil(t, got)
	got, err = getUserByUsername(app, "nobody")
	require.Nil(t, err)
	require.Nil(t, got)
}

func TestUserActivate(t *testing.T) {
	tapp := initTestBase(t, nil)
	defer tapp.Fini()
	app := tapp.app

	u := mustCreateUser(t, app, 0)
	require.Nil(t, u.activate(app))
	require.Equal(t, UserActive, u.status)

	got, err := getUser(app, u.uid)
	require.Nil(t, err)
	require.Equal(t, UserActive, got.status)
}

func TestUserUpdates(t *testing.T) {
	tapp := initTestBase(t, nil)
	defer tapp.Fini()
	app := tapp.app

	u := mustCreateUser(t, app, 0)

	require.Nil(t, u.updateProfile(app, "Augusta Ada King"))
	require.Nil(t, u.setPassword(app, "newhash"))
	require.Nil(t, u.setAvatar(app, true))

	got, err := getUser(app, u.uid)
	require.Nil(t, err)
	require.Equal(t, "Augusta Ada King", got.fullName)
	require.Equal(t, "newhash", got.passwordHash)
	require.True(t, got.hasAvatar)
}

func TestUserRemoveDropsTokens(t *testing.T) {
	tapp := initTestBase(t, nil)
	defer tapp.Fini()
	app := tapp.app

	u := mustCreateUser(t, app, 0)
	value, err := createToken(app, u.uid, TokenVerify)
	require.Nil(t, err)

	require.Nil(t, u.remove(app))

	got, err := getUser(app, u.uid)
	require.Nil(t, err)
	require.Nil(t, got)

	tok, err := consumeToken(app, value, TokenVerify)
	require.Nil(t, err)
	require.Nil(t, tok)
}

func TestUserDuplicateKeys(t *testing.T) {
	tapp := initTestBase(t, nil)
	defer tapp.Fini()
	app := tapp.app

	u := mustCreateUser(t, app, 0)

	dup := newUser(u.username, "other@example.com", "Other", "hash")
	require.NotNil(t, insertUser(app, dup))

	dup = newUser("other", u.email, "Other", "hash")
	require.NotNil(t, insertUser(app, dup))
}
