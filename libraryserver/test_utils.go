package libraryserver

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/chrj/smtpd"
	"github.com/stretchr/testify/require"
)

// TestConfig test config
type TestConfig struct {
	smtpError      bool
	configOverride string
}

// TestApp test app
type TestApp struct {
	testConfig   *TestConfig
	app          *App
	smtpd        *smtpd.Server
	smtpdStopper chan bool
	sentMails    []*smtpd.Envelope
}

// Fini finish event
func (a *TestApp) Fini() {
	a.smtpdStopper <- true
	_ = a.app.Fini()
}

func (a *TestApp) handleMail(peer smtpd.Peer, env smtpd.Envelope) error {
	a.app.logger.Debugw("handlemail",
		"peer", peer,
		"env", env)
	a.sentMails = append(a.sentMails, &env)
	if a.testConfig.smtpError {
		return errors.New("simulated smtp error")
	}
	return nil
}

func (a *TestApp) runSmtpdBackground(addr string) error {
	a.smtpdStopper = make(chan bool)

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	go func() {
		defer close(a.smtpdStopper)
		<-a.smtpdStopper
		_ = l.Close()
	}()
	go func() {
		_ = a.smtpd.Serve(l)
	}()
	return nil
}

func initTestBase(t *testing.T, tconf *TestConfig) *TestApp {
	if tconf == nil {
		tconf = &TestConfig{}
	}

	sConfig := tconf.configOverride
	if sConfig == "" {
		sConfig = `{"host":"localhost",` +
			`"relayhost":"localhost",` +
			`"relayport":2025,` +
			`"mydomain":"example.com",` +
			`"base-url":"http://localhost:8400",` +
			`"mail-sender":"noreply@example.com",` +
			`"dbname":"libraryserver_test",` +
			`"api-keys":["apikey"]}`
	}

	config, err := ParseConfig(sConfig)
	require.Nil(t, err)

	app := newApp(config)

	// clean up the db
	_, err = app.db.Exec("delete from tokens")
	require.Nil(t, err)
	_, err = app.db.Exec("delete from users")
	require.Nil(t, err)
	_, err = app.db.Exec("delete from books")
	require.Nil(t, err)

	testapp := TestApp{
		testConfig: tconf,
		app:        app,
	}

	// start the mock relay
	testapp.smtpd = &smtpd.Server{
		Handler: testapp.handleMail,
	}

	err = testapp.runSmtpdBackground("localhost:2025")
	require.Nil(t, err)

	err = app.mailer.Connect(context.Background())
	require.Nil(t, err)

	return &testapp
}

func sampleCreateUserRequest(n int) CreateUserRequest {
	var v CreateUserRequest
	switch n {
	default:
	case 0:
		v = CreateUserRequest{
			Username: "ada",
			Email:    "ada@example.com",
			FullName: "Ada Lovelace",
			Password: "analytical engine 1842",
		}
	case 1:
		v = CreateUserRequest{
			Username: "grace",
			Email:    "grace@example.com",
			FullName: "Grace Hopper",
			Password: "nanoseconds matter",
		}
	case 2:
		v = CreateUserRequest{
			Username: "linus_b",
			Email:    "linus@example.org",
			FullName: "Linus B.",
			Password: "just for fun 1991",
		}
	}
	return v
}

func sampleCreateBookRequest(n int) CreateBookRequest {
	var v CreateBookRequest
	switch n {
	default:
	case 0:
		v = CreateBookRequest{
			Title:   "Dune",
			Author:  "Frank Herbert",
			ISBN:    "9780441172719",
			Summary: "A noble family takes over a desert planet.",
			Year:    1965,
			Copies:  3,
		}
	case 1:
		v = CreateBookRequest{
			Title:   "Foundation",
			Author:  "Isaac Asimov",
			ISBN:    "9780553293357",
			Summary: "A mathematician predicts the fall of the empire.",
			Year:    1951,
			Copies:  2,
		}
	case 2:
		v = CreateBookRequest{
			Title:  "Self-Published Pamphlet",
			Author: "Anonymous",
			Copies: 1,
		}
	}
	return v
}

// mustCreateUser inserts a sample account directly at the store level.
func mustCreateUser(t *testing.T, app *App, n int) *User {
	req := sampleCreateUserRequest(n)
	hash, err := hashPassword(req.Password)
	require.Nil(t, err)
	u := newUser(req.Username, req.Email, req.FullName, hash)
	require.Nil(t, insertUser(app, u))
	return u
}

// mustCreateBook inserts a sample catalog entry directly at the store level.
func mustCreateBook(t *testing.T, app *App, n int) *Book {
	req := sampleCreateBookRequest(n)
	b := newBook(req.Title, req.Author, req.ISBN, req.Summary, req.Year,
		req.Copies)
	require.Nil(t, insertBook(app, b))
	return b
}
