//go:build integration

package libraryserver

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	simplejson "github.com/bitly/go-simplejson"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

func initTestApp(t *testing.T, tconf *TestConfig) *TestApp {
	tapp := initTestBase(t, tconf)
	require.NotNil(t, tapp)
	return tapp
}

func doRequest(t *testing.T, router *mux.Router,
	method string, path string, body string,
	expectedCode int) *httptest.ResponseRecorder {
	req, err := http.NewRequest(method, path, strings.NewReader(body))
	require.Nil(t, err)
	req.Header["Authorization"] = []string{"Bearer apikey"}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, expectedCode, rr.Code,
		fmt.Sprintf("%s %s: %s", method, path, body))
	return rr
}

func doRequestNoAuth(t *testing.T, router *mux.Router,
	method string, path string, body string,
	expectedCode int) *httptest.ResponseRecorder {
	req, err := http.NewRequest(method, path, strings.NewReader(body))
	require.Nil(t, err)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, expectedCode, rr.Code,
		fmt.Sprintf("%s %s: %s", method, path, body))
	return rr
}

func jsonBody(t *testing.T, rr *httptest.ResponseRecorder) *simplejson.Json {
	json, err := simplejson.NewJson(rr.Body.Bytes())
	require.Nil(t, err)
	return json
}

// dbToken digs the freshly issued token value out of the store; the only
// other copy is inside the sent mail.
func dbToken(t *testing.T, app *App, uid, kind string) string {
	var value string
	err := app.db.QueryRow(
		`select token from tokens where uid = $1 and kind = $2`,
		uid, kind).Scan(&value)
	require.Nil(t, err)
	return value
}

func TestHello(t *testing.T) {
	tapp := initTestApp(t, nil)
	defer tapp.Fini()
	router := newRouter(tapp.app)

	rr := doRequestNoAuth(t, router, "GET", "/", "", http.StatusOK)
	require.Equal(t, "1", jsonBody(t, rr).Get("version").MustString())
}

func TestAPIKeyRequired(t *testing.T) {
	tapp := initTestApp(t, nil)
	defer tapp.Fini()
	router := newRouter(tapp.app)

	doRequestNoAuth(t, router, "GET", "/v1/books", "", http.StatusForbidden)

	req, err := http.NewRequest("GET", "/v1/books", nil)
	require.Nil(t, err)
	req.Header["Authorization"] = []string{"Bearer wrongkey"}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	tapp := initTestApp(t, nil)
	defer tapp.Fini()
	router := newRouter(tapp.app)

	rr := doRequestNoAuth(t, router, "GET", "/metrics", "", http.StatusOK)
	require.Contains(t, rr.Body.String(), "library_mail_connect_attempts_total")
}

func TestUserLifecycle(t *testing.T) {
	tapp := initTestApp(t, nil)
	defer tapp.Fini()
	router := newRouter(tapp.app)

	rr := doRequest(t, router, "POST", "/v1/users",
		`{"username":"ada",`+
			`"email":"ada@example.com",`+
			`"name":"Ada Lovelace",`+
			`"password":"analytical engine 1842"}`,
		http.StatusCreated)

	body := jsonBody(t, rr)
	uid := body.Get("uid").MustString()
	require.NotEmpty(t, uid)
	require.Equal(t, "ada", body.Get("username").MustString())
	require.Equal(t, "pending", body.Get("status").MustString())

	// the verification mail went out to the new address
	require.Len(t, tapp.sentMails, 1)
	require.Equal(t, []string{"ada@example.com"}, tapp.sentMails[0].Recipients)
	require.Equal(t, "noreply@example.com", tapp.sentMails[0].Sender)
	require.Contains(t, string(tapp.sentMails[0].Data), "/v1/users/verify/")

	// redeem the verification link (no API key: it comes from the mail)
	token := dbToken(t, tapp.app, uid, TokenVerify)
	rr = doRequestNoAuth(t, router, "GET", "/v1/users/verify/"+token, "",
		http.StatusOK)
	require.Equal(t, "active", jsonBody(t, rr).Get("status").MustString())

	// a welcome mail follows the activation
	require.Len(t, tapp.sentMails, 2)

	// the token is single use
	doRequestNoAuth(t, router, "GET", "/v1/users/verify/"+token, "",
		http.StatusNotFound)

	rr = doRequest(t, router, "GET", "/v1/users/"+uid, "", http.StatusOK)
	require.Equal(t, "Ada Lovelace", jsonBody(t, rr).Get("name").MustString())

	rr = doRequest(t, router, "PATCH", "/v1/users/"+uid,
		`{"name":"Augusta Ada King","password":"analytical engine 1843"}`,
		http.StatusOK)
	require.Equal(t, "Augusta Ada King", jsonBody(t, rr).Get("name").MustString())

	u, err := getUser(tapp.app, uid)
	require.Nil(t, err)
	require.True(t, verifyPassword(u.passwordHash, "analytical engine 1843"))

	doRequest(t, router, "DELETE", "/v1/users/"+uid, "", http.StatusNoContent)
	doRequest(t, router, "GET", "/v1/users/"+uid, "", http.StatusNotFound)
}

func TestSignupValidation(t *testing.T) {
	tapp := initTestApp(t, nil)
	defer tapp.Fini()
	router := newRouter(tapp.app)

	// bad email
	doRequest(t, router, "POST", "/v1/users",
		`{"username":"ada","email":"nope","name":"Ada",`+
			`"password":"analytical engine 1842"}`,
		http.StatusBadRequest)

	// weak password
	doRequest(t, router, "POST", "/v1/users",
		`{"username":"ada","email":"ada@example.com","name":"Ada",`+
			`"password":"password123"}`,
		http.StatusBadRequest)

	// reserved username
	doRequest(t, router, "POST", "/v1/users",
		`{"username":"admin","email":"ada@example.com","name":"Ada",`+
			`"password":"analytical engine 1842"}`,
		http.StatusBadRequest)

	// nothing was created, no mail went out
	require.Len(t, tapp.sentMails, 0)

	// duplicates
	doRequest(t, router, "POST", "/v1/users",
		`{"username":"ada","email":"ada@example.com","name":"Ada",`+
			`"password":"analytical engine 1842"}`,
		http.StatusCreated)
	doRequest(t, router, "POST", "/v1/users",
		`{"username":"ada","email":"other@example.com","name":"Ada",`+
			`"password":"analytical engine 1842"}`,
		http.StatusConflict)
	doRequest(t, router, "POST", "/v1/users",
		`{"username":"ada2","email":"ada@example.com","name":"Ada",`+
			`"password":"analytical engine 1842"}`,
		http.StatusConflict)
}

func TestSignupSurvivesRelayError(t *testing.T) {
	tapp := initTestApp(t, &TestConfig{smtpError: true})
	defer tapp.Fini()
	router := newRouter(tapp.app)

	// the relay rejecting the message must not fail the signup
	rr := doRequest(t, router, "POST", "/v1/users",
		`{"username":"ada","email":"ada@example.com","name":"Ada",`+
			`"password":"analytical engine 1842"}`,
		http.StatusCreated)
	require.Equal(t, "pending", jsonBody(t, rr).Get("status").MustString())
}

func TestPasswordResetFlow(t *testing.T) {
	tapp := initTestApp(t, nil)
	defer tapp.Fini()
	router := newRouter(tapp.app)

	rr := doRequest(t, router, "POST", "/v1/users",
		`{"username":"ada","email":"ada@example.com","name":"Ada",`+
			`"password":"analytical engine 1842"}`,
		http.StatusCreated)
	uid := jsonBody(t, rr).Get("uid").MustString()

	doRequest(t, router, "POST", "/v1/password-resets",
		`{"email":"ada@example.com"}`, http.StatusAccepted)
	require.Len(t, tapp.sentMails, 2)
	require.Contains(t, string(tapp.sentMails[1].Data), "reset-password")

	// weak replacement passwords are rejected before the token is spent
	token := dbToken(t, tapp.app, uid, TokenReset)
	doRequest(t, router, "POST", "/v1/password-resets/"+token,
		`{"password":"password123"}`, http.StatusBadRequest)

	doRequest(t, router, "POST", "/v1/password-resets/"+token,
		`{"password":"difference engine 1849"}`, http.StatusOK)

	u, err := getUser(tapp.app, uid)
	require.Nil(t, err)
	require.True(t, verifyPassword(u.passwordHash, "difference engine 1849"))

	// the token is single use
	doRequest(t, router, "POST", "/v1/password-resets/"+token,
		`{"password":"difference engine 1850"}`, http.StatusNotFound)

	// unknown addresses get the same answer and no mail
	doRequest(t, router, "POST", "/v1/password-resets",
		`{"email":"nobody@example.com"}`, http.StatusAccepted)
	require.Len(t, tapp.sentMails, 2)
}

func TestBooksAPI(t *testing.T) {
	tapp := initTestApp(t, nil)
	defer tapp.Fini()
	router := newRouter(tapp.app)

	rr := doRequest(t, router, "POST", "/v1/books",
		`{"title":"Dune","author":"Frank Herbert",`+
			`"isbn":"978-0-441-17271-9","summary":"A desert planet.",`+
			`"year":1965,"copies":3}`,
		http.StatusCreated)
	body := jsonBody(t, rr)
	uid := body.Get("uid").MustString()
	require.NotEmpty(t, uid)
	// the stored isbn is canonicalized
	require.Equal(t, "9780441172719", body.Get("isbn").MustString())

	// duplicate isbn, even in another spelling
	doRequest(t, router, "POST", "/v1/books",
		`{"title":"Dune again","author":"Frank Herbert",`+
			`"isbn":"9780441172719"}`,
		http.StatusConflict)

	// validation
	doRequest(t, router, "POST", "/v1/books",
		`{"title":"","author":"Frank Herbert"}`, http.StatusBadRequest)
	doRequest(t, router, "POST", "/v1/books",
		`{"title":"Dune","author":"Frank Herbert","isbn":"123"}`,
		http.StatusBadRequest)

	doRequest(t, router, "POST", "/v1/books",
		`{"title":"Foundation","author":"Isaac Asimov",`+
			`"isbn":"9780553293357","summary":"Psychohistory.","year":1951}`,
		http.StatusCreated)

	rr = doRequest(t, router, "GET", "/v1/books", "", http.StatusOK)
	books, err := jsonBody(t, rr).Get("books").Array()
	require.Nil(t, err)
	require.Len(t, books, 2)

	rr = doRequest(t, router, "GET",
		"/v1/books?query=author%3D%22herbert%22", "", http.StatusOK)
	books, err = jsonBody(t, rr).Get("books").Array()
	require.Nil(t, err)
	require.Len(t, books, 1)

	rr = doRequest(t, router, "GET",
		"/v1/books?query=year%3D%221951%22%20OR%20year%3D%221965%22", "",
		http.StatusOK)
	books, err = jsonBody(t, rr).Get("books").Array()
	require.Nil(t, err)
	require.Len(t, books, 2)

	doRequest(t, router, "GET", "/v1/books?query=bogus", "",
		http.StatusBadRequest)

	rr = doRequest(t, router, "GET", "/v1/books/"+uid, "", http.StatusOK)
	require.Equal(t, "Dune", jsonBody(t, rr).Get("title").MustString())

	rr = doRequest(t, router, "PATCH", "/v1/books/"+uid,
		`{"copies":1,"summary":"Spice and sandworms."}`, http.StatusOK)
	require.Equal(t, 1, jsonBody(t, rr).Get("copies").MustInt())

	doRequest(t, router, "DELETE", "/v1/books/"+uid, "", http.StatusNoContent)
	doRequest(t, router, "GET", "/v1/books/"+uid, "", http.StatusNotFound)
}

func TestAvatarUpload(t *testing.T) {
	tapp := initTestApp(t, nil)
	defer tapp.Fini()
	router := newRouter(tapp.app)

	u := mustCreateUser(t, tapp.app, 0)

	req, err := http.NewRequest("PUT", "/v1/users/"+u.uid+"/avatar",
		strings.NewReader("\x89PNG fake bytes"))
	require.Nil(t, err)
	req.Header["Authorization"] = []string{"Bearer apikey"}
	req.Header.Set("Content-Type", "image/png")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	got, err := getUser(tapp.app, u.uid)
	require.Nil(t, err)
	require.True(t, got.hasAvatar)

	// non-image uploads are refused
	req, err = http.NewRequest("PUT", "/v1/users/"+u.uid+"/avatar",
		strings.NewReader("plain text"))
	require.Nil(t, err)
	req.Header["Authorization"] = []string{"Bearer apikey"}
	req.Header.Set("Content-Type", "text/plain")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	doRequest(t, router, "DELETE", "/v1/users/"+u.uid+"/avatar", "",
		http.StatusNoContent)
	got, err = getUser(tapp.app, u.uid)
	require.Nil(t, err)
	require.False(t, got.hasAvatar)
}
