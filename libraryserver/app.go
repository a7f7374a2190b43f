// Package libraryserver provides the backend service of a small lending
// library: account signup with email verification, password resets, a
// searchable book catalog with cover images, and outbound mail delivery
// through a relay.
package libraryserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultPort           = 8400
	jsonParseErrorMessage = `{"errors":[{"message":"failed to parse response body to json"}]}`
)

// App represents the main application state including database connection,
// mail transport and logger.
type App struct {
	config *Config
	db     *sql.DB
	logger *zap.SugaredLogger
	mailer *Mailer
	drive  driveManager

	reserved      wordSet
	weakPasswords wordSet

	quitPurgeHandler chan bool
}

// ErrorResponse represents the JSON structure for error responses.
type ErrorResponse struct {
	Errors []Error `json:"errors"`
}

// Error represents an error item in a response.
type Error struct {
	Message string  `json:"message"`
	Field   *string `json:"field,omitempty"`
}

// RunServer enters server loop.  Only returns when something bad happens.
func RunServer(config *Config) (err error) {
	app := newApp(config)
	defer func() {
		err = appendError(err, app.Fini())
	}()

	// A server that cannot reach its relay would fail every signup, so
	// refuse to come up at all.
	err = app.mailer.Connect(context.Background())
	if err != nil {
		return err
	}

	server := newServer(app)
	return errors.WithStack(server.ListenAndServe())
}

// createLogger creates and returns a new development logger.
func createLogger() (*zap.SugaredLogger, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return logger.Sugar(), nil
}

// newApp creates a new App instance with the given configuration.
func newApp(config *Config) *App {
	logger, err := createLogger()
	if err != nil {
		log.Panicf("cannot initialize logger: %+v", err)
	}

	db, err := newDB(config)
	if err != nil {
		log.Panicf("cannot connect to db: %+v", err)
	}

	drive, err := newDrive(context.Background(), config, logger)
	if err != nil {
		log.Panicf("cannot initialize drive: %+v", err)
	}

	reserved, weak, err := loadWordLists(config)
	if err != nil {
		log.Panicf("cannot load word lists: %+v", err)
	}

	return &App{
		config:           config,
		db:               db,
		logger:           logger,
		mailer:           newMailer(config, logger),
		drive:            drive,
		reserved:         reserved,
		weakPasswords:    weak,
		quitPurgeHandler: make(chan bool, 1),
	}
}

// Fini closes the database connection and the drive client.
func (app *App) Fini() error {
	return appendError(
		errors.WithStack(app.db.Close()),
		app.drive.close())
}

// newServer creates and configures a new HTTP server.
func newServer(app *App) *http.Server {
	host := app.config.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := app.config.Port
	if port == 0 {
		port = defaultPort
	}

	runPurgeLoop(app)

	var handler http.Handler = newRouter(app)
	handler = handlers.CompressHandlerLevel(handler, app.config.CompressLevel)
	handler = metricsMiddleware(handler)

	app.logger.Infow("starting server",
		"host", host,
		"port", port)

	return &http.Server{
		Handler:      handler,
		Addr:         fmt.Sprintf("%s:%d", host, port),
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}
}

// newRouter creates and configures the HTTP router with all API endpoints.
// The verification route is deliberately outside the API-key check: it is
// opened straight from the link in the mail.
func newRouter(app *App) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/", app.hHello).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/v1/users", app.hCreateUser).Methods("POST")
	router.HandleFunc("/v1/users/verify/{token}", app.hVerifyEmail).Methods("GET")
	router.HandleFunc("/v1/users/{uid}", app.hGetUser).Methods("GET")
	router.HandleFunc("/v1/users/{uid}", app.hUpdateUser).Methods("PATCH")
	router.HandleFunc("/v1/users/{uid}", app.hDeleteUser).Methods("DELETE")
	router.HandleFunc("/v1/users/{uid}/avatar", app.hPutAvatar).Methods("PUT")
	router.HandleFunc("/v1/users/{uid}/avatar", app.hDeleteAvatar).Methods("DELETE")

	router.HandleFunc("/v1/password-resets", app.hRequestPasswordReset).Methods("POST")
	router.HandleFunc("/v1/password-resets/{token}", app.hCompletePasswordReset).Methods("POST")

	router.HandleFunc("/v1/books", app.hCreateBook).Methods("POST")
	router.HandleFunc("/v1/books", app.hBooks).Methods("GET")
	router.HandleFunc("/v1/books/{uid}", app.hGetBook).Methods("GET")
	router.HandleFunc("/v1/books/{uid}", app.hUpdateBook).Methods("PATCH")
	router.HandleFunc("/v1/books/{uid}", app.hDeleteBook).Methods("DELETE")
	router.HandleFunc("/v1/books/{uid}/cover", app.hPutCover).Methods("PUT")
	router.HandleFunc("/v1/books/{uid}/cover", app.hDeleteCover).Methods("DELETE")

	return router
}

// returnJSON writes a JSON response to the HTTP response writer.
func returnJSON(w http.ResponseWriter, val any) {
	returnJSONCode(w, http.StatusOK, val)
}

// returnJSONCode writes a JSON response with the given status code.
func returnJSONCode(w http.ResponseWriter, code int, val any) {
	js, err := json.Marshal(val)
	if err != nil {
		http.Error(w, jsonParseErrorMessage, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, err = w.Write(js)
	if err != nil {
		http.Error(w, jsonParseErrorMessage, http.StatusInternalServerError)
		return
	}
}

// returnErr writes an error response to the HTTP response writer.
func returnErr(app *App, w http.ResponseWriter, apperr *AppError) {
	app.logger.Errorf("error code: %d error: %s %+v", apperr.Code, apperr.Error(), apperr.Internal)

	res := ErrorResponse{
		Errors: []Error{{
			Message: apperr.Error(),
		}},
	}
	bodybytes, err := json.Marshal(res)
	if err != nil {
		app.logger.Errorf("%+v", errors.WithStack(err))
		http.Error(w, jsonParseErrorMessage, http.StatusInternalServerError)
		return
	}
	http.Error(w, string(bodybytes), apperr.Code)
}

var bearerRegexp = regexp.MustCompile(`Bearer *(.*)`)

func (app *App) checkApikey(r *http.Request) *AppError {
	auth := r.Header["Authorization"]
	if len(auth) == 0 {
		return AppErr(403, "no api key given")
	}

	key := bearerRegexp.ReplaceAllString(auth[0], "$1")
	if slices.Contains(app.config.AppIDs, key) {
		return nil
	}

	return AppErr(403, "unrecognized api key")
}

func (app *App) hHello(w http.ResponseWriter, r *http.Request) {
	returnJSON(w, map[string]string{"service": app.config.ServiceName, "version": "1"})
}
