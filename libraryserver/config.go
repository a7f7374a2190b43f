package libraryserver

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	// EnvDbHost is the environment variable name for the database host.
	EnvDbHost = "DB_HOST"
	// EnvDbName is the environment variable name for the database name.
	EnvDbName = "DB_NAME"
	// EnvDbUser is the environment variable name for the database user.
	EnvDbUser = "DB_USER"
	// EnvDbPassword is the environment variable name for the database password.
	EnvDbPassword = "DB_PASSWORD"
	// EnvDbSSLMode is the environment variable name for the database SSL mode.
	EnvDbSSLMode = "DB_SSLMODE"
	// EnvRelayUser is the environment variable name for the mail relay user.
	EnvRelayUser = "RELAY_USER"
	// EnvRelayPassword is the environment variable name for the mail relay password.
	EnvRelayPassword = "RELAY_PASSWORD"
)

// Config holds the application configuration settings.
type Config struct {
	AppIDs      []string `json:"api-keys"`
	MyDomain    string   `json:"mydomain"`
	ServiceName string   `json:"service-name"`
	BaseURL     string   `json:"base-url"`
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	DbHost      string   `json:"dbhost"`
	DbName      string   `json:"dbname"`
	DbUser      string   `json:"dbuser"`
	DbPassword  string   `json:"dbpassword"`
	DbSSLMode   string   `json:"dbsslmode"`

	// Outbound mail relay.
	RelayHost      string `json:"relayhost"`
	RelayPort      int    `json:"relayport"`
	RelayUser      string `json:"relayuser"`
	RelayPass      string `json:"relaypass"`
	RelaySSL       bool   `json:"relayssl"`
	MailSender     string `json:"mail-sender"`
	MailSenderName string `json:"mail-sender-name"`
	MaxConnAttempt int    `json:"max-connection-attempts"`

	// Remote drive bucket for avatars and book covers.  Empty disables uploads.
	DriveBucket string `json:"drive-bucket"`

	// Directory with reserved_usernames.txt and weak_passwords.txt.
	// Empty falls back to the embedded defaults.
	WordListDir string `json:"wordlist-dir"`

	CompressLevel   int `json:"compress-level"`
	TokenTTLMinutes int `json:"token-ttl-minutes"`
}

// DefaultConfig returns the default configuration values.
func DefaultConfig() *Config {
	return &Config{Host: "0.0.0.0",
		Port:            8400,
		MyDomain:        "local",
		ServiceName:     "Library Management",
		BaseURL:         "http://localhost:8400",
		DbHost:          "localhost",
		DbName:          "libraryserver",
		DbUser:          "ls",
		DbPassword:      "7f1c2a90e4b55d3fa8c6d017be2493c4aa80e15d",
		DbSSLMode:       "disable",
		RelayHost:       "localhost",
		RelayPort:       25,
		MailSender:      "noreply@local",
		MaxConnAttempt:  5,
		CompressLevel:   gzip.DefaultCompression,
		TokenTTLMinutes: 60,
		AppIDs:          []string{},
	}
}

// ParseConfig reads specified configuration file.
func ParseConfig(configStr string) (*Config, error) {
	config := DefaultConfig()

	if configStr == "" {
		return overwriteConfigFromEnv(config), nil
	}
	decoder := json.NewDecoder(strings.NewReader(configStr))
	err := decoder.Decode(config)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return overwriteConfigFromEnv(config), nil
}

// overwriteConfigFromEnv overrides configuration values with environment
// variables when they are set.
func overwriteConfigFromEnv(config *Config) *Config {
	if value, found := os.LookupEnv(EnvDbHost); found {
		config.DbHost = value
	}
	if value, found := os.LookupEnv(EnvDbName); found {
		config.DbName = value
	}
	if value, found := os.LookupEnv(EnvDbUser); found {
		config.DbUser = value
	}
	if value, found := os.LookupEnv(EnvDbPassword); found {
		config.DbPassword = value
	}
	if value, found := os.LookupEnv(EnvDbSSLMode); found {
		config.DbSSLMode = value
	}
	if value, found := os.LookupEnv(EnvRelayUser); found {
		config.RelayUser = value
	}
	if value, found := os.LookupEnv(EnvRelayPassword); found {
		config.RelayPass = value
	}
	return config
}
