//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package config provides configuration management for trackauth using
// [Viper] for flexible configuration sources.
//
// Configuration can be provided via:
//   - YAML configuration files
//   - Environment variables with the TRACKAUTH_ prefix
//   - Programmatic defaults
//
// # Configuration File
//
// By default, trackauth looks for trackauth-config.yaml in the current
// directory. Override the location using environment variables:
//
//	TRACKAUTH_CONFIG_PATH=/etc/trackauth
//	TRACKAUTH_CONFIG_FILENAME=production-config
//
// Example configuration file:
//
//	log:
//	  level: ".:info"
//	oidc:
//	  clientid: tracking-server
//	  discoveryurl: https://idp.example.com/.well-known/openid-configuration
//	  groupsattribute: groups
//	  groupnames: [data-science, ml-platform]
//	  admingroupname: tracking-admins
//	permissions:
//	  default: READ
//	store:
//	  driver: sqlite3
//	  dsn: file:trackauth.db
//	tracking:
//	  url: http://localhost:5000
//
// # Environment Variables
//
// All configuration keys can be set via environment variables with the
// TRACKAUTH_ prefix. Dots in key names become underscores:
//
//	TRACKAUTH_LOG_LEVEL=.:debug
//	TRACKAUTH_OIDC_DISCOVERYURL=https://idp.example.com/...
//	TRACKAUTH_PERMISSIONS_DEFAULT=NO_PERMISSIONS
//
// [Viper]: https://github.com/spf13/viper
package config

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/manetu/trackauth/internal/logging"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Environment variable and default path constants for configuration loading.
const (
	// EnvVarPrefix is the prefix for all trackauth environment variables.
	// For example, the key "log.level" becomes TRACKAUTH_LOG_LEVEL.
	EnvVarPrefix string = "TRACKAUTH"

	// ConfigPathEnv is the environment variable that specifies the directory
	// containing the configuration file.
	ConfigPathEnv string = "TRACKAUTH_CONFIG_PATH"

	// ConfigFileNameEnv is the environment variable that specifies the
	// configuration file name (without extension).
	ConfigFileNameEnv string = "TRACKAUTH_CONFIG_FILENAME"

	// ConfigDefaultPath is the default directory to search for config files.
	ConfigDefaultPath string = "."

	// ConfigDefaultFilename is the default configuration file name (without extension).
	ConfigDefaultFilename string = "trackauth-config"
)

// Configuration key constants for use with [VConfig].
const (
	logLevel string = "log.level"

	// MockEnabled when set to true causes trackauth to use the in-memory
	// fake store regardless of any store configured via options. This is
	// useful for unit testing applications that embed the authorizer.
	//
	// Set via environment: TRACKAUTH_MOCK_ENABLED=true
	MockEnabled string = "mock.enabled"

	// OIDCClientID is the OAuth client id registered with the provider.
	OIDCClientID string = "oidc.clientid"

	// OIDCClientSecret is the OAuth client secret.
	OIDCClientSecret string = "oidc.clientsecret"

	// OIDCDiscoveryURL is the provider's discovery document URL. The token
	// validator fetches it to locate the jwks_uri.
	OIDCDiscoveryURL string = "oidc.discoveryurl"

	// OIDCScope is the OAuth scope requested during login.
	OIDCScope string = "oidc.scope"

	// OIDCRedirectURI is the login callback URI registered with the provider.
	OIDCRedirectURI string = "oidc.redirecturi"

	// OIDCProviderDisplayName is shown on the login page.
	OIDCProviderDisplayName string = "oidc.providerdisplayname"

	// OIDCGroupsAttribute is the token claim holding the caller's group names.
	OIDCGroupsAttribute string = "oidc.groupsattribute"

	// OIDCGroupNames is the list of recognized group names. Group claims
	// outside this list (plus the admin group) are dropped before any
	// authorization decision.
	OIDCGroupNames string = "oidc.groupnames"

	// OIDCAdminGroupName is the group whose members receive admin access.
	OIDCAdminGroupName string = "oidc.admingroupname"

	// GroupDetectionPlugin selects a registered group resolver by name.
	// When empty, groups are read from the token claims directly.
	GroupDetectionPlugin string = "oidc.groupdetectionplugin"

	// GroupStaticMappingPath is the YAML mapping file consumed by the
	// built-in "static" group resolver.
	GroupStaticMappingPath string = "groups.staticmapping"

	// DefaultPermission is the fallback permission name used when no user
	// or group grant applies.
	DefaultPermission string = "permissions.default"

	// AutomaticLoginRedirect controls whether unauthenticated browser
	// requests are redirected to the provider instead of receiving 401.
	AutomaticLoginRedirect string = "auth.automaticloginredirect"

	// SessionCookieName is the name of the server-side session cookie.
	SessionCookieName string = "session.cookiename"

	// SessionSecret signs the session cookie value.
	SessionSecret string = "session.secret"

	// JwksTTL is the time-to-live for the cached provider key set.
	JwksTTL string = "token.jwksttl"

	// StoreDriver is the database/sql driver name ("sqlite3" or "postgres").
	StoreDriver string = "store.driver"

	// StoreDSN is the database/sql data source name.
	StoreDSN string = "store.dsn"

	// TrackingURL is the upstream tracking server base URL.
	TrackingURL string = "tracking.url"
)

var (
	once     sync.Once
	loadOnce sync.Once
	loadErr  error

	// VConfig is the global Viper configuration instance for trackauth.
	//
	// VConfig provides access to all configuration values. Use the
	// configuration key constants ([OIDCDiscoveryURL], [DefaultPermission],
	// etc.) to access specific settings:
	//
	//	def := config.VConfig.GetString(config.DefaultPermission)
	//
	// VConfig is initialized automatically when [Load] or [Init] is called.
	VConfig *viper.Viper
	logger  = logging.GetLogger("trackauth.config")
)

// Init initializes the configuration system without loading config files.
//
// Init sets up Viper with configuration file paths and names, environment
// variable handling (TRACKAUTH_ prefix), and default values. This function
// is safe to call multiple times; subsequent calls are no-ops.
func Init() {
	once.Do(func() {
		doInitialize()
	})
}

func getConfigPath() string {
	if configPath, ok := os.LookupEnv(ConfigPathEnv); ok {
		return configPath
	}
	return ConfigDefaultPath
}

func getConfigFileName() string {
	if configName, ok := os.LookupEnv(ConfigFileNameEnv); ok {
		return configName
	}
	return ConfigDefaultFilename
}

func doInitialize() {
	VConfig = viper.New()

	// set up config-file loading:  default is './trackauth-config.yaml' but can
	// be overridden with $(TRACKAUTH_CONFIG_PATH)/$(TRACKAUTH_CONFIG_FILENAME).yaml
	VConfig.AddConfigPath(getConfigPath())
	VConfig.SetConfigName(getConfigFileName())
	VConfig.SetConfigType("yaml")

	// set up envvar handling:  keys such as 'log.level' become 'TRACKAUTH_LOG_LEVEL'
	VConfig.SetEnvPrefix(EnvVarPrefix)
	VConfig.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	VConfig.AutomaticEnv()

	// set up VConfig defaults
	VConfig.SetDefault(logLevel, ".:info")
	VConfig.SetDefault(OIDCScope, "openid profile email")
	VConfig.SetDefault(OIDCGroupsAttribute, "groups")
	VConfig.SetDefault(DefaultPermission, "READ")
	VConfig.SetDefault(AutomaticLoginRedirect, false)
	VConfig.SetDefault(SessionCookieName, "trackauth-session")
	VConfig.SetDefault(JwksTTL, time.Hour)
	VConfig.SetDefault(StoreDriver, "sqlite3")
	VConfig.SetDefault(StoreDSN, "file:trackauth.db?_fk=1")
	VConfig.SetDefault(TrackingURL, "http://localhost:5000")
}

// Load initializes configuration and loads settings from files and environment.
//
// Load performs the following steps:
//  1. Calls [Init] if not already called
//  2. Reads the configuration file (if present; missing files are not an error)
//  3. Applies environment variable overrides
//  4. Updates log levels based on configuration
//
// This function is safe to call concurrently from multiple goroutines.
// Subsequent calls after the first successful load are no-ops that return nil.
func Load() error {
	loadOnce.Do(func() {
		Init()

		// Early log level update from environment variable allows us to debug the config loading.
		if earlyLoglevel := os.Getenv("TRACKAUTH_LOG_LEVEL"); earlyLoglevel != "" {
			if err := logging.UpdateLogLevels(earlyLoglevel); err != nil {
				loadErr = errors.Wrapf(err, "failed updating early log level %s", earlyLoglevel)
				return
			}
		}

		logger.Debugf("Loading configuration from %s/%s.yaml", getConfigPath(), getConfigFileName())
		if err := VConfig.ReadInConfig(); err != nil {
			// Only log if it's an actual error, not just a missing config file
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				logger.Warnf("error reading config; using defaults: %+v", err)
			}
			logger.Debugf("No config file found at %s/%s.yaml", getConfigPath(), getConfigFileName())
		}

		// Update log levels based on final configuration
		loglevel := VConfig.GetString(logLevel)
		if err := logging.UpdateLogLevels(loglevel); err != nil {
			loadErr = errors.Wrapf(err, "failed updating log level %s", loglevel)
			return
		}
	})

	return loadErr
}

// ResetConfig clears all configuration and reinitializes with defaults.
//
// WARNING: This function is intended for testing only. It resets the global
// configuration state, which can cause race conditions in concurrent code.
func ResetConfig() {
	VConfig = nil
	once = sync.Once{}
	loadOnce = sync.Once{}
	loadErr = nil
	Init()
	_ = Load()
}

// RecognizedGroups returns the configured recognized group names including
// the admin group. Group claims sourced from tokens or plugins are trusted
// only if they appear in this set.
func RecognizedGroups() []string {
	groups := VConfig.GetStringSlice(OIDCGroupNames)
	if admin := VConfig.GetString(OIDCAdminGroupName); admin != "" {
		groups = append(groups, admin)
	}
	return groups
}
