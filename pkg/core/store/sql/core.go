//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package sql provides a database/sql implementation of the store gateway.
//
// Supported drivers are sqlite3 and postgres, selected via the store.driver
// and store.dsn configuration keys. The schema is bootstrapped on startup
// with CREATE TABLE IF NOT EXISTS; passwords are stored as bcrypt hashes.
package sql

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	// database/sql drivers selectable via store.driver
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/manetu/trackauth/internal/logging"
	"github.com/manetu/trackauth/pkg/common"
	"github.com/manetu/trackauth/pkg/core/config"
	"github.com/manetu/trackauth/pkg/core/store"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

var logger = logging.GetLogger("trackauth.store")

// Factory creates SQL store instances from configuration.
type Factory struct{}

// NewFactory returns a factory that opens the database configured via
// store.driver and store.dsn.
func NewFactory() *Factory {
	return &Factory{}
}

// NewStore opens the configured database and bootstraps the schema.
func (f *Factory) NewStore() (store.Service, error) {
	driver := config.VConfig.GetString(config.StoreDriver)
	dsn := config.VConfig.GetString(config.StoreDSN)
	return Open(driver, dsn)
}

// Store is a database/sql-backed store gateway.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the database and bootstraps the schema.
func Open(driver, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s store", driver)
	}
	s := &Store{db: db, driver: driver}
	if err := s.bootstrap(); err != nil {
		return nil, err
	}
	logger.Infof("permission store ready (driver=%s)", driver)
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		username      TEXT PRIMARY KEY,
		display_name  TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		is_admin      BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS groups (
		name TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS user_groups (
		username   TEXT NOT NULL,
		group_name TEXT NOT NULL,
		PRIMARY KEY (username, group_name)
	)`,
}

// one exact-grant and one regex-grant table per resource kind
var grantTables = map[store.Kind]struct{ exact, regex string }{
	store.KindExperiment:      {"experiment_grants", "experiment_regex_grants"},
	store.KindRegisteredModel: {"registered_model_grants", "registered_model_regex_grants"},
	store.KindPrompt:          {"prompt_grants", "prompt_regex_grants"},
}

func (s *Store) bootstrap() error {
	stmts := append([]string(nil), schema...)
	for _, t := range grantTables {
		stmts = append(stmts,
			`CREATE TABLE IF NOT EXISTS `+t.exact+` (
				resource_id TEXT NOT NULL,
				principal   TEXT NOT NULL,
				is_group    BOOLEAN NOT NULL,
				permission  TEXT NOT NULL,
				PRIMARY KEY (resource_id, principal, is_group)
			)`,
			`CREATE TABLE IF NOT EXISTS `+t.regex+` (
				pattern    TEXT NOT NULL,
				principal  TEXT NOT NULL,
				is_group   BOOLEAN NOT NULL,
				permission TEXT NOT NULL,
				PRIMARY KEY (pattern, principal, is_group)
			)`)
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(err, "bootstrapping store schema")
		}
	}
	return nil
}

// rebind converts '?' placeholders to the postgres '$N' form when needed.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func storeErr(err error, msg string) error {
	return errors.Wrap(common.NewErrorf(common.CodeStoreError, "%s: %v", msg, err), "store")
}

// AuthenticateUser verifies a username/password pair against the stored
// bcrypt hash. Unknown users and empty hashes fail closed.
func (s *Store) AuthenticateUser(ctx context.Context, username, password string) (bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT password_hash FROM users WHERE username = ?`), username).Scan(&hash)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storeErr(err, "querying user credentials")
	}
	if hash == "" {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

// GetUser retrieves a user record.
func (s *Store) GetUser(ctx context.Context, username string) (*store.User, error) {
	u := &store.User{}
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT username, display_name, is_admin FROM users WHERE username = ?`), username).
		Scan(&u.Username, &u.DisplayName, &u.IsAdmin)
	if err == sql.ErrNoRows {
		return nil, common.NewErrorf(common.CodeNotFound, "user '%s' not found", username)
	}
	if err != nil {
		return nil, storeErr(err, "querying user")
	}
	return u, nil
}

// GetGroupsForUser returns the group names the user is a member of.
func (s *Store) GetGroupsForUser(ctx context.Context, username string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT group_name FROM user_groups WHERE username = ?`), username)
	if err != nil {
		return nil, storeErr(err, "querying user groups")
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, storeErr(err, "scanning user group")
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// CreateUser creates a user record, or updates display name and admin flag
// if the user already exists.
func (s *Store) CreateUser(ctx context.Context, username, displayName string, isAdmin bool, password string) error {
	hash := ""
	if password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return errors.Wrap(err, "hashing password")
		}
		hash = string(h)
	}

	var err error
	if hash != "" {
		_, err = s.db.ExecContext(ctx, s.rebind(
			`INSERT INTO users (username, display_name, password_hash, is_admin) VALUES (?, ?, ?, ?)
			 ON CONFLICT (username) DO UPDATE SET display_name = excluded.display_name,
			 password_hash = excluded.password_hash, is_admin = excluded.is_admin`),
			username, displayName, hash, isAdmin)
	} else {
		// keep any existing password when none is provided
		_, err = s.db.ExecContext(ctx, s.rebind(
			`INSERT INTO users (username, display_name, password_hash, is_admin) VALUES (?, ?, '', ?)
			 ON CONFLICT (username) DO UPDATE SET display_name = excluded.display_name,
			 is_admin = excluded.is_admin`),
			username, displayName, isAdmin)
	}
	if err != nil {
		return storeErr(err, "upserting user")
	}
	return nil
}

// PopulateGroups ensures a group record exists for every given name.
func (s *Store) PopulateGroups(ctx context.Context, groups []string) error {
	for _, g := range groups {
		if _, err := s.db.ExecContext(ctx, s.rebind(
			`INSERT INTO groups (name) VALUES (?) ON CONFLICT (name) DO NOTHING`), g); err != nil {
			return storeErr(err, "upserting group")
		}
	}
	return nil
}

// UpdateUserGroups replaces the user's group memberships.
func (s *Store) UpdateUserGroups(ctx context.Context, username string, groups []string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM user_groups WHERE username = ?`), username); err != nil {
		return storeErr(err, "clearing user groups")
	}
	for _, g := range groups {
		if _, err := s.db.ExecContext(ctx, s.rebind(
			`INSERT INTO user_groups (username, group_name) VALUES (?, ?)
			 ON CONFLICT (username, group_name) DO NOTHING`), username, g); err != nil {
			return storeErr(err, "inserting user group")
		}
	}
	return nil
}

func (s *Store) getGrant(ctx context.Context, table, resourceID, principal string, isGroup bool) (*store.Grant, error) {
	var perm string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT permission FROM `+table+` WHERE resource_id = ? AND principal = ? AND is_group = ?`),
		resourceID, principal, isGroup).Scan(&perm)
	if err == sql.ErrNoRows {
		return nil, common.NewErrorf(common.CodeResourceDoesNotExist,
			"no grant for principal '%s' on '%s'", principal, resourceID)
	}
	if err != nil {
		return nil, storeErr(err, "querying grant")
	}
	return &store.Grant{ResourceID: resourceID, Principal: principal, Permission: perm}, nil
}

func (s *Store) listRegexGrants(ctx context.Context, table, principal string, isGroup bool) ([]store.RegexGrant, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT pattern, permission FROM `+table+` WHERE principal = ? AND is_group = ?`),
		principal, isGroup)
	if err != nil {
		return nil, storeErr(err, "querying regex grants")
	}
	defer rows.Close()

	var grants []store.RegexGrant
	for rows.Next() {
		g := store.RegexGrant{Principal: principal}
		if err := rows.Scan(&g.Pattern, &g.Permission); err != nil {
			return nil, storeErr(err, "scanning regex grant")
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// UpsertGrant records an exact grant, replacing any existing one for the same
// (resource, principal) pair. Used by the permission-management surface.
func (s *Store) UpsertGrant(ctx context.Context, kind store.Kind, resourceID, principal string, isGroup bool, permission string) error {
	t, ok := grantTables[kind]
	if !ok {
		return common.NewErrorf(common.CodeStoreError, "kind '%s' has no grant table", kind)
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO `+t.exact+` (resource_id, principal, is_group, permission) VALUES (?, ?, ?, ?)
		 ON CONFLICT (resource_id, principal, is_group) DO UPDATE SET permission = excluded.permission`),
		resourceID, principal, isGroup, permission); err != nil {
		return storeErr(err, "upserting grant")
	}
	return nil
}

// UpsertRegexGrant records a regex grant, replacing any existing one for the
// same (pattern, principal) pair.
func (s *Store) UpsertRegexGrant(ctx context.Context, kind store.Kind, pattern, principal string, isGroup bool, permission string) error {
	t, ok := grantTables[kind]
	if !ok {
		return common.NewErrorf(common.CodeStoreError, "kind '%s' has no grant table", kind)
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO `+t.regex+` (pattern, principal, is_group, permission) VALUES (?, ?, ?, ?)
		 ON CONFLICT (pattern, principal, is_group) DO UPDATE SET permission = excluded.permission`),
		pattern, principal, isGroup, permission); err != nil {
		return storeErr(err, "upserting regex grant")
	}
	return nil
}

// DeleteGrant removes an exact grant.
func (s *Store) DeleteGrant(ctx context.Context, kind store.Kind, resourceID, principal string, isGroup bool) error {
	t, ok := grantTables[kind]
	if !ok {
		return common.NewErrorf(common.CodeStoreError, "kind '%s' has no grant table", kind)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM `+t.exact+` WHERE resource_id = ? AND principal = ? AND is_group = ?`),
		resourceID, principal, isGroup)
	if err != nil {
		return storeErr(err, "deleting grant")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NewErrorf(common.CodeResourceDoesNotExist,
			"no grant for principal '%s' on '%s'", principal, resourceID)
	}
	return nil
}

// DeleteRegexGrant removes a regex grant.
func (s *Store) DeleteRegexGrant(ctx context.Context, kind store.Kind, pattern, principal string, isGroup bool) error {
	t, ok := grantTables[kind]
	if !ok {
		return common.NewErrorf(common.CodeStoreError, "kind '%s' has no grant table", kind)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM `+t.regex+` WHERE pattern = ? AND principal = ? AND is_group = ?`),
		pattern, principal, isGroup)
	if err != nil {
		return storeErr(err, "deleting regex grant")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NewErrorf(common.CodeResourceDoesNotExist,
			"no regex grant '%s' for principal '%s'", pattern, principal)
	}
	return nil
}

// GetExperimentGrant returns the user's exact grant on an experiment.
func (s *Store) GetExperimentGrant(ctx context.Context, experimentID, username string) (*store.Grant, error) {
	return s.getGrant(ctx, grantTables[store.KindExperiment].exact, experimentID, username, false)
}

// ListExperimentRegexGrants returns the user's regex grants on experiments.
func (s *Store) ListExperimentRegexGrants(ctx context.Context, username string) ([]store.RegexGrant, error) {
	return s.listRegexGrants(ctx, grantTables[store.KindExperiment].regex, username, false)
}

// GetGroupExperimentGrant returns the group's exact grant on an experiment.
func (s *Store) GetGroupExperimentGrant(ctx context.Context, experimentID, group string) (*store.Grant, error) {
	return s.getGrant(ctx, grantTables[store.KindExperiment].exact, experimentID, group, true)
}

// ListGroupExperimentRegexGrants returns the group's regex grants on experiments.
func (s *Store) ListGroupExperimentRegexGrants(ctx context.Context, group string) ([]store.RegexGrant, error) {
	return s.listRegexGrants(ctx, grantTables[store.KindExperiment].regex, group, true)
}

// GetRegisteredModelGrant returns the user's exact grant on a registered model.
func (s *Store) GetRegisteredModelGrant(ctx context.Context, name, username string) (*store.Grant, error) {
	return s.getGrant(ctx, grantTables[store.KindRegisteredModel].exact, name, username, false)
}

// ListRegisteredModelRegexGrants returns the user's regex grants on registered models.
func (s *Store) ListRegisteredModelRegexGrants(ctx context.Context, username string) ([]store.RegexGrant, error) {
	return s.listRegexGrants(ctx, grantTables[store.KindRegisteredModel].regex, username, false)
}

// GetGroupRegisteredModelGrant returns the group's exact grant on a registered model.
func (s *Store) GetGroupRegisteredModelGrant(ctx context.Context, name, group string) (*store.Grant, error) {
	return s.getGrant(ctx, grantTables[store.KindRegisteredModel].exact, name, group, true)
}

// ListGroupRegisteredModelRegexGrants returns the group's regex grants on registered models.
func (s *Store) ListGroupRegisteredModelRegexGrants(ctx context.Context, group string) ([]store.RegexGrant, error) {
	return s.listRegexGrants(ctx, grantTables[store.KindRegisteredModel].regex, group, true)
}

// GetPromptGrant returns the user's exact grant on a prompt.
func (s *Store) GetPromptGrant(ctx context.Context, name, username string) (*store.Grant, error) {
	return s.getGrant(ctx, grantTables[store.KindPrompt].exact, name, username, false)
}

// ListPromptRegexGrants returns the user's regex grants on prompts.
func (s *Store) ListPromptRegexGrants(ctx context.Context, username string) ([]store.RegexGrant, error) {
	return s.listRegexGrants(ctx, grantTables[store.KindPrompt].regex, username, false)
}

// GetGroupPromptGrant returns the group's exact grant on a prompt.
func (s *Store) GetGroupPromptGrant(ctx context.Context, name, group string) (*store.Grant, error) {
	return s.getGrant(ctx, grantTables[store.KindPrompt].exact, name, group, true)
}

// ListGroupPromptRegexGrants returns the group's regex grants on prompts.
func (s *Store) ListGroupPromptRegexGrants(ctx context.Context, group string) ([]store.RegexGrant, error) {
	return s.listRegexGrants(ctx, grantTables[store.KindPrompt].regex, group, true)
}
