// pkg/lti/store/sqlstore/migrations.go
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Up applies the idempotent DDL for the LTI tables. Call once on startup
// after Connect. Drivers supported: postgres|sqlite.
func Up(ctx context.Context, db *sql.DB, driver string) error {
	if db == nil {
		return fmt.Errorf("migrations: db is nil")
	}

	var schema string
	switch normalizeDriver(driver) {
	case "postgres":
		schema = schemaPostgres
	case "sqlite":
		schema = schemaSQLite
	default:
		return fmt.Errorf("migrations: unsupported driver %q (expected postgres|sqlite)", driver)
	}

	// Run as one script when the driver allows it; otherwise statement by
	// statement (naive splitting is fine for plain DDL).
	if _, err := db.ExecContext(ctx, schema); err != nil {
		for _, stmt := range splitSQL(schema) {
			if _, e := db.ExecContext(ctx, stmt); e != nil {
				return fmt.Errorf("migrations: failed at:\n%s\nerr: %w", firstLine(stmt), e)
			}
		}
	}
	return nil
}

/* ----------------------------- POSTGRES SCHEMA ----------------------------- */

const schemaPostgres = `
-- Consumers: platforms/LMSes that launch into this tool ----------------------
CREATE TABLE IF NOT EXISTS lti_consumers (
  id             BIGSERIAL PRIMARY KEY,
  key            TEXT NOT NULL UNIQUE,
  name           TEXT NOT NULL DEFAULT '',
  lti13          BOOLEAN NOT NULL DEFAULT FALSE,
  client_id      TEXT NOT NULL DEFAULT '',
  platform_id    TEXT NOT NULL DEFAULT '',
  deployment_id  TEXT NOT NULL DEFAULT '',
  keyset_url     TEXT NOT NULL DEFAULT '',
  token_url      TEXT NOT NULL DEFAULT '',
  auth_url       TEXT NOT NULL DEFAULT '',
  tc_product     TEXT NOT NULL DEFAULT '',
  tc_version     TEXT NOT NULL DEFAULT '',
  tc_guid        TEXT NOT NULL DEFAULT '',
  tc_name        TEXT NOT NULL DEFAULT '',
  created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS lti_consumer_keys (
  key          TEXT PRIMARY KEY,
  secret       TEXT NOT NULL,
  public_pem   TEXT NOT NULL DEFAULT '',
  private_pem  TEXT NOT NULL DEFAULT ''
);

-- Single-use login state for LTI 1.3 -----------------------------------------
CREATE TABLE IF NOT EXISTS lti_consumer_logins (
  state       TEXT PRIMARY KEY,
  key         TEXT NOT NULL,
  nonce       TEXT NOT NULL,
  iss         TEXT NOT NULL DEFAULT '',
  client_id   TEXT NOT NULL DEFAULT '',
  keyset_url  TEXT NOT NULL DEFAULT '',
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS lti_consumer_logins_created_idx
  ON lti_consumer_logins (created_at);

-- OAuth 1.0 replay protection -------------------------------------------------
CREATE TABLE IF NOT EXISTS lti_oauth_nonces (
  key         TEXT NOT NULL,
  nonce       TEXT NOT NULL,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (key, nonce)
);

CREATE INDEX IF NOT EXISTS lti_oauth_nonces_created_idx
  ON lti_oauth_nonces (created_at);

-- Providers: tools this application launches out to ---------------------------
CREATE TABLE IF NOT EXISTS lti_providers (
  id           BIGSERIAL PRIMARY KEY,
  key          TEXT NOT NULL UNIQUE,
  name         TEXT NOT NULL DEFAULT '',
  launch_url   TEXT NOT NULL DEFAULT '',
  domain       TEXT NOT NULL DEFAULT '',
  lti13        BOOLEAN NOT NULL DEFAULT FALSE,
  custom       TEXT NOT NULL DEFAULT '{}',
  use_section  BOOLEAN NOT NULL DEFAULT FALSE,
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS lti_provider_keys (
  key     TEXT PRIMARY KEY,
  secret  TEXT NOT NULL
);
`

/* ------------------------------ SQLITE SCHEMA ------------------------------ */

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS lti_consumers (
  id             INTEGER PRIMARY KEY AUTOINCREMENT,
  key            TEXT NOT NULL UNIQUE,
  name           TEXT NOT NULL DEFAULT '',
  lti13          INTEGER NOT NULL DEFAULT 0,
  client_id      TEXT NOT NULL DEFAULT '',
  platform_id    TEXT NOT NULL DEFAULT '',
  deployment_id  TEXT NOT NULL DEFAULT '',
  keyset_url     TEXT NOT NULL DEFAULT '',
  token_url      TEXT NOT NULL DEFAULT '',
  auth_url       TEXT NOT NULL DEFAULT '',
  tc_product     TEXT NOT NULL DEFAULT '',
  tc_version     TEXT NOT NULL DEFAULT '',
  tc_guid        TEXT NOT NULL DEFAULT '',
  tc_name        TEXT NOT NULL DEFAULT '',
  created_at     TIMESTAMP NOT NULL,
  updated_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS lti_consumer_keys (
  key          TEXT PRIMARY KEY,
  secret       TEXT NOT NULL,
  public_pem   TEXT NOT NULL DEFAULT '',
  private_pem  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS lti_consumer_logins (
  state       TEXT PRIMARY KEY,
  key         TEXT NOT NULL,
  nonce       TEXT NOT NULL,
  iss         TEXT NOT NULL DEFAULT '',
  client_id   TEXT NOT NULL DEFAULT '',
  keyset_url  TEXT NOT NULL DEFAULT '',
  created_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS lti_consumer_logins_created_idx
  ON lti_consumer_logins (created_at);

CREATE TABLE IF NOT EXISTS lti_oauth_nonces (
  key         TEXT NOT NULL,
  nonce       TEXT NOT NULL,
  created_at  TIMESTAMP NOT NULL,
  PRIMARY KEY (key, nonce)
);

CREATE INDEX IF NOT EXISTS lti_oauth_nonces_created_idx
  ON lti_oauth_nonces (created_at);

CREATE TABLE IF NOT EXISTS lti_providers (
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  key          TEXT NOT NULL UNIQUE,
  name         TEXT NOT NULL DEFAULT '',
  launch_url   TEXT NOT NULL DEFAULT '',
  domain       TEXT NOT NULL DEFAULT '',
  lti13        INTEGER NOT NULL DEFAULT 0,
  custom       TEXT NOT NULL DEFAULT '{}',
  use_section  INTEGER NOT NULL DEFAULT 0,
  created_at   TIMESTAMP NOT NULL,
  updated_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS lti_provider_keys (
  key     TEXT PRIMARY KEY,
  secret  TEXT NOT NULL
);
`

// splitSQL naively splits on ';' boundaries so statements can run one at
// a time. Sufficient for plain DDL.
func splitSQL(s string) []string {
	raw := strings.Split(s, ";")
	out := make([]string, 0, len(raw))
	for _, part := range raw {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part+";")
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
