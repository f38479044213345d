// pkg/lti/store/sqlstore/store.go
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/edulinx/ltikit/pkg/lti/store"
)

/*
SQL implementation of the store contract. Placeholders use the $N form,
which both supported drivers accept. Replay-sensitive inserts rely on
ON CONFLICT DO NOTHING so the uniqueness check and the insert are one
statement; multi-row mutations run inside a transaction.
*/

// Store implements store.Store on a *sql.DB.
type Store struct {
	DB *sql.DB

	// Now can be overridden in tests.
	Now func() time.Time
}

func New(db *sql.DB) *Store { return &Store{DB: db} }

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

/* ------------------------------ consumers -------------------------------- */

const consumerCols = `id, key, name, lti13, client_id, platform_id, deployment_id,
  keyset_url, token_url, auth_url, tc_product, tc_version, tc_guid, tc_name,
  created_at, updated_at`

func scanConsumer(row interface{ Scan(...any) error }) (store.Consumer, error) {
	var c store.Consumer
	err := row.Scan(&c.ID, &c.Key, &c.Name, &c.LTI13, &c.ClientID, &c.PlatformID,
		&c.DeploymentID, &c.KeysetURL, &c.TokenURL, &c.AuthURL,
		&c.TCProduct, &c.TCVersion, &c.TCGUID, &c.TCName,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Consumer{}, store.ErrNotFound
	}
	return c, err
}

func (s *Store) GetConsumer(ctx context.Context, id int64) (store.Consumer, error) {
	return scanConsumer(s.DB.QueryRowContext(ctx,
		`SELECT `+consumerCols+` FROM lti_consumers WHERE id=$1`, id))
}

func (s *Store) GetConsumerByKey(ctx context.Context, key string) (store.Consumer, error) {
	return scanConsumer(s.DB.QueryRowContext(ctx,
		`SELECT `+consumerCols+` FROM lti_consumers WHERE key=$1`, key))
}

func (s *Store) FindConsumerByClient(ctx context.Context, clientID, deploymentID string) (store.Consumer, error) {
	return scanConsumer(s.DB.QueryRowContext(ctx,
		`SELECT `+consumerCols+` FROM lti_consumers WHERE client_id=$1 AND deployment_id=$2`,
		clientID, deploymentID))
}

func (s *Store) ListConsumers(ctx context.Context) ([]store.Consumer, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+consumerCols+` FROM lti_consumers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Consumer
	for rows.Next() {
		c, err := scanConsumer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreateConsumer(ctx context.Context, c store.Consumer, k store.ConsumerKey) (store.Consumer, error) {
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	err := withTx(ctx, s.DB, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO lti_consumers
			  (key, name, lti13, client_id, platform_id, deployment_id,
			   keyset_url, token_url, auth_url, tc_product, tc_version, tc_guid, tc_name,
			   created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (key) DO NOTHING
			RETURNING id`,
			c.Key, c.Name, c.LTI13, c.ClientID, c.PlatformID, c.DeploymentID,
			c.KeysetURL, c.TokenURL, c.AuthURL, c.TCProduct, c.TCVersion, c.TCGUID, c.TCName,
			c.CreatedAt, c.UpdatedAt).Scan(&c.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrDuplicate
		} else if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO lti_consumer_keys (key, secret, public_pem, private_pem)
			VALUES ($1,$2,$3,$4)`,
			k.Key, k.Secret, k.PublicPEM, k.PrivatePEM)
		return err
	})
	if err != nil {
		return store.Consumer{}, err
	}
	return c, nil
}

func (s *Store) UpdateConsumer(ctx context.Context, c store.Consumer) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE lti_consumers SET
		  name=$1, lti13=$2, client_id=$3, platform_id=$4, deployment_id=$5,
		  keyset_url=$6, token_url=$7, auth_url=$8,
		  tc_product=$9, tc_version=$10, tc_guid=$11, tc_name=$12, updated_at=$13
		WHERE id=$14`,
		c.Name, c.LTI13, c.ClientID, c.PlatformID, c.DeploymentID,
		c.KeysetURL, c.TokenURL, c.AuthURL,
		c.TCProduct, c.TCVersion, c.TCGUID, c.TCName, s.now(), c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteConsumer(ctx context.Context, id int64) error {
	return withTx(ctx, s.DB, func(tx *sql.Tx) error {
		var key string
		err := tx.QueryRowContext(ctx,
			`SELECT key FROM lti_consumers WHERE id=$1`, id).Scan(&key)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		} else if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM lti_consumer_keys WHERE key=$1`, key); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM lti_consumers WHERE id=$1`, id)
		return err
	})
}

func (s *Store) GetConsumerKey(ctx context.Context, key string) (store.ConsumerKey, error) {
	var k store.ConsumerKey
	err := s.DB.QueryRowContext(ctx, `
		SELECT key, secret, public_pem, private_pem
		FROM lti_consumer_keys WHERE key=$1`, key).
		Scan(&k.Key, &k.Secret, &k.PublicPEM, &k.PrivatePEM)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ConsumerKey{}, store.ErrNotFound
	}
	return k, err
}

func (s *Store) ListConsumerKeys(ctx context.Context) ([]store.ConsumerKey, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT key, secret, public_pem, private_pem
		FROM lti_consumer_keys ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.ConsumerKey
	for rows.Next() {
		var k store.ConsumerKey
		if err := rows.Scan(&k.Key, &k.Secret, &k.PublicPEM, &k.PrivatePEM); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) RotateConsumerKey(ctx context.Context, id int64, replacement store.ConsumerKey) (store.ConsumerKey, error) {
	err := withTx(ctx, s.DB, func(tx *sql.Tx) error {
		var oldKey string
		err := tx.QueryRowContext(ctx,
			`SELECT key FROM lti_consumers WHERE id=$1`, id).Scan(&oldKey)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		} else if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM lti_consumer_keys WHERE key=$1`, oldKey); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO lti_consumer_keys (key, secret, public_pem, private_pem)
			VALUES ($1,$2,$3,$4)`,
			replacement.Key, replacement.Secret, replacement.PublicPEM, replacement.PrivatePEM); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE lti_consumers SET key=$1, updated_at=$2 WHERE id=$3`,
			replacement.Key, s.now(), id)
		return err
	})
	if err != nil {
		return store.ConsumerKey{}, err
	}
	return replacement, nil
}

/* --------------------------- nonces & logins ------------------------------ */

func (s *Store) HasNonce(ctx context.Context, key, nonce string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx,
		`SELECT 1 FROM lti_oauth_nonces WHERE key=$1 AND nonce=$2`, key, nonce).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) UseNonce(ctx context.Context, key, nonce string) error {
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO lti_oauth_nonces (key, nonce, created_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (key, nonce) DO NOTHING`,
		key, nonce, s.now())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrDuplicate
	}
	return nil
}

func (s *Store) CreateLogin(ctx context.Context, l store.ConsumerLogin) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO lti_consumer_logins (state, key, nonce, iss, client_id, keyset_url, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (state) DO NOTHING`,
		l.State, l.Key, l.Nonce, l.Iss, l.ClientID, l.KeysetURL, l.CreatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrDuplicate
	}
	return nil
}

func (s *Store) ConsumeLogin(ctx context.Context, state string) (store.ConsumerLogin, error) {
	var l store.ConsumerLogin
	err := s.DB.QueryRowContext(ctx, `
		DELETE FROM lti_consumer_logins WHERE state=$1
		RETURNING state, key, nonce, iss, client_id, keyset_url, created_at`, state).
		Scan(&l.State, &l.Key, &l.Nonce, &l.Iss, &l.ClientID, &l.KeysetURL, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ConsumerLogin{}, store.ErrNotFound
	}
	return l, err
}

/* ------------------------------ providers -------------------------------- */

const providerCols = `id, key, name, launch_url, domain, lti13, custom, use_section, created_at, updated_at`

func scanProvider(row interface{ Scan(...any) error }) (store.Provider, error) {
	var p store.Provider
	var custom []byte
	err := row.Scan(&p.ID, &p.Key, &p.Name, &p.LaunchURL, &p.Domain, &p.LTI13,
		&custom, &p.UseSection, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Provider{}, store.ErrNotFound
	}
	if err != nil {
		return store.Provider{}, err
	}
	if len(custom) > 0 {
		_ = json.Unmarshal(custom, &p.Custom)
	}
	return p, nil
}

func (s *Store) GetProvider(ctx context.Context, id int64) (store.Provider, error) {
	return scanProvider(s.DB.QueryRowContext(ctx,
		`SELECT `+providerCols+` FROM lti_providers WHERE id=$1`, id))
}

func (s *Store) GetProviderByKey(ctx context.Context, key string) (store.Provider, error) {
	return scanProvider(s.DB.QueryRowContext(ctx,
		`SELECT `+providerCols+` FROM lti_providers WHERE key=$1`, key))
}

func (s *Store) ListProviders(ctx context.Context) ([]store.Provider, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+providerCols+` FROM lti_providers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreateProvider(ctx context.Context, p store.Provider, k store.ProviderKey) (store.Provider, error) {
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	custom, _ := json.Marshal(p.Custom)
	if p.Custom == nil {
		custom = []byte(`{}`)
	}
	err := withTx(ctx, s.DB, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO lti_providers
			  (key, name, launch_url, domain, lti13, custom, use_section, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (key) DO NOTHING
			RETURNING id`,
			p.Key, p.Name, p.LaunchURL, p.Domain, p.LTI13, string(custom), p.UseSection,
			p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrDuplicate
		} else if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO lti_provider_keys (key, secret) VALUES ($1,$2)`,
			k.Key, k.Secret)
		return err
	})
	if err != nil {
		return store.Provider{}, err
	}
	return p, nil
}

func (s *Store) UpdateProvider(ctx context.Context, p store.Provider) error {
	custom, _ := json.Marshal(p.Custom)
	if p.Custom == nil {
		custom = []byte(`{}`)
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE lti_providers SET
		  name=$1, launch_url=$2, domain=$3, lti13=$4, custom=$5, use_section=$6, updated_at=$7
		WHERE id=$8`,
		p.Name, p.LaunchURL, p.Domain, p.LTI13, string(custom), p.UseSection, s.now(), p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteProvider(ctx context.Context, id int64) error {
	return withTx(ctx, s.DB, func(tx *sql.Tx) error {
		var key string
		err := tx.QueryRowContext(ctx,
			`SELECT key FROM lti_providers WHERE id=$1`, id).Scan(&key)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		} else if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM lti_provider_keys WHERE key=$1`, key); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM lti_providers WHERE id=$1`, id)
		return err
	})
}

func (s *Store) GetProviderKey(ctx context.Context, key string) (store.ProviderKey, error) {
	var k store.ProviderKey
	err := s.DB.QueryRowContext(ctx,
		`SELECT key, secret FROM lti_provider_keys WHERE key=$1`, key).
		Scan(&k.Key, &k.Secret)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ProviderKey{}, store.ErrNotFound
	}
	return k, err
}

/* ------------------------------- sweeping --------------------------------- */

func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int64, int64, error) {
	resN, err := s.DB.ExecContext(ctx,
		`DELETE FROM lti_oauth_nonces WHERE created_at < $1`, before)
	if err != nil {
		return 0, 0, err
	}
	nonces, _ := resN.RowsAffected()
	resL, err := s.DB.ExecContext(ctx,
		`DELETE FROM lti_consumer_logins WHERE created_at < $1`, before)
	if err != nil {
		return nonces, 0, err
	}
	logins, _ := resL.RowsAffected()
	return nonces, logins, nil
}

var _ store.Store = (*Store)(nil)
