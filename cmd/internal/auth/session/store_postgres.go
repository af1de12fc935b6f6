package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"passport/cmd/identity"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (passport.auth_sessions, passport.api_keys).
//
// The pgx pool is owned by the caller; this store must NOT close it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "passport").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("session: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "passport"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	return st, nil
}

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const sessionColumns = `id, account_id, challenge_id, client_id, app_id, parent_session_id,
	scopes, audiences, last_granted_at, expired_at, created_at`

func (s *PostgresStore) sessions() string { return pgIdent(s.schema, "auth_sessions") }
func (s *PostgresStore) apiKeys() string  { return pgIdent(s.schema, "api_keys") }

// Create inserts a new session row.
func (s *PostgresStore) Create(ctx context.Context, sess Session) error {
	return s.insertTx(ctx, s.pool, sess)
}

func (s *PostgresStore) insertTx(ctx context.Context, q querier, sess Session) error {
	_, err := q.Exec(ctx, `
		INSERT INTO `+s.sessions()+` (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sess.ID, sess.AccountID, sess.ChallengeID, sess.ClientID, sess.AppID, sess.ParentSessionID,
		nonNil(sess.Scopes), nonNil(sess.Audiences), sess.LastGrantedAt, sess.ExpiredAt, sess.CreatedAt,
	)
	if pgIsUniqueViolation(err) && sess.ChallengeID != nil {
		return ErrChallengeConsumed
	}
	return err
}

// Get loads a session by id, joining its account and client.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Session, error) {
	accounts := pgIdent(s.schema, "accounts")
	clients := pgIdent(s.schema, "auth_clients")

	var sess Session
	var accID, cliID *uuid.UUID
	var accName, accEmail, cliPlatform, cliDevice, cliName *string
	var accCreated, cliCreated, cliUpdated *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT s.id, s.account_id, s.challenge_id, s.client_id, s.app_id, s.parent_session_id,
		       s.scopes, s.audiences, s.last_granted_at, s.expired_at, s.created_at,
		       a.id, a.name, a.email, a.created_at,
		       c.id, c.platform, c.device_id, c.device_name, c.created_at, c.updated_at
		  FROM `+s.sessions()+` s
		  LEFT JOIN `+accounts+` a ON a.id = s.account_id
		  LEFT JOIN `+clients+` c ON c.id = s.client_id
		 WHERE s.id = $1`, id,
	).Scan(
		&sess.ID, &sess.AccountID, &sess.ChallengeID, &sess.ClientID, &sess.AppID, &sess.ParentSessionID,
		&sess.Scopes, &sess.Audiences, &sess.LastGrantedAt, &sess.ExpiredAt, &sess.CreatedAt,
		&accID, &accName, &accEmail, &accCreated,
		&cliID, &cliPlatform, &cliDevice, &cliName, &cliCreated, &cliUpdated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}

	if accID != nil {
		sess.Account = &identity.Account{ID: *accID, Name: deref(accName), Email: accEmail, CreatedAt: derefTime(accCreated)}
	}
	if cliID != nil {
		sess.Client = &identity.Client{
			ID:         *cliID,
			AccountID:  sess.AccountID,
			Platform:   identity.Platform(deref(cliPlatform)),
			DeviceID:   deref(cliDevice),
			DeviceName: deref(cliName),
			CreatedAt:  derefTime(cliCreated),
			UpdatedAt:  derefTime(cliUpdated),
		}
	}
	return sess, nil
}

// GetByChallenge loads the session created from a challenge.
func (s *PostgresStore) GetByChallenge(ctx context.Context, challengeID uuid.UUID) (Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		  FROM `+s.sessions()+`
		 WHERE challenge_id = $1`, challengeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	return sess, err
}

// ListByAccount lists sessions of an account, newest first.
func (s *PostgresStore) ListByAccount(ctx context.Context, accountID uuid.UUID, includeExpired bool, now time.Time) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		  FROM `+s.sessions()+`
		 WHERE account_id = $1
		   AND ($2 OR expired_at IS NULL OR expired_at > $3)
		 ORDER BY created_at DESC`, accountID, includeExpired, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// SetLastGranted stamps last_granted_at.
func (s *PostgresStore) SetLastGranted(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.sessions()+`
		   SET last_granted_at = $2
		 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Children returns the direct children of every parent in one query.
func (s *PostgresStore) Children(ctx context.Context, parents []uuid.UUID) ([]Ref, error) {
	if len(parents) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, expired_at
		  FROM `+s.sessions()+`
		 WHERE parent_session_id = ANY($1::uuid[])`, uuidStrings(parents))
	if err != nil {
		return nil, err
	}
	return collectRefs(rows)
}

// ExpireSessions expires the still-live sessions among ids in one statement.
func (s *PostgresStore) ExpireSessions(ctx context.Context, now time.Time, ids []uuid.UUID) ([]Ref, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		UPDATE `+s.sessions()+`
		   SET expired_at = $2
		 WHERE id = ANY($1::uuid[])
		   AND (expired_at IS NULL OR expired_at > $2)
		RETURNING id, account_id, expired_at`, uuidStrings(ids), now)
	if err != nil {
		return nil, err
	}
	return collectRefs(rows)
}

// ExpireAccount expires every live session of an account.
func (s *PostgresStore) ExpireAccount(ctx context.Context, now time.Time, accountID uuid.UUID) ([]Ref, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE `+s.sessions()+`
		   SET expired_at = $2
		 WHERE account_id = $1
		   AND (expired_at IS NULL OR expired_at > $2)
		RETURNING id, account_id, expired_at`, accountID, now)
	if err != nil {
		return nil, err
	}
	return collectRefs(rows)
}

// PurgeExpired deletes sessions that expired before cutoff and back no API key.
func (s *PostgresStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM `+s.sessions()+` s
		 WHERE s.expired_at IS NOT NULL
		   AND s.expired_at < $1
		   AND NOT EXISTS (SELECT 1 FROM `+s.apiKeys()+` k WHERE k.session_id = s.id)`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// CreateAPIKey inserts the key's session and the key row in one transaction.
func (s *PostgresStore) CreateAPIKey(ctx context.Context, key APIKey, sess Session) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.insertTx(ctx, tx, sess); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO `+s.apiKeys()+` (id, account_id, label, session_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.AccountID, key.Label, key.SessionID, key.CreatedAt, key.UpdatedAt,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetAPIKey loads a key by id.
func (s *PostgresStore) GetAPIKey(ctx context.Context, id uuid.UUID) (APIKey, error) {
	return s.getAPIKeyTx(ctx, s.pool, id, false)
}

func (s *PostgresStore) getAPIKeyTx(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (APIKey, error) {
	lock := ""
	if forUpdate {
		lock = " FOR UPDATE"
	}
	var k APIKey
	err := q.QueryRow(ctx, `
		SELECT id, account_id, label, session_id, created_at, updated_at
		  FROM `+s.apiKeys()+`
		 WHERE id = $1`+lock, id,
	).Scan(&k.ID, &k.AccountID, &k.Label, &k.SessionID, &k.CreatedAt, &k.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return APIKey{}, ErrAPIKeyNotFound
	}
	if err != nil {
		return APIKey{}, err
	}
	return k, nil
}

// ListAPIKeys lists an account's keys, newest first.
func (s *PostgresStore) ListAPIKeys(ctx context.Context, accountID uuid.UUID) ([]APIKey, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, label, session_id, created_at, updated_at
		  FROM `+s.apiKeys()+`
		 WHERE account_id = $1
		 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []APIKey
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.AccountID, &k.Label, &k.SessionID, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// RotateAPIKey swaps the key's session under a row lock held for the whole transaction.
func (s *PostgresStore) RotateAPIKey(ctx context.Context, now time.Time, keyID uuid.UUID, next func(old Session) Session, hook RotateHook) (APIKey, Session, error) {
	fail := func(step string, err error) (APIKey, Session, error) {
		return APIKey{}, Session{}, RotationError{KeyID: keyID.String(), Step: step, Err: err}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fail("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	key, err := s.getAPIKeyTx(ctx, tx, keyID, true)
	if err != nil {
		if errors.Is(err, ErrAPIKeyNotFound) {
			return APIKey{}, Session{}, err
		}
		return fail("lock key", err)
	}

	old, err := scanSession(tx.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		  FROM `+s.sessions()+`
		 WHERE id = $1`, key.SessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = ErrSessionNotFound
		}
		return fail("load session", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE `+s.sessions()+`
		   SET expired_at = $2
		 WHERE id = $1`, old.ID, now); err != nil {
		return fail("expire session", err)
	}

	fresh := next(old)
	if err := s.insertTx(ctx, tx, fresh); err != nil {
		return fail("insert session", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE `+s.apiKeys()+`
		   SET session_id = $2, updated_at = $3
		 WHERE id = $1`, key.ID, fresh.ID, now); err != nil {
		return fail("repoint key", err)
	}
	key.SessionID = fresh.ID
	key.UpdatedAt = now

	// Children of the old session would otherwise block the delete.
	if _, err := tx.Exec(ctx, `
		UPDATE `+s.sessions()+`
		   SET parent_session_id = $2
		 WHERE parent_session_id = $1`, old.ID, fresh.ID); err != nil {
		return fail("reparent children", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM `+s.sessions()+` WHERE id = $1`, old.ID); err != nil {
		return fail("delete session", err)
	}

	if hook != nil {
		if err := hook(ctx, old, fresh); err != nil {
			return fail("hook", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fail("commit", err)
	}
	return key, fresh, nil
}

// DeleteAPIKey removes the key and its session.
func (s *PostgresStore) DeleteAPIKey(ctx context.Context, keyID uuid.UUID) (APIKey, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return APIKey{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	key, err := s.getAPIKeyTx(ctx, tx, keyID, true)
	if err != nil {
		return APIKey{}, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM `+s.apiKeys()+` WHERE id = $1`, key.ID); err != nil {
		return APIKey{}, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE `+s.sessions()+`
		   SET parent_session_id = NULL
		 WHERE parent_session_id = $1`, key.SessionID); err != nil {
		return APIKey{}, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM `+s.sessions()+` WHERE id = $1`, key.SessionID); err != nil {
		return APIKey{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return APIKey{}, err
	}
	return key, nil
}

func scanSession(row pgx.Row) (Session, error) {
	var sess Session
	err := row.Scan(
		&sess.ID, &sess.AccountID, &sess.ChallengeID, &sess.ClientID, &sess.AppID, &sess.ParentSessionID,
		&sess.Scopes, &sess.Audiences, &sess.LastGrantedAt, &sess.ExpiredAt, &sess.CreatedAt,
	)
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

func collectRefs(rows pgx.Rows) ([]Ref, error) {
	defer rows.Close()
	var out []Ref
	for rows.Next() {
		var r Ref
		if err := rows.Scan(&r.ID, &r.AccountID, &r.ExpiredAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}
