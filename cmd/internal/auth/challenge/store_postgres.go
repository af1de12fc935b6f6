package challenge

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over passport.auth_challenges.
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
			return fmt.Errorf("challenge: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
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
		return nil, fmt.Errorf("challenge: nil pool")
	}
	return st, nil
}

const challengeColumns = `id, account_id, type, step_total, step_remain, failed_attempts,
	blacklist_factors::text[], audiences, scopes, ip_address, user_agent, location,
	device_id, platform, client_id, expired_at, created_at`

func (s *PostgresStore) challenges() string { return pgIdent(s.schema, "auth_challenges") }

// Create persists a new challenge.
func (s *PostgresStore) Create(ctx context.Context, c Challenge) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.challenges()+` (
			id, account_id, type, step_total, step_remain, failed_attempts,
			blacklist_factors, audiences, scopes, ip_address, user_agent, location,
			device_id, platform, client_id, expired_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::uuid[], $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		c.ID, c.AccountID, string(c.Type), c.StepTotal, c.StepRemain, c.FailedAttempts,
		uuidStrings(c.BlacklistFactors), nonNil(c.Audiences), nonNil(c.Scopes),
		c.IPAddress, c.UserAgent, c.Location, c.DeviceID, string(c.Platform), c.ClientID,
		c.ExpiredAt, c.CreatedAt,
	)
	return err
}

// Get loads a challenge by id.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Challenge, error) {
	c, err := scanChallenge(s.pool.QueryRow(ctx, `
		SELECT `+challengeColumns+`
		  FROM `+s.challenges()+`
		 WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Challenge{}, ErrNotFound
	}
	return c, err
}

// FindOpen returns the newest reusable challenge for the request context.
func (s *PostgresStore) FindOpen(ctx context.Context, now time.Time, accountID uuid.UUID, rc RequestContext) (Challenge, error) {
	c, err := scanChallenge(s.pool.QueryRow(ctx, `
		SELECT `+challengeColumns+`
		  FROM `+s.challenges()+`
		 WHERE account_id = $1
		   AND ip_address = $2
		   AND user_agent = $3
		   AND device_id = $4
		   AND step_remain > 0
		   AND expired_at >= $5
		 ORDER BY created_at DESC
		 LIMIT 1`, accountID, rc.IPAddress, rc.UserAgent, rc.DeviceID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return Challenge{}, ErrNotFound
	}
	return c, err
}

// RecordSuccess applies a verified factor in one conditional update.
func (s *PostgresStore) RecordSuccess(ctx context.Context, id, factorID uuid.UUID, weight int) (Challenge, error) {
	c, err := scanChallenge(s.pool.QueryRow(ctx, `
		UPDATE `+s.challenges()+`
		   SET step_remain = GREATEST(step_remain - GREATEST($3, 0), 0),
		       blacklist_factors = array_append(blacklist_factors, $2::uuid)
		 WHERE id = $1
		   AND step_remain > 0
		   AND NOT ($2::uuid = ANY(blacklist_factors))
		RETURNING `+challengeColumns, id, factorID, weight))
	if !errors.Is(err, pgx.ErrNoRows) {
		return c, err
	}
	// The challenge is gone, the factor was applied concurrently, or another
	// factor completed it first.
	cur, gerr := s.Get(ctx, id)
	if gerr != nil {
		return Challenge{}, gerr
	}
	if cur.Blacklisted(factorID) {
		return Challenge{}, ErrFactorUsed
	}
	return Challenge{}, ErrChallengeCompleted
}

// RecordFailure increments failed_attempts.
func (s *PostgresStore) RecordFailure(ctx context.Context, id uuid.UUID) (Challenge, error) {
	c, err := scanChallenge(s.pool.QueryRow(ctx, `
		UPDATE `+s.challenges()+`
		   SET failed_attempts = failed_attempts + 1
		 WHERE id = $1
		RETURNING `+challengeColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Challenge{}, ErrNotFound
	}
	return c, err
}

// LoadHistory reads the account's recent login history for risk scoring.
func (s *PostgresStore) LoadHistory(ctx context.Context, now time.Time, accountID uuid.UUID, rc RequestContext) (History, error) {
	sessions := pgIdent(s.schema, "auth_sessions")
	clients := pgIdent(s.schema, "auth_clients")

	var h History

	rows, err := s.pool.Query(ctx, `
		SELECT c.ip_address
		  FROM (SELECT challenge_id, created_at
		          FROM `+sessions+`
		         WHERE account_id = $1 AND challenge_id IS NOT NULL
		         ORDER BY created_at DESC
		         LIMIT 10) recent
		  JOIN `+s.challenges()+` c ON c.id = recent.challenge_id
		 ORDER BY recent.created_at DESC`, accountID)
	if err != nil {
		return History{}, err
	}
	h.RecentIPs, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return History{}, err
	}

	err = s.pool.QueryRow(ctx, `
		SELECT
		  EXISTS (SELECT 1 FROM `+s.challenges()+` WHERE account_id = $1 AND user_agent = $2 AND $2 <> ''),
		  (SELECT max(created_at) FROM `+sessions+` WHERE account_id = $1),
		  (SELECT count(*) FROM `+s.challenges()+` WHERE account_id = $1 AND failed_attempts > 0 AND created_at > $3),
		  EXISTS (SELECT 1
		            FROM `+sessions+` se
		            JOIN `+clients+` cl ON cl.id = se.client_id
		           WHERE se.account_id = $1
		             AND cl.device_id = $4 AND $4 <> ''
		             AND COALESCE(se.last_granted_at, se.created_at) > $5)`,
		accountID, rc.UserAgent, now.Add(-time.Hour), rc.DeviceID, now.Add(-30*24*time.Hour),
	).Scan(&h.UserAgentSeen, &h.LastLoginAt, &h.FailedLastHour, &h.DeviceUsedRecently)
	if err != nil {
		return History{}, err
	}
	return h, nil
}

func scanChallenge(row pgx.Row) (Challenge, error) {
	var c Challenge
	var blacklist []string
	err := row.Scan(
		&c.ID, &c.AccountID, &c.Type, &c.StepTotal, &c.StepRemain, &c.FailedAttempts,
		&blacklist, &c.Audiences, &c.Scopes, &c.IPAddress, &c.UserAgent, &c.Location,
		&c.DeviceID, &c.Platform, &c.ClientID, &c.ExpiredAt, &c.CreatedAt,
	)
	if err != nil {
		return Challenge{}, err
	}
	for _, raw := range blacklist {
		id, err := uuid.Parse(raw)
		if err != nil {
			return Challenge{}, fmt.Errorf("challenge: blacklist entry %q: %w", raw, err)
		}
		c.BlacklistFactors = append(c.BlacklistFactors, id)
	}
	return c, nil
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

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}
