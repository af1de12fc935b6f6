package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema identifiers are quoted through pgx.Identifier.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "passport").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "passport",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

// GetAccount loads an account by id.
func (s *PostgresStore) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	const op = "identity.GetAccount"

	accounts := pgIdent(s.schema, "accounts")
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at
		  FROM `+accounts+`
		 WHERE id = $1`, id)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	return a, err
}

// FindAccount resolves a login identifier by normalized email or name.
func (s *PostgresStore) FindAccount(ctx context.Context, identifier string) (Account, error) {
	const op = "identity.FindAccount"

	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing identifier"}
	}

	accounts := pgIdent(s.schema, "accounts")
	var row pgx.Row
	if LooksLikeEmail(identifier) {
		row = s.pool.QueryRow(ctx, `
			SELECT id, name, email, created_at
			  FROM `+accounts+`
			 WHERE lower(email) = $1`, NormalizeEmail(identifier))
	} else {
		row = s.pool.QueryRow(ctx, `
			SELECT id, name, email, created_at
			  FROM `+accounts+`
			 WHERE lower(name) = $1`, NormalizeName(identifier))
	}

	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	return a, err
}

// ListFactors returns the account's factors ordered by creation.
func (s *PostgresStore) ListFactors(ctx context.Context, accountID uuid.UUID) ([]Factor, error) {
	factors := pgIdent(s.schema, "auth_factors")
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, type, secret, trustworthy, enabled_at, expired_at, created_at
		  FROM `+factors+`
		 WHERE account_id = $1
		 ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Factor
	for rows.Next() {
		f, err := scanFactor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetFactor loads a factor scoped to its owner.
func (s *PostgresStore) GetFactor(ctx context.Context, accountID, factorID uuid.UUID) (Factor, error) {
	const op = "identity.GetFactor"

	factors := pgIdent(s.schema, "auth_factors")
	row := s.pool.QueryRow(ctx, `
		SELECT id, account_id, type, secret, trustworthy, enabled_at, expired_at, created_at
		  FROM `+factors+`
		 WHERE id = $1 AND account_id = $2`, factorID, accountID)
	f, err := scanFactor(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Factor{}, NotFoundError{Op: op, Resource: "factor"}
	}
	return f, err
}

// UpsertClient inserts or refreshes the (account_id, device_id) client row.
func (s *PostgresStore) UpsertClient(ctx context.Context, now time.Time, in ClientInput) (Client, error) {
	const op = "identity.UpsertClient"

	deviceID := strings.TrimSpace(in.DeviceID)
	if deviceID == "" {
		return Client{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing device_id"}
	}
	if in.Platform == "" {
		in.Platform = PlatformUnknown
	}

	clients := pgIdent(s.schema, "auth_clients")
	var c Client
	err := s.pool.QueryRow(ctx, `
		INSERT INTO `+clients+` (id, account_id, platform, device_id, device_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (account_id, device_id) DO UPDATE
		   SET device_name = EXCLUDED.device_name,
		       platform = EXCLUDED.platform,
		       updated_at = EXCLUDED.updated_at
		RETURNING id, account_id, platform, device_id, device_name, created_at, updated_at`,
		uuid.New(), in.AccountID, string(in.Platform), deviceID, strings.TrimSpace(in.DeviceName), now,
	).Scan(&c.ID, &c.AccountID, &c.Platform, &c.DeviceID, &c.DeviceName, &c.CreatedAt, &c.UpdatedAt)
	if pgIsForeignKeyViolation(err) {
		return Client{}, NotFoundError{Op: op, Resource: "account"}
	}
	if err != nil {
		return Client{}, err
	}
	return c, nil
}

// GetClient loads a client by id.
func (s *PostgresStore) GetClient(ctx context.Context, id uuid.UUID) (Client, error) {
	const op = "identity.GetClient"

	clients := pgIdent(s.schema, "auth_clients")
	var c Client
	err := s.pool.QueryRow(ctx, `
		SELECT id, account_id, platform, device_id, device_name, created_at, updated_at
		  FROM `+clients+`
		 WHERE id = $1`, id,
	).Scan(&c.ID, &c.AccountID, &c.Platform, &c.DeviceID, &c.DeviceName, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Client{}, NotFoundError{Op: op, Resource: "client"}
	}
	if err != nil {
		return Client{}, err
	}
	return c, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &a.CreatedAt); err != nil {
		return Account{}, err
	}
	return a, nil
}

func scanFactor(row pgx.Row) (Factor, error) {
	var f Factor
	err := row.Scan(&f.ID, &f.AccountID, &f.Type, &f.Secret, &f.Trustworthy, &f.EnabledAt, &f.ExpiredAt, &f.CreatedAt)
	if err != nil {
		return Factor{}, err
	}
	return f, nil
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}
