package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"identityd/core"

	_ "modernc.org/sqlite"
)

//go:embed schema/sqlite/schema.sql
var sqliteSchema string

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo := &SQLiteRepository{db: db}

	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) initSchema() error {
	_, err := r.db.Exec(sqliteSchema)
	return err
}

func (r *SQLiteRepository) FindUserByID(ctx context.Context, id int64) (*core.User, error) {
	query := `
		SELECT id, first_name, last_name, email, phone, is_active, created_at, updated_at
		FROM users
		WHERE id = ?
	`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteRepository) FindUserByEmail(ctx context.Context, email string) (*core.User, error) {
	query := `
		SELECT id, first_name, last_name, email, phone, is_active, created_at, updated_at
		FROM users
		WHERE email = ?
	`
	return r.scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *SQLiteRepository) scanUser(row *sql.Row) (*core.User, error) {
	var user core.User
	var phone sql.NullString
	var isActive int
	var createdAt, updatedAt int64

	err := row.Scan(
		&user.ID,
		&user.FirstName,
		&user.LastName,
		&user.Email,
		&phone,
		&isActive,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if phone.Valid {
		user.Phone = &phone.String
	}
	user.IsActive = isActive != 0
	user.CreatedAt = time.Unix(createdAt, 0).UTC()
	user.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &user, nil
}

// CreateUser inserts the user with its optional credential and optional first
// identity in a single transaction, so a second registration attempt leaves
// no partial rows behind.
func (r *SQLiteRepository) CreateUser(ctx context.Context, user *core.User, cred *core.PasswordCredential, identity *core.AuthIdentity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	var phone interface{}
	if user.Phone != nil {
		phone = *user.Phone
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO users (first_name, last_name, email, phone, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, user.FirstName, user.LastName, user.Email, phone, boolToInt(user.IsActive), now.Unix(), now.Unix())
	if err != nil {
		return mapConstraintError(err)
	}
	user.ID, err = result.LastInsertId()
	if err != nil {
		return err
	}

	if cred != nil {
		cred.UserID = user.ID
		cred.PasswordUpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO password_credentials (user_id, password_hash, password_updated_at)
			VALUES (?, ?, ?)
		`, cred.UserID, cred.PasswordHash, now.Unix())
		if err != nil {
			return mapConstraintError(err)
		}
	}

	if identity != nil {
		identity.UserID = user.ID
		identity.CreatedAt = now
		result, err = tx.ExecContext(ctx, `
			INSERT INTO auth_identities (user_id, provider, provider_subject, email, email_verified, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, identity.UserID, string(identity.Provider), identity.ProviderSubject, identity.Email, boolToInt(identity.EmailVerified), now.Unix())
		if err != nil {
			return mapConstraintError(err)
		}
		identity.ID, err = result.LastInsertId()
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *SQLiteRepository) FindPasswordCredential(ctx context.Context, userID int64) (*core.PasswordCredential, error) {
	query := `
		SELECT user_id, password_hash, password_updated_at
		FROM password_credentials
		WHERE user_id = ?
	`

	var cred core.PasswordCredential
	var updatedAt int64

	err := r.db.QueryRowContext(ctx, query, userID).Scan(&cred.UserID, &cred.PasswordHash, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cred.PasswordUpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &cred, nil
}

func (r *SQLiteRepository) FindIdentity(ctx context.Context, provider core.Provider, subject string) (*core.AuthIdentity, error) {
	query := `
		SELECT id, user_id, provider, provider_subject, email, email_verified, created_at
		FROM auth_identities
		WHERE provider = ? AND provider_subject = ?
	`

	var identity core.AuthIdentity
	var providerStr string
	var email sql.NullString
	var emailVerified int
	var createdAt int64

	err := r.db.QueryRowContext(ctx, query, string(provider), subject).Scan(
		&identity.ID,
		&identity.UserID,
		&providerStr,
		&identity.ProviderSubject,
		&email,
		&emailVerified,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	identity.Provider = core.Provider(providerStr)
	identity.Email = email.String
	identity.EmailVerified = emailVerified != 0
	identity.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &identity, nil
}

func (r *SQLiteRepository) CreateIdentity(ctx context.Context, identity *core.AuthIdentity) error {
	now := time.Now().UTC()
	identity.CreatedAt = now

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_identities (user_id, provider, provider_subject, email, email_verified, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, identity.UserID, string(identity.Provider), identity.ProviderSubject, identity.Email, boolToInt(identity.EmailVerified), now.Unix())
	if err != nil {
		return mapConstraintError(err)
	}

	identity.ID, err = result.LastInsertId()
	return err
}

func (r *SQLiteRepository) CreateRefreshToken(ctx context.Context, token *core.RefreshToken) error {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (user_id, token_hash, issued_at, expires_at, user_agent, ip_address)
		VALUES (?, ?, ?, ?, ?, ?)
	`, token.UserID, token.TokenHash, token.IssuedAt.Unix(), token.ExpiresAt.Unix(), token.UserAgent, token.IPAddress)
	if err != nil {
		return err
	}

	token.ID, err = result.LastInsertId()
	return err
}

func (r *SQLiteRepository) FindRefreshTokenByHash(ctx context.Context, tokenHash string) (*core.RefreshToken, error) {
	query := `
		SELECT id, user_id, token_hash, issued_at, expires_at, revoked_at, replaced_by_token_hash, user_agent, ip_address
		FROM refresh_tokens
		WHERE token_hash = ?
	`

	var token core.RefreshToken
	var issuedAt, expiresAt int64
	var revokedAt sql.NullInt64
	var replacedBy, userAgent, ipAddress sql.NullString

	err := r.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&issuedAt,
		&expiresAt,
		&revokedAt,
		&replacedBy,
		&userAgent,
		&ipAddress,
	)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	token.IssuedAt = time.Unix(issuedAt, 0).UTC()
	token.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	if revokedAt.Valid {
		t := time.Unix(revokedAt.Int64, 0).UTC()
		token.RevokedAt = &t
	}
	if replacedBy.Valid {
		token.ReplacedByTokenHash = &replacedBy.String
	}
	token.UserAgent = userAgent.String
	token.IPAddress = ipAddress.String

	return &token, nil
}

// RevokeRefreshToken is the conditional write guarding against double
// rotation: only a row with revoked_at still null is touched.
func (r *SQLiteRepository) RevokeRefreshToken(ctx context.Context, tokenHash string, now time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = ?
		WHERE token_hash = ? AND revoked_at IS NULL
	`, now.Unix(), tokenHash)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return classifyRevokeMiss(ctx, r.db, tokenHash)
	}
	return nil
}

// RotateRefreshToken revokes the old row and inserts its replacement in one
// transaction. A concurrent rotation of the same secret loses here with
// ErrTokenRevoked.
func (r *SQLiteRepository) RotateRefreshToken(ctx context.Context, oldHash string, now time.Time, next *core.RefreshToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = ?, replaced_by_token_hash = ?
		WHERE token_hash = ? AND revoked_at IS NULL
	`, now.Unix(), next.TokenHash, oldHash)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Inspect through the transaction; with a single pooled connection a
		// side query on the pool would deadlock.
		return classifyRevokeMiss(ctx, tx, oldHash)
	}

	insert, err := tx.ExecContext(ctx, `
		INSERT INTO refresh_tokens (user_id, token_hash, issued_at, expires_at, user_agent, ip_address)
		VALUES (?, ?, ?, ?, ?, ?)
	`, next.UserID, next.TokenHash, next.IssuedAt.Unix(), next.ExpiresAt.Unix(), next.UserAgent, next.IPAddress)
	if err != nil {
		return err
	}
	next.ID, err = insert.LastInsertId()
	if err != nil {
		return err
	}

	return tx.Commit()
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func classifyRevokeMiss(ctx context.Context, q rowQuerier, tokenHash string) error {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM refresh_tokens WHERE token_hash = ?`, tokenHash).Scan(&id)
	if err == sql.ErrNoRows {
		return core.ErrNotFound
	}
	if err != nil {
		return err
	}
	return core.ErrTokenRevoked
}

func (r *SQLiteRepository) FindGroupMembership(ctx context.Context, userID, groupID int64) (*core.GroupMembership, error) {
	query := `
		SELECT user_id, group_id, role
		FROM group_memberships
		WHERE user_id = ? AND group_id = ?
	`

	var membership core.GroupMembership
	err := r.db.QueryRowContext(ctx, query, userID, groupID).Scan(&membership.UserID, &membership.GroupID, &membership.Role)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &membership, nil
}

func (r *SQLiteRepository) CreateGroupMembership(ctx context.Context, membership *core.GroupMembership) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO group_memberships (user_id, group_id, role)
		VALUES (?, ?, ?)
	`, membership.UserID, membership.GroupID, membership.Role)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// mapConstraintError translates sqlite uniqueness violations into the domain
// conflicts the core expects instead of leaking driver errors.
func mapConstraintError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return err
	}
	switch {
	case strings.Contains(msg, "users.email"):
		return core.ErrEmailTaken
	case strings.Contains(msg, "auth_identities"):
		return core.ErrAlreadyLinked
	default:
		return err
	}
}
