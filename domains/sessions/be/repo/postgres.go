package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agencyhub/agencyhub/domains/sessions/be/service"
	"github.com/agencyhub/agencyhub/platform/go/persistence"
)

// PostgresRepository stores sessions in each tenant's own database. Every
// operation borrows a connection from the pool registry for its duration, so
// saturation and connectivity errors surface with the registry's taxonomy.
type PostgresRepository struct {
	registry *persistence.Registry
}

func NewPostgresRepository(registry *persistence.Registry) *PostgresRepository {
	if registry == nil {
		panic("sessions repo requires pool registry")
	}
	return &PostgresRepository{registry: registry}
}

const sessionColumns = "id, user_id, token_hash, ip_address, user_agent, last_activity_at, expires_at, revoked_at, revoke_reason"

func (r *PostgresRepository) Create(ctx context.Context, databaseName string, rec service.Record) error {
	conn, err := r.registry.Acquire(ctx, databaseName)
	if err != nil {
		return err
	}
	defer r.registry.Release(conn)

	if _, err := conn.Exec(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, ip_address, user_agent, last_activity_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.UserID, rec.TokenHash,
		nullable(rec.IPAddress), nullable(rec.UserAgent),
		rec.LastActivityAt, rec.ExpiresAt,
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByTokenHash(ctx context.Context, databaseName, tokenHash string) (service.Record, error) {
	conn, err := r.registry.Acquire(ctx, databaseName)
	if err != nil {
		return service.Record{}, err
	}
	defer r.registry.Release(conn)

	row := conn.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE token_hash = $1", tokenHash)
	return scanSession(row)
}

func (r *PostgresRepository) ActiveByUser(ctx context.Context, databaseName string, userID uuid.UUID) ([]service.Record, error) {
	conn, err := r.registry.Acquire(ctx, databaseName)
	if err != nil {
		return nil, err
	}
	defer r.registry.Release(conn)

	rows, err := conn.Query(ctx,
		"SELECT "+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > NOW()
		ORDER BY last_activity_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []service.Record
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (r *PostgresRepository) Touch(ctx context.Context, databaseName string, id uuid.UUID, at time.Time) error {
	conn, err := r.registry.Acquire(ctx, databaseName)
	if err != nil {
		return err
	}
	defer r.registry.Release(conn)

	tag, err := conn.Exec(ctx,
		"UPDATE sessions SET last_activity_at = $2 WHERE id = $1 AND revoked_at IS NULL", id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrSessionNotFound
	}
	return nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, databaseName string, id uuid.UUID, reason string, at time.Time) error {
	conn, err := r.registry.Acquire(ctx, databaseName)
	if err != nil {
		return err
	}
	defer r.registry.Release(conn)

	tag, err := conn.Exec(ctx, `
		UPDATE sessions SET revoked_at = $2, revoke_reason = $3
		WHERE id = $1 AND revoked_at IS NULL`, id, at, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrSessionNotFound
	}
	return nil
}

func scanSession(row pgx.Row) (service.Record, error) {
	var (
		rec       service.Record
		ip, ua    *string
		reason    *string
		revokedAt *time.Time
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.TokenHash, &ip, &ua,
		&rec.LastActivityAt, &rec.ExpiresAt, &revokedAt, &reason); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return service.Record{}, service.ErrSessionNotFound
		}
		return service.Record{}, err
	}
	if ip != nil {
		rec.IPAddress = *ip
	}
	if ua != nil {
		rec.UserAgent = *ua
	}
	rec.RevokedAt = revokedAt
	if reason != nil {
		rec.RevokeReason = *reason
	}
	return rec, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ service.Repository = (*PostgresRepository)(nil)
