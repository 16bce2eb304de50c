package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arc-self/rotor/internal/model"
)

// ConfigBackend is the Postgres-backed configstore.Backend: connections and
// function definitions live in ordinary relational tables, with the
// connection's opaque options/credentials stored as JSONB.
type ConfigBackend struct {
	pool *pgxpool.Pool
}

// NewConfigBackend builds a ConfigBackend backed by pool.
func NewConfigBackend(pool *pgxpool.Pool) *ConfigBackend {
	return &ConfigBackend{pool: pool}
}

// GetConnection returns the connection record for id, or (nil, nil) if no
// such connection exists.
func (b *ConfigBackend) GetConnection(ctx context.Context, id string) (*model.Connection, error) {
	const q = `
		SELECT id, workspace_id, stream_id, destination_id, type, updated_at,
		       credentials_hash, mode, options, uses_bulker, credentials
		FROM rotor_connections
		WHERE id = $1
	`
	row := b.pool.QueryRow(ctx, q, id)

	var (
		c           model.Connection
		optionsJSON []byte
		credsJSON   []byte
	)
	err := row.Scan(
		&c.ID, &c.WorkspaceID, &c.StreamID, &c.DestinationID, &c.Type, &c.UpdatedAt,
		&c.CredentialsHash, &c.Mode, &optionsJSON, &c.UsesBulker, &credsJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config backend: get connection %q: %w", id, err)
	}

	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &c.Options); err != nil {
			return nil, fmt.Errorf("config backend: decode options for %q: %w", id, err)
		}
	}
	if len(credsJSON) > 0 {
		if err := json.Unmarshal(credsJSON, &c.Credentials); err != nil {
			return nil, fmt.Errorf("config backend: decode credentials for %q: %w", id, err)
		}
	}
	return &c, nil
}

// GetFunction returns the function definition for id, or (nil, nil) if no
// such function exists.
func (b *ConfigBackend) GetFunction(ctx context.Context, id string) (*model.FunctionDefinition, error) {
	const q = `
		SELECT id, workspace_id, name, code
		FROM rotor_function_definitions
		WHERE id = $1
	`
	row := b.pool.QueryRow(ctx, q, id)

	var d model.FunctionDefinition
	err := row.Scan(&d.ID, &d.WorkspaceID, &d.Name, &d.Code)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config backend: get function %q: %w", id, err)
	}
	return &d, nil
}
