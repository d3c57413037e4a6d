// Copyright 2025 AetherEngine
//
// Application Repository - CRUD operations for applications and their
// signing keys

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// ApplicationRepository handles application operations
type ApplicationRepository struct {
	client *Client
}

// NewApplicationRepository creates a new application repository
func NewApplicationRepository(client *Client) *ApplicationRepository {
	return &ApplicationRepository{client: client}
}

// Create inserts a new application
func (r *ApplicationRepository) Create(ctx context.Context, name string) (*Application, error) {
	app := &Application{}
	err := r.client.QueryRowContext(ctx, `
		INSERT INTO applications (name) VALUES ($1)
		RETURNING id, name, created_at, updated_at`, name).
		Scan(&app.ID, &app.Name, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err, "") {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("failed to create application: %w", err)
	}
	return app, nil
}

// GetByName retrieves an application by its unique name
func (r *ApplicationRepository) GetByName(ctx context.Context, name string) (*Application, error) {
	app := &Application{}
	err := r.client.QueryRowContext(ctx,
		"SELECT id, name, created_at, updated_at FROM applications WHERE name = $1", name).
		Scan(&app.ID, &app.Name, &app.CreatedAt, &app.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrApplicationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return app, nil
}

// IDByName resolves an optional application link; a missing application is
// not an error, the artifact simply stays unlinked
func (r *ApplicationRepository) IDByName(ctx context.Context, name string) (uuid.NullUUID, error) {
	var id uuid.UUID
	err := r.client.QueryRowContext(ctx,
		"SELECT id FROM applications WHERE name = $1", name).Scan(&id)
	if err == sql.ErrNoRows {
		return uuid.NullUUID{}, nil
	}
	if err != nil {
		return uuid.NullUUID{}, fmt.Errorf("failed to resolve application: %w", err)
	}
	return uuid.NullUUID{UUID: id, Valid: true}, nil
}

// List returns all applications, newest first
func (r *ApplicationRepository) List(ctx context.Context) ([]*Application, error) {
	rows, err := r.client.QueryContext(ctx,
		"SELECT id, name, created_at, updated_at FROM applications ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	var out []*Application
	for rows.Next() {
		app := &Application{}
		if err := rows.Scan(&app.ID, &app.Name, &app.CreatedAt, &app.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		out = append(out, app)
	}
	return out, rows.Err()
}

// ============================================================================
// PUBLIC KEY OPERATIONS
// ============================================================================

// PublicKeyRepository handles application signing key operations
type PublicKeyRepository struct {
	client *Client
}

// NewPublicKeyRepository creates a new public key repository
func NewPublicKeyRepository(client *Client) *PublicKeyRepository {
	return &PublicKeyRepository{client: client}
}

// Add registers a new active verification key for an application
func (r *PublicKeyRepository) Add(ctx context.Context, appID uuid.UUID, publicKeyHex string) (*PublicKey, error) {
	key := &PublicKey{}
	err := r.client.QueryRowContext(ctx, `
		INSERT INTO public_keys (app_id, public_key_hex, active) VALUES ($1, $2, TRUE)
		RETURNING id, app_id, public_key_hex, active, created_at`, appID, publicKeyHex).
		Scan(&key.ID, &key.AppID, &key.PublicKeyHex, &key.Active, &key.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to add public key: %w", err)
	}
	return key, nil
}

// ActiveKeysForApp returns the hex public keys that participate in
// signature verification. Deactivated keys never come back.
func (r *PublicKeyRepository) ActiveKeysForApp(ctx context.Context, appID uuid.UUID) ([]string, error) {
	rows, err := r.client.QueryContext(ctx,
		"SELECT public_key_hex FROM public_keys WHERE app_id = $1 AND active", appID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan public key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Deactivate retires a key permanently. There is no reactivate: the
// verification history of stored artifacts must stay immutable.
func (r *PublicKeyRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := r.client.ExecContext(ctx,
		"UPDATE public_keys SET active = FALSE WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to deactivate key: %w", err)
	}
	return nil
}
