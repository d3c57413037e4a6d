// Copyright 2025 AetherEngine
//
// User Repository - bearer token lookup for db auth mode. Tokens are
// stored hashed; the raw token never touches the database.

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// UserRepository handles API token lookups
type UserRepository struct {
	client *Client
}

// NewUserRepository creates a new user repository
func NewUserRepository(client *Client) *UserRepository {
	return &UserRepository{client: client}
}

// GetByTokenHash resolves a sha256(token) hex to a user
func (r *UserRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*User, error) {
	u := &User{}
	err := r.client.QueryRowContext(ctx,
		"SELECT id, token_hash, role, subject, created_at FROM users WHERE token_hash = $1",
		tokenHash).
		Scan(&u.ID, &u.TokenHash, &u.Role, &u.Subject, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	return u, nil
}
