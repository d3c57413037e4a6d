// Copyright 2025 AetherEngine
//
// Deployment Repository - the control plane creates pending records and
// records status transitions reported by the external rollout controller

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// DeploymentRepository handles deployment record operations
type DeploymentRepository struct {
	client *Client
}

// NewDeploymentRepository creates a new deployment repository
func NewDeploymentRepository(client *Client) *DeploymentRepository {
	return &DeploymentRepository{client: client}
}

// Create inserts a pending deployment for an application
func (r *DeploymentRepository) Create(ctx context.Context, appID uuid.UUID, artifactURL string) (*Deployment, error) {
	d := &Deployment{}
	err := r.client.QueryRowContext(ctx, `
		INSERT INTO deployments (app_id, artifact_url, status) VALUES ($1, $2, 'pending')
		RETURNING id, app_id, artifact_url, status, reason, created_at`,
		appID, artifactURL).
		Scan(&d.ID, &d.AppID, &d.ArtifactURL, &d.Status, &d.Reason, &d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create deployment: %w", err)
	}
	return d, nil
}

// UpdateStatus applies a controller-reported transition
func (r *DeploymentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status DeploymentStatus, reason sql.NullString) (*Deployment, error) {
	d := &Deployment{}
	err := r.client.QueryRowContext(ctx, `
		UPDATE deployments SET status = $1, reason = $2 WHERE id = $3
		RETURNING id, app_id, artifact_url, status, reason, created_at`,
		status, reason, id).
		Scan(&d.ID, &d.AppID, &d.ArtifactURL, &d.Status, &d.Reason, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDeploymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update deployment: %w", err)
	}
	return d, nil
}

// ListForApp returns deployments for one application, newest first
func (r *DeploymentRepository) ListForApp(ctx context.Context, appID uuid.UUID) ([]*Deployment, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT id, app_id, artifact_url, status, reason, created_at
		FROM deployments WHERE app_id = $1 ORDER BY created_at DESC`, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	var out []*Deployment
	for rows.Next() {
		d := &Deployment{}
		if err := rows.Scan(&d.ID, &d.AppID, &d.ArtifactURL, &d.Status, &d.Reason, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
