// Copyright 2025 AetherEngine
//
// Artifact Event Repository - append-only event log

package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// EventRepository handles artifact event operations
type EventRepository struct {
	client *Client
}

// NewEventRepository creates a new event repository
func NewEventRepository(client *Client) *EventRepository {
	return &EventRepository{client: client}
}

// Insert appends an event to the artifact log
func (r *EventRepository) Insert(ctx context.Context, artifactID uuid.UUID, eventType EventType) error {
	_, err := r.client.ExecContext(ctx,
		"INSERT INTO artifact_events (artifact_id, event_type) VALUES ($1, $2)",
		artifactID, eventType)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// ListForArtifact returns events for one artifact, oldest first
func (r *EventRepository) ListForArtifact(ctx context.Context, artifactID uuid.UUID) ([]*ArtifactEvent, error) {
	rows, err := r.client.QueryContext(ctx,
		"SELECT id, artifact_id, event_type, ts FROM artifact_events WHERE artifact_id = $1 ORDER BY id",
		artifactID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []*ArtifactEvent
	for rows.Next() {
		ev := &ArtifactEvent{}
		if err := rows.Scan(&ev.ID, &ev.ArtifactID, &ev.EventType, &ev.TS); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
