// Package postgres holds the engine's storage adapters. The engine owns a
// single persistent table: one serialized AnalysisResult per protocol.
// data_points and protocols belong to collaborators; their DDL here exists
// for local development and tests only.
package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS analysis_results (
		protocol_id  TEXT PRIMARY KEY,
		result       JSONB NOT NULL,
		generated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS data_points (
		id             TEXT PRIMARY KEY,
		protocol_id    TEXT NOT NULL,
		participant_id TEXT NOT NULL,
		type           TEXT NOT NULL,
		payload        JSONB,
		recorded_at    TIMESTAMPTZ NOT NULL,
		quality_flags  TEXT[]
	)`,
	`CREATE INDEX IF NOT EXISTS idx_data_points_protocol_recorded
		ON data_points (protocol_id, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS protocols (
		id                       TEXT PRIMARY KEY,
		name                     TEXT NOT NULL,
		started_at               TIMESTAMPTZ NOT NULL,
		check_in_cadence_seconds BIGINT NOT NULL,
		required_markers         TEXT[]
	)`,
}

// Migrate applies the engine's schema
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
