package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"protosignal/domain/analysis"
	"protosignal/domain/core"
	"protosignal/ports"
)

// ResultRepositoryImpl implements ResultRepositoryPort for PostgreSQL.
// One row per protocol: the serialized AnalysisResult plus its generated-at
// timestamp - the only persistent schema this engine owns.
type ResultRepositoryImpl struct {
	db *sqlx.DB
}

// NewResultRepository creates a new PostgreSQL result repository
func NewResultRepository(db *sqlx.DB) ports.ResultRepositoryPort {
	return &ResultRepositoryImpl{db: db}
}

// Save upserts the protocol's live result. The generated-at guard keeps
// per-protocol monotonicity even if two processes race.
func (r *ResultRepositoryImpl) Save(ctx context.Context, result *analysis.AnalysisResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal analysis result: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO analysis_results (protocol_id, result, generated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (protocol_id) DO UPDATE SET
			result = EXCLUDED.result,
			generated_at = EXCLUDED.generated_at
		WHERE analysis_results.generated_at <= EXCLUDED.generated_at`,
		result.ProtocolID.String(), payload, result.Metadata.GeneratedAt.Time())

	return err
}

// Load retrieves the protocol's persisted result
func (r *ResultRepositoryImpl) Load(ctx context.Context, protocolID core.ProtocolID) (*analysis.AnalysisResult, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT result FROM analysis_results WHERE protocol_id = $1`,
		protocolID.String()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}

	var result analysis.AnalysisResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("unmarshal analysis result: %w", err)
	}
	return &result, nil
}

// Delete removes the protocol's persisted result
func (r *ResultRepositoryImpl) Delete(ctx context.Context, protocolID core.ProtocolID) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM analysis_results WHERE protocol_id = $1`, protocolID.String())
	return err
}
