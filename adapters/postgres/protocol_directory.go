package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"protosignal/domain/analysis"
	"protosignal/domain/core"
	"protosignal/ports"
)

// ProtocolDirectoryImpl is a read-only view over the protocol-management
// collaborator's table. The engine only needs start date, cadence, and the
// required marker list.
type ProtocolDirectoryImpl struct {
	db *sqlx.DB
}

// NewProtocolDirectory creates a new PostgreSQL protocol directory
func NewProtocolDirectory(db *sqlx.DB) ports.ProtocolDirectoryPort {
	return &ProtocolDirectoryImpl{db: db}
}

// GetProtocol retrieves the protocol's analysis-relevant metadata
func (d *ProtocolDirectoryImpl) GetProtocol(ctx context.Context, protocolID core.ProtocolID) (*analysis.Protocol, error) {
	var (
		name           string
		startedAt      time.Time
		cadenceSeconds int64
		markers        pq.StringArray
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT name, started_at, check_in_cadence_seconds, required_markers
		FROM protocols
		WHERE id = $1`,
		protocolID.String()).Scan(&name, &startedAt, &cadenceSeconds, &markers)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrProtocolNotFound
	}
	if err != nil {
		return nil, err
	}

	p := &analysis.Protocol{
		ID:             protocolID,
		Name:           name,
		StartedAt:      core.NewTimestamp(startedAt),
		CheckInCadence: core.NewCadence(time.Duration(cadenceSeconds) * time.Second),
	}
	for _, m := range markers {
		p.RequiredMarkers = append(p.RequiredMarkers, core.MarkerKey(m))
	}
	return p, nil
}
