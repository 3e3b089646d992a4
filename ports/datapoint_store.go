package ports

import (
	"context"

	"protosignal/domain/analysis"
	"protosignal/domain/core"
)

// DataPointStorePort provides read-only access to the validated, decrypted
// submissions for a protocol. Owned by the collection subsystem; the engine
// never writes through it. Fetch failures must wrap core.ErrStoreUnavailable
// so the cache's retry policy can recognize them.
type DataPointStorePort interface {
	// Fetch returns every validated data point recorded for the protocol.
	Fetch(ctx context.Context, protocolID core.ProtocolID) ([]analysis.DataPoint, error)

	// LatestRecordedAt returns the recorded-at timestamp of the newest data
	// point for the protocol, or a zero timestamp if none exist. Used for
	// cheap staleness checks without a full fetch.
	LatestRecordedAt(ctx context.Context, protocolID core.ProtocolID) (core.Timestamp, error)
}

// ProtocolDirectoryPort supplies protocol metadata (start date, expected
// check-in cadence) from the protocol-management collaborator. Used only to
// compute recency and seasonality windows.
type ProtocolDirectoryPort interface {
	GetProtocol(ctx context.Context, protocolID core.ProtocolID) (*analysis.Protocol, error)
}
