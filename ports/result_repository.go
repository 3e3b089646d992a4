package ports

import (
	"context"

	"protosignal/domain/analysis"
	"protosignal/domain/core"
)

// ResultRepositoryPort persists the one live AnalysisResult per protocol.
// Save supersedes any previous row for the same protocol; Load returns
// core.ErrResultNotFound when no result has been persisted yet.
type ResultRepositoryPort interface {
	Save(ctx context.Context, result *analysis.AnalysisResult) error
	Load(ctx context.Context, protocolID core.ProtocolID) (*analysis.AnalysisResult, error)
	Delete(ctx context.Context, protocolID core.ProtocolID) error
}
