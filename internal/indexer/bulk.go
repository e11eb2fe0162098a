// Package indexer commits upsert batches to the search index.
package indexer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/aggtube-harvester/internal/harvest"
	"github.com/JakeFAU/aggtube-harvester/internal/metrics"
)

// Indexer wraps a BulkWriter with logging and metrics.
type Indexer struct {
	writer harvest.BulkWriter
	logger *zap.Logger
	now    func() time.Time
}

// New constructs an Indexer.
func New(writer harvest.BulkWriter, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{writer: writer, logger: logger, now: time.Now}
}

// Commit sends ops in a single bulk round trip. An error means the request as a whole
// failed; rejected operations are only reported.
func (i *Indexer) Commit(ctx context.Context, ops []harvest.BulkOperation) (harvest.BulkReport, error) {
	if len(ops) == 0 {
		i.logger.Debug("empty batch; nothing to commit")
		return harvest.BulkReport{}, nil
	}
	for idx, op := range ops {
		if !op.DocAsUpsert {
			return harvest.BulkReport{}, fmt.Errorf("commit batch: operation %d (%s/%s) is not an upsert", idx, op.Index, op.ID)
		}
	}

	start := i.now()
	report, err := i.writer.Bulk(ctx, ops)
	metrics.ObserveBulkRequest(i.now().Sub(start))
	if err != nil {
		i.logger.Error("bulk request failed", zap.Int("operations", len(ops)), zap.Error(err))
		return harvest.BulkReport{}, fmt.Errorf("commit batch: %w", err)
	}

	for _, res := range report.Results {
		metrics.ObserveBulkOperation(res.Index, res.OK())
	}
	failed := report.Failed()
	for _, res := range failed {
		i.logger.Warn("bulk operation rejected",
			zap.String("index", res.Index),
			zap.String("id", res.ID),
			zap.Int("status", res.Status),
			zap.String("reason", res.Error),
		)
	}
	i.logger.Info("batch committed",
		zap.Int("operations", len(ops)),
		zap.Int("succeeded", report.Succeeded()),
		zap.Int("failed", len(failed)),
	)
	return report, nil
}
