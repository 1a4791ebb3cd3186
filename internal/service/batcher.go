package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/study-analytics-api/internal/models"
	"github.com/noah-isme/study-analytics-api/pkg/sink"
)

// DefaultPageSize is the number of records sent per ingestion request.
const DefaultPageSize = 100

// RecordFunc produces the record at index i.
type RecordFunc func(ctx context.Context, i int) (models.ExportRecord, error)

// SentFunc runs after a page has been accepted by the sink.
type SentFunc func(ctx context.Context, page int, result sink.Result) error

// PageSender delivers one page of records.
type PageSender interface {
	Ingest(ctx context.Context, rc models.RequestContext, records []models.ExportRecord) (sink.Result, error)
}

type batchObserver interface {
	ObserveExportPage(records int, success bool)
}

// BatchResult summarises an export run. Pages counts accepted pages and Failed rejected
// ones; Last is the response to the final request and is zero when nothing was sent.
type BatchResult struct {
	Pages   int         `json:"pages"`
	Failed  int         `json:"failed"`
	Records int         `json:"records"`
	Last    sink.Result `json:"last"`
}

// PageError reports rejected pages of a run that kept going after the first failure.
type PageError struct {
	Failed int
	Total  int
	First  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("%d of %d pages rejected: %v", e.Failed, e.Total, e.First)
}

func (e *PageError) Unwrap() error { return e.First }

// BatcherConfig tunes page sizing.
type BatcherConfig struct {
	PageSize int
}

// Batcher groups records into fixed size pages and ships them in order.
type Batcher struct {
	sender   PageSender
	metrics  batchObserver
	logger   *zap.Logger
	pageSize int
}

// NewBatcher constructs a batcher.
func NewBatcher(sender PageSender, metrics batchObserver, logger *zap.Logger, cfg BatcherConfig) *Batcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &Batcher{sender: sender, metrics: metrics, logger: logger, pageSize: cfg.PageSize}
}

// PageSize returns the configured page size.
func (b *Batcher) PageSize() int {
	return b.pageSize
}

// Export sends n records produced by next, one request per page. Rejected pages do not
// stop the run; onSent is called only for accepted pages and the rejections are returned
// as a *PageError. Record and onSent errors end the run immediately.
func (b *Batcher) Export(ctx context.Context, rc models.RequestContext, n int, next RecordFunc, onSent SentFunc) (*BatchResult, error) {
	result := &BatchResult{}
	page := make([]models.ExportRecord, 0, minInt(n, b.pageSize))
	var firstErr error
	attempts := 0

	flush := func() error {
		if len(page) == 0 {
			return nil
		}
		attempts++
		res, err := b.sender.Ingest(ctx, rc, page)
		if b.metrics != nil {
			b.metrics.ObserveExportPage(len(page), err == nil)
		}
		result.Last = res
		size := len(page)
		page = make([]models.ExportRecord, 0, b.pageSize)
		if err != nil {
			b.logger.Warn("export page rejected",
				zap.String("identity", rc.Identity),
				zap.Int("page", attempts),
				zap.Int("records", size),
				zap.Error(err),
			)
			result.Failed++
			if firstErr == nil {
				firstErr = err
			}
			return nil
		}
		result.Pages++
		result.Records += size
		if onSent != nil {
			if err := onSent(ctx, attempts, res); err != nil {
				return fmt.Errorf("after page %d: %w", attempts, err)
			}
		}
		return nil
	}

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		record, err := next(ctx, i)
		if err != nil {
			return result, fmt.Errorf("build record %d: %w", i, err)
		}
		page = append(page, record)
		if len(page) == b.pageSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}
	if firstErr != nil {
		return result, &PageError{Failed: result.Failed, Total: attempts, First: firstErr}
	}
	return result, nil
}

// ExportRecords is Export over an in-memory slice.
func (b *Batcher) ExportRecords(ctx context.Context, rc models.RequestContext, records []models.ExportRecord, onSent SentFunc) (*BatchResult, error) {
	return b.Export(ctx, rc, len(records), func(_ context.Context, i int) (models.ExportRecord, error) {
		return records[i], nil
	}, onSent)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
