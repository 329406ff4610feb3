package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// ExecutionSource lists trade executions for archiving.
type ExecutionSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.TradeExecution, error)
}

// PositionSource lists closed positions for archiving.
type PositionSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Position, error)
}

// ObjectChecker reports whether an object already exists.
type ObjectChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// multipartThreshold switches uploads to the multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// ArchiveImpl implements domain.Archiver. It serialises records older than
// the cutoff to JSONL and uploads one object per kind and cutoff date.
// Rows are not deleted from the primary store.
type ArchiveImpl struct {
	writer     domain.BlobWriter
	checker    ObjectChecker
	executions ExecutionSource
	positions  PositionSource
	audit      domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl. checker and audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	checker ObjectChecker,
	executions ExecutionSource,
	positions PositionSource,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:     writer,
		checker:    checker,
		executions: executions,
		positions:  positions,
		audit:      audit,
	}
}

// ArchiveExecutions uploads executions created before the cutoff to
// archive/executions/YYYY-MM-DD.jsonl and returns the number archived. An
// object already present for the cutoff date is left alone and 0 returned.
func (a *ArchiveImpl) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	path := archivePath("executions", before)
	done, err := a.exists(ctx, path)
	if err != nil || done {
		return 0, err
	}

	execs, err := a.executions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	return upload(ctx, a, "executions", path, before, execs)
}

// ArchivePositions uploads closed positions opened before the cutoff to
// archive/positions/YYYY-MM-DD.jsonl.
func (a *ArchiveImpl) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	path := archivePath("positions", before)
	done, err := a.exists(ctx, path)
	if err != nil || done {
		return 0, err
	}

	positions, err := a.positions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	return upload(ctx, a, "positions", path, before, positions)
}

func (a *ArchiveImpl) exists(ctx context.Context, path string) (bool, error) {
	if a.checker == nil {
		return false, nil
	}
	ok, err := a.checker.Exists(ctx, path)
	if err != nil {
		return false, fmt.Errorf("s3blob: archive check %s: %w", path, err)
	}
	return ok, nil
}

func upload[T any](ctx context.Context, a *ArchiveImpl, kind, path string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if a.audit == nil {
		return count, nil
	}
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// archivePath partitions archive objects by the UTC date of the cutoff.
//
//	archive/executions/2026-10-18.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

// marshalJSONL encodes each record as one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
