package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// OperationSource lists operations for export. domain.OperationStore satisfies it.
type OperationSource interface {
	List(ctx context.Context, f domain.OperationFilter, opts domain.ListOpts) ([]domain.Operation, error)
}

// AnalysisSource lists analyses for export. domain.AnalysisStore satisfies it.
type AnalysisSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Analysis, error)
}

// ObjectChecker reports whether a key is taken. *Reader satisfies it.
type ObjectChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// archivePageSize bounds each operation listing query.
const archivePageSize = 500

// ArchiveImpl implements domain.Archiver. It copies settled rows to JSONL
// objects and never deletes from the primary store.
type ArchiveImpl struct {
	writer     domain.BlobWriter
	existing   ObjectChecker
	operations OperationSource
	analyses   AnalysisSource
	audit      domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl. existing may be nil, in which case
// an earlier object at the same key is overwritten.
func NewArchiver(
	writer domain.BlobWriter,
	existing ObjectChecker,
	operations OperationSource,
	analyses AnalysisSource,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:     writer,
		existing:   existing,
		operations: operations,
		analyses:   analyses,
		audit:      audit,
	}
}

// ArchiveOperations exports terminal operations last updated before the cutoff.
func (a *ArchiveImpl) ArchiveOperations(ctx context.Context, before time.Time) (int64, error) {
	var settled []domain.Operation
	for _, status := range []domain.OperationStatus{domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelled} {
		for offset := 0; ; offset += archivePageSize {
			page, err := a.operations.List(ctx,
				domain.OperationFilter{Status: status},
				domain.ListOpts{Until: &before, Limit: archivePageSize, Offset: offset},
			)
			if err != nil {
				return 0, fmt.Errorf("s3blob: archive operations query: %w", err)
			}
			settled = append(settled, page...)
			if len(page) < archivePageSize {
				break
			}
		}
	}
	return upload(ctx, a, "operations", before, settled)
}

// ArchiveAnalyses exports analyses computed before the cutoff.
func (a *ArchiveImpl) ArchiveAnalyses(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.analyses.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive analyses query: %w", err)
	}
	return upload(ctx, a, "analyses", before, rows)
}

func upload[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	path, err := a.freePath(ctx, kind, before)
	if err != nil {
		return 0, err
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.UTC().Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// freePath returns the first unused key for the export, suffixing -1, -2...
// when an earlier run already wrote the same cutoff.
func (a *ArchiveImpl) freePath(ctx context.Context, kind string, before time.Time) (string, error) {
	base := archivePath(kind, before)
	if a.existing == nil {
		return base + ".jsonl", nil
	}
	for i := 0; i < 100; i++ {
		path := base + ".jsonl"
		if i > 0 {
			path = fmt.Sprintf("%s-%d.jsonl", base, i)
		}
		taken, err := a.existing.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive %s: %w", kind, err)
		}
		if !taken {
			return path, nil
		}
	}
	return "", fmt.Errorf("s3blob: archive %s: no free key under %s", kind, base)
}

// archivePath partitions by month of the cutoff:
//
//	archive/operations/2026-10/20261017T000000Z
func archivePath(kind string, before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s", kind, before.Format("2006-01"), before.Format("20060102T150405Z"))
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
