package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// RunArchiveStore is the slice of domain.RunStore the archiver reads.
type RunArchiveStore interface {
	List(ctx context.Context, filter domain.RunFilter, opts domain.ListOpts) ([]domain.Run, error)
}

// CycleArchiveStore is the slice of domain.CycleLogStore the archiver reads.
type CycleArchiveStore interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.CycleLog, error)
}

// ArchiveImpl implements domain.Archiver. Records older than the cutoff are
// grouped by month, serialized to JSONL and uploaded once per month path.
// Months whose object already exists are left alone, so repeated runs are
// idempotent. Rows are never deleted from the primary store here.
type ArchiveImpl struct {
	bucket domain.ArchiveBucket
	runs   RunArchiveStore
	cycles CycleArchiveStore
	audit  domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	bucket domain.ArchiveBucket,
	runs RunArchiveStore,
	cycles CycleArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		bucket: bucket,
		runs:   runs,
		cycles: cycles,
		audit:  audit,
	}
}

// ArchiveRuns uploads finalized runs created before the cutoff to
// archive/runs/YYYY-MM.jsonl. SIMULATED runs are still live and stay out.
func (a *ArchiveImpl) ArchiveRuns(ctx context.Context, before time.Time) (int64, error) {
	runs, err := a.runs.List(ctx, domain.RunFilter{}, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive runs query: %w", err)
	}
	finalized := runs[:0]
	for _, r := range runs {
		if r.Status != domain.RunSimulated {
			finalized = append(finalized, r)
		}
	}
	return archiveMonthly(ctx, a, "runs", finalized, before, func(r domain.Run) time.Time { return r.CreatedAt })
}

// ArchiveCycles uploads cycle logs started before the cutoff to
// archive/cycles/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveCycles(ctx context.Context, before time.Time) (int64, error) {
	logs, err := a.cycles.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive cycles query: %w", err)
	}
	return archiveMonthly(ctx, a, "cycles", logs, before, func(c domain.CycleLog) time.Time { return c.StartedAt })
}

func archiveMonthly[T any](ctx context.Context, a *ArchiveImpl, kind string, records []T, before time.Time, at func(T) time.Time) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]T)
	for _, rec := range records {
		month := at(rec).UTC().Format("2006-01")
		byMonth[month] = append(byMonth[month], rec)
	}
	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Strings(months)

	var count int64
	var paths, skipped []string
	for _, month := range months {
		path := archivePath(kind, month)
		exists, err := a.bucket.Exists(ctx, path)
		if err != nil {
			return count, fmt.Errorf("s3blob: archive %s: %w", kind, err)
		}
		if exists {
			skipped = append(skipped, path)
			continue
		}

		group := byMonth[month]
		sort.SliceStable(group, func(i, j int) bool { return at(group[i]).Before(at(group[j])) })
		buf, err := marshalJSONL(group)
		if err != nil {
			return count, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
		}
		if err := a.bucket.Upload(ctx, path, buf); err != nil {
			return count, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
		}
		count += int64(len(group))
		paths = append(paths, path)
	}

	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"paths":   paths,
		"skipped": skipped,
		"count":   count,
		"before":  before.UTC().Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// archivePath builds the object key for one month of archived records.
//
//	archive/runs/2025-01.jsonl
//	archive/cycles/2025-01.jsonl
func archivePath(kind, month string) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month)
}

// marshalJSONL serialises records as newline-delimited JSON.
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
