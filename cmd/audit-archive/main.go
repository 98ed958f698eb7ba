// Command audit-archive exports audit entries older than a retention window
// to a gzip-compressed JSON Lines file and then deletes them.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/hospitality-core/internal/domain/audit"
	"github.com/xenking/hospitality-core/internal/repository"
)

const (
	pipelineBuffer = 1024
	progressEvery  = 10_000
)

type options struct {
	databaseURL string
	outDir      string
	days        int
	dryRun      bool
}

// streamFunc yields entries in export order.
type streamFunc func(ctx context.Context, fn func(audit.Entry) error) error

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.outDir, "out-dir", "archive", "directory for the exported audit-<date>.jsonl.gz file")
	flag.IntVar(&opts.days, "older-than-days", 90, "archive and delete entries older than this many days")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "export only, do not delete")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}
	if opts.days < audit.RetentionFloorDays {
		lg.Fatal("Retention window below floor",
			zap.Int("older_than_days", opts.days),
			zap.Int("floor", audit.RetentionFloorDays),
		)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Audit archive failed", zap.Error(err))
	}
	lg.Info("Audit archive completed successfully")
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	pool, err := repository.NewPool(ctx, opts.databaseURL, 2)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := repository.NewAuditRepository(repository.NewDB(pool, time.Minute))
	cutoff := time.Now().UTC().AddDate(0, 0, -opts.days)

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return errors.Wrap(err, "create output dir")
	}
	path := filepath.Join(opts.outDir, fmt.Sprintf("audit-%s.jsonl.gz", cutoff.Format("20060102")))

	stream := func(ctx context.Context, fn func(audit.Entry) error) error {
		return repo.StreamOlderThan(ctx, cutoff, fn)
	}
	n, err := exportFile(ctx, lg, path, stream)
	if err != nil {
		return err
	}
	lg.Info("Exported audit entries", zap.String("path", path), zap.Int("count", n), zap.Time("cutoff", cutoff))

	if opts.dryRun || n == 0 {
		return nil
	}

	// Delete with the export cutoff so nothing newer than the archive goes.
	deleted, err := repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return errors.Wrap(err, "delete archived entries")
	}
	lg.Info("Deleted archived entries", zap.Int64("deleted", deleted))
	if deleted > int64(n) {
		lg.Warn("Deleted more entries than exported",
			zap.Int64("deleted", deleted),
			zap.Int("exported", n),
		)
	}
	return nil
}

// exportFile writes the archive to a temporary file and renames it into place
// once complete, so a failed run never leaves a truncated archive at path.
func exportFile(ctx context.Context, lg *zap.Logger, path string, stream streamFunc) (int, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".audit-*.tmp")
	if err != nil {
		return 0, errors.Wrap(err, "create temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := writeArchive(ctx, lg, tmp, stream)
	if err != nil {
		_ = tmp.Close()
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return 0, errors.Wrap(err, "sync archive")
	}
	if err := tmp.Close(); err != nil {
		return 0, errors.Wrap(err, "close archive")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, errors.Wrap(err, "rename archive")
	}
	return n, nil
}

// writeArchive streams entries into w as gzip JSON Lines. Reading from the
// database and compressing run concurrently.
func writeArchive(ctx context.Context, lg *zap.Logger, w io.Writer, stream streamFunc) (int, error) {
	entries := make(chan audit.Entry, pipelineBuffer)
	var count int

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(entries)
		return stream(ctx, func(e audit.Entry) error {
			select {
			case entries <- e:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})
	g.Go(func() error {
		gz := pgzip.NewWriter(w)
		e := jx.GetEncoder()
		defer jx.PutEncoder(e)

		for entry := range entries {
			e.Reset()
			encodeEntry(e, entry)
			if _, err := gz.Write(append(e.Bytes(), '\n')); err != nil {
				_ = gz.Close()
				return errors.Wrap(err, "write entry")
			}
			count++
			if count%progressEvery == 0 {
				lg.Info("Archive progress", zap.Int("entries", count))
			}
		}
		if err := gz.Close(); err != nil {
			return errors.Wrap(err, "flush gzip")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return count, nil
}

func encodeEntry(e *jx.Encoder, entry audit.Entry) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(entry.ID)
	e.FieldStart("userId")
	optStr(e, entry.UserID)
	e.FieldStart("action")
	e.Str(string(entry.Action))
	e.FieldStart("resource")
	e.Str(string(entry.Resource))
	e.FieldStart("resourceId")
	optStr(e, entry.ResourceID)
	e.FieldStart("oldValue")
	optRaw(e, entry.OldValue)
	e.FieldStart("newValue")
	optRaw(e, entry.NewValue)
	e.FieldStart("ipAddress")
	e.Str(entry.IPAddress)
	e.FieldStart("userAgent")
	e.Str(entry.UserAgent)
	e.FieldStart("createdAt")
	e.Str(entry.CreatedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}

func optStr(e *jx.Encoder, s *string) {
	if s == nil {
		e.Null()
		return
	}
	e.Str(*s)
}

func optRaw(e *jx.Encoder, raw []byte) {
	if len(raw) == 0 {
		e.Null()
		return
	}
	e.Raw(raw)
}
