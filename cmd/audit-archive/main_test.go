package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/hospitality-core/internal/domain/audit"
)

func sliceStream(entries []audit.Entry) streamFunc {
	return func(ctx context.Context, fn func(audit.Entry) error) error {
		for _, e := range entries {
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	}
}

func readLines(t *testing.T, r *bytes.Reader) []map[string]any {
	t.Helper()
	gz, err := pgzip.NewReader(r)
	require.NoError(t, err)
	defer func() { _ = gz.Close() }()

	var out []map[string]any
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestWriteArchive(t *testing.T) {
	user := "7c1e2a90-3b4d-4f6e-8a1b-000000000003"
	ref := "0b6f1f3e-5d7a-4c41-9f0e-2a9b7c1d4e01"
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entries := []audit.Entry{
		{
			ID:         "01J0000000000000000000000A",
			UserID:     &user,
			Action:     audit.ActionUpdate,
			Resource:   audit.ResourceOrder,
			ResourceID: &ref,
			OldValue:   json.RawMessage(`{"status":"pending"}`),
			NewValue:   json.RawMessage(`{"status":"confirmed"}`),
			IPAddress:  "10.0.0.1",
			UserAgent:  "pos/1.0",
			CreatedAt:  at,
		},
		{
			ID:        "01J0000000000000000000000B",
			Action:    audit.ActionDelete,
			Resource:  audit.ResourceOrder,
			CreatedAt: at.Add(time.Minute),
		},
	}

	var buf bytes.Buffer
	n, err := writeArchive(context.Background(), zap.NewNop(), &buf, sliceStream(entries))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	lines := readLines(t, bytes.NewReader(buf.Bytes()))
	require.Len(t, lines, 2)

	first := lines[0]
	assert.Equal(t, "01J0000000000000000000000A", first["id"])
	assert.Equal(t, user, first["userId"])
	assert.Equal(t, string(audit.ActionUpdate), first["action"])
	assert.Equal(t, ref, first["resourceId"])
	assert.Equal(t, map[string]any{"status": "confirmed"}, first["newValue"])
	assert.Equal(t, "2026-01-02T03:04:05Z", first["createdAt"])

	second := lines[1]
	assert.Nil(t, second["userId"])
	assert.Nil(t, second["resourceId"])
	assert.Nil(t, second["oldValue"])
	assert.Nil(t, second["newValue"])
}

func TestWriteArchive_StreamError(t *testing.T) {
	boom := errors.New("connection reset")
	stream := func(ctx context.Context, fn func(audit.Entry) error) error {
		if err := fn(audit.Entry{ID: "a", Action: audit.ActionCreate, Resource: audit.ResourceOrder}); err != nil {
			return err
		}
		return boom
	}

	var buf bytes.Buffer
	_, err := writeArchive(context.Background(), zap.NewNop(), &buf, stream)
	require.ErrorIs(t, err, boom)
}

func TestExportFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit-20260101.jsonl.gz")

	t.Run("Success", func(t *testing.T) {
		n, err := exportFile(context.Background(), zap.NewNop(), path, sliceStream([]audit.Entry{
			{ID: "a", Action: audit.ActionCreate, Resource: audit.ResourceOrder},
		}))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Len(t, readLines(t, bytes.NewReader(data)), 1)
	})

	t.Run("FailureLeavesNoTempFiles", func(t *testing.T) {
		failed := filepath.Join(dir, "failed.jsonl.gz")
		_, err := exportFile(context.Background(), zap.NewNop(), failed, func(context.Context, func(audit.Entry) error) error {
			return errors.New("boom")
		})
		require.Error(t, err)
		assert.NoFileExists(t, failed)

		matches, err := filepath.Glob(filepath.Join(dir, ".audit-*.tmp"))
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
}
