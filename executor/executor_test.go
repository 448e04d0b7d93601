package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airtablecollector/csv"
	"airtablecollector/models"
)

type fakeFetcher struct {
	mu      sync.Mutex
	tables  map[string]string
	errs    map[string]error
	calls   []string
	active  atomic.Int32
	maxSeen atomic.Int32
	delay   time.Duration
}

func (f *fakeFetcher) ListRecords(ctx context.Context, tableID string, opts models.ListOptions) ([]models.Record, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls = append(f.calls, tableID)
	f.mu.Unlock()

	if err := f.errs[tableID]; err != nil {
		return nil, err
	}
	body, ok := f.tables[tableID]
	if !ok || body == "" {
		return nil, nil
	}
	var records []models.Record
	if err := json.Unmarshal([]byte(body), &records); err != nil {
		return nil, err
	}
	return records, nil
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) }
}

func TestRun_ExportsEachTable(t *testing.T) {
	base := t.TempDir()
	fetcher := &fakeFetcher{tables: map[string]string{
		"tblC": `[{"id":"rec1","fields":{"name":"Alice","amount":10}},{"id":"rec2","fields":{"name":"Bob","amount":20}}]`,
		"tblT": `[{"id":"rec3","fields":{"customer":"rec1","change":-5}}]`,
	}}
	exports := []models.Export{
		{Name: "customers", TableID: "tblC", OutputPath: filepath.Join(base, "customers")},
		{Name: "transactions", TableID: "tblT", OutputPath: filepath.Join(base, "transactions")},
	}

	res, err := Run(context.Background(), fetcher, exports, Options{StagingDir: base, Now: fixedClock()})
	require.NoError(t, err)

	assert.Equal(t, 0, res.ErrorCount)
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, []string{"tblC", "tblT"}, fetcher.calls)

	customers, err := os.ReadFile(filepath.Join(base, "customers", "2024-01-01.csv"))
	require.NoError(t, err)
	assert.Equal(t, "name,amount\nAlice,10\nBob,20\n", string(customers))

	transactions, err := os.ReadFile(filepath.Join(base, "transactions", "2024-01-01.csv"))
	require.NoError(t, err)
	assert.Equal(t, "customer,change\nrec1,-5\n", string(transactions))

	assert.Equal(t, "customers", res.Outcomes[0].Export.Name)
	assert.Len(t, res.Outcomes[0].Records, 2)
	assert.True(t, res.Outcomes[1].Result.OK())
}

func TestRun_EmptyTableIsNotFatal(t *testing.T) {
	base := t.TempDir()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	fetcher := &fakeFetcher{tables: map[string]string{
		"tblC": ``,
		"tblT": `[{"id":"rec3","fields":{"amount":1}}]`,
	}}
	exports := []models.Export{
		{Name: "customers", TableID: "tblC", OutputPath: filepath.Join(base, "customers")},
		{Name: "transactions", TableID: "tblT", OutputPath: filepath.Join(base, "transactions")},
	}

	res, err := Run(context.Background(), fetcher, exports, Options{StagingDir: base, Now: fixedClock(), Logger: logger})
	require.NoError(t, err)

	assert.Equal(t, 1, res.ErrorCount)
	assert.Equal(t, csv.StatusEmptyInput, res.Outcomes[0].Result.Status)
	assert.Equal(t, csv.StatusSuccess, res.Outcomes[1].Result.Status)
	assert.Contains(t, logs.String(), "not enough records")

	_, statErr := os.Stat(filepath.Join(base, "customers"))
	assert.True(t, os.IsNotExist(statErr))
	assert.FileExists(t, filepath.Join(base, "transactions", "2024-01-01.csv"))
}

func TestRun_ExportFailuresLogNotEnoughRecords(t *testing.T) {
	base := t.TempDir()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	// a regular file where the customers directory should be
	blocker := filepath.Join(base, "customers")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	fetcher := &fakeFetcher{tables: map[string]string{
		"tblC": `[{"id":"rec1","fields":{"name":"Alice"}}]`,
		"tblT": `[{"id":"rec2","fields":{}},{"id":"rec3","fields":{"amount":1}}]`,
	}}
	exports := []models.Export{
		{Name: "customers", TableID: "tblC", OutputPath: blocker},
		{Name: "transactions", TableID: "tblT", OutputPath: filepath.Join(base, "transactions")},
	}

	res, err := Run(context.Background(), fetcher, exports, Options{StagingDir: base, Now: fixedClock(), Logger: logger})
	require.NoError(t, err)

	assert.Equal(t, 2, res.ErrorCount)
	assert.Equal(t, csv.StatusIOFailure, res.Outcomes[0].Result.Status)
	assert.Equal(t, csv.StatusSchemaMismatch, res.Outcomes[1].Result.Status)

	out := logs.String()
	assert.Contains(t, out, "not enough records: error creating directory")
	assert.Contains(t, out, "status=io_failure")
	assert.Contains(t, out, "not enough records: header has no columns")
	assert.Contains(t, out, "status=schema_mismatch")
}

func TestRun_FetchErrorStopsRun(t *testing.T) {
	base := t.TempDir()
	boom := errors.New("401 unauthorized")
	fetcher := &fakeFetcher{
		tables: map[string]string{"tblT": `[{"id":"r","fields":{"a":1}}]`},
		errs:   map[string]error{"tblC": boom},
	}
	exports := []models.Export{
		{Name: "customers", TableID: "tblC", OutputPath: filepath.Join(base, "customers")},
		{Name: "transactions", TableID: "tblT", OutputPath: filepath.Join(base, "transactions")},
	}

	_, err := Run(context.Background(), fetcher, exports, Options{StagingDir: base, Now: fixedClock()})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "customers")
	assert.Equal(t, []string{"tblC"}, fetcher.calls)
	assert.NoFileExists(t, filepath.Join(base, "transactions", "2024-01-01.csv"))
}

func TestRun_ParallelWorkers(t *testing.T) {
	base := t.TempDir()
	tables := map[string]string{}
	var exports []models.Export
	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		tables[id] = `[{"id":"r","fields":{"table":"` + id + `"}}]`
		exports = append(exports, models.Export{TableID: id, OutputPath: filepath.Join(base, id)})
	}
	fetcher := &fakeFetcher{tables: tables, delay: 50 * time.Millisecond}

	res, err := Run(context.Background(), fetcher, exports, Options{
		Workers:    4,
		StagingDir: base,
		Now:        fixedClock(),
		Logger:     slog.New(slog.NewTextHandler(&lockedBuffer{}, nil)),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, res.ErrorCount)
	assert.Greater(t, fetcher.maxSeen.Load(), int32(1))
	for i, id := range []string{"t1", "t2", "t3", "t4"} {
		assert.Equal(t, id, res.Outcomes[i].Export.TableID)
		content, err := os.ReadFile(filepath.Join(base, id, "2024-01-01.csv"))
		require.NoError(t, err)
		assert.Equal(t, "table\n"+id+"\n", string(content))
	}
}

func TestRun_SequentialByDefault(t *testing.T) {
	base := t.TempDir()
	fetcher := &fakeFetcher{tables: map[string]string{
		"a": `[{"id":"r","fields":{"x":1}}]`,
		"b": `[{"id":"r","fields":{"x":2}}]`,
	}, delay: 10 * time.Millisecond}

	_, err := Run(context.Background(), fetcher, []models.Export{
		{TableID: "a", OutputPath: filepath.Join(base, "a")},
		{TableID: "b", OutputPath: filepath.Join(base, "b")},
	}, Options{StagingDir: base})
	require.NoError(t, err)

	assert.Equal(t, int32(1), fetcher.maxSeen.Load())
}

func TestRun_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &fakeFetcher{}
	_, err := Run(ctx, fetcher, []models.Export{{TableID: "a", OutputPath: t.TempDir()}}, Options{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fetcher.calls)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}
