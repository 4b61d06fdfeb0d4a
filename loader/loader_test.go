package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"
	"github.com/rudderlabs/rudder-go-kit/stats/memstats"

	"github.com/wholesaling-data/leadsloader/warehouse/model"
)

type fakeWarehouse struct {
	existing    map[string]bool
	existsErr   map[string]error
	loadErr     map[string]error
	created     []string
	staged      []string
	marked      []string
	markedFiles map[string]string
}

func (f *fakeWarehouse) TableExists(_ context.Context, table model.Table) (bool, error) {
	if err := f.existsErr[table.Name]; err != nil {
		return false, err
	}
	return f.existing[table.Name], nil
}

func (f *fakeWarehouse) CreateAndLoad(_ context.Context, filePath string, table model.Table) error {
	if err := f.loadErr[table.Name]; err != nil {
		return err
	}
	f.created = append(f.created, table.Name)
	f.fileFor(table, filePath)
	return nil
}

func (f *fakeWarehouse) LoadWithStaging(_ context.Context, filePath string, table model.Table) error {
	if err := f.loadErr[table.Name]; err != nil {
		return err
	}
	f.staged = append(f.staged, table.Name)
	f.fileFor(table, filePath)
	return nil
}

func (f *fakeWarehouse) SetIngestionDate(_ context.Context, table model.Table, _ time.Time) error {
	f.marked = append(f.marked, table.Name)
	return nil
}

func (f *fakeWarehouse) fileFor(table model.Table, filePath string) {
	if f.markedFiles == nil {
		f.markedFiles = map[string]string{}
	}
	f.markedFiles[table.Name] = filepath.Base(filePath)
}

func newManager(t *testing.T, dir string, wh *fakeWarehouse) (*Manager, *memstats.Store) {
	t.Helper()

	conf := config.New()
	conf.Set("Loader.downloadPath", dir)
	conf.Set("BigQuery.project", "wholesaling-dw")
	conf.Set("BigQuery.dataset", "leads")

	statsStore, err := memstats.New()
	require.NoError(t, err)

	return New(conf, logger.NOP, statsStore, wh), statsStore
}

func writeFile(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("id,total\n1,10\n"), 0o644))
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatch by table existence", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "orders.csv")
		writeFile(t, dir, "customers.csv")

		wh := &fakeWarehouse{existing: map[string]bool{"orders": true}}
		m, statsStore := newManager(t, dir, wh)

		require.NoError(t, m.Run(ctx))

		require.Equal(t, []string{"orders"}, wh.staged)
		require.Equal(t, []string{"customers"}, wh.created)
		require.ElementsMatch(t, []string{"orders", "customers"}, wh.marked,
			"marker backfill runs for both paths")

		require.EqualValues(t, 1, statsStore.Get("loader_files_total", stats.Tags{
			"status": "succeeded", "table": "orders",
		}).LastValue())
		require.EqualValues(t, 1, statsStore.Get("loader_files_total", stats.Tags{
			"status": "succeeded", "table": "customers",
		}).LastValue())
	})

	t.Run("failing file does not stop the batch and all files are removed", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "alpha.csv")
		writeFile(t, dir, "broken.csv")
		writeFile(t, dir, "omega.csv")

		wh := &fakeWarehouse{
			existing: map[string]bool{"broken": true},
			loadErr:  map[string]error{"broken": errors.New("merge exploded")},
		}
		m, statsStore := newManager(t, dir, wh)

		require.NoError(t, m.Run(ctx))

		require.ElementsMatch(t, []string{"alpha", "omega"}, wh.created)
		require.Empty(t, wh.staged)
		require.ElementsMatch(t, []string{"alpha", "omega"}, wh.marked)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Empty(t, entries, "the file is deleted whether or not processing succeeded")

		require.EqualValues(t, 1, statsStore.Get("loader_files_total", stats.Tags{
			"status": "failed", "table": "broken",
		}).LastValue())
	})

	t.Run("existence oracle failure is fatal for the file", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "orders.csv")

		wh := &fakeWarehouse{
			existsErr: map[string]error{"orders": errors.New("403 access denied")},
		}
		m, statsStore := newManager(t, dir, wh)

		require.NoError(t, m.Run(ctx))

		require.Empty(t, wh.created, "a metadata failure must not route into truncate-create")
		require.Empty(t, wh.staged)
		require.Empty(t, wh.marked)

		require.EqualValues(t, 1, statsStore.Get("loader_files_total", stats.Tags{
			"status": "failed", "table": "orders",
		}).LastValue())

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Empty(t, entries)
	})

	t.Run("only csv files are considered, case-insensitively", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "Orders.CSV")
		writeFile(t, dir, "notes.txt")
		writeFile(t, dir, "report.pdf")
		require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.csv"), 0o755))

		wh := &fakeWarehouse{}
		m, _ := newManager(t, dir, wh)

		require.NoError(t, m.Run(ctx))

		require.Equal(t, []string{"orders"}, wh.created,
			"destination table name is the lowercased file base name")
		require.Equal(t, "Orders.CSV", wh.markedFiles["orders"])

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		require.ElementsMatch(t, []string{"notes.txt", "report.pdf", "nested.csv"}, names,
			"non-csv files are left untouched")
	})

	t.Run("missing download directory", func(t *testing.T) {
		wh := &fakeWarehouse{}
		m, _ := newManager(t, filepath.Join(t.TempDir(), "does-not-exist"), wh)

		require.Error(t, m.Run(ctx))
	})

	t.Run("empty directory", func(t *testing.T) {
		wh := &fakeWarehouse{}
		m, _ := newManager(t, t.TempDir(), wh)

		require.NoError(t, m.Run(ctx))
		require.Empty(t, wh.created)
		require.Empty(t, wh.staged)
	})
}

func TestTableNameForFile(t *testing.T) {
	testCases := []struct {
		fileName string
		want     string
	}{
		{fileName: "orders.csv", want: "orders"},
		{fileName: "Orders.CSV", want: "orders"},
		{fileName: "Fresh_Picked_Leads.csv", want: "fresh_picked_leads"},
		{fileName: "multi.part.name.csv", want: "multi.part.name"},
	}
	for _, tc := range testCases {
		t.Run(tc.fileName, func(t *testing.T) {
			require.Equal(t, tc.want, tableNameForFile(tc.fileName))
		})
	}
}
