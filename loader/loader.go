// Package loader walks the download directory and moves every CSV it
// finds into the warehouse, one file at a time. Files double as the
// work queue: each one is deleted after its attempt, whether or not the
// attempt succeeded, so a stale download is never re-processed.
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/wholesaling-data/leadsloader/warehouse/model"
	"github.com/wholesaling-data/leadsloader/warehouse/logfield"
)

const csvExtension = ".csv"

// warehouse is the slice of the warehouse client the orchestrator
// needs. One client handle is reused serially across all loads.
type warehouse interface {
	TableExists(ctx context.Context, table model.Table) (bool, error)
	CreateAndLoad(ctx context.Context, filePath string, table model.Table) error
	LoadWithStaging(ctx context.Context, filePath string, table model.Table) error
	SetIngestionDate(ctx context.Context, table model.Table, day time.Time) error
}

type Manager struct {
	logger       logger.Logger
	statsFactory stats.Stats
	warehouse    warehouse
	now          func() time.Time

	config struct {
		downloadPath string
		project      string
		dataset      string
	}
}

func New(conf *config.Config, log logger.Logger, statsFactory stats.Stats, wh warehouse) *Manager {
	m := &Manager{
		logger:       log.Child("loader"),
		statsFactory: statsFactory,
		warehouse:    wh,
		now:          time.Now,
	}

	m.config.downloadPath = conf.GetString("Loader.downloadPath", "./downloads")
	m.config.project = conf.GetString("BigQuery.project", "")
	m.config.dataset = conf.GetString("BigQuery.dataset", "")

	return m
}

// Run processes every CSV in the download directory sequentially. A
// failure in one file is logged and reported but never stops the rest
// of the batch; only a failure to list the directory is returned.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Infow("scanning download directory", logfield.FilePath, m.config.downloadPath)

	entries, err := os.ReadDir(m.config.downloadPath)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", m.config.downloadPath, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), csvExtension) {
			continue
		}

		fileName := entry.Name()
		table := model.Table{
			Project: m.config.project,
			Dataset: m.config.dataset,
			Name:    tableNameForFile(fileName),
		}

		startedAt := m.now()
		if err := m.processFile(ctx, filepath.Join(m.config.downloadPath, fileName), table); err != nil {
			m.logger.Errorw("processing file failed",
				logfield.FileName, fileName,
				logfield.TableName, table.Name,
				logfield.Error, err.Error(),
			)
			m.fileStat("failed", table).Increment()
			continue
		}

		m.logger.Infow("finished processing file",
			logfield.FileName, fileName,
			logfield.TableName, table.Name,
		)
		m.fileStat("succeeded", table).Increment()
		m.statsFactory.NewTaggedStat("loader_file_load_time", stats.TimerType, stats.Tags{
			"table": table.Name,
		}).Since(startedAt)
	}
	return nil
}

// processFile runs one load unit to completion. The local file is
// removed on the way out regardless of outcome, so a persistent
// processing bug cannot grow the download directory without bound.
func (m *Manager) processFile(ctx context.Context, filePath string, table model.Table) error {
	defer func() {
		if err := os.Remove(filePath); err != nil {
			m.logger.Errorw("deleting file",
				logfield.FilePath, filePath,
				logfield.Error, err.Error(),
			)
			return
		}
		m.logger.Infow("deleted file", logfield.FilePath, filePath)
	}()

	exists, err := m.warehouse.TableExists(ctx, table)
	if err != nil {
		return fmt.Errorf("checking table %s: %w", table, err)
	}

	if exists {
		err = m.warehouse.LoadWithStaging(ctx, filePath, table)
	} else {
		err = m.warehouse.CreateAndLoad(ctx, filePath, table)
	}
	if err != nil {
		return fmt.Errorf("uploading %s: %w", filePath, err)
	}

	return m.warehouse.SetIngestionDate(ctx, table, m.now())
}

func (m *Manager) fileStat(status string, table model.Table) stats.Measurement {
	return m.statsFactory.NewTaggedStat("loader_files_total", stats.CountType, stats.Tags{
		"status": status,
		"table":  table.Name,
	})
}

// tableNameForFile derives the destination table name from a CSV file
// name: lowercased, extension stripped. Renaming a source file changes
// its destination table.
func tableNameForFile(fileName string) string {
	return strings.ToLower(strings.TrimSuffix(fileName, filepath.Ext(fileName)))
}
