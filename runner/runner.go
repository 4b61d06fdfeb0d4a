package runner

import (
	"context"
	"fmt"
	"os"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"
	svcMetric "github.com/rudderlabs/rudder-go-kit/stats/metric"

	"github.com/wholesaling-data/leadsloader/loader"
	"github.com/wholesaling-data/leadsloader/rruntime"
	"github.com/wholesaling-data/leadsloader/utils/crash"
	"github.com/wholesaling-data/leadsloader/warehouse/bigquery"
)

// ReleaseInfo holds the release information
type ReleaseInfo struct {
	Version   string
	Commit    string
	BuildDate string
	BuiltBy   string
}

// Runner is responsible for running one batch of the loader
type Runner struct {
	releaseInfo ReleaseInfo
	logger      logger.Logger
}

// New creates and initializes a new Runner
func New(releaseInfo ReleaseInfo) *Runner {
	return &Runner{
		releaseInfo: releaseInfo,
		logger:      logger.NewLogger().Child("runner"),
	}
}

// Run processes the download directory once and returns the exit code.
func (r *Runner) Run(ctx context.Context, _ []string) int {
	path, err := config.Default.ConfigFileUsed()
	if err != nil {
		r.logger.Warnf("Config: Failed to parse config file from path %q, using default values: %v", path, err)
	} else {
		r.logger.Infof("Config: Using config file: %s", path)
	}

	if err := config.Default.DotEnvLoaded(); err != nil {
		r.logger.Infof("Config: No .env file loaded: %v", err)
	} else {
		r.logger.Infof("Config: Loaded .env file")
	}

	stats.Default = stats.NewStats(config.Default, logger.Default, svcMetric.Instance,
		stats.WithServiceName("leadsloader"),
		stats.WithServiceVersion(r.releaseInfo.Version),
	)
	if err := stats.Default.Start(ctx, rruntime.GoRoutineFactory); err != nil {
		r.logger.Errorf("Failed to start stats: %v", err)
		return 1
	}
	defer stats.Default.Stop()
	defer logger.Sync()

	crash.Configure(r.logger, crash.PanicWrapperOpts{
		ReleaseStage: config.GetString("GO_ENV", "development"),
		AppType:      "leadsloader",
		AppVersion:   r.releaseInfo.Version,
	})
	defer crash.Notify("Core")()

	stats.Default.NewTaggedStat("leadsloader_config",
		stats.GaugeType,
		stats.Tags{
			"version":   r.releaseInfo.Version,
			"commit":    r.releaseInfo.Commit,
			"buildDate": r.releaseInfo.BuildDate,
			"builtBy":   r.releaseInfo.BuiltBy,
		}).Gauge(1)

	cred, err := credentialsFromConfig(config.Default)
	if err != nil {
		r.logger.Errorf("Failed to load bigquery credentials: %v", err)
		return 1
	}

	bq := bigquery.New(config.Default, r.logger)
	if err := bq.Setup(ctx, cred); err != nil {
		r.logger.Errorf("Failed to connect to bigquery: %v", err)
		return 1
	}
	defer bq.Cleanup()

	m := loader.New(config.Default, r.logger, stats.Default, bq)
	if err := m.Run(ctx); err != nil {
		r.logger.Errorf("Loader run failed: %v", err)
		return 1
	}

	return 0
}

// credentialsFromConfig assembles the bigquery credentials from the
// configuration. The service-account JSON may be given inline via
// BigQuery.credentials or as a file path via BigQuery.credentialsPath;
// with neither set the client falls back to application default
// credentials.
func credentialsFromConfig(conf *config.Config) (bigquery.Credentials, error) {
	projectID := conf.GetString("BigQuery.project", "")
	if projectID == "" {
		return bigquery.Credentials{}, fmt.Errorf("BigQuery.project is not set")
	}

	credentials := conf.GetString("BigQuery.credentials", "")
	if credentials == "" {
		if credentialsPath := conf.GetString("BigQuery.credentialsPath", ""); credentialsPath != "" {
			content, err := os.ReadFile(credentialsPath)
			if err != nil {
				return bigquery.Credentials{}, fmt.Errorf("reading credentials file %s: %w", credentialsPath, err)
			}
			credentials = string(content)
		}
	}

	return bigquery.Credentials{
		ProjectID:   projectID,
		Credentials: credentials,
	}, nil
}
