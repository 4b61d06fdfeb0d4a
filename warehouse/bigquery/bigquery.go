package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/samber/lo"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/googleutil"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/wholesaling-data/leadsloader/warehouse/bigquery/middleware"
	"github.com/wholesaling-data/leadsloader/warehouse/model"
	"github.com/wholesaling-data/leadsloader/warehouse/internal/plan"
	"github.com/wholesaling-data/leadsloader/warehouse/logfield"
)

// IngestionDateColumn is the nullable DATE column recording when a row
// was loaded. Appended additively, never removed, never retyped.
const IngestionDateColumn = "Ingestion_date"

const stagingTimeFormat = "20060102150405"

type BigQuery struct {
	db         *bigquery.Client
	middleware *middleware.Client
	logger     logger.Logger
	projectID  string
	now        func() time.Time

	config struct {
		slowQueryThreshold time.Duration
		unknownTypePolicy  plan.UnknownTypePolicy
	}
}

type Credentials struct {
	ProjectID   string
	Credentials string
}

func New(conf *config.Config, log logger.Logger) *BigQuery {
	bq := &BigQuery{}

	bq.logger = log.Child("warehouse").Child("bigquery")
	bq.now = time.Now

	bq.config.slowQueryThreshold = conf.GetDuration("BigQuery.slowQueryThreshold", 5, time.Minute)
	bq.config.unknownTypePolicy = plan.UnknownAsString
	if conf.GetBool("BigQuery.rejectUnknownTypes", false) {
		bq.config.unknownTypePolicy = plan.UnknownRejected
	}

	return bq
}

func Connect(ctx context.Context, cred Credentials) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if !googleutil.ShouldSkipCredentialsInit(cred.Credentials) {
		credBytes := []byte(cred.Credentials)
		if err := googleutil.CompatibleGoogleCredentialsJSON(credBytes); err != nil {
			return nil, err
		}
		opts = append(opts, option.WithCredentialsJSON(credBytes))
	}
	return bigquery.NewClient(ctx, cred.ProjectID, opts...)
}

func (bq *BigQuery) Setup(ctx context.Context, cred Credentials) error {
	bq.logger.Infow("connecting to bigquery", logfield.Project, cred.ProjectID)

	db, err := Connect(ctx, cred)
	if err != nil {
		return fmt.Errorf("connecting to bigquery: %w", err)
	}

	bq.db = db
	bq.projectID = strings.TrimSpace(cred.ProjectID)
	bq.middleware = middleware.New(
		db,
		middleware.WithLogger(bq.logger),
		middleware.WithKeyAndValues(logfield.Project, bq.projectID),
		middleware.WithSlowQueryThreshold(bq.config.slowQueryThreshold),
	)
	return nil
}

func (bq *BigQuery) Cleanup() {
	if bq.db != nil {
		_ = bq.db.Close()
	}
}

// TableExists classifies the destination as present or absent. Only a
// not-found response maps to absent; any other metadata failure is
// returned as an error so a transient outage can never route a load
// down the truncate-create path.
func (bq *BigQuery) TableExists(ctx context.Context, table model.Table) (bool, error) {
	_, err := bq.tableRef(table).Metadata(ctx)
	if err == nil {
		return true, nil
	}
	var e *googleapi.Error
	if errors.As(err, &e) && e.Code == http.StatusNotFound {
		return false, nil
	}
	return false, fmt.Errorf("fetching metadata for %s: %w", table, err)
}

// CreateAndLoad loads the CSV straight into the destination with
// schema autodetection and truncate-on-write semantics, then makes sure
// the ingestion date column is present.
func (bq *BigQuery) CreateAndLoad(ctx context.Context, filePath string, table model.Table) error {
	bq.logger.Infow("creating table by loading with autodetect",
		logfield.TableName, table.Name,
		logfield.Dataset, table.Dataset,
		logfield.FilePath, filePath,
	)

	if err := bq.loadFromFile(ctx, filePath, table); err != nil {
		return fmt.Errorf("loading into new table %s: %w", table, err)
	}
	return bq.EnsureIngestionColumn(ctx, table)
}

// LoadWithStaging loads the CSV into a disposable staging table and
// inserts from there into the destination, coercing every staging
// column to the destination's declared type. The destination schema is
// never altered by this path: extra staging columns are dropped and
// missing ones become NULL.
func (bq *BigQuery) LoadWithStaging(ctx context.Context, filePath string, table model.Table) error {
	staging := table.WithName(stagingTableName(table.Name, bq.now()))

	log := bq.logger.With(
		logfield.TableName, table.Name,
		logfield.Dataset, table.Dataset,
		logfield.StagingTableName, staging.Name,
	)

	log.Infow("loading into staging table", logfield.FilePath, filePath)
	if err := bq.loadFromFile(ctx, filePath, staging); err != nil {
		return fmt.Errorf("loading into staging table %s: %w", staging, err)
	}
	defer bq.dropStagingTable(ctx, staging)

	destinationSchema, err := bq.tableSchema(ctx, table)
	if err != nil {
		return fmt.Errorf("fetching destination schema: %w", err)
	}
	stagingSchema, err := bq.tableSchema(ctx, staging)
	if err != nil {
		return fmt.Errorf("fetching staging schema: %w", err)
	}

	columnPlan, err := plan.Build(destinationSchema, stagingSchema, bq.config.unknownTypePolicy)
	if err != nil {
		return fmt.Errorf("planning merge into %s: %w", table, err)
	}

	log.Infow("inserting from staging into destination with safe casts")
	if _, err = bq.middleware.Run(ctx, bq.db.Query(columnPlan.InsertSQL(table, staging))); err != nil {
		return fmt.Errorf("moving data to destination table %s: %w", table, err)
	}
	return nil
}

// EnsureIngestionColumn adds the nullable ingestion date column if the
// schema lacks it. Adding a column that already exists is not an error.
func (bq *BigQuery) EnsureIngestionColumn(ctx context.Context, table model.Table) error {
	tableRef := bq.tableRef(table)
	meta, err := tableRef.Metadata(ctx)
	if err != nil {
		return fmt.Errorf("fetching metadata for %s: %w", table, err)
	}

	for _, field := range meta.Schema {
		if field.Name == IngestionDateColumn {
			return nil
		}
	}

	update := bigquery.TableMetadataToUpdate{
		Schema: append(meta.Schema, &bigquery.FieldSchema{
			Name: IngestionDateColumn,
			Type: bigquery.DateFieldType,
		}),
	}
	if _, err := tableRef.Update(ctx, update, meta.ETag); err != nil {
		if checkAndIgnoreAlreadyExistError(err) {
			bq.logger.Infow("ingestion date column already exists",
				logfield.TableName, table.Name,
			)
			return nil
		}
		return fmt.Errorf("adding %s column to %s: %w", IngestionDateColumn, table, err)
	}

	bq.logger.Infow("added ingestion date column", logfield.TableName, table.Name)
	return nil
}

// SetIngestionDate backfills the ingestion date into rows that lack
// one. A destination without the column is a no-op; rows already
// carrying a date are never touched, which makes the call idempotent
// and shareable between the new-table and staging-merge paths.
func (bq *BigQuery) SetIngestionDate(ctx context.Context, table model.Table, day time.Time) error {
	schema, err := bq.tableSchema(ctx, table)
	if err != nil {
		return fmt.Errorf("fetching schema for %s: %w", table, err)
	}
	if !schema.Has(IngestionDateColumn) {
		return nil
	}

	if _, err := bq.middleware.Run(ctx, bq.db.Query(markerUpdateSQL(table, day))); err != nil {
		return fmt.Errorf("setting %s on %s: %w", IngestionDateColumn, table, err)
	}

	bq.logger.Infow("ingestion date set",
		logfield.TableName, table.Name,
		logfield.IngestionDate, day.Format(time.DateOnly),
	)
	return nil
}

func (bq *BigQuery) loadFromFile(ctx context.Context, filePath string, table model.Table) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filePath, err)
	}
	defer func() { _ = f.Close() }()

	source := bigquery.NewReaderSource(f)
	source.SourceFormat = bigquery.CSV
	source.SkipLeadingRows = 1
	source.AutoDetect = true

	loader := bq.tableRef(table).LoaderFrom(source)
	loader.WriteDisposition = bigquery.WriteTruncate

	job, err := loader.Run(ctx)
	if err != nil {
		return fmt.Errorf("starting load job: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for load job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	return nil
}

// dropStagingTable is best effort: a staging table that is already gone
// is fine, anything else is logged and swallowed.
func (bq *BigQuery) dropStagingTable(ctx context.Context, staging model.Table) {
	err := bq.tableRef(staging).Delete(ctx)
	if err != nil {
		var e *googleapi.Error
		if errors.As(err, &e) && e.Code == http.StatusNotFound {
			return
		}
		bq.logger.Errorw("dropping staging table",
			logfield.StagingTableName, staging.Name,
			logfield.Error, err.Error(),
		)
		return
	}
	bq.logger.Infow("dropped staging table", logfield.StagingTableName, staging.Name)
}

func (bq *BigQuery) tableSchema(ctx context.Context, table model.Table) (model.Schema, error) {
	meta, err := bq.tableRef(table).Metadata(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(meta.Schema, func(f *bigquery.FieldSchema, _ int) model.Field {
		return model.Field{Name: f.Name, Type: string(f.Type)}
	}), nil
}

func (bq *BigQuery) tableRef(table model.Table) *bigquery.Table {
	return bq.db.DatasetInProject(table.Project, table.Dataset).Table(table.Name)
}

func stagingTableName(tableName string, now time.Time) string {
	return fmt.Sprintf("%s__stg_%s", tableName, now.Format(stagingTimeFormat))
}

func markerUpdateSQL(table model.Table, day time.Time) string {
	return fmt.Sprintf(`
		UPDATE
		  %[1]s
		SET
		  %[2]s = DATE('%[3]s')
		WHERE
		  %[2]s IS NULL;
`,
		fmt.Sprintf("`%s`", table.String()),
		IngestionDateColumn,
		day.Format(time.DateOnly),
	)
}

func checkAndIgnoreAlreadyExistError(err error) bool {
	var e *googleapi.Error
	if errors.As(err, &e) {
		// 409 is returned when the field already exists
		// 400 is returned for all kinds of invalid input, so the message is checked too
		if e.Code == http.StatusConflict ||
			(e.Code == http.StatusBadRequest && strings.Contains(e.Message, "already exists in schema")) {
			return true
		}
	}
	return false
}
