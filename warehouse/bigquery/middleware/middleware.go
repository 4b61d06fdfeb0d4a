package middleware

import (
	"context"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/wholesaling-data/leadsloader/warehouse/logfield"
)

type Opt func(*Client)

type logger interface {
	Infow(msg string, keysAndValues ...interface{})
}

// Client wraps query execution against a bigquery client, logging any
// statement whose execution time crosses the slow query threshold.
type Client struct {
	db *bigquery.Client

	since              func(time.Time) time.Duration
	logger             logger
	keysAndValues      []any
	slowQueryThreshold time.Duration
}

func WithLogger(logger logger) Opt {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithKeyAndValues(keyAndValues ...any) Opt {
	return func(c *Client) {
		c.keysAndValues = keyAndValues
	}
}

func WithSlowQueryThreshold(slowQueryThreshold time.Duration) Opt {
	return func(c *Client) {
		c.slowQueryThreshold = slowQueryThreshold
	}
}

func WithSince(since func(time.Time) time.Duration) Opt {
	return func(c *Client) {
		c.since = since
	}
}

func New(db *bigquery.Client, opts ...Opt) *Client {
	c := &Client{
		db:                 db,
		since:              time.Since,
		slowQueryThreshold: 300 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run starts the query and waits for the job to complete.
func (c *Client) Run(ctx context.Context, query *bigquery.Query) (*bigquery.Job, error) {
	startedAt := time.Now()
	job, err := query.Run(ctx)
	if err != nil {
		c.logQuery(query.Q, c.since(startedAt))
		return nil, err
	}
	status, err := job.Wait(ctx)
	c.logQuery(query.Q, c.since(startedAt))
	if err != nil {
		return nil, err
	}
	if err := status.Err(); err != nil {
		return nil, err
	}
	return job, nil
}

// Read runs the query and returns an iterator over its result rows.
func (c *Client) Read(ctx context.Context, query *bigquery.Query) (*bigquery.RowIterator, error) {
	startedAt := time.Now()
	it, err := query.Read(ctx)
	c.logQuery(query.Q, c.since(startedAt))
	return it, err
}

func (c *Client) logQuery(query string, elapsed time.Duration) {
	if elapsed < c.slowQueryThreshold {
		return
	}

	keysAndValues := []any{
		logfield.Query, query,
		logfield.QueryExecutionTime, elapsed,
	}
	keysAndValues = append(keysAndValues, c.keysAndValues...)

	c.logger.Infow("executing query", keysAndValues...)
}
