package clickhouse

const insertQueryPerformance = `
	INSERT INTO query_performance (
		event_type, query_hash, query_type, duration_ms,
		total_hits, shards_hit, timed_out, timestamp, trace_id, source
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const insertReindexRun = `
	INSERT INTO reindex_runs (
		run_id, trigger, fetched, mapped, skipped, processed, failed,
		status, error, started_at, duration_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const selectRecentRuns = `
	SELECT
		run_id, trigger, fetched, mapped, skipped, processed, failed,
		status, error, started_at, duration_ms
	FROM reindex_runs
	ORDER BY started_at DESC
	LIMIT ?
`

var tableDDL = []string{
	`CREATE TABLE IF NOT EXISTS query_performance (
		event_type String,
		query_hash String,
		query_type LowCardinality(String),
		duration_ms Float64,
		total_hits Int64,
		shards_hit Int32,
		timed_out Bool,
		timestamp DateTime,
		trace_id String,
		source LowCardinality(String)
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(timestamp)
	ORDER BY (timestamp, query_hash)`,

	`CREATE TABLE IF NOT EXISTS reindex_runs (
		run_id String,
		trigger LowCardinality(String),
		fetched UInt32,
		mapped UInt32,
		skipped UInt32,
		processed UInt32,
		failed UInt32,
		status LowCardinality(String),
		error String,
		started_at DateTime64(3),
		duration_ms Int64
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(started_at)
	ORDER BY (started_at, run_id)`,
}
