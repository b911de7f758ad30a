package database

const schema = `
CREATE TABLE IF NOT EXISTS ranking_runs (
	id            UUID PRIMARY KEY,
	shops         TEXT[] NOT NULL,
	period        TEXT NOT NULL,
	output_path   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	shops_done    INT NOT NULL DEFAULT 0,
	shops_failed  INT NOT NULL DEFAULT 0,
	rows_written  INT NOT NULL DEFAULT 0,
	stopped       BOOLEAN NOT NULL DEFAULT FALSE,
	saved         BOOLEAN NOT NULL DEFAULT FALSE,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS ranking_items (
	run_id       UUID NOT NULL REFERENCES ranking_runs(id) ON DELETE CASCADE,
	shop         TEXT NOT NULL,
	rank         INT NOT NULL,
	period       TEXT NOT NULL,
	name         TEXT NOT NULL,
	price_jpy    BIGINT NOT NULL,
	price_krw    DOUBLE PRECISION NOT NULL,
	review_count INT NOT NULL,
	product_url  TEXT NOT NULL,
	total_count  TEXT NOT NULL,
	image_url    TEXT NOT NULL,
	scraped_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, shop, rank)
);

CREATE INDEX IF NOT EXISTS idx_ranking_items_shop ON ranking_items (shop, scraped_at DESC);

CREATE TABLE IF NOT EXISTS outbox_event (
	id             UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        JSONB NOT NULL,
	target_stream  TEXT NOT NULL,
	status         TEXT NOT NULL,
	retry_count    INT NOT NULL DEFAULT 0,
	error_message  TEXT,
	created_at     TIMESTAMPTZ NOT NULL,
	processed_at   TIMESTAMPTZ,
	next_retry_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_event_pending ON outbox_event (status, next_retry_at);
`
