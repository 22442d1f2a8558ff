package schema

// SQLite DDL. Every foreign key cascades so that deleting a source removes
// everything hanging off it.

var sqliteCommon = []string{
	`CREATE TABLE source (
		id INTEGER PRIMARY KEY,
		type INTEGER NOT NULL
	)`,
	`CREATE INDEX ix_source_type ON source (type)`,
	`CREATE TABLE statistic_name (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		units TEXT,
		summary TEXT,
		owner TEXT NOT NULL,
		"constraint" TEXT,
		statistic_journal_type INTEGER NOT NULL,
		UNIQUE (name, owner, "constraint")
	)`,
	`CREATE INDEX ix_statistic_name_name ON statistic_name (name)`,
	`CREATE INDEX ix_statistic_name_owner ON statistic_name (owner)`,
	`CREATE TABLE statistic_journal (
		id INTEGER PRIMARY KEY,
		type INTEGER NOT NULL,
		statistic_name_id INTEGER NOT NULL REFERENCES statistic_name (id) ON DELETE CASCADE,
		source_id INTEGER NOT NULL REFERENCES source (id) ON DELETE CASCADE,
		time REAL NOT NULL,
		serial INTEGER,
		UNIQUE (statistic_name_id, time, source_id),
		UNIQUE (serial, source_id, statistic_name_id)
	)`,
	`CREATE INDEX ix_statistic_journal_type ON statistic_journal (type)`,
	`CREATE INDEX ix_statistic_journal_statistic_name_id ON statistic_journal (statistic_name_id)`,
	`CREATE INDEX ix_statistic_journal_source_id ON statistic_journal (source_id)`,
	`CREATE TABLE statistic_journal_integer (
		id INTEGER PRIMARY KEY REFERENCES statistic_journal (id) ON DELETE CASCADE,
		value INTEGER
	)`,
	`CREATE TABLE statistic_journal_float (
		id INTEGER PRIMARY KEY REFERENCES statistic_journal (id) ON DELETE CASCADE,
		value REAL
	)`,
	`CREATE TABLE statistic_journal_text (
		id INTEGER PRIMARY KEY REFERENCES statistic_journal (id) ON DELETE CASCADE,
		value TEXT
	)`,
	`CREATE TABLE statistic_journal_timestamp (
		id INTEGER PRIMARY KEY REFERENCES statistic_journal (id) ON DELETE CASCADE
	)`,
	`CREATE TABLE composite_source (
		id INTEGER PRIMARY KEY REFERENCES source (id) ON DELETE CASCADE,
		n_components INTEGER NOT NULL
	)`,
	`CREATE TABLE composite_component (
		id INTEGER PRIMARY KEY,
		input_source_id INTEGER NOT NULL REFERENCES source (id) ON DELETE CASCADE,
		output_source_id INTEGER NOT NULL REFERENCES composite_source (id) ON DELETE CASCADE
	)`,
	`CREATE INDEX ix_composite_component_input_source_id ON composite_component (input_source_id)`,
	`CREATE INDEX ix_composite_component_output_source_id ON composite_component (output_source_id)`,
	`CREATE TABLE topic (
		id INTEGER PRIMARY KEY,
		parent_id INTEGER REFERENCES topic (id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT,
		sort TEXT
	)`,
	`CREATE TABLE topic_field (
		id INTEGER PRIMARY KEY,
		topic_id INTEGER NOT NULL REFERENCES topic (id) ON DELETE CASCADE,
		type INTEGER NOT NULL,
		sort TEXT,
		display_kargs TEXT
	)`,
	`CREATE TABLE topic_journal (
		id INTEGER PRIMARY KEY REFERENCES source (id) ON DELETE CASCADE,
		topic_id INTEGER NOT NULL REFERENCES topic (id) ON DELETE CASCADE,
		date INTEGER NOT NULL
	)`,
	`CREATE INDEX ix_topic_journal_date ON topic_journal (date)`,
	`CREATE TABLE kit_group (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT
	)`,
	`CREATE TABLE kit_item (
		id INTEGER PRIMARY KEY REFERENCES source (id) ON DELETE CASCADE,
		group_id INTEGER NOT NULL REFERENCES kit_group (id) ON DELETE CASCADE,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE INDEX ix_kit_item_group_id ON kit_item (group_id)`,
	`CREATE TABLE kit_component (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE INDEX ix_kit_component_name ON kit_component (name)`,
	`CREATE TABLE kit_model (
		id INTEGER PRIMARY KEY REFERENCES source (id) ON DELETE CASCADE,
		item_id INTEGER NOT NULL REFERENCES kit_item (id) ON DELETE CASCADE,
		component_id INTEGER NOT NULL REFERENCES kit_component (id) ON DELETE CASCADE,
		name TEXT NOT NULL
	)`,
	`CREATE INDEX ix_kit_model_item_id ON kit_model (item_id)`,
	`CREATE INDEX ix_kit_model_component_id ON kit_model (component_id)`,
	`CREATE TABLE activity_group (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT
	)`,
}

var sqliteV25 = append(append([]string{}, sqliteCommon...),
	`CREATE TABLE activity_journal (
		id INTEGER PRIMARY KEY REFERENCES source (id) ON DELETE CASCADE,
		activity_group_id INTEGER NOT NULL REFERENCES activity_group (id) ON DELETE CASCADE,
		start REAL NOT NULL,
		finish REAL NOT NULL,
		file_hash TEXT
	)`,
	`CREATE TABLE segment (
		id INTEGER PRIMARY KEY,
		start_lat REAL NOT NULL,
		start_lon REAL NOT NULL,
		finish_lat REAL NOT NULL,
		finish_lon REAL NOT NULL,
		distance REAL NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		activity_group_id INTEGER NOT NULL REFERENCES activity_group (id) ON DELETE CASCADE
	)`,
	`CREATE INDEX ix_segment_name ON segment (name)`,
	`CREATE INDEX ix_segment_activity_group_id ON segment (activity_group_id)`,
)

// SegmentV26 is the standalone segment shape; the rewrite creates it from
// this statement.
const SegmentV26 = `CREATE TABLE segment (
		id INTEGER PRIMARY KEY,
		start_lat REAL NOT NULL,
		start_lon REAL NOT NULL,
		finish_lat REAL NOT NULL,
		finish_lon REAL NOT NULL,
		distance REAL NOT NULL,
		name TEXT NOT NULL,
		description TEXT
	)`

// SegmentNameIndex is the only index segment keeps in version 26.
const SegmentNameIndex = `CREATE INDEX ix_segment_name ON segment (name)`

var sqliteV26 = append(append([]string{}, sqliteCommon...),
	SegmentV26,
	SegmentNameIndex,
	`CREATE TABLE constant (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		validator TEXT
	)`,
	`CREATE TABLE constant_value (
		id INTEGER PRIMARY KEY,
		constant_id INTEGER NOT NULL REFERENCES constant (id) ON DELETE CASCADE,
		time REAL NOT NULL,
		value TEXT NOT NULL,
		UNIQUE (constant_id, time)
	)`,
)

// PostgreSQL DDL for the replay target. Foreign keys are deferrable so the
// loader can defer them to commit.
var postgresV26 = []string{
	`CREATE TABLE source (
		id SERIAL PRIMARY KEY,
		type INTEGER NOT NULL
	)`,
	`CREATE INDEX ix_source_type ON source (type)`,
	`CREATE TABLE statistic_name (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		units TEXT,
		summary TEXT,
		owner TEXT NOT NULL,
		"constraint" TEXT,
		statistic_journal_type INTEGER NOT NULL,
		UNIQUE (name, owner, "constraint")
	)`,
	`CREATE INDEX ix_statistic_name_name ON statistic_name (name)`,
	`CREATE INDEX ix_statistic_name_owner ON statistic_name (owner)`,
	`CREATE TABLE statistic_journal (
		id SERIAL PRIMARY KEY,
		type INTEGER NOT NULL,
		statistic_name_id INTEGER NOT NULL REFERENCES statistic_name (id) ON DELETE CASCADE DEFERRABLE INITIALLY IMMEDIATE,
		source_id INTEGER NOT NULL REFERENCES source (id) ON DELETE CASCADE DEFERRABLE INITIALLY IMMEDIATE,
		time DOUBLE PRECISION NOT NULL,
		serial INTEGER,
		UNIQUE (statistic_name_id, time, source_id),
		UNIQUE (serial, source_id, statistic_name_id)
	)`,
	`CREATE INDEX ix_statistic_journal_type ON statistic_journal (type)`,
	`CREATE INDEX ix_statistic_journal_statistic_name_id ON statistic_journal (statistic_name_id)`,
	`CREATE INDEX ix_statistic_journal_source_id ON statistic_journal (source_id)`,
	`CREATE TABLE statistic_journal_integer (
		id INTEGER PRIMARY KEY REFERENCES statistic_journal (id) ON DELETE CASCADE DEFERRABLE INITIALLY IMMEDIATE,
		value BIGINT
	)`,
	`CREATE TABLE statistic_journal_float (
		id INTEGER PRIMARY KEY REFERENCES statistic_journal (id) ON DELETE CASCADE DEFERRABLE INITIALLY IMMEDIATE,
		value DOUBLE PRECISION
	)`,
	`CREATE TABLE statistic_journal_text (
		id INTEGER PRIMARY KEY REFERENCES statistic_journal (id) ON DELETE CASCADE DEFERRABLE INITIALLY IMMEDIATE,
		value TEXT
	)`,
	`CREATE TABLE statistic_journal_timestamp (
		id INTEGER PRIMARY KEY REFERENCES statistic_journal (id) ON DELETE CASCADE DEFERRABLE INITIALLY IMMEDIATE
	)`,
	`CREATE TABLE composite_source (
		id INTEGER PRIMARY KEY REFERENCES source (id) ON DELETE CASCADE DEFERRABLE INITIALLY IMMEDIATE,
		n_components INTEGER NOT NULL
	)`,
	`CREATE TABLE composite_component (
		id SERIAL PRIMARY KEY,
		input_source_id INTEGER NOT NULL REFERENCES source (id) ON DELETE CASCADE DEFERRABLE INITIALLY IMMEDIATE,
		output_source_id INTEGER NOT NULL REFERENCES composite_source (id) ON DELETE CASCADE DEFERRABLE INITIALLY IMMEDIATE
	)`,
	`CREATE INDEX ix_composite_component_input_source_id ON composite_component (input_source_id)`,
	`CREATE INDEX ix_composite_component_output_source_id ON composite_component (output_source_id)`,
	`CREATE TABLE topic (
		id SERIAL PRIMARY KEY,
		parent_id INTEGER REFERENCES topic (id) ON DELETE CASCADE DEFERRABLE INITIALLY IMMEDIATE,
		name TEXT NOT NULL,
		description TEXT,
		sort TEXT
	)`,
	`CREATE TABLE topic_field (
		id SERIAL PRIMARY KEY,
		topic_id INTEGER NOT NULL REFERENCES topic (id) ON DELETE CASCADE DEFERRABLE INITIALLY IMMEDIATE,
		type INTEGER NOT NULL,
		sort TEXT,
		display_kargs TEXT
	)`,
	`CREATE TABLE topic_journal (
		id INTEGER PRIMARY KEY REFERENCES source (id) ON DELETE CASCADE DEFERRABLE INITIALLY IMMEDIATE,
		topic_id INTEGER NOT NULL REFERENCES topic (id) ON DELETE CASCADE DEFERRABLE INITIALLY IMMEDIATE,
		date INTEGER NOT NULL
	)`,
	`CREATE INDEX ix_topic_journal_date ON topic_journal (date)`,
	`CREATE TABLE kit_group (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT
	)`,
	`CREATE TABLE kit_item (
		id INTEGER PRIMARY KEY REFERENCES source (id) ON DELETE CASCADE DEFERRABLE INITIALLY IMMEDIATE,
		group_id INTEGER NOT NULL REFERENCES kit_group (id) ON DELETE CASCADE DEFERRABLE INITIALLY IMMEDIATE,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE INDEX ix_kit_item_group_id ON kit_item (group_id)`,
	`CREATE TABLE kit_component (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE INDEX ix_kit_component_name ON kit_component (name)`,
	`CREATE TABLE kit_model (
		id INTEGER PRIMARY KEY REFERENCES source (id) ON DELETE CASCADE DEFERRABLE INITIALLY IMMEDIATE,
		item_id INTEGER NOT NULL REFERENCES kit_item (id) ON DELETE CASCADE DEFERRABLE INITIALLY IMMEDIATE,
		component_id INTEGER NOT NULL REFERENCES kit_component (id) ON DELETE CASCADE DEFERRABLE INITIALLY IMMEDIATE,
		name TEXT NOT NULL
	)`,
	`CREATE INDEX ix_kit_model_item_id ON kit_model (item_id)`,
	`CREATE INDEX ix_kit_model_component_id ON kit_model (component_id)`,
	`CREATE TABLE activity_group (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT
	)`,
	`CREATE TABLE segment (
		id SERIAL PRIMARY KEY,
		start_lat DOUBLE PRECISION NOT NULL,
		start_lon DOUBLE PRECISION NOT NULL,
		finish_lat DOUBLE PRECISION NOT NULL,
		finish_lon DOUBLE PRECISION NOT NULL,
		distance DOUBLE PRECISION NOT NULL,
		name TEXT NOT NULL,
		description TEXT
	)`,
	`CREATE INDEX ix_segment_name ON segment (name)`,
	`CREATE TABLE constant (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		validator TEXT
	)`,
	`CREATE TABLE constant_value (
		id SERIAL PRIMARY KEY,
		constant_id INTEGER NOT NULL REFERENCES constant (id) ON DELETE CASCADE DEFERRABLE INITIALLY IMMEDIATE,
		time DOUBLE PRECISION NOT NULL,
		value TEXT NOT NULL,
		UNIQUE (constant_id, time)
	)`,
}
