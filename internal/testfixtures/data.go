package testfixtures

// SampleV25 populates a version 25 schema with every case the pipeline has
// to handle:
//
//   - sources 1-3 are activity/interval sources outside the 25->26 whitelist
//   - composite 7 is consistent, composite 8 declares 3 components but has 2,
//     composite 9 loses a component when activity source 1 is pruned
//   - statistic name 1 is orphaned by pruning, 4 never had journals,
//     5 is orphaned once composite 8 is removed
//   - segments 1 and 2 are the same route under two activity groups
var SampleV25 = []string{
	`INSERT INTO activity_group (id, name, description) VALUES
		(1, 'Bike', 'Cycling'),
		(2, 'Run', NULL)`,
	`INSERT INTO source (id, type) VALUES
		(1, 2), (2, 2), (3, 1),
		(4, 3), (5, 8), (6, 9),
		(7, 7), (8, 7), (9, 7),
		(10, 6)`,
	`INSERT INTO activity_journal (id, activity_group_id, start, finish, file_hash) VALUES
		(1, 1, 1000.0, 4600.0, 'a1'),
		(2, 2, 9000.0, 9900.0, 'b2')`,
	`INSERT INTO topic (id, parent_id, name, description, sort) VALUES
		(2, 1, 'Weight', NULL, '10'),
		(1, NULL, 'Diary', 'Daily notes', '1')`,
	`INSERT INTO topic_field (id, topic_id, type, sort, display_kargs) VALUES
		(1, 2, 2, '1', '{"lo": 50, "hi": 100}')`,
	`INSERT INTO topic_journal (id, topic_id, date) VALUES (4, 1, 737000)`,
	`INSERT INTO kit_group (id, name, description) VALUES (1, 'bike', NULL)`,
	`INSERT INTO kit_item (id, group_id, name) VALUES (5, 1, 'cotic')`,
	`INSERT INTO kit_component (id, name) VALUES (1, 'chain')`,
	`INSERT INTO kit_model (id, item_id, component_id, name) VALUES (6, 5, 1, 'sram')`,
	`INSERT INTO composite_source (id, n_components) VALUES (7, 2), (8, 3), (9, 2)`,
	`INSERT INTO composite_component (id, input_source_id, output_source_id) VALUES
		(1, 4, 7), (2, 5, 7),
		(3, 4, 8), (4, 5, 8),
		(5, 1, 9), (6, 4, 9)`,
	`INSERT INTO statistic_name (id, name, description, units, summary, owner, "constraint", statistic_journal_type) VALUES
		(1, 'Active Distance', NULL, 'km', '[max]', 'ActivityCalculator', '1', 2),
		(2, 'Weight', 'Body weight', 'kg', '[avg]', 'DiaryTopic', '2', 2),
		(3, 'Notes', NULL, NULL, NULL, 'DiaryTopic', '1', 3),
		(4, 'Unused', NULL, NULL, NULL, 'Nobody', NULL, 1),
		(5, 'Components', NULL, NULL, NULL, 'Composite', NULL, 1),
		(6, 'Added', NULL, NULL, NULL, 'KitItem', NULL, 4)`,
	`INSERT INTO statistic_journal (id, type, statistic_name_id, source_id, time, serial) VALUES
		(1, 2, 1, 1, 1000.0, 0),
		(2, 2, 2, 4, 2000.5, NULL),
		(3, 3, 3, 4, 2000.5, NULL),
		(4, 1, 5, 8, 3000.0, NULL),
		(5, 4, 6, 5, 4000.0, NULL),
		(6, 2, 2, 4, 2100.0, NULL)`,
	`INSERT INTO statistic_journal_float (id, value) VALUES (1, 42.195), (2, 71.25), (6, 0.1)`,
	`INSERT INTO statistic_journal_text (id, value) VALUES (3, 'it''s "fine"
second line')`,
	`INSERT INTO statistic_journal_integer (id, value) VALUES (4, 3)`,
	`INSERT INTO statistic_journal_timestamp (id) VALUES (5)`,
	`INSERT INTO segment (id, start_lat, start_lon, finish_lat, finish_lon, distance, name, description, activity_group_id) VALUES
		(1, -33.4, -70.6, -33.5, -70.7, 12500.0, 'Climb', 'Up the hill', 1),
		(2, -33.4, -70.6, -33.5, -70.7, 12500.0, 'Climb', 'Up the hill', 2),
		(3, 51.5, -0.12, 51.6, -0.1, 8000.25, 'Loop', NULL, 2)`,
}

// Expected shape of SampleV25 after each stage.
const (
	SampleSources          = 10
	PrunedSources          = 5 // 4, 5, 6, 7, 10
	PrunedStatisticNames   = 3 // 2, 3, 6
	PrunedJournals         = 4 // 2, 3, 5, 6
	PrunedComposites       = 1 // 7
	PrunedComponents       = 2
	SampleSegments         = 3
	DistinctSampleSegments = 2
)

// SampleV26 is SampleV25 after pruning and the segment rewrite: what the
// extractor sees in a finished working copy.
var SampleV26 = []string{
	`INSERT INTO source (id, type) VALUES (4, 3), (5, 8), (6, 9), (7, 7), (10, 6)`,
	`INSERT INTO topic (id, parent_id, name, description, sort) VALUES
		(1, NULL, 'Diary', 'Daily notes', '1'),
		(2, 1, 'Weight', NULL, '10')`,
	`INSERT INTO topic_field (id, topic_id, type, sort, display_kargs) VALUES
		(1, 2, 2, '1', '{"lo": 50, "hi": 100}')`,
	`INSERT INTO topic_journal (id, topic_id, date) VALUES (4, 1, 737000)`,
	`INSERT INTO kit_group (id, name, description) VALUES (1, 'bike', NULL)`,
	`INSERT INTO kit_item (id, group_id, name) VALUES (5, 1, 'cotic')`,
	`INSERT INTO kit_component (id, name) VALUES (1, 'chain')`,
	`INSERT INTO kit_model (id, item_id, component_id, name) VALUES (6, 5, 1, 'sram')`,
	`INSERT INTO composite_source (id, n_components) VALUES (7, 2)`,
	`INSERT INTO composite_component (id, input_source_id, output_source_id) VALUES (1, 4, 7), (2, 5, 7)`,
	`INSERT INTO statistic_name (id, name, description, units, summary, owner, "constraint", statistic_journal_type) VALUES
		(2, 'Weight', 'Body weight', 'kg', '[avg]', 'DiaryTopic', '2', 2),
		(3, 'Notes', NULL, NULL, NULL, 'DiaryTopic', '1', 3),
		(6, 'Added', NULL, NULL, NULL, 'KitItem', NULL, 4)`,
	`INSERT INTO statistic_journal (id, type, statistic_name_id, source_id, time, serial) VALUES
		(2, 2, 2, 4, 2000.5, NULL),
		(3, 3, 3, 4, 2000.5, NULL),
		(5, 4, 6, 5, 4000.0, NULL),
		(6, 2, 2, 4, 2100.0, NULL)`,
	`INSERT INTO statistic_journal_float (id, value) VALUES (2, 71.25), (6, 0.1)`,
	`INSERT INTO statistic_journal_text (id, value) VALUES (3, 'it''s "fine"
second line')`,
	`INSERT INTO statistic_journal_timestamp (id) VALUES (5)`,
	`INSERT INTO segment (id, start_lat, start_lon, finish_lat, finish_lon, distance, name, description) VALUES
		(1, -33.4, -70.6, -33.5, -70.7, 12500.0, 'Climb', 'Up the hill'),
		(2, 51.5, -0.12, 51.6, -0.1, 8000.25, 'Loop', NULL)`,
}

// SampleV26Rows is the row count of every carried table in SampleV26.
var SampleV26Rows = map[string]int64{
	"source":                      5,
	"statistic_name":              3,
	"statistic_journal":           4,
	"statistic_journal_integer":   0,
	"statistic_journal_float":     2,
	"statistic_journal_text":      1,
	"statistic_journal_timestamp": 1,
	"composite_source":            1,
	"composite_component":         2,
	"topic":                       2,
	"topic_field":                 1,
	"topic_journal":               1,
	"kit_group":                   1,
	"kit_item":                    1,
	"kit_component":               1,
	"kit_model":                   1,
	"segment":                     2,
}
