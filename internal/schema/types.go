package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// SourceType is the discriminator stored in source.type.
type SourceType int

const (
	SourceTypeSource SourceType = iota
	SourceTypeInterval
	SourceTypeActivity
	SourceTypeDiaryTopic
	SourceTypeConstant
	SourceTypeMonitor
	SourceTypeSegment
	SourceTypeComposite
	SourceTypeItem
	SourceTypeModel
)

var sourceTypeNames = []string{
	"source", "interval", "activity", "diary_topic", "constant",
	"monitor", "segment", "composite", "item", "model",
}

func (t SourceType) String() string {
	if t >= 0 && int(t) < len(sourceTypeNames) {
		return sourceTypeNames[t]
	}
	return fmt.Sprintf("source_type(%d)", int(t))
}

// ParseSourceType accepts either a name ("diary_topic") or a number ("3").
func ParseSourceType(s string) (SourceType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range sourceTypeNames {
		if s == name {
			return SourceType(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < len(sourceTypeNames) {
		return SourceType(n), nil
	}
	return 0, fmt.Errorf("unknown source type %q", s)
}

// StatisticJournalType is the discriminator stored in statistic_journal.type
// and statistic_name.statistic_journal_type.
type StatisticJournalType int

const (
	JournalStatistic StatisticJournalType = iota
	JournalInteger
	JournalFloat
	JournalText
	JournalTimestamp
)

// JournalTable returns the typed subtable holding values of t, or "" for
// the untyped base.
func (t StatisticJournalType) JournalTable() string {
	switch t {
	case JournalInteger:
		return "statistic_journal_integer"
	case JournalFloat:
		return "statistic_journal_float"
	case JournalText:
		return "statistic_journal_text"
	case JournalTimestamp:
		return "statistic_journal_timestamp"
	default:
		return ""
	}
}

// CarriedTables are the tables a version 25 database hands to version 26,
// in the order they are declared. activity_group is re-seeded instead of
// carried; constant and constant_value only exist in version 26.
var CarriedTables = []string{
	"source",
	"statistic_name",
	"statistic_journal",
	"statistic_journal_integer",
	"statistic_journal_float",
	"statistic_journal_text",
	"statistic_journal_timestamp",
	"composite_source",
	"composite_component",
	"topic",
	"topic_field",
	"topic_journal",
	"kit_group",
	"kit_item",
	"kit_component",
	"kit_model",
	"segment",
}
