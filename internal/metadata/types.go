package metadata

import (
	"fmt"
	"strings"
)

// ValueType is the declared type of a column or argument.
type ValueType string

const (
	TypeText    ValueType = "TEXT"
	TypeInteger ValueType = "INTEGER"
	TypeDecimal ValueType = "DECIMAL"
	TypeBoolean ValueType = "BOOLEAN"
	TypeTime    ValueType = "TIME"
	TypeID      ValueType = "ID"
)

// ParseValueType accepts a value type name case-insensitively.
func ParseValueType(s string) (ValueType, error) {
	switch vt := ValueType(strings.ToUpper(strings.TrimSpace(s))); vt {
	case TypeText, TypeInteger, TypeDecimal, TypeBoolean, TypeTime, TypeID:
		return vt, nil
	default:
		return "", fmt.Errorf("unknown value type %q", s)
	}
}

// ColumnKind classifies a column. It is a closed set.
type ColumnKind int

const (
	KindDimension ColumnKind = iota
	KindMetric
	KindTimeDimension
)

func (k ColumnKind) String() string {
	switch k {
	case KindDimension:
		return "dimension"
	case KindMetric:
		return "metric"
	case KindTimeDimension:
		return "timeDimension"
	default:
		return fmt.Sprintf("ColumnKind(%d)", int(k))
	}
}

// Aggregation is the SQL aggregate a metric is wrapped in.
// AggNone means the formula aggregates by itself (or is computed from
// other metrics) and is emitted verbatim.
type Aggregation string

const (
	AggNone          Aggregation = ""
	AggSum           Aggregation = "SUM"
	AggMin           Aggregation = "MIN"
	AggMax           Aggregation = "MAX"
	AggAvg           Aggregation = "AVG"
	AggCount         Aggregation = "COUNT"
	AggCountDistinct Aggregation = "COUNT_DISTINCT"
)

// ParseAggregation accepts an aggregation name case-insensitively.
// The empty string maps to AggNone.
func ParseAggregation(s string) (Aggregation, error) {
	switch a := Aggregation(strings.ToUpper(strings.TrimSpace(s))); a {
	case AggNone, AggSum, AggMin, AggMax, AggAvg, AggCount, AggCountDistinct:
		return a, nil
	default:
		return "", fmt.Errorf("unknown aggregation %q", s)
	}
}

// ReAggregate returns the function that combines partial results of a.
// AVG and COUNT_DISTINCT cannot be combined from partials.
func (a Aggregation) ReAggregate() (Aggregation, bool) {
	switch a {
	case AggSum, AggCount:
		return AggSum, true
	case AggMin:
		return AggMin, true
	case AggMax:
		return AggMax, true
	default:
		return AggNone, false
	}
}

// TimeGrain is a calendar bucket size for time dimensions.
type TimeGrain string

const (
	GrainSecond  TimeGrain = "SECOND"
	GrainMinute  TimeGrain = "MINUTE"
	GrainHour    TimeGrain = "HOUR"
	GrainDay     TimeGrain = "DAY"
	GrainISOWeek TimeGrain = "ISOWEEK"
	GrainWeek    TimeGrain = "WEEK"
	GrainMonth   TimeGrain = "MONTH"
	GrainQuarter TimeGrain = "QUARTER"
	GrainYear    TimeGrain = "YEAR"
)

// AllGrains lists grains from finest to coarsest.
var AllGrains = []TimeGrain{
	GrainSecond, GrainMinute, GrainHour, GrainDay, GrainISOWeek,
	GrainWeek, GrainMonth, GrainQuarter, GrainYear,
}

// ParseTimeGrain accepts a grain name case-insensitively.
func ParseTimeGrain(s string) (TimeGrain, error) {
	g := TimeGrain(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllGrains {
		if g == known {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown time grain %q", s)
}

// Cardinality of a relationship as seen from its source table.
type Cardinality string

const (
	ToOne  Cardinality = "toOne"
	ToMany Cardinality = "toMany"
)

// JoinType is the SQL join flavor emitted for a relationship.
type JoinType string

const (
	JoinLeft  JoinType = "LEFT"
	JoinInner JoinType = "INNER"
	JoinFull  JoinType = "FULL"
	JoinCross JoinType = "CROSS"
)

// ParseJoinType accepts a join type case-insensitively; empty means LEFT.
func ParseJoinType(s string) (JoinType, error) {
	switch jt := JoinType(strings.ToUpper(strings.TrimSpace(s))); jt {
	case "":
		return JoinLeft, nil
	case JoinLeft, JoinInner, JoinFull, JoinCross:
		return jt, nil
	default:
		return "", fmt.Errorf("unknown join type %q", s)
	}
}
