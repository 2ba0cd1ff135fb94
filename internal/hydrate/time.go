package hydrate

import (
	"encoding/json"
	"time"

	"github.com/roach88/aggql/internal/metadata"
)

// Time is a time dimension value bucketed to a grain. It prints in the
// shortest layout that carries the grain.
type Time struct {
	Grain metadata.TimeGrain
	Value time.Time
}

var layouts = map[metadata.TimeGrain]string{
	metadata.GrainSecond:  "2006-01-02T15:04:05",
	metadata.GrainMinute:  "2006-01-02T15:04",
	metadata.GrainHour:    "2006-01-02T15",
	metadata.GrainDay:     "2006-01-02",
	metadata.GrainISOWeek: "2006-01-02",
	metadata.GrainWeek:    "2006-01-02",
	metadata.GrainMonth:   "2006-01",
	metadata.GrainQuarter: "2006-01",
	metadata.GrainYear:    "2006",
}

func (t Time) String() string {
	layout, ok := layouts[t.Grain]
	if !ok {
		layout = time.RFC3339
	}
	return t.Value.Format(layout)
}

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// truncate drops everything finer than g. Week grains are left alone:
// the backend already moved the value to the start of its week.
func truncate(t time.Time, g metadata.TimeGrain) time.Time {
	switch g {
	case metadata.GrainSecond:
		return t.Truncate(time.Second)
	case metadata.GrainMinute:
		return t.Truncate(time.Minute)
	case metadata.GrainHour:
		return t.Truncate(time.Hour)
	case metadata.GrainMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case metadata.GrainQuarter:
		m := time.Month((int(t.Month())-1)/3*3 + 1)
		return time.Date(t.Year(), m, 1, 0, 0, 0, 0, time.UTC)
	case metadata.GrainYear:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}
