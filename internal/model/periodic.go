package model

import (
	"fmt"
	"strings"
	"time"
)

// Granularity names one of the four periodic target stores.
type Granularity string

const (
	Daily     Granularity = "daily"
	Weekly    Granularity = "weekly"
	Monthly   Granularity = "monthly"
	Quarterly Granularity = "quarterly"
)

// Granularities lists the periodic stores from finest to coarsest.
var Granularities = []Granularity{Daily, Weekly, Monthly, Quarterly}

// ParseGranularity parses a granularity name.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range Granularities {
		if g == k {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown granularity %q", s)
}

// PeriodValue is one row of a periodic store.
type PeriodValue struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// SeriesKey identifies the periodic rows owned by one KPI slot.
type SeriesKey struct {
	Year       int   `json:"year"`
	LocationID int64 `json:"location_id"`
	KPIID      int64 `json:"kpi_id"`
	Slot       Slot  `json:"slot"`
}

func (k SeriesKey) String() string {
	return fmt.Sprintf("%d/%d/kpi-%d/slot-%d", k.Year, k.LocationID, k.KPIID, k.Slot)
}

// Series holds all four granularities generated for one KPI slot.
type Series struct {
	Daily     []PeriodValue `json:"daily"`
	Weekly    []PeriodValue `json:"weekly"`
	Monthly   []PeriodValue `json:"monthly"`
	Quarterly []PeriodValue `json:"quarterly"`
}

// Get returns the rows for granularity g.
func (s Series) Get(g Granularity) []PeriodValue {
	switch g {
	case Daily:
		return s.Daily
	case Weekly:
		return s.Weekly
	case Monthly:
		return s.Monthly
	case Quarterly:
		return s.Quarterly
	}
	return nil
}

// Unresolved describes a formula slot the resolver could not evaluate.
type Unresolved struct {
	KPIID  int64   `json:"kpi_id"`
	Slot   Slot    `json:"slot"`
	Reason string  `json:"reason"`
	Detail string  `json:"detail,omitempty"`
	Cycle  []int64 `json:"cycle,omitempty"`
}

// SaveRun records one orchestrated save.
type SaveRun struct {
	ID         string        `json:"id"`
	Year       int           `json:"year"`
	LocationID int64         `json:"location_id"`
	Initiator  *int64        `json:"initiator,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	// Fingerprint hashes the submitted definitions; equal fingerprints mean
	// an identical resubmission.
	Fingerprint string       `json:"fingerprint"`
	Changed     []int64      `json:"changed"`
	Unresolved  []Unresolved `json:"unresolved,omitempty"`
}
