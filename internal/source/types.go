package source

import "github.com/theirongolddev/kpitarget/internal/model"

// RawFile is the TOML layout of a submission file.
type RawFile struct {
	Year      int         `toml:"year"`
	Location  int64       `toml:"location"`
	Initiator *int64      `toml:"initiator"`
	KPIs      []RawKPI    `toml:"kpi"`
	Links     []RawLink   `toml:"link"`
	Targets   []RawTarget `toml:"target"`
}

// RawKPI registers or renames a KPI.
type RawKPI struct {
	ID   int64  `toml:"id"`
	Name string `toml:"name"`
	Kind string `toml:"kind"`
}

// RawLink attaches a sub-KPI to a master.
type RawLink struct {
	Master int64    `toml:"master"`
	Sub    int64    `toml:"sub"`
	Weight *float64 `toml:"weight"` // default 1
}

// RawTarget is one annual target definition.
type RawTarget struct {
	KPI         int64              `toml:"kpi"`
	Logic       string             `toml:"logic"`
	Profile     string             `toml:"profile"`
	Repartition map[string]float64 `toml:"repartition"`
	Slot1       RawSlot            `toml:"slot1"`
	Slot2       RawSlot            `toml:"slot2"`
	Params      RawParams          `toml:"params"`
	Events      []RawEvent         `toml:"events"`
}

// RawSlot defines one target slot. A non-empty Formula makes the slot
// formula driven and Value is then ignored.
type RawSlot struct {
	Value   *float64               `toml:"value"`
	Manual  bool                   `toml:"manual"`
	Formula string                 `toml:"formula"`
	Inputs  []model.FormulaBinding `toml:"inputs"`
}

// RawParams tunes the distribution profile.
type RawParams struct {
	Amplitude      *float64 `toml:"amplitude"`
	Phase          *float64 `toml:"phase"`
	Strength       *float64 `toml:"strength"`
	WeekendFactor  *float64 `toml:"weekend_factor"`
	DeviationScale *float64 `toml:"deviation_scale"`
}

// RawEvent is a date-ranged adjustment. Dates are YYYY-MM-DD strings.
type RawEvent struct {
	Label      string   `toml:"label"`
	Start      string   `toml:"start"`
	End        string   `toml:"end"`
	Multiplier *float64 `toml:"multiplier"` // default 1
	Addition   float64  `toml:"addition"`
}

// Submission is a validated save request read from one file.
type Submission struct {
	Path       string
	Year       int
	LocationID int64
	Initiator  *int64
	KPIs       []model.KPI
	Links      []model.SubLink
	Targets    map[int64]model.AnnualTarget
}

// DiscoveredFile is a submission file found during directory scanning.
type DiscoveredFile struct {
	Path      string
	MtimeNs   int64
	SizeBytes int64
}
