// Package hierarchy splits a master KPI's annual target across its sub-KPIs.
package hierarchy

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/theirongolddev/kpitarget/internal/model"
)

const weightEps = 1e-9

// Member is one sub-KPI as seen by the distributor for a single slot.
type Member struct {
	KPIID  int64
	Weight float64
	Fixed  bool     // manual or formula driven: value kept verbatim
	Value  *float64 // current value; nil counts as 0 when Fixed
}

// Share is a derived sub-KPI value.
type Share struct {
	KPIID int64
	Value float64
}

// Allocation is the outcome of one distribution.
type Allocation struct {
	Applied  bool
	Residual float64
	Derived  []Share
}

// Distributor computes derived sub-KPI values from master values.
type Distributor struct {
	log zerolog.Logger
}

// New returns a distributor logging through log.
func New(log zerolog.Logger) *Distributor {
	return &Distributor{log: log}
}

// Distribute splits master minus the fixed members' values across the
// derivable members by weight, or evenly when the weights sum to zero.
// A nil master or a hierarchy with no derivable member leaves everything
// untouched (Applied is false).
func (d *Distributor) Distribute(masterID int64, slot model.Slot, master *float64, members []Member) Allocation {
	log := d.log.With().Int64("master", masterID).Int("slot", int(slot)).Logger()
	if master == nil {
		return Allocation{}
	}

	fixed := 0.0
	var derivable []Member
	for _, m := range members {
		if m.Fixed {
			if m.Value != nil {
				fixed += *m.Value
			}
			continue
		}
		derivable = append(derivable, m)
	}
	residual := *master - fixed

	if len(derivable) == 0 {
		if math.Abs(residual) > weightEps {
			log.Info().Float64("residual", residual).Msg("no derivable sub-KPIs, residual left unallocated")
		}
		return Allocation{Residual: residual}
	}
	if residual < 0 {
		log.Warn().Float64("residual", residual).Msg("fixed sub-KPIs exceed the master target, deriving negative values")
	}

	sort.Slice(derivable, func(i, j int) bool { return derivable[i].KPIID < derivable[j].KPIID })

	wsum := 0.0
	for _, m := range derivable {
		wsum += m.Weight
	}
	out := Allocation{Applied: true, Residual: residual, Derived: make([]Share, 0, len(derivable))}
	for _, m := range derivable {
		v := residual / float64(len(derivable))
		if wsum > weightEps {
			v = residual * m.Weight / wsum
		}
		out.Derived = append(out.Derived, Share{KPIID: m.KPIID, Value: v})
	}
	return out
}

// Members builds the member list for slot from the master's links and the
// sub-KPIs' current target records. Subs without a record are derivable.
func Members(slot model.Slot, links []model.SubLink, targets map[int64]model.AnnualTarget) []Member {
	out := make([]Member, 0, len(links))
	for _, l := range links {
		m := Member{KPIID: l.SubID, Weight: l.Weight}
		if t, ok := targets[l.SubID]; ok {
			def := t.Slot(slot)
			m.Fixed = def.Fixed()
			m.Value = def.Value
		}
		out = append(out, m)
	}
	return out
}
