package pipeline

import (
	"strconv"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/theirongolddev/kpitarget/internal/calendar"
	"github.com/theirongolddev/kpitarget/internal/model"
	"github.com/theirongolddev/kpitarget/internal/source"
)

// RequestFromSubmission converts a parsed submission file into a save request.
func RequestFromSubmission(sub *source.Submission) SaveRequest {
	return SaveRequest{
		Year:       sub.Year,
		LocationID: sub.LocationID,
		Targets:    sub.Targets,
		Initiator:  sub.Initiator,
		KPIs:       sub.KPIs,
		Links:      sub.Links,
	}
}

type fingerprintTarget struct {
	Slots       [2]model.SlotDefinition
	Logic       model.Logic
	Profile     model.Profile
	Repartition model.RepartitionValues
	Params      model.ProfileParams
	Events      []string
}

type fingerprintView struct {
	Year       int
	LocationID int64
	KPIs       []model.KPI     `hash:"set"`
	Links      []model.SubLink `hash:"set"`
	Targets    map[int64]fingerprintTarget
}

// Fingerprint hashes the definitions carried by req. The initiator is not
// part of the hash, and KPI and link order does not matter.
func Fingerprint(req SaveRequest) (string, error) {
	view := fingerprintView{
		Year:       req.Year,
		LocationID: req.LocationID,
		KPIs:       req.KPIs,
		Links:      req.Links,
		Targets:    make(map[int64]fingerprintTarget, len(req.Targets)),
	}
	for id, at := range req.Targets {
		at = at.Clone()
		at.Normalize()
		ft := fingerprintTarget{
			Slots:       at.Slots,
			Logic:       at.Logic,
			Profile:     at.Profile,
			Repartition: at.Repartition,
			Params:      at.Params,
		}
		// time.Time carries a location pointer; hash the calendar days instead.
		ft.Params.Events = nil
		for _, ev := range at.Params.Events {
			ft.Events = append(ft.Events, ev.Label+"|"+calendar.DayKey(ev.Start)+"|"+calendar.DayKey(ev.End)+"|"+
				strconv.FormatFloat(ev.Multiplier, 'g', -1, 64)+"|"+strconv.FormatFloat(ev.Addition, 'g', -1, 64))
		}
		view.Targets[id] = ft
	}
	h, err := hashstructure.Hash(view, hashstructure.FormatV2, nil)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(h, 16), nil
}
