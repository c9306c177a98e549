package pipeline

import (
	"context"
	"testing"

	"github.com/theirongolddev/kpitarget/internal/model"
)

func BenchmarkSaveAnnualTargets(b *testing.B) {
	o, _, _ := newTestOrchestrator(b)
	req := SaveRequest{Year: 2025, LocationID: 1, Targets: map[int64]model.AnnualTarget{}}
	for id := int64(1); id <= 20; id++ {
		req.Targets[id] = model.AnnualTarget{
			Slots:   [2]model.SlotDefinition{{Value: model.Float(float64(id) * 1000), Manual: true}},
			Logic:   model.LogicMonth,
			Profile: model.ProfileMonthlySinusoidal,
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := o.SaveAnnualTargets(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}
