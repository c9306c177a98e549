package formula

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/theirongolddev/kpitarget/internal/model"
)

// DefaultExtraPasses is added to the node count to bound the pass loop.
const DefaultExtraPasses = 5

// Reasons a formula slot can stay unresolved.
const (
	ReasonCycle           = "cycle"
	ReasonMissingInput    = "missing_input"
	ReasonEvaluationError = "evaluation_error"
	ReasonBlocked         = "blocked"
)

// Resolution is a freshly computed formula value.
type Resolution struct {
	KPIID int64
	Slot  model.Slot
	Value float64
}

// Result is the outcome of one resolve run.
type Result struct {
	Resolved   []Resolution
	Unresolved []model.Unresolved
	Passes     int
}

// Resolver evaluates every formula slot of a (year, location) snapshot,
// ordering evaluation by data dependencies.
type Resolver struct {
	eval        Evaluator
	extraPasses int
	log         zerolog.Logger
}

// NewResolver returns a resolver. extraPasses < 0 uses DefaultExtraPasses.
func NewResolver(eval Evaluator, extraPasses int, log zerolog.Logger) *Resolver {
	if eval == nil {
		eval = NewArithmetic(0)
	}
	if extraPasses < 0 {
		extraPasses = DefaultExtraPasses
	}
	return &Resolver{eval: eval, extraPasses: extraPasses, log: log}
}

type nodeState int

const (
	pending nodeState = iota
	resolved
)

// slotRef is an arena key: one formula slot.
type slotRef struct {
	kpi  int64
	slot model.Slot
}

func (r slotRef) String() string { return fmt.Sprintf("kpi %d slot %d", r.kpi, r.slot) }

type fnode struct {
	ref     slotRef
	expr    string
	inputs  []model.FormulaBinding
	deps    []int // indices of formula nodes this one reads
	state   nodeState
	value   float64
	lastErr error
}

// Resolve computes every formula slot in targets. The map is not modified;
// callers apply Result.Resolved.
func (r *Resolver) Resolve(targets map[int64]model.AnnualTarget) Result {
	nodes, index := buildArena(targets)
	var res Result
	if len(nodes) == 0 {
		return res
	}

	lookup := func(b model.FormulaBinding) (float64, bool) {
		ref := slotRef{kpi: b.SourceKPI, slot: b.SourceSlot}
		if i, ok := index[ref]; ok {
			n := nodes[i]
			return n.value, n.state == resolved
		}
		t, ok := targets[b.SourceKPI]
		if !ok || !b.SourceSlot.Valid() {
			return 0, false
		}
		def := t.Slot(b.SourceSlot)
		if !def.HasValue() {
			return 0, false
		}
		return *def.Value, true
	}

	maxPasses := len(nodes) + r.extraPasses
	for res.Passes < maxPasses {
		res.Passes++
		progress := false
		for _, n := range nodes {
			if n.state != pending {
				continue
			}
			vars := make(map[string]float64, len(n.inputs))
			ready := true
			for _, b := range n.inputs {
				v, ok := lookup(b)
				if !ok {
					ready = false
					break
				}
				vars[b.Variable] = v
			}
			if !ready {
				continue
			}
			v, err := r.eval.Evaluate(n.expr, vars)
			if err != nil {
				n.lastErr = err
				continue
			}
			n.value, n.state, n.lastErr = v, resolved, nil
			progress = true
		}
		if !progress {
			break
		}
	}

	for _, n := range nodes {
		if n.state == resolved {
			res.Resolved = append(res.Resolved, Resolution{KPIID: n.ref.kpi, Slot: n.ref.slot, Value: n.value})
		}
	}
	res.Unresolved = r.diagnose(nodes, index, targets)
	for _, u := range res.Unresolved {
		r.log.Warn().
			Int64("kpi", u.KPIID).
			Int("slot", int(u.Slot)).
			Str("reason", u.Reason).
			Str("detail", u.Detail).
			Msg("formula left unresolved")
	}
	r.log.Debug().
		Int("formulas", len(nodes)).
		Int("resolved", len(res.Resolved)).
		Int("passes", res.Passes).
		Msg("formula resolution finished")
	return res
}

// buildArena collects formula slots sorted by (kpi, slot) and links each to
// the formula slots it reads.
func buildArena(targets map[int64]model.AnnualTarget) ([]*fnode, map[slotRef]int) {
	var nodes []*fnode
	for kpi, t := range targets {
		for _, s := range model.Slots {
			def := t.Slot(s)
			if !def.Formula {
				continue
			}
			nodes = append(nodes, &fnode{
				ref:    slotRef{kpi: kpi, slot: s},
				expr:   def.Expression,
				inputs: def.Inputs,
			})
		}
	}
	sort.Slice(nodes, func(i, j int) bool {
		a, b := nodes[i].ref, nodes[j].ref
		if a.kpi != b.kpi {
			return a.kpi < b.kpi
		}
		return a.slot < b.slot
	})

	index := make(map[slotRef]int, len(nodes))
	for i, n := range nodes {
		index[n.ref] = i
	}
	for _, n := range nodes {
		seen := make(map[int]bool)
		for _, b := range n.inputs {
			j, ok := index[slotRef{kpi: b.SourceKPI, slot: b.SourceSlot}]
			if ok && !seen[j] {
				seen[j] = true
				n.deps = append(n.deps, j)
			}
		}
		sort.Ints(n.deps)
	}
	return nodes, index
}

// diagnose assigns a reason to every pending node. Cycle membership wins over
// evaluation errors, which win over missing inputs; anything else is blocked
// behind another unresolved node.
func (r *Resolver) diagnose(nodes []*fnode, index map[slotRef]int, targets map[int64]model.AnnualTarget) []model.Unresolved {
	var pendingIdx []int
	for i, n := range nodes {
		if n.state == pending {
			pendingIdx = append(pendingIdx, i)
		}
	}
	if len(pendingIdx) == 0 {
		return nil
	}

	cycleOf := make(map[int][]int)
	for _, scc := range stronglyConnected(nodes, pendingIdx) {
		if len(scc) == 1 && !selfLoop(nodes[scc[0]]) {
			continue
		}
		for _, i := range scc {
			cycleOf[i] = scc
		}
	}

	out := make([]model.Unresolved, 0, len(pendingIdx))
	for _, i := range pendingIdx {
		n := nodes[i]
		u := model.Unresolved{KPIID: n.ref.kpi, Slot: n.ref.slot}
		switch {
		case cycleOf[i] != nil:
			u.Reason = ReasonCycle
			refs := make([]string, 0, len(cycleOf[i]))
			for _, j := range cycleOf[i] {
				u.Cycle = append(u.Cycle, nodes[j].ref.kpi)
				refs = append(refs, nodes[j].ref.String())
			}
			u.Detail = strings.Join(refs, " -> ")
		case n.lastErr != nil:
			u.Reason = ReasonEvaluationError
			u.Detail = n.lastErr.Error()
		default:
			missing, blocker := classifyInputs(n, nodes, index, targets)
			if len(missing) > 0 {
				u.Reason = ReasonMissingInput
				u.Detail = strings.Join(missing, ", ")
			} else {
				u.Reason = ReasonBlocked
				u.Detail = "waiting on " + blocker
			}
		}
		out = append(out, u)
	}
	return out
}

func classifyInputs(n *fnode, nodes []*fnode, index map[slotRef]int, targets map[int64]model.AnnualTarget) ([]string, string) {
	var missing []string
	blocker := ""
	for _, b := range n.inputs {
		ref := slotRef{kpi: b.SourceKPI, slot: b.SourceSlot}
		if j, ok := index[ref]; ok {
			if nodes[j].state == pending && blocker == "" {
				blocker = ref.String()
			}
			continue
		}
		t, ok := targets[b.SourceKPI]
		if !ok || !b.SourceSlot.Valid() || !t.Slot(b.SourceSlot).HasValue() {
			missing = append(missing, fmt.Sprintf("%s (%s)", ref, b.Variable))
		}
	}
	return missing, blocker
}

func selfLoop(n *fnode) bool {
	for _, b := range n.inputs {
		if b.SourceKPI == n.ref.kpi && b.SourceSlot == n.ref.slot {
			return true
		}
	}
	return false
}

// stronglyConnected runs Tarjan's algorithm over the subgraph induced by
// members. Components are returned with their node indices ascending.
func stronglyConnected(nodes []*fnode, members []int) [][]int {
	in := make(map[int]bool, len(members))
	for _, i := range members {
		in[i] = true
	}

	var (
		counter int
		stack   []int
		onStack = make(map[int]bool)
		order   = make(map[int]int)
		low     = make(map[int]int)
		out     [][]int
	)

	var visit func(v int)
	visit = func(v int) {
		order[v] = counter
		low[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range nodes[v].deps {
			if !in[w] {
				continue
			}
			if _, seen := order[w]; !seen {
				visit(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], order[w])
			}
		}

		if low[v] == order[v] {
			var scc []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sort.Ints(scc)
			out = append(out, scc)
		}
	}

	for _, v := range members {
		if _, seen := order[v]; !seen {
			visit(v)
		}
	}
	return out
}
