package formula

import (
	"fmt"
	"math"
)

// function is a whitelisted callable. maxArgs < 0 means variadic.
type function struct {
	name    string
	minArgs int
	maxArgs int
	apply   func(args []float64) float64
}

func (f *function) arity() string {
	switch {
	case f.maxArgs < 0:
		return fmt.Sprintf("at least %d", f.minArgs)
	case f.minArgs == f.maxArgs:
		return fmt.Sprintf("%d", f.minArgs)
	}
	return fmt.Sprintf("%d to %d", f.minArgs, f.maxArgs)
}

var functions = map[string]*function{
	"abs":   {name: "abs", minArgs: 1, maxArgs: 1, apply: func(a []float64) float64 { return math.Abs(a[0]) }},
	"floor": {name: "floor", minArgs: 1, maxArgs: 1, apply: func(a []float64) float64 { return math.Floor(a[0]) }},
	"ceil":  {name: "ceil", minArgs: 1, maxArgs: 1, apply: func(a []float64) float64 { return math.Ceil(a[0]) }},
	"sqrt":  {name: "sqrt", minArgs: 1, maxArgs: 1, apply: func(a []float64) float64 { return math.Sqrt(a[0]) }},
	"pow":   {name: "pow", minArgs: 2, maxArgs: 2, apply: func(a []float64) float64 { return math.Pow(a[0], a[1]) }},
	"min": {name: "min", minArgs: 1, maxArgs: -1, apply: func(a []float64) float64 {
		m := a[0]
		for _, v := range a[1:] {
			m = math.Min(m, v)
		}
		return m
	}},
	"max": {name: "max", minArgs: 1, maxArgs: -1, apply: func(a []float64) float64 {
		m := a[0]
		for _, v := range a[1:] {
			m = math.Max(m, v)
		}
		return m
	}},
	// round(x) or round(x, digits)
	"round": {name: "round", minArgs: 1, maxArgs: 2, apply: func(a []float64) float64 {
		if len(a) == 1 {
			return math.Round(a[0])
		}
		p := math.Pow(10, math.Trunc(a[1]))
		return math.Round(a[0]*p) / p
	}},
	// clamp(x, lo, hi)
	"clamp": {name: "clamp", minArgs: 3, maxArgs: 3, apply: func(a []float64) float64 {
		return math.Max(a[1], math.Min(a[2], a[0]))
	}},
}
