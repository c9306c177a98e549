// Package model defines the domain types shared by the repartition engine,
// the formula resolver, the store and the command surface.
package model

import (
	"fmt"
	"strings"
)

// Kind says how a KPI's annual target splits across sub-periods.
type Kind string

const (
	// Incremental targets are totals summed across sub-periods.
	Incremental Kind = "Incremental"
	// Average targets are per-day averages, averaged across sub-periods.
	Average Kind = "Average"
)

// ParseKind parses a calculation kind case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "incremental", "sum", "":
		return Incremental, nil
	case "average", "avg", "mean":
		return Average, nil
	}
	return "", fmt.Errorf("unknown calculation kind %q", s)
}

// KPI is the minimal KPI definition the engine needs.
type KPI struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// SubLink weights a sub-KPI under its master.
type SubLink struct {
	MasterID int64   `json:"master_id"`
	SubID    int64   `json:"sub_id"`
	Weight   float64 `json:"weight"`
}

// RoleKind classifies a KPI's place in the master/sub hierarchy.
type RoleKind string

const (
	RoleNone   RoleKind = "none"
	RoleMaster RoleKind = "master"
	RoleSub    RoleKind = "sub"
)

// Role is a KPI's position in the single-level master/sub hierarchy.
type Role struct {
	Kind     RoleKind
	MasterID int64   // set when Kind == RoleSub
	SubIDs   []int64 // set when Kind == RoleMaster
}
