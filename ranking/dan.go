package ranking

import (
	"fmt"
	"sort"
)

// DanRule is the rank held from MinPoints up to the next rule's MinPoints.
type DanRule struct {
	Level     int
	Name      string
	MinPoints int
	Deltas    [Seats]int // by placement, first place at index 0
	Protected bool
}

// DanTable is sorted by MinPoints ascending and always starts at 0 points.
type DanTable struct {
	Rules []DanRule
}

// NewDanTable sorts and validates rules.
func NewDanTable(rules []DanRule) (DanTable, error) {
	if len(rules) == 0 {
		return DanTable{}, fmt.Errorf("dan table is empty")
	}
	sorted := make([]DanRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinPoints < sorted[j].MinPoints })
	if sorted[0].MinPoints != 0 {
		return DanTable{}, fmt.Errorf("lowest dan must start at 0 points, got %d", sorted[0].MinPoints)
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i].MinPoints == sorted[i-1].MinPoints {
			return DanTable{}, fmt.Errorf("dans %q and %q share threshold %d", sorted[i-1].Name, sorted[i].Name, sorted[i].MinPoints)
		}
		if sorted[i].Level <= sorted[i-1].Level {
			return DanTable{}, fmt.Errorf("dan levels must increase with thresholds (%q)", sorted[i].Name)
		}
	}
	return DanTable{Rules: sorted}, nil
}

// Lookup returns the highest rule whose threshold is reached.
func (t DanTable) Lookup(points int) DanRule {
	i := sort.Search(len(t.Rules), func(i int) bool { return t.Rules[i].MinPoints > points })
	if i == 0 {
		return t.Rules[0]
	}
	return t.Rules[i-1]
}

// Next returns the rule following level, if any.
func (t DanTable) Next(level int) (DanRule, bool) {
	for _, r := range t.Rules {
		if r.Level > level {
			return r, true
		}
	}
	return DanRule{}, false
}

// Apply returns the dan points after finishing in placement while holding points.
func (t DanTable) Apply(points, placement int) int {
	rule := t.Lookup(points)
	next := points + rule.Deltas[placement-1]
	floor := 0
	if rule.Protected {
		floor = rule.MinPoints
	}
	if next < floor {
		next = floor
	}
	return next
}
