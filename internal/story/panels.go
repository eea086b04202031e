// Package story holds the pure rules derived from a locked story: panel
// counts per page and the vertical bands used for sub-panel edits.
package story

import (
	"fmt"
	"regexp"
	"strings"

	"comic-orchestrator/internal/entity"
)

const (
	MinPanels     = 3
	MaxPanels     = 5
	DefaultPanels = 5
)

// panelMarker matches a line that starts with a single panel letter and a
// closing parenthesis, e.g. "a) Mia opens the door".
var panelMarker = regexp.MustCompile(`(?mi)^[ \t]*([a-e])\)`)

// PanelCount derives the panel count of a beat from its line-leading markers.
// Distinct letters are counted and clamped to [MinPanels, MaxPanels]; a beat
// without markers gets DefaultPanels.
func PanelCount(beat string) int {
	seen := make(map[string]struct{}, MaxPanels)
	for _, m := range panelMarker.FindAllStringSubmatch(beat, -1) {
		seen[strings.ToLower(m[1])] = struct{}{}
	}
	n := len(seen)
	switch {
	case n == 0:
		return DefaultPanels
	case n < MinPanels:
		return MinPanels
	case n > MaxPanels:
		return MaxPanels
	default:
		return n
	}
}

// PanelCounts maps every target to its panel count. Covers are a single
// full-bleed image.
func PanelCounts(beats []string) (map[entity.Target]int, error) {
	if len(beats) != entity.StoryPageCount {
		return nil, fmt.Errorf("expected %d beats, got %d", entity.StoryPageCount, len(beats))
	}
	out := make(map[entity.Target]int, entity.TargetCount)
	out[entity.TargetCover] = 1
	out[entity.TargetBackCover] = 1
	for i, t := range entity.StoryTargets() {
		out[t] = PanelCount(beats[i])
	}
	return out, nil
}

// WholePage selects the full page in an edit request.
const WholePage = 0

// Region is a horizontal band of a page, expressed as fractions of its height.
type Region struct {
	Panel  int     `json:"panel"`
	Of     int     `json:"of"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// PanelRegion returns the k-th (1-based) of n equal horizontal bands.
// Covers always resolve to one full-page panel.
func PanelRegion(t entity.Target, k, n int) (Region, error) {
	if t == entity.TargetCover || t == entity.TargetBackCover {
		n = 1
	}
	if n <= 0 {
		n = DefaultPanels
	}
	if k == WholePage {
		return Region{Panel: WholePage, Of: n, Top: 0, Bottom: 1}, nil
	}
	if k < 1 || k > n {
		return Region{}, fmt.Errorf("%w: panel %d of %d on %s", entity.ErrInvalidPanel, k, n, t)
	}
	return Region{
		Panel:  k,
		Of:     n,
		Top:    float64(k-1) / float64(n),
		Bottom: float64(k) / float64(n),
	}, nil
}

// IsWhole reports whether the region covers the entire page.
func (r Region) IsWhole() bool { return r.Panel == WholePage || (r.Top == 0 && r.Bottom == 1) }
