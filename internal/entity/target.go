package entity

import (
	"fmt"
	"strconv"
	"strings"
)

// Target is one of the twelve fixed page slots of a book. The numeric value is
// both the generation order and the position in the customer document.
type Target int

const (
	TargetCover Target = iota
	TargetStoryPage1
	TargetStoryPage2
	TargetStoryPage3
	TargetStoryPage4
	TargetStoryPage5
	TargetStoryPage6
	TargetStoryPage7
	TargetStoryPage8
	TargetStoryPage9
	TargetStoryPage10
	TargetBackCover
)

const (
	TargetCount    = 12
	StoryPageCount = 10
)

// AllTargets lists every target in generation and assembly order.
var AllTargets = [TargetCount]Target{
	TargetCover,
	TargetStoryPage1, TargetStoryPage2, TargetStoryPage3, TargetStoryPage4, TargetStoryPage5,
	TargetStoryPage6, TargetStoryPage7, TargetStoryPage8, TargetStoryPage9, TargetStoryPage10,
	TargetBackCover,
}

// StoryTargets returns storyPage1..storyPage10 in order.
func StoryTargets() []Target {
	out := make([]Target, 0, StoryPageCount)
	for i := 1; i <= StoryPageCount; i++ {
		out = append(out, Target(i))
	}
	return out
}

// RequiredApprovals are the targets that must be approved before finalize.
// The back cover is generated but deliberately not part of the gate.
func RequiredApprovals() []Target {
	return append([]Target{TargetCover}, StoryTargets()...)
}

func (t Target) Valid() bool { return t >= TargetCover && t <= TargetBackCover }

func (t Target) Index() int { return int(t) }

func (t Target) IsStoryPage() bool { return t >= TargetStoryPage1 && t <= TargetStoryPage10 }

// StoryNumber returns 1..10 for story pages and 0 otherwise.
func (t Target) StoryNumber() int {
	if !t.IsStoryPage() {
		return 0
	}
	return int(t)
}

func (t Target) String() string {
	switch {
	case t == TargetCover:
		return "cover"
	case t == TargetBackCover:
		return "backCover"
	case t.IsStoryPage():
		return "storyPage" + strconv.Itoa(int(t))
	default:
		return "target(" + strconv.Itoa(int(t)) + ")"
	}
}

// ParseTarget converts a key such as "storyPage3" back to a Target.
func ParseTarget(s string) (Target, error) {
	switch s {
	case "cover":
		return TargetCover, nil
	case "backCover":
		return TargetBackCover, nil
	}
	if rest, ok := strings.CutPrefix(s, "storyPage"); ok {
		n, err := strconv.Atoi(rest)
		if err == nil && n >= 1 && n <= StoryPageCount && strconv.Itoa(n) == rest {
			return Target(n), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTarget, s)
}

func (t Target) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTarget, int(t))
	}
	return []byte(t.String()), nil
}

func (t *Target) UnmarshalText(b []byte) error {
	v, err := ParseTarget(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Counters tracks per-target attempt counts. A target with no active problem
// has no key at all.
type Counters map[Target]int

func (c Counters) Get(t Target) int { return c[t] }

// Inc bumps the counter and returns the new value. The receiver must be non-nil.
func (c Counters) Inc(t Target) int {
	c[t]++
	return c[t]
}

// Clear removes the key rather than zeroing it.
func (c Counters) Clear(t Target) { delete(c, t) }
