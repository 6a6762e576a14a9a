// Package segments maps audio re-timing onto the visual segment list by
// holding the last frame of the affected segment (freeze-frame extension).
package segments

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"motion-timeline/internal/models"
	"motion-timeline/internal/scene"
)

// Extension reasons.
const (
	ReasonNarration = "narration"
	ReasonDialogue  = "dialogue"
)

// FromScene reads the visual segments of a scene, ordered by sequence index
// and laid out contiguously from zero.
func FromScene(sc *scene.Scene) []models.VisualSegment {
	refs := sc.Segments()
	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].SequenceIndex < refs[j].SequenceIndex
	})
	segs := lo.Map(refs, func(r scene.SegmentRef, _ int) models.VisualSegment {
		id := r.ID
		if id == "" {
			name := fmt.Sprintf("motion-timeline:%s/segment/%d", sc.ID(), r.Position)
			id = uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
		}
		return models.VisualSegment{
			ID:              id,
			SequenceIndex:   r.SequenceIndex,
			SourceURL:       r.SourceURL,
			BaseDuration:    r.Duration,
			DisplayDuration: r.Duration,
			SourcePath:      r.Path,
		}
	})
	layout(segs)
	return segs
}

// MapTiming applies narration and dialogue overruns of a reconciled track set
// to a copy of segs. Display durations are always recomputed from the base
// durations, so feeding the output back in gives the same result.
func MapTiming(segs []models.VisualSegment, ts models.TrackSet) []models.VisualSegment {
	out := make([]models.VisualSegment, len(segs))
	for i, s := range segs {
		s.BaseDuration = max(s.BaseDuration, 0)
		s.DisplayDuration = s.BaseDuration
		s.IsExtended = false
		s.Extension = 0
		s.ExtensionReason = ""
		out[i] = s
	}
	layout(out)
	if len(out) == 0 {
		return out
	}

	extended := make(map[int]bool)

	// 1. Narration overrun goes to the anchor segment only
	if vo := ts.Voiceover; vo != nil && vo.Retiming != nil && vo.Retiming.DurationDelta > 0 {
		baselineEnd := vo.StartTime + vo.Retiming.BaselineDuration
		i := anchorSegment(out, baselineEnd)
		extend(out, i, vo.Retiming.DurationDelta, ReasonNarration)
		extended[i] = true
	}

	// 2. Dialogue overruns go to the segment showing when the line starts
	for _, c := range ts.Dialogue {
		if c.Retiming == nil || c.Retiming.DurationDelta <= 0 {
			continue
		}
		i := displaySegment(out, c.StartTime)
		if extended[i] {
			continue
		}
		extend(out, i, c.Retiming.DurationDelta, ReasonDialogue)
		extended[i] = true
	}
	return out
}

// anchorSegment returns the first segment whose baseline window (start, end]
// contains t, clamped to the first and last segment.
func anchorSegment(segs []models.VisualSegment, t float64) int {
	cum := 0.0
	for i, s := range segs {
		start, end := cum, cum+s.BaseDuration
		if t > start && t <= end+models.Epsilon {
			return i
		}
		cum = end
	}
	if t <= 0 {
		return 0
	}
	return len(segs) - 1
}

// displaySegment returns the first segment whose display window [start, end)
// contains t. Times past the end belong to the last segment.
func displaySegment(segs []models.VisualSegment, t float64) int {
	for i, s := range segs {
		if s.Contains(t) {
			return i
		}
	}
	if t < 0 {
		return 0
	}
	return len(segs) - 1
}

func extend(segs []models.VisualSegment, i int, delta float64, reason string) {
	s := &segs[i]
	s.DisplayDuration += delta
	s.Extension = s.DisplayDuration - s.BaseDuration
	s.IsExtended = true
	s.ExtensionReason = reason
	layout(segs)
}

// layout makes the segments contiguous from zero.
func layout(segs []models.VisualSegment) {
	cursor := 0.0
	for i := range segs {
		segs[i].StartTime = cursor
		cursor += segs[i].DisplayDuration
		segs[i].EndTime = cursor
	}
}

// TotalDisplayDuration sums the display durations.
func TotalDisplayDuration(segs []models.VisualSegment) float64 {
	return lo.SumBy(segs, func(s models.VisualSegment) float64 { return s.DisplayDuration })
}

// TotalBaseDuration sums the base durations.
func TotalBaseDuration(segs []models.VisualSegment) float64 {
	return lo.SumBy(segs, func(s models.VisualSegment) float64 { return s.BaseDuration })
}

// At returns the index of the segment displayed at t, or -1 when t is outside
// every segment.
func At(segs []models.VisualSegment, t float64) int {
	_, i, ok := lo.FindIndexOf(segs, func(s models.VisualSegment) bool { return s.Contains(t) })
	if !ok {
		return -1
	}
	return i
}
