// Package reconcile re-times a dubbed language against the layout of the
// baseline language.
package reconcile

import (
	"motion-timeline/internal/models"
	"motion-timeline/internal/scene"
	"motion-timeline/internal/tracks"
)

// Reconcile returns the target language's track set with clips positioned on
// the baseline layout. URLs and durations come from the target; ordering and
// the narration anchor come from the baseline. Every repositioned clip
// carries a Retiming.
func Reconcile(sc *scene.Scene, target, baseline string, opts tracks.Options) models.TrackSet {
	base := tracks.Extract(sc, baseline, opts)
	tgt := tracks.Extract(sc, target, opts)
	return Tracks(base, tgt, opts.Buffers)
}

// Tracks reconciles two already extracted track sets.
func Tracks(base, tgt models.TrackSet, b models.AlignmentBuffers) models.TrackSet {
	out := tgt.Clone()

	// 1. Narration delta. A longer dub pushes everything after it.
	cursor := 0.0
	if out.Voiceover != nil {
		out.Voiceover.StartTime = 0
		cursor = out.Voiceover.Duration + b.Narration
		if base.Voiceover != nil {
			out.Voiceover.Retiming = models.NewRetiming(base.Voiceover.Duration, out.Voiceover.Duration)
		}
	}
	if base.Voiceover != nil {
		cursor = max(cursor, base.Voiceover.Duration+b.Narration)
	}

	// 2. Walk the baseline's interleaved order, matching target clips by index
	sfxAt := indexByClip(out.SFX)
	dlgAt := indexByClip(out.Dialogue)
	matchedSFX := make(map[int]bool)
	matchedDlg := make(map[int]bool)

	place := func(c *models.AudioClip, baselineDuration float64) {
		c.StartTime = cursor
		c.Pinned = false
		c.Retiming = models.NewRetiming(baselineDuration, c.Duration)
		cursor += c.Duration + b.InterClip
	}

	for i := 0; i < max(len(base.SFX), len(base.Dialogue)); i++ {
		if i < len(base.SFX) {
			bc := base.SFX[i]
			if j, ok := sfxAt[bc.ClipIndex]; ok && !matchedSFX[j] {
				place(&out.SFX[j], bc.Duration)
				matchedSFX[j] = true
			}
		}
		if i < len(base.Dialogue) {
			bc := base.Dialogue[i]
			if j, ok := dlgAt[bc.ClipIndex]; ok && !matchedDlg[j] {
				place(&out.Dialogue[j], bc.Duration)
				matchedDlg[j] = true
			}
		}
	}

	// 3. Target-only content goes after everything that matched
	for i := 0; i < max(len(out.SFX), len(out.Dialogue)); i++ {
		if i < len(out.SFX) && !matchedSFX[i] {
			place(&out.SFX[i], 0)
		}
		if i < len(out.Dialogue) && !matchedDlg[i] {
			place(&out.Dialogue[i], 0)
		}
	}

	// Music is language independent and keeps its extracted timing.
	return out
}

// SceneDuration is the end of the last reconciled clip, floored like an
// aligned scene.
func SceneDuration(ts models.TrackSet, b models.AlignmentBuffers) float64 {
	end := 0.0
	if ts.Voiceover != nil {
		end = ts.Voiceover.End() + b.Narration
	}
	for _, list := range [][]models.AudioClip{ts.Dialogue, ts.SFX} {
		for _, c := range list {
			end = max(end, c.End()+b.InterClip)
		}
	}
	return max(end, b.MinSceneDuration)
}

func indexByClip(clips []models.AudioClip) map[int]int {
	at := make(map[int]int, len(clips))
	for i, c := range clips {
		if _, dup := at[c.ClipIndex]; !dup {
			at[c.ClipIndex] = i
		}
	}
	return at
}
