// Package alignment lays out the clips of one language sequentially:
// narration first, then sound effects and dialogue interleaved by script
// position, separated by fixed buffers.
package alignment

import (
	"motion-timeline/internal/models"
)

// Result is the outcome of one alignment pass.
type Result struct {
	Clips         []models.AudioClip // placement order
	TotalDuration float64
	MusicDuration float64
}

// Align places narration, sfx and dialogue. Muted clips are placed at the
// cursor and flagged but do not advance it. Pinned clips keep their own start;
// the cursor continues after them but never moves backwards.
//
// Align is pure: inputs are never modified.
func Align(narration *models.AudioClip, sfx, dialogue []models.AudioClip, muted models.MuteSet, b models.AlignmentBuffers) Result {
	var (
		res    Result
		cursor float64
	)

	place := func(c models.AudioClip, buffer float64) {
		c.Muted = c.Muted || muted.Has(c.ID)
		c.Duration = max(c.Duration, 0)
		switch {
		case c.Muted:
			if !c.Pinned {
				c.StartTime = cursor
			}
		case c.Pinned:
			c.StartTime = max(c.StartTime, 0)
			// a pin earlier than the cursor never pulls it back over placed clips
			cursor = max(cursor, c.StartTime+c.Duration+buffer)
		default:
			c.StartTime = cursor
			cursor += c.Duration + buffer
		}
		res.Clips = append(res.Clips, c)
	}

	// 1. Narration at zero
	if narration != nil {
		n := *narration
		n.Pinned = false
		n.StartTime = 0
		place(n, b.Narration)
	}

	// 2. SFX[0], Dialogue[0], SFX[1], Dialogue[1], ...
	for i := 0; i < max(len(sfx), len(dialogue)); i++ {
		if i < len(sfx) {
			place(sfx[i], b.InterClip)
		}
		if i < len(dialogue) {
			place(dialogue[i], b.InterClip)
		}
	}

	// 3. Totals
	res.TotalDuration = max(cursor, b.MinSceneDuration)
	res.MusicDuration = res.TotalDuration + b.MusicEnd
	return res
}

// AlignTrackSet runs Align over a track set and writes the placements back
// into a copy of it. Music is placed at zero spanning the scene.
func AlignTrackSet(ts models.TrackSet, muted models.MuteSet, b models.AlignmentBuffers) (models.TrackSet, Result) {
	out := ts.Clone()
	res := Align(out.Voiceover, out.SFX, out.Dialogue, muted, b)

	placed := make(map[string]models.AudioClip, len(res.Clips))
	for _, c := range res.Clips {
		placed[c.ID] = c
	}
	if out.Voiceover != nil {
		*out.Voiceover = placed[out.Voiceover.ID]
	}
	for i := range out.Dialogue {
		out.Dialogue[i] = placed[out.Dialogue[i].ID]
	}
	for i := range out.SFX {
		out.SFX[i] = placed[out.SFX[i].ID]
	}
	if out.Description != nil {
		out.Description.Muted = out.Description.Muted || muted.Has(out.Description.ID)
	}
	if out.Music != nil {
		out.Music.StartTime = 0
		out.Music.Duration = res.MusicDuration
		out.Music.Muted = out.Music.Muted || muted.Has(out.Music.ID)
	}
	return out, res
}
