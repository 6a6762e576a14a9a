package alignment

import (
	"fmt"
	"math"
	"testing"

	"motion-timeline/internal/models"
)

func clip(id string, dur float64) models.AudioClip {
	return models.AudioClip{ID: id, URL: "/" + id, Duration: dur}
}

func buffers(narration, inter float64) models.AlignmentBuffers {
	b := models.DefaultBuffers()
	b.Narration = narration
	b.InterClip = inter
	return b
}

func TestAlignDialogueWithoutNarration(t *testing.T) {
	res := Align(nil, nil, []models.AudioClip{clip("d0", 3), clip("d1", 3)}, nil, buffers(2, 2))
	if res.Clips[0].StartTime != 0 || res.Clips[1].StartTime != 5 {
		t.Fatalf("starts = %v, %v; want 0, 5", res.Clips[0].StartTime, res.Clips[1].StartTime)
	}
}

func TestAlignInterleavesAfterNarration(t *testing.T) {
	vo := clip("vo", 4)
	vo.StartTime = 9
	vo.Pinned = true
	sfx := []models.AudioClip{clip("s0", 1), clip("s1", 1)}
	dlg := []models.AudioClip{clip("d0", 2)}

	res := Align(&vo, sfx, dlg, nil, buffers(2, 0.5))

	want := []struct {
		id    string
		start float64
	}{
		{"vo", 0},
		{"s0", 6},
		{"d0", 7.5},
		{"s1", 10},
	}
	if len(res.Clips) != len(want) {
		t.Fatalf("clips = %d", len(res.Clips))
	}
	for i, w := range want {
		c := res.Clips[i]
		if c.ID != w.id || math.Abs(c.StartTime-w.start) > 1e-9 {
			t.Errorf("clip %d = %s@%v, want %s@%v", i, c.ID, c.StartTime, w.id, w.start)
		}
	}
	if vo.StartTime != 9 || sfx[0].StartTime != 0 {
		t.Fatal("inputs must not be modified")
	}
	if math.Abs(res.TotalDuration-11.5) > 1e-9 || math.Abs(res.MusicDuration-13.5) > 1e-9 {
		t.Fatalf("total = %v music = %v", res.TotalDuration, res.MusicDuration)
	}
}

func pinned(id string, dur, start float64) models.AudioClip {
	c := clip(id, dur)
	c.StartTime = start
	c.Pinned = true
	return c
}

// assertSequential checks, in placement order, that every clip the cursor
// placed starts at least one buffer after the end of every audible clip
// before it.
func assertSequential(t *testing.T, res Result, b models.AlignmentBuffers) {
	t.Helper()
	reach := math.Inf(-1)
	for i, c := range res.Clips {
		if !c.Pinned && !c.Muted && c.StartTime < reach-1e-9 {
			t.Fatalf("clip %d %s at %v overlaps earlier clips ending (with buffer) at %v", i, c.ID, c.StartTime, reach)
		}
		if c.Muted {
			continue
		}
		buffer := b.InterClip
		if c.ID == "vo" {
			buffer = b.Narration
		}
		reach = max(reach, c.End()+buffer)
	}
}

func TestAlignNoOverlap(t *testing.T) {
	configs := []models.AlignmentBuffers{
		buffers(0, 0),
		buffers(2, 0.5),
		buffers(1, 3),
	}
	vo := clip("vo", 5.3)
	inputs := []struct {
		name  string
		sfx   []models.AudioClip
		dlg   []models.AudioClip
		muted models.MuteSet
	}{
		{"plain", []models.AudioClip{clip("s0", 1.2), clip("s1", 0.4), clip("s2", 2)}, []models.AudioClip{clip("d0", 3.1), clip("d1", 2.2)}, nil},
		{"pin behind cursor", []models.AudioClip{clip("s0", 1.2)}, []models.AudioClip{clip("d0", 3.1), pinned("d1", 1, 0.5), clip("d2", 2)}, nil},
		{"pin ahead of cursor", []models.AudioClip{clip("s0", 1.2)}, []models.AudioClip{pinned("d0", 3.1, 30), clip("d1", 2.2)}, nil},
		{"muted", []models.AudioClip{clip("s0", 1.2), clip("s1", 4)}, []models.AudioClip{clip("d0", 3.1), clip("d1", 2.2)}, models.MuteSet{"s1": true, "d0": true}},
		{"muted pin", []models.AudioClip{pinned("s0", 1.2, 0.2)}, []models.AudioClip{clip("d0", 3.1)}, models.MuteSet{"s0": true}},
	}

	for _, b := range configs {
		for _, in := range inputs {
			t.Run(fmt.Sprintf("%s/%v/%v", in.name, b.Narration, b.InterClip), func(t *testing.T) {
				assertSequential(t, Align(&vo, in.sfx, in.dlg, in.muted, b), b)
			})
		}
	}
}

func TestAlignPinBehindCursorKeepsCursor(t *testing.T) {
	dlg := []models.AudioClip{clip("d0", 3), pinned("d1", 1, 0.5), clip("d2", 2)}
	res := Align(nil, nil, dlg, nil, buffers(2, 0.5))

	want := map[string]float64{"d0": 0, "d1": 0.5, "d2": 3.5}
	for _, c := range res.Clips {
		if math.Abs(c.StartTime-want[c.ID]) > 1e-9 {
			t.Errorf("%s start = %v, want %v", c.ID, c.StartTime, want[c.ID])
		}
	}
	if math.Abs(res.TotalDuration-10) > 1e-9 {
		t.Fatalf("total = %v", res.TotalDuration)
	}
}

func TestAlignMutedSFXDoesNotMoveDialogue(t *testing.T) {
	dlg := []models.AudioClip{clip("d0", 3)}
	sfx := []models.AudioClip{clip("s0", 4)}
	b := buffers(2, 1)

	without := Align(nil, nil, dlg, nil, b)
	with := Align(nil, sfx, dlg, models.MuteSet{"s0": true}, b)

	if len(with.Clips) != 2 {
		t.Fatalf("muted clip must still be placed, got %d clips", len(with.Clips))
	}
	muted, d0 := with.Clips[0], with.Clips[1]
	if !muted.Muted || muted.StartTime != 0 {
		t.Fatalf("muted sfx = %+v", muted)
	}
	if d0.StartTime != without.Clips[0].StartTime {
		t.Fatalf("dialogue start = %v, want %v", d0.StartTime, without.Clips[0].StartTime)
	}
}

func TestAlignPinnedClipKeepsStart(t *testing.T) {
	d0 := clip("d0", 2)
	d0.StartTime = 12
	d0.Pinned = true
	res := Align(nil, nil, []models.AudioClip{d0, clip("d1", 1)}, nil, buffers(2, 1))
	if res.Clips[0].StartTime != 12 || res.Clips[1].StartTime != 15 {
		t.Fatalf("starts = %v, %v", res.Clips[0].StartTime, res.Clips[1].StartTime)
	}
}

func TestAlignMinimumSceneDuration(t *testing.T) {
	tests := []struct {
		name  string
		clips []models.AudioClip
		want  float64
	}{
		{"empty", nil, 10},
		{"short", []models.AudioClip{clip("d0", 2)}, 10},
		{"long", []models.AudioClip{clip("d0", 12)}, 12.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Align(nil, nil, tt.clips, nil, models.DefaultBuffers())
			if res.TotalDuration != tt.want || res.MusicDuration != tt.want+2 {
				t.Fatalf("total = %v music = %v", res.TotalDuration, res.MusicDuration)
			}
		})
	}
}

func TestAlignTrackSet(t *testing.T) {
	vo := clip("vo", 3)
	ts := models.TrackSet{
		Voiceover:   &vo,
		Description: &models.AudioClip{ID: "desc", URL: "/desc"},
		Dialogue:    []models.AudioClip{clip("d0", 2)},
		Music:       &models.AudioClip{ID: "m", URL: "/m", Duration: 99, StartTime: 4},
	}
	out, res := AlignTrackSet(ts, models.MuteSet{"desc": true, "m": true}, models.DefaultBuffers())

	if out.Dialogue[0].StartTime != 5 {
		t.Fatalf("dialogue start = %v", out.Dialogue[0].StartTime)
	}
	if out.Music.StartTime != 0 || out.Music.Duration != res.MusicDuration || !out.Music.Muted {
		t.Fatalf("music = %+v", out.Music)
	}
	if !out.Description.Muted {
		t.Fatal("description mute flag")
	}
	if ts.Music.Duration != 99 || ts.Dialogue[0].StartTime != 0 {
		t.Fatal("input track set modified")
	}
}
