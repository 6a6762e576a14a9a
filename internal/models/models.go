package models

import "math"

// --- TRACKS ---

// TrackKind names a timeline track. Audio clips carry it as their source kind.
type TrackKind string

const (
	TrackVoiceover   TrackKind = "voiceover"
	TrackDescription TrackKind = "description"
	TrackDialogue    TrackKind = "dialogue"
	TrackMusic       TrackKind = "music"
	TrackSFX         TrackKind = "sfx"
	TrackVideo       TrackKind = "video"
)

// LanguageAll marks clips that play in every language (music, sound effects).
const LanguageAll = "all"

// --- AUDIO ---

// Retiming is attached to every clip the reconciler repositioned.
type Retiming struct {
	BaselineDuration float64 `json:"baselineDuration"`
	ActualDuration   float64 `json:"actualDuration"`
	DurationDelta    float64 `json:"durationDelta"`
}

// NewRetiming records the difference between the baseline and the actual duration.
func NewRetiming(baseline, actual float64) *Retiming {
	return &Retiming{
		BaselineDuration: baseline,
		ActualDuration:   actual,
		DurationDelta:    actual - baseline,
	}
}

type AudioClip struct {
	ID            string    `json:"id"`
	URL           string    `json:"url,omitempty"` // empty means no audio
	StartTime     float64   `json:"startTime"`     // seconds
	Duration      float64   `json:"duration"`      // seconds
	Label         string    `json:"label"`
	Volume        float64   `json:"volume"` // 0..1
	Language      string    `json:"language"`
	SourceKind    TrackKind `json:"sourceKind"`
	CharacterName string    `json:"characterName,omitempty"`
	ClipIndex     int       `json:"clipIndex"`
	Pinned        bool      `json:"pinned,omitempty"` // source carried an explicit startTime
	Retiming      *Retiming `json:"retiming,omitempty"`
	IsStale       bool      `json:"isStale,omitempty"`
	StaleReason   string    `json:"staleReason,omitempty"`
	Muted         bool      `json:"muted,omitempty"`
	SourcePath    string    `json:"sourcePath,omitempty"` // location of the record inside the scene document
}

// End returns the time the clip stops sounding.
func (c AudioClip) End() float64 {
	return c.StartTime + c.Duration
}

// HasAudio reports whether the clip may be placed on a rendered track.
func (c AudioClip) HasAudio() bool {
	return c.URL != ""
}

// Timing returns the editable part of the clip.
func (c AudioClip) Timing() ClipTiming {
	return ClipTiming{StartTime: c.StartTime, Duration: c.Duration}
}

// TrackSet is the per-language set of audio tracks of one scene.
// Dialogue and SFX keep script order.
type TrackSet struct {
	Language    string      `json:"language"`
	Voiceover   *AudioClip  `json:"voiceover"`
	Description *AudioClip  `json:"description"`
	Dialogue    []AudioClip `json:"dialogue"`
	Music       *AudioClip  `json:"music"`
	SFX         []AudioClip `json:"sfx"`
}

// Clone returns a deep copy so derivations never share clip storage.
func (ts TrackSet) Clone() TrackSet {
	out := TrackSet{
		Language:    ts.Language,
		Voiceover:   cloneClip(ts.Voiceover),
		Description: cloneClip(ts.Description),
		Music:       cloneClip(ts.Music),
	}
	out.Dialogue = cloneClips(ts.Dialogue)
	out.SFX = cloneClips(ts.SFX)
	return out
}

// Find returns the clip with the given id from any track.
func (ts TrackSet) Find(id string) (AudioClip, bool) {
	for _, c := range []*AudioClip{ts.Voiceover, ts.Description, ts.Music} {
		if c != nil && c.ID == id {
			return *c, true
		}
	}
	for _, list := range [][]AudioClip{ts.Dialogue, ts.SFX} {
		for _, c := range list {
			if c.ID == id {
				return c, true
			}
		}
	}
	return AudioClip{}, false
}

func cloneClip(c *AudioClip) *AudioClip {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Retiming != nil {
		r := *c.Retiming
		cp.Retiming = &r
	}
	return &cp
}

func cloneClips(in []AudioClip) []AudioClip {
	if in == nil {
		return nil
	}
	out := make([]AudioClip, len(in))
	for i := range in {
		out[i] = *cloneClip(&in[i])
	}
	return out
}

// --- VISUALS ---

type VisualSegment struct {
	ID              string  `json:"id"`
	SequenceIndex   int     `json:"sequenceIndex"`
	SourceURL       string  `json:"sourceUrl,omitempty"`
	BaseDuration    float64 `json:"baseDuration"`
	DisplayDuration float64 `json:"displayDuration"`
	StartTime       float64 `json:"startTime"`
	EndTime         float64 `json:"endTime"`
	IsExtended      bool    `json:"isExtended"`
	Extension       float64 `json:"extension,omitempty"`
	ExtensionReason string  `json:"extensionReason,omitempty"`
	SourcePath      string  `json:"sourcePath,omitempty"`
}

// Contains reports whether t falls in the segment's display window [start, end).
func (s VisualSegment) Contains(t float64) bool {
	return t >= s.StartTime && t < s.EndTime
}

// --- TIMING ---

// AlignmentBuffers are the fixed gaps used by every placement computation.
type AlignmentBuffers struct {
	Narration        float64 `json:"narration" yaml:"narration"`
	InterClip        float64 `json:"interClip" yaml:"interClip"`
	MusicEnd         float64 `json:"musicEnd" yaml:"musicEnd"`
	MinSceneDuration float64 `json:"minSceneDuration" yaml:"minSceneDuration"`
}

func DefaultBuffers() AlignmentBuffers {
	return AlignmentBuffers{
		Narration:        2.0,
		InterClip:        0.5,
		MusicEnd:         2.0,
		MinSceneDuration: 10.0,
	}
}

// EditOffset is the transient overlay produced by a drag.
type EditOffset struct {
	StartDelta    float64 `json:"startDelta"`
	DurationDelta float64 `json:"durationDelta"`
}

func (o EditOffset) IsZero() bool {
	return math.Abs(o.StartDelta) < Epsilon && math.Abs(o.DurationDelta) < Epsilon
}

// ClipTiming is the absolute value handed to persistence.
type ClipTiming struct {
	StartTime float64 `json:"startTime"`
	Duration  float64 `json:"duration"`
}

// Equal compares timings within TimingTolerance. Persisted values are
// rounded to milliseconds.
func (t ClipTiming) Equal(o ClipTiming) bool {
	return math.Abs(t.StartTime-o.StartTime) < TimingTolerance && math.Abs(t.Duration-o.Duration) < TimingTolerance
}

const (
	// Epsilon is the tolerance used when comparing computed seconds.
	Epsilon = 1e-6
	// TimingTolerance is the tolerance used when comparing stored timings.
	TimingTolerance = 1e-3
)

// --- USER SELECTIONS ---

// MuteSet holds muted clip ids.
type MuteSet map[string]bool

func (m MuteSet) Has(id string) bool {
	return m != nil && m[id]
}

// TrackMask holds track kinds the user disabled.
type TrackMask map[TrackKind]bool

func (m TrackMask) Disabled(k TrackKind) bool {
	return m != nil && m[k]
}
