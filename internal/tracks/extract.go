// Package tracks turns a raw scene into per-language audio track sets.
package tracks

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rivo/uniseg"

	"motion-timeline/internal/models"
	"motion-timeline/internal/scene"
)

const (
	// DefaultWordsPerSecond is the speaking rate used to estimate missing durations.
	DefaultWordsPerSecond = 2.5
	// MinEstimatedDuration applies to any estimated clip.
	MinEstimatedDuration = 1.0
	// FallbackDuration is used when neither metadata nor text exist.
	FallbackDuration = 5.0

	labelLength = 40
)

// Default volumes per track.
const (
	VoiceVolume = 1.0
	MusicVolume = 0.35
	SFXVolume   = 0.8
)

type Options struct {
	DefaultLanguage string
	Buffers         models.AlignmentBuffers
	WordsPerSecond  float64
}

func DefaultOptions() Options {
	return Options{
		DefaultLanguage: "en",
		Buffers:         models.DefaultBuffers(),
		WordsPerSecond:  DefaultWordsPerSecond,
	}
}

// Extract builds the track set of one language. It never fails: missing or
// malformed data yields nil clips and empty lists.
func Extract(sc *scene.Scene, lang string, opts Options) models.TrackSet {
	if sc == nil {
		sc = scene.Parse(nil)
	}
	if opts.WordsPerSecond <= 0 {
		opts.WordsPerSecond = DefaultWordsPerSecond
	}
	if lang == "" {
		lang = opts.DefaultLanguage
	}
	x := extractor{sc: sc, lang: lang, opts: opts, sceneID: sc.ID()}

	ts := models.TrackSet{Language: lang}

	// 1. Narration is the spine of the scene
	ts.Voiceover = x.voiceover()
	ts.Description = x.description()

	// 2. Dialogue and SFX start after the narration buffer
	anchor := 0.0
	if ts.Voiceover != nil {
		anchor = ts.Voiceover.End() + opts.Buffers.Narration
	}
	ts.Dialogue = x.dialogue(anchor)
	ts.SFX = x.sfx(anchor)

	// 3. Music spans everything
	ts.Music = x.music(contentEnd(ts))
	return ts
}

type extractor struct {
	sc      *scene.Scene
	lang    string
	opts    Options
	sceneID string
}

func (x extractor) voiceover() *models.AudioClip {
	ref := x.sc.NarrationAudio(x.lang, x.opts.DefaultLanguage)
	if ref.URL == "" {
		return nil
	}
	dur := ref.Duration
	if dur == 0 {
		dur = x.estimate(x.sc.NarrationText())
	}
	return &models.AudioClip{
		ID:         x.clipID(models.TrackVoiceover, ref.Language, 0),
		URL:        ref.URL,
		StartTime:  ref.StartTime,
		Duration:   dur,
		Label:      "Narration",
		Volume:     volumeOr(ref.Volume, VoiceVolume),
		Language:   ref.Language,
		SourceKind: models.TrackVoiceover,
		Pinned:     ref.HasStart,
		SourcePath: ref.Path,
	}
}

func (x extractor) description() *models.AudioClip {
	ref := x.sc.DescriptionAudio(x.lang, x.opts.DefaultLanguage)
	if ref.URL == "" {
		return nil
	}
	dur := ref.Duration
	if dur == 0 {
		dur = x.estimate(x.sc.VisualDescription())
	}
	return &models.AudioClip{
		ID:         x.clipID(models.TrackDescription, ref.Language, 0),
		URL:        ref.URL,
		StartTime:  ref.StartTime,
		Duration:   dur,
		Label:      "Description",
		Volume:     volumeOr(ref.Volume, VoiceVolume),
		Language:   ref.Language,
		SourceKind: models.TrackDescription,
		Pinned:     ref.HasStart,
		SourcePath: ref.Path,
	}
}

func (x extractor) dialogue(anchor float64) []models.AudioClip {
	lines := x.sc.Dialogue()
	entries, key, structured := x.sc.DialogueAudio(x.lang, x.opts.DefaultLanguage)

	var clips []models.AudioClip
	cursor := anchor
	place := func(c models.AudioClip, explicit float64, hasExplicit bool) {
		c.StartTime = cursor
		if hasExplicit {
			c.StartTime = explicit
			c.Pinned = true
		}
		cursor = max(cursor, c.StartTime+c.Duration+x.opts.Buffers.InterClip)
		clips = append(clips, c)
	}

	if structured {
		checkText := scene.SameLanguage(key, x.opts.DefaultLanguage)
		for _, e := range entries {
			if e.URL == "" {
				continue
			}
			var line *scene.Line
			if e.Index >= 0 && e.Index < len(lines) {
				line = &lines[e.Index]
			}
			text := e.Text
			character := e.Character
			if line != nil {
				if text == "" {
					text = line.Text
				}
				if character == "" {
					character = line.Character
				}
			}
			dur := e.Duration
			if dur == 0 {
				dur = x.estimate(text)
			}
			c := models.AudioClip{
				ID:            orElse(e.ID, func() string { return x.clipID(models.TrackDialogue, key, e.Index) }),
				URL:           e.URL,
				Duration:      dur,
				Label:         dialogueLabel(character, text),
				Volume:        volumeOr(e.Volume, VoiceVolume),
				Language:      key,
				SourceKind:    models.TrackDialogue,
				CharacterName: character,
				ClipIndex:     e.Index,
				SourcePath:    e.Path,
			}
			if reason := staleReason(e, line, checkText); reason != "" {
				c.IsStale = true
				c.StaleReason = reason
			}
			place(c, e.StartTime, e.HasStart)
		}
		return clips
	}

	// Inline fallback: audio stored on the script lines themselves
	for _, l := range lines {
		if l.AudioURL == "" {
			continue
		}
		if l.AudioLanguage != "" && !scene.SameLanguage(l.AudioLanguage, x.lang) {
			continue
		}
		dur := l.Duration
		if dur == 0 {
			dur = x.estimate(l.Text)
		}
		audioLang := l.AudioLanguage
		if audioLang == "" {
			audioLang = x.lang
		}
		c := models.AudioClip{
			ID:            x.clipID(models.TrackDialogue, audioLang, l.Index),
			URL:           l.AudioURL,
			Duration:      dur,
			Label:         dialogueLabel(l.Character, l.Text),
			Volume:        VoiceVolume,
			Language:      audioLang,
			SourceKind:    models.TrackDialogue,
			CharacterName: l.Character,
			ClipIndex:     l.Index,
			SourcePath:    l.Path,
		}
		place(c, l.StartTime, l.HasStart)
	}
	return clips
}

func (x extractor) sfx(anchor float64) []models.AudioClip {
	var clips []models.AudioClip
	cursor := anchor
	for _, e := range x.sc.SFX() {
		if e.URL == "" {
			continue
		}
		dur := e.Duration
		if dur == 0 {
			dur = FallbackDuration / 2
		}
		c := models.AudioClip{
			ID:         x.clipID(models.TrackSFX, models.LanguageAll, e.Index),
			URL:        e.URL,
			StartTime:  cursor,
			Duration:   dur,
			Label:      truncateLabel(orElse(e.Description, func() string { return "Sound effect" }), labelLength),
			Volume:     volumeOr(e.Volume, SFXVolume),
			Language:   models.LanguageAll,
			SourceKind: models.TrackSFX,
			ClipIndex:  e.Index,
			SourcePath: e.Path,
		}
		if e.HasStart {
			c.StartTime = e.StartTime
			c.Pinned = true
		}
		cursor = max(cursor, c.StartTime+c.Duration+x.opts.Buffers.InterClip)
		clips = append(clips, c)
	}
	return clips
}

func (x extractor) music(end float64) *models.AudioClip {
	ref := x.sc.Music()
	if ref.URL == "" {
		return nil
	}
	dur := ref.Duration
	if dur == 0 {
		b := x.opts.Buffers
		dur = max(end, b.MinSceneDuration) + b.MusicEnd
	}
	return &models.AudioClip{
		ID:         x.clipID(models.TrackMusic, models.LanguageAll, 0),
		URL:        ref.URL,
		StartTime:  0,
		Duration:   dur,
		Label:      "Music",
		Volume:     volumeOr(ref.Volume, MusicVolume),
		Language:   models.LanguageAll,
		SourceKind: models.TrackMusic,
		SourcePath: ref.Path,
	}
}

// estimate converts words to seconds at the configured speaking rate.
func (x extractor) estimate(text string) float64 {
	words := len(strings.Fields(text))
	if words == 0 {
		return FallbackDuration
	}
	return max(float64(words)/x.opts.WordsPerSecond, MinEstimatedDuration)
}

// clipID is stable across recomputation so edits and mutes keep pointing at the same clip.
func (x extractor) clipID(kind models.TrackKind, lang string, index int) string {
	name := fmt.Sprintf("motion-timeline:%s/%s/%s/%d", x.sceneID, kind, strings.ToLower(lang), index)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// staleReason compares a recorded dialogue entry with the current script.
func staleReason(e scene.DialogueAudio, line *scene.Line, checkText bool) string {
	if line == nil {
		return fmt.Sprintf("line %d no longer exists in the script", e.Index+1)
	}
	if e.Character != "" && line.Character != "" && !strings.EqualFold(e.Character, line.Character) {
		return fmt.Sprintf("line %d is now spoken by %s, audio was recorded for %s", e.Index+1, line.Character, e.Character)
	}
	if checkText && e.Text != "" && line.Text != "" && normalizeText(e.Text) != normalizeText(line.Text) {
		return fmt.Sprintf("line %d text changed since the audio was generated", e.Index+1)
	}
	return ""
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func contentEnd(ts models.TrackSet) float64 {
	end := 0.0
	if ts.Voiceover != nil {
		end = ts.Voiceover.End()
	}
	if ts.Description != nil {
		end = max(end, ts.Description.End())
	}
	for _, list := range [][]models.AudioClip{ts.Dialogue, ts.SFX} {
		for _, c := range list {
			end = max(end, c.End())
		}
	}
	return end
}

func dialogueLabel(character, text string) string {
	switch {
	case character == "" && text == "":
		return "Dialogue"
	case character == "":
		return truncateLabel(text, labelLength)
	case text == "":
		return character
	}
	return truncateLabel(character+": "+text, labelLength)
}

// truncateLabel cuts on grapheme boundaries so emoji and accents survive.
func truncateLabel(s string, limit int) string {
	s = strings.TrimSpace(s)
	if uniseg.GraphemeClusterCount(s) <= limit {
		return s
	}
	var b strings.Builder
	g := uniseg.NewGraphemes(s)
	for n := 0; n < limit-1 && g.Next(); n++ {
		b.WriteString(g.Str())
	}
	return strings.TrimSpace(b.String()) + "…"
}

func volumeOr(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return min(v, 1)
}

// orElse returns v, or the lazily computed fallback when v is empty.
func orElse(v string, fallback func() string) string {
	if v != "" {
		return v
	}
	return fallback()
}
