// Package scene is a lenient, read-only view over a raw scene document.
//
// Scene documents are edited by users and by generation jobs, so every field
// may be missing, empty or of the wrong type. Accessors never fail: absent
// data reads as a zero value.
package scene

import (
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
	"golang.org/x/text/language"
)

// Scene wraps the parsed document.
type Scene struct {
	raw  []byte
	root gjson.Result
}

// Parse never fails. Invalid JSON yields an empty scene.
func Parse(data []byte) *Scene {
	if !gjson.ValidBytes(data) {
		return &Scene{raw: []byte("{}"), root: gjson.Parse("{}")}
	}
	return &Scene{raw: data, root: gjson.ParseBytes(data)}
}

// Raw returns the document the scene was parsed from.
func (s *Scene) Raw() []byte {
	return s.raw
}

func (s *Scene) ID() string {
	return s.root.Get("id").String()
}

// NarrationText returns the narration script.
func (s *Scene) NarrationText() string {
	return strings.TrimSpace(s.root.Get("narration").String())
}

func (s *Scene) VisualDescription() string {
	return strings.TrimSpace(s.root.Get("visualDescription").String())
}

// --- AUDIO REFERENCES ---

// AudioRef is a single audio file reference read from the document.
type AudioRef struct {
	URL       string
	Duration  float64 // 0 when unknown
	StartTime float64
	HasStart  bool
	Volume    float64 // 0 when unset
	Language  string  // key the reference was found under
	Path      string  // document path of the record, empty for legacy fields
}

// NarrationAudio looks up narrationAudio[lang], then narrationAudio[fallback],
// then the legacy narrationAudioUrl field.
func (s *Scene) NarrationAudio(lang, fallback string) AudioRef {
	if ref, ok := s.languageAudio("narrationAudio", lang, fallback); ok {
		return ref
	}
	url := strings.TrimSpace(s.root.Get("narrationAudioUrl").String())
	if url == "" {
		return AudioRef{}
	}
	return AudioRef{
		URL:      url,
		Duration: positive(s.root.Get("narrationDuration")),
		Language: fallback,
	}
}

// DescriptionAudio looks up descriptionAudio the same way narration is looked up.
func (s *Scene) DescriptionAudio(lang, fallback string) AudioRef {
	ref, _ := s.languageAudio("descriptionAudio", lang, fallback)
	return ref
}

func (s *Scene) languageAudio(field, lang, fallback string) (AudioRef, bool) {
	obj := s.root.Get(field)
	if !obj.IsObject() {
		return AudioRef{}, false
	}
	for _, want := range lo.Uniq([]string{lang, fallback}) {
		key, val, ok := matchLanguage(obj, want)
		if !ok {
			continue
		}
		ref := readAudio(val)
		if ref.URL == "" {
			continue
		}
		ref.Language = key
		ref.Path = field + "." + escapeKey(key)
		return ref, true
	}
	return AudioRef{}, false
}

// Music reads `music` ({url, duration} or a plain url) or `musicAudio`.
func (s *Scene) Music() AudioRef {
	m := s.root.Get("music")
	switch {
	case m.IsObject():
		ref := readAudio(m)
		ref.Path = "music"
		if ref.URL != "" {
			return ref
		}
	case m.Type == gjson.String && strings.TrimSpace(m.String()) != "":
		return AudioRef{URL: strings.TrimSpace(m.String())}
	}
	ma := s.root.Get("musicAudio")
	if ma.IsObject() {
		ref := readAudio(ma)
		ref.Path = "musicAudio"
		return ref
	}
	return AudioRef{URL: strings.TrimSpace(ma.String())}
}

// --- DIALOGUE ---

// Line is a dialogue line of the current script.
type Line struct {
	Index         int
	Character     string
	Text          string
	AudioURL      string
	Duration      float64
	StartTime     float64
	HasStart      bool
	AudioLanguage string
	Path          string
}

// Dialogue returns the script lines in order.
func (s *Scene) Dialogue() []Line {
	var lines []Line
	arr := s.root.Get("dialogue")
	if !arr.IsArray() {
		return nil
	}
	for i, item := range arr.Array() {
		text := item.Get("line").String()
		if text == "" {
			text = item.Get("text").String()
		}
		start := item.Get("startTime")
		lines = append(lines, Line{
			Index:         i,
			Character:     strings.TrimSpace(item.Get("character").String()),
			Text:          strings.TrimSpace(text),
			AudioURL:      strings.TrimSpace(item.Get("audioUrl").String()),
			Duration:      positive(item.Get("duration")),
			StartTime:     nonNegative(start),
			HasStart:      isNumber(start),
			AudioLanguage: strings.TrimSpace(item.Get("audioLanguage").String()),
			Path:          "dialogue." + strconv.Itoa(i),
		})
	}
	return lines
}

// DialogueAudio is one entry of the structured per-language dialogue audio.
type DialogueAudio struct {
	ID        string
	Position  int // position inside the language array
	Index     int // dialogueIndex, defaults to Position
	Character string
	Text      string
	URL       string
	Duration  float64
	StartTime float64
	HasStart  bool
	Volume    float64
	Path      string
}

// DialogueAudio returns dialogueAudio[lang] (or [fallback]). The bool reports
// whether a structured array exists for the language at all.
func (s *Scene) DialogueAudio(lang, fallback string) ([]DialogueAudio, string, bool) {
	obj := s.root.Get("dialogueAudio")
	if !obj.IsObject() {
		return nil, "", false
	}
	for _, want := range lo.Uniq([]string{lang, fallback}) {
		key, val, ok := matchLanguage(obj, want)
		if !ok || !val.IsArray() {
			continue
		}
		base := "dialogueAudio." + escapeKey(key)
		var out []DialogueAudio
		for i, item := range val.Array() {
			idx := i
			if v := item.Get("dialogueIndex"); isNumber(v) {
				idx = int(v.Int())
			}
			url := item.Get("audioUrl").String()
			if url == "" {
				url = item.Get("url").String()
			}
			start := item.Get("startTime")
			out = append(out, DialogueAudio{
				ID:        item.Get("id").String(),
				Position:  i,
				Index:     idx,
				Character: strings.TrimSpace(item.Get("character").String()),
				Text:      strings.TrimSpace(item.Get("text").String()),
				URL:       strings.TrimSpace(url),
				Duration:  positive(item.Get("duration")),
				StartTime: nonNegative(start),
				HasStart:  isNumber(start),
				Volume:    positive(item.Get("volume")),
				Path:      base + "." + strconv.Itoa(i),
			})
		}
		return out, key, true
	}
	return nil, "", false
}

// --- SOUND EFFECTS ---

type Effect struct {
	Index       int
	Description string
	URL         string
	Duration    float64
	StartTime   float64
	HasStart    bool
	Volume      float64
	Path        string
}

// SFX returns sound effects in script order. URLs missing on the entry are
// taken from the parallel sfxAudio array.
func (s *Scene) SFX() []Effect {
	arr := s.root.Get("sfx")
	if !arr.IsArray() {
		return nil
	}
	parallel := s.root.Get("sfxAudio").Array()
	var out []Effect
	for i, item := range arr.Array() {
		e := Effect{Index: i, Path: "sfx." + strconv.Itoa(i)}
		if item.Type == gjson.String {
			e.Description = strings.TrimSpace(item.String())
		} else {
			e.Description = strings.TrimSpace(item.Get("description").String())
			e.URL = strings.TrimSpace(lo.Ternary(item.Get("audioUrl").Exists(), item.Get("audioUrl"), item.Get("url")).String())
			e.Duration = positive(item.Get("duration"))
			e.Volume = positive(item.Get("volume"))
			start := item.Get("startTime")
			if !start.Exists() {
				start = item.Get("time")
			}
			e.StartTime = nonNegative(start)
			e.HasStart = isNumber(start)
		}
		if e.URL == "" && i < len(parallel) {
			p := parallel[i]
			if p.IsObject() {
				e.URL = strings.TrimSpace(p.Get("url").String())
				if e.Duration == 0 {
					e.Duration = positive(p.Get("duration"))
				}
			} else {
				e.URL = strings.TrimSpace(p.String())
			}
		}
		out = append(out, e)
	}
	return out
}

// --- VISUAL SEGMENTS ---

type SegmentRef struct {
	ID            string
	Position      int
	SequenceIndex int
	Duration      float64
	SourceURL     string
	Path          string
}

// Segments returns the visual segments in document order.
func (s *Scene) Segments() []SegmentRef {
	arr := s.root.Get("segments")
	if !arr.IsArray() {
		return nil
	}
	var out []SegmentRef
	for i, item := range arr.Array() {
		id := item.Get("segmentId").String()
		if id == "" {
			id = item.Get("id").String()
		}
		seq := i
		if v := item.Get("sequenceIndex"); isNumber(v) {
			seq = int(v.Int())
		}
		dur := positive(item.Get("duration"))
		if dur == 0 {
			if d := item.Get("endTime").Float() - item.Get("startTime").Float(); d > 0 {
				dur = d
			}
		}
		src := strings.TrimSpace(item.Get("videoUrl").String())
		if src == "" {
			src = strings.TrimSpace(item.Get("imageUrl").String())
		}
		out = append(out, SegmentRef{
			ID:            id,
			Position:      i,
			SequenceIndex: seq,
			Duration:      dur,
			SourceURL:     src,
			Path:          "segments." + strconv.Itoa(i),
		})
	}
	return out
}

// Languages lists every language key that has narration or dialogue audio.
func (s *Scene) Languages() []string {
	var keys []string
	for _, field := range []string{"narrationAudio", "dialogueAudio"} {
		s.root.Get(field).ForEach(func(k, _ gjson.Result) bool {
			keys = append(keys, k.String())
			return true
		})
	}
	return lo.Uniq(keys)
}

// --- HELPERS ---

func readAudio(v gjson.Result) AudioRef {
	if v.Type == gjson.String {
		return AudioRef{URL: strings.TrimSpace(v.String())}
	}
	url := v.Get("url").String()
	if url == "" {
		url = v.Get("audioUrl").String()
	}
	start := v.Get("startTime")
	return AudioRef{
		URL:       strings.TrimSpace(url),
		Duration:  positive(v.Get("duration")),
		StartTime: nonNegative(start),
		HasStart:  isNumber(start),
		Volume:    positive(v.Get("volume")),
	}
}

// matchLanguage finds the key of obj for the wanted language: exact match
// first (case-insensitive), then the first key with the same base language.
func matchLanguage(obj gjson.Result, want string) (string, gjson.Result, bool) {
	want = strings.TrimSpace(want)
	if want == "" {
		return "", gjson.Result{}, false
	}
	var (
		key   string
		val   gjson.Result
		found bool
	)
	obj.ForEach(func(k, v gjson.Result) bool {
		if strings.EqualFold(k.String(), want) {
			key, val, found = k.String(), v, true
			return false
		}
		return true
	})
	if found {
		return key, val, true
	}
	wantBase, ok := baseLanguage(want)
	if !ok {
		return "", gjson.Result{}, false
	}
	obj.ForEach(func(k, v gjson.Result) bool {
		if b, ok := baseLanguage(k.String()); ok && b == wantBase {
			key, val, found = k.String(), v, true
			return false
		}
		return true
	})
	return key, val, found
}

func baseLanguage(tag string) (language.Base, bool) {
	t, err := language.Parse(tag)
	if err != nil {
		return language.Base{}, false
	}
	b, conf := t.Base()
	return b, conf != language.No
}

// SameLanguage reports whether two tags share a base language.
func SameLanguage(a, b string) bool {
	if strings.EqualFold(a, b) {
		return true
	}
	ba, ok1 := baseLanguage(a)
	bb, ok2 := baseLanguage(b)
	return ok1 && ok2 && ba == bb
}

// escapeKey escapes gjson/sjson path metacharacters in an object key.
func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isNumber(v gjson.Result) bool {
	return v.Type == gjson.Number
}

func positive(v gjson.Result) float64 {
	if f := v.Float(); f > 0 {
		return f
	}
	return 0
}

func nonNegative(v gjson.Result) float64 {
	if !isNumber(v) {
		return 0
	}
	return max(v.Float(), 0)
}
