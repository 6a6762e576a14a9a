package scene

import "testing"

const sample = `{
  "id": "scene-1",
  "narration": "  The tide comes in. ",
  "narrationAudio": {
    "en-US": {"url": "/audio/en.mp3", "duration": 6.5},
    "fr": {"url": "/audio/fr.mp3", "duration": 8}
  },
  "dialogue": [
    {"character": "Ana", "line": "Hello", "audioUrl": "/audio/d0.mp3", "duration": 2, "startTime": 4},
    {"character": "Ben", "text": "Hi", "duration": "bad"}
  ],
  "dialogueAudio": {
    "fr": [
      {"id": "fa0", "dialogueIndex": 1, "character": "Ben", "text": "Salut", "audioUrl": "/audio/fr1.mp3", "duration": 1.5}
    ]
  },
  "sfx": [
    {"description": "door", "audioUrl": "/sfx/door.wav", "duration": 1, "time": 3},
    "wind"
  ],
  "sfxAudio": [null, {"url": "/sfx/wind.wav", "duration": 4}],
  "music": {"url": "/music/theme.mp3"},
  "segments": [
    {"segmentId": "b", "sequenceIndex": 1, "duration": 5, "videoUrl": "/v/b.mp4"},
    {"id": "a", "sequenceIndex": 0, "startTime": 0, "endTime": 8, "imageUrl": "/i/a.png"}
  ]
}`

func TestParseInvalidJSON(t *testing.T) {
	for _, in := range []string{"", "{", "not json", `{"id": }`} {
		sc := Parse([]byte(in))
		if sc.ID() != "" || sc.Dialogue() != nil || sc.SFX() != nil || sc.Segments() != nil {
			t.Errorf("Parse(%q) should yield an empty scene", in)
		}
		if ref := sc.NarrationAudio("en", "en"); ref.URL != "" {
			t.Errorf("Parse(%q) narration = %+v", in, ref)
		}
	}
}

func TestNarrationAudioLanguageMatching(t *testing.T) {
	sc := Parse([]byte(sample))
	tests := []struct {
		name     string
		lang     string
		fallback string
		wantURL  string
		wantKey  string
	}{
		{"exact", "fr", "en", "/audio/fr.mp3", "fr"},
		{"case insensitive", "EN-us", "fr", "/audio/en.mp3", "en-US"},
		{"base language", "en", "fr", "/audio/en.mp3", "en-US"},
		{"regional variant", "fr-CA", "en", "/audio/fr.mp3", "fr"},
		{"fallback", "de", "fr", "/audio/fr.mp3", "fr"},
		{"nothing", "de", "it", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := sc.NarrationAudio(tt.lang, tt.fallback)
			if ref.URL != tt.wantURL || ref.Language != tt.wantKey {
				t.Fatalf("got %q (%q), want %q (%q)", ref.URL, ref.Language, tt.wantURL, tt.wantKey)
			}
		})
	}
	if got := sc.NarrationAudio("fr", "en").Path; got != "narrationAudio.fr" {
		t.Fatalf("path = %q", got)
	}
}

func TestNarrationAudioLegacyField(t *testing.T) {
	sc := Parse([]byte(`{"narrationAudioUrl": " /old.mp3 ", "narrationDuration": 4}`))
	ref := sc.NarrationAudio("en", "en")
	if ref.URL != "/old.mp3" || ref.Duration != 4 {
		t.Fatalf("legacy narration = %+v", ref)
	}
	if ref.Path != "" {
		t.Fatalf("legacy field must not be editable, path = %q", ref.Path)
	}
}

func TestDialogueLines(t *testing.T) {
	lines := Parse([]byte(sample)).Dialogue()
	if len(lines) != 2 {
		t.Fatalf("lines = %d", len(lines))
	}
	if l := lines[0]; l.Text != "Hello" || !l.HasStart || l.StartTime != 4 || l.Path != "dialogue.0" {
		t.Fatalf("line 0 = %+v", l)
	}
	if l := lines[1]; l.Text != "Hi" || l.Duration != 0 || l.HasStart {
		t.Fatalf("line 1 = %+v", l)
	}
}

func TestDialogueAudio(t *testing.T) {
	sc := Parse([]byte(sample))
	entries, key, ok := sc.DialogueAudio("fr-FR", "en")
	if !ok || key != "fr" || len(entries) != 1 {
		t.Fatalf("got %v %q %d", ok, key, len(entries))
	}
	if e := entries[0]; e.Index != 1 || e.Position != 0 || e.URL != "/audio/fr1.mp3" || e.Path != "dialogueAudio.fr.0" {
		t.Fatalf("entry = %+v", e)
	}
	if _, _, ok := sc.DialogueAudio("de", "en"); ok {
		t.Fatal("no structured audio exists for de or en")
	}
}

func TestSFX(t *testing.T) {
	fx := Parse([]byte(sample)).SFX()
	if len(fx) != 2 {
		t.Fatalf("sfx = %d", len(fx))
	}
	if e := fx[0]; e.URL != "/sfx/door.wav" || !e.HasStart || e.StartTime != 3 {
		t.Fatalf("door = %+v", e)
	}
	if e := fx[1]; e.Description != "wind" || e.URL != "/sfx/wind.wav" || e.Duration != 4 || e.HasStart {
		t.Fatalf("wind = %+v", e)
	}
}

func TestMusicForms(t *testing.T) {
	tests := []struct {
		doc  string
		want string
	}{
		{`{"music": {"url": "/m.mp3"}}`, "/m.mp3"},
		{`{"music": "/m2.mp3"}`, "/m2.mp3"},
		{`{"musicAudio": {"url": "/m3.mp3", "duration": 30}}`, "/m3.mp3"},
		{`{"music": {}}`, ""},
	}
	for _, tt := range tests {
		if got := Parse([]byte(tt.doc)).Music().URL; got != tt.want {
			t.Errorf("Music(%s) = %q, want %q", tt.doc, got, tt.want)
		}
	}
}

func TestSegments(t *testing.T) {
	segs := Parse([]byte(sample)).Segments()
	if len(segs) != 2 {
		t.Fatalf("segments = %d", len(segs))
	}
	if s := segs[0]; s.ID != "b" || s.SequenceIndex != 1 || s.Duration != 5 || s.SourceURL != "/v/b.mp4" {
		t.Fatalf("segment b = %+v", s)
	}
	if s := segs[1]; s.ID != "a" || s.Duration != 8 || s.SourceURL != "/i/a.png" {
		t.Fatalf("segment a = %+v", s)
	}
}

func TestLanguages(t *testing.T) {
	got := Parse([]byte(sample)).Languages()
	if len(got) != 2 || got[0] != "en-US" || got[1] != "fr" {
		t.Fatalf("languages = %v", got)
	}
}

func TestSameLanguage(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"en", "en-GB", true},
		{"EN", "en", true},
		{"fr", "en", false},
		{"", "en", false},
	}
	for _, tt := range tests {
		if got := SameLanguage(tt.a, tt.b); got != tt.want {
			t.Errorf("SameLanguage(%q, %q) = %v", tt.a, tt.b, got)
		}
	}
}

func TestEscapeKey(t *testing.T) {
	if got := escapeKey("pt.BR"); got != `pt\.BR` {
		t.Fatalf("escapeKey = %q", got)
	}
}
