package main

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"motion-timeline/internal/models"
)

type emitted struct {
	mu     sync.Mutex
	events []string
	last   map[string]any
}

func (e *emitted) emit(name string, data any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, name)
	e.last, _ = data.(map[string]any)
}

func TestRemoteStream(t *testing.T) {
	rec := &emitted{}
	reg := newStreamRegistry(rec.emit)
	s := reg.create("clip-1", models.TrackDialogue)
	if reg.create("clip-1", models.TrackDialogue) != s {
		t.Fatal("registry must reuse streams by id")
	}

	if err := s.Load("https://cdn.example.com/a.mp3"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Source() != "https://cdn.example.com/a.mp3" || rec.last["streamId"] != "clip-1" {
		t.Fatalf("source = %q last = %v", s.Source(), rec.last)
	}

	s.Seek(1.5)
	if rec.last["time"] != 1.5 || s.Position() != 1.5 {
		t.Fatalf("seek event = %v", rec.last)
	}

	s.SetMuted(true)
	s.SetMuted(true)
	muteEvents := 0
	for _, e := range rec.events {
		if e == "stream:mute" {
			muteEvents++
		}
	}
	if muteEvents != 1 {
		t.Fatalf("mute events = %d", muteEvents)
	}

	s.Play()
	reg.report("clip-1", 4, false)
	if s.Playing() || s.Position() != 4 {
		t.Fatalf("report not applied: playing=%v position=%v", s.Playing(), s.Position())
	}
	reg.report("unknown", 1, true)
}

func TestCheckLocal(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.mp3")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		src     string
		wantErr bool
	}{
		{"", true},
		{file, false},
		{filepath.Join(dir, "missing.mp3"), true},
		{"/video" + filepath.ToSlash(file), false},
		{"http://localhost:3456/video" + filepath.ToSlash(file), false},
		{"http://localhost:3456/video" + filepath.ToSlash(dir) + "/gone.mp3", true},
		{"https://cdn.example.com/remote.mp3", false},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			if err := checkLocal(tt.src); (err != nil) != tt.wantErr {
				t.Fatalf("checkLocal(%q) err = %v", tt.src, err)
			}
		})
	}
}
