package main

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"motion-timeline/internal/models"
	"motion-timeline/internal/playback"
)

// --- REMOTE STREAMS ---
// The media elements live in the webview. The engine drives them through
// events and the webview reports positions back through ReportStreamState.

type streamRegistry struct {
	mu      sync.Mutex
	streams map[string]*remoteStream
	emit    func(name string, data any)
}

func newStreamRegistry(emit func(name string, data any)) *streamRegistry {
	return &streamRegistry{streams: make(map[string]*remoteStream), emit: emit}
}

// create satisfies playback.StreamFactory.
func (r *streamRegistry) create(id string, kind models.TrackKind) playback.Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[id]; ok {
		return s
	}
	s := &remoteStream{id: id, kind: kind, emit: r.emit}
	r.streams[id] = s
	return s
}

func (r *streamRegistry) report(id string, position float64, playing bool) {
	r.mu.Lock()
	s, ok := r.streams[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.position = position
	s.playing = playing
	s.reportedAt = time.Now()
	s.mu.Unlock()
}

type remoteStream struct {
	id   string
	kind models.TrackKind
	emit func(name string, data any)

	mu         sync.Mutex
	source     string
	position   float64
	reportedAt time.Time
	playing    bool
	muted      bool
}

func (s *remoteStream) Load(src string) error {
	if err := checkLocal(src); err != nil {
		return err
	}
	s.mu.Lock()
	s.source = src
	s.position = 0
	s.playing = false
	s.reportedAt = time.Now()
	s.mu.Unlock()
	s.send("load", map[string]any{"url": src})
	return nil
}

func (s *remoteStream) Source() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Position extrapolates from the last report while playing.
func (s *remoteStream) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return s.position + time.Since(s.reportedAt).Seconds()
	}
	return s.position
}

func (s *remoteStream) Seek(seconds float64) {
	s.mu.Lock()
	s.position = seconds
	s.reportedAt = time.Now()
	s.mu.Unlock()
	s.send("seek", map[string]any{"time": seconds})
}

func (s *remoteStream) Play() error {
	s.mu.Lock()
	s.playing = true
	s.reportedAt = time.Now()
	s.mu.Unlock()
	s.send("play", nil)
	return nil
}

func (s *remoteStream) Pause() {
	s.mu.Lock()
	if s.playing {
		s.position += time.Since(s.reportedAt).Seconds()
	}
	s.playing = false
	s.mu.Unlock()
	s.send("pause", nil)
}

func (s *remoteStream) SetMuted(muted bool) {
	s.mu.Lock()
	changed := s.muted != muted
	s.muted = muted
	s.mu.Unlock()
	if changed {
		s.send("mute", map[string]any{"muted": muted})
	}
}

func (s *remoteStream) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *remoteStream) send(action string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["streamId"] = s.id
	data["kind"] = s.kind
	s.emit("stream:"+action, data)
}

// checkLocal fails early for local files that do not exist. Remote URLs are
// checked by the webview, which reports failures through ReportStreamError.
func checkLocal(src string) error {
	if src == "" {
		return errors.New("empty source")
	}
	u, err := url.Parse(src)
	if err != nil {
		return errors.Wrapf(err, "media %s", src)
	}
	switch u.Scheme {
	case "http", "https":
		if !strings.HasPrefix(u.Path, "/video/") {
			return nil
		}
		src = "/" + strings.TrimPrefix(u.Path, "/video/")
	case "file":
		src = u.Path
	case "":
		if strings.HasPrefix(src, "/video/") {
			src = "/" + strings.TrimPrefix(u.Path, "/video/")
		}
	default:
		return nil
	}
	path := filepath.FromSlash(src)
	if _, err := os.Stat(path); err != nil {
		return errors.Wrapf(err, "media %s", src)
	}
	return nil
}
