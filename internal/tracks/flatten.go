package tracks

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"motion-timeline/internal/models"
)

// Flatten returns the clips that may be rendered, in track order: voiceover,
// description, dialogue, music, sfx. Clips without a URL and clips whose URL
// is quarantined are dropped.
func Flatten(ts models.TrackSet, stale *StaleSet) []models.AudioClip {
	all := make([]models.AudioClip, 0, len(ts.Dialogue)+len(ts.SFX)+3)
	for _, c := range []*models.AudioClip{ts.Voiceover, ts.Description} {
		if c != nil {
			all = append(all, *c)
		}
	}
	all = append(all, ts.Dialogue...)
	if ts.Music != nil {
		all = append(all, *ts.Music)
	}
	all = append(all, ts.SFX...)

	return lo.Filter(all, func(c models.AudioClip, _ int) bool {
		return c.HasAudio() && !stale.Has(c.URL)
	})
}

// URLs lists every non-empty URL referenced by the track set.
func URLs(ts models.TrackSet) []string {
	var urls []string
	for _, c := range []*models.AudioClip{ts.Voiceover, ts.Description, ts.Music} {
		if c != nil && c.URL != "" {
			urls = append(urls, c.URL)
		}
	}
	for _, list := range [][]models.AudioClip{ts.Dialogue, ts.SFX} {
		urls = append(urls, lo.FilterMap(list, func(c models.AudioClip, _ int) (string, bool) {
			return c.URL, c.URL != ""
		})...)
	}
	return lo.Uniq(urls)
}

// --- STALE URLS ---

// StaleSet quarantines URLs that failed to load. It only grows until a URL
// disappears from a freshly computed track set, so a reused URL is not
// blacklisted forever.
type StaleSet struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

func NewStaleSet() *StaleSet {
	return &StaleSet{urls: make(map[string]struct{})}
}

// Add quarantines url and reports whether it was not quarantined before.
func (s *StaleSet) Add(url string) bool {
	if s == nil || url == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.urls[url]; ok {
		return false
	}
	s.urls[url] = struct{}{}
	return true
}

func (s *StaleSet) Has(url string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.urls[url]
	return ok
}

// Prune drops every quarantined URL the track sets no longer reference and
// returns the dropped URLs.
func (s *StaleSet) Prune(sets ...models.TrackSet) []string {
	if s == nil {
		return nil
	}
	live := make(map[string]struct{})
	for _, ts := range sets {
		for _, u := range URLs(ts) {
			live[u] = struct{}{}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var dropped []string
	for u := range s.urls {
		if _, ok := live[u]; !ok {
			delete(s.urls, u)
			dropped = append(dropped, u)
		}
	}
	sort.Strings(dropped)
	return dropped
}

// List returns the quarantined URLs sorted.
func (s *StaleSet) List() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := lo.Keys(s.urls)
	sort.Strings(out)
	return out
}
