// Package manifest exports a computed timeline as a render job description
// for the external renderer.
package manifest

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"motion-timeline/internal/models"
)

// Render modes understood by the renderer.
const (
	ModeConcatenate = "concatenate"
	ModeKenBurns    = "ken_burns"
)

type Job struct {
	JobID               string         `json:"jobId"`
	ProjectID           string         `json:"projectId"`
	SceneID             string         `json:"sceneId"`
	Language            string         `json:"language"`
	Resolution          string         `json:"resolution"`
	FPS                 int            `json:"fps"`
	RenderMode          string         `json:"renderMode"`
	TotalDuration       float64        `json:"totalDuration"`
	VideoSegments       []Segment      `json:"videoSegments,omitempty"`
	Segments            []Segment      `json:"segments,omitempty"`
	AudioClips          []Clip         `json:"audioClips"`
	IncludeSegmentAudio bool           `json:"includeSegmentAudio"`
	SegmentAudioVolume  float64        `json:"segmentAudioVolume"`
	Skipped             []SkippedInput `json:"-"`
}

type Segment struct {
	ID             string  `json:"id"`
	VideoURL       string  `json:"videoUrl,omitempty"`
	ImageURL       string  `json:"imageUrl,omitempty"`
	Duration       float64 `json:"duration"`
	SourceDuration float64 `json:"sourceDuration"`
	HoldLastFrame  bool    `json:"holdLastFrame,omitempty"`
}

type Clip struct {
	ID        string  `json:"id"`
	URL       string  `json:"url"`
	StartTime float64 `json:"startTime"`
	Duration  float64 `json:"duration"`
	Volume    float64 `json:"volume"`
	Type      string  `json:"type"`
}

// SkippedInput names something that could not be put into the job.
type SkippedInput struct {
	ID     string
	Reason string
}

type Options struct {
	ProjectID  string
	SceneID    string
	Language   string
	Resolution string
	FPS        int
}

// Build assembles a job from display-timed segments and flattened clips.
// Muted clips and clips without audio are left out.
func Build(segs []models.VisualSegment, clips []models.AudioClip, opts Options) Job {
	if opts.Resolution == "" {
		opts.Resolution = "1080p"
	}
	if opts.FPS <= 0 {
		opts.FPS = 24
	}
	job := Job{
		JobID:               uuid.NewString(),
		ProjectID:           opts.ProjectID,
		SceneID:             opts.SceneID,
		Language:            opts.Language,
		Resolution:          opts.Resolution,
		FPS:                 opts.FPS,
		IncludeSegmentAudio: false,
		SegmentAudioVolume:  1.0,
	}

	allVideo := len(segs) > 0 && lo.EveryBy(segs, func(s models.VisualSegment) bool { return isVideo(s.SourceURL) })
	job.RenderMode = lo.Ternary(allVideo, ModeConcatenate, ModeKenBurns)

	for _, s := range segs {
		if s.SourceURL == "" {
			job.Skipped = append(job.Skipped, SkippedInput{ID: s.ID, Reason: "segment has no source"})
			continue
		}
		out := Segment{
			ID:             s.ID,
			Duration:       s.DisplayDuration,
			SourceDuration: s.BaseDuration,
			HoldLastFrame:  s.IsExtended,
		}
		if allVideo {
			out.VideoURL = s.SourceURL
			job.VideoSegments = append(job.VideoSegments, out)
		} else {
			out.ImageURL = s.SourceURL
			job.Segments = append(job.Segments, out)
		}
		job.TotalDuration += s.DisplayDuration
	}

	for _, c := range clips {
		switch {
		case !c.HasAudio():
			job.Skipped = append(job.Skipped, SkippedInput{ID: c.ID, Reason: "clip has no URL"})
			continue
		case c.Muted:
			job.Skipped = append(job.Skipped, SkippedInput{ID: c.ID, Reason: "clip is muted"})
			continue
		}
		job.AudioClips = append(job.AudioClips, Clip{
			ID:        c.ID,
			URL:       c.URL,
			StartTime: c.StartTime,
			Duration:  c.Duration,
			Volume:    c.Volume,
			Type:      string(c.SourceKind),
		})
		if c.SourceKind != models.TrackMusic {
			job.TotalDuration = max(job.TotalDuration, c.End())
		}
	}
	return job
}

// JSON encodes the job the way the renderer reads it.
func (j Job) JSON() ([]byte, error) {
	return json.MarshalIndent(j, "", "  ")
}

func isVideo(url string) bool {
	u := strings.ToLower(url)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return lo.SomeBy([]string{".mp4", ".mov", ".webm", ".mkv", ".m4v"}, func(ext string) bool {
		return strings.HasSuffix(u, ext)
	})
}
