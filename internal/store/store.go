// Package store persists projects and scene documents on disk using the
// Documents/MotionStudio/<project>/scenes/<scene>/scene.json layout.
package store

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"motion-timeline/internal/models"
)

var (
	ErrSceneNotFound   = errors.New("scene not found")
	ErrProjectNotFound = errors.New("project not found")
	ErrNotEditable     = errors.New("clip has no editable source record")
)

const (
	projectFile = "project.json"
	sceneFile   = "scene.json"
	timeLayout  = "2006-01-02 15:04"
)

type Project struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	UpdatedAt  string `json:"updatedAt"`
	SceneCount int    `json:"sceneCount"`
}

// SceneInfo is the listing view of a scene document.
type SceneInfo struct {
	ID        string   `json:"id"`
	ProjectID string   `json:"projectId"`
	Name      string   `json:"name"`
	Languages []string `json:"languages"`
	UpdatedAt string   `json:"updatedAt"`
}

type Store struct {
	root string
	log  zerolog.Logger
	mu   sync.Mutex
}

func New(root string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrapf(err, "create data dir %s", root)
	}
	return &Store{root: root, log: log}, nil
}

func (s *Store) Root() string {
	return s.root
}

// --- PROJECTS ---

func (s *Store) CreateProject(name, format string) (Project, error) {
	p := Project{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      format,
		UpdatedAt: time.Now().Format(timeLayout),
	}
	if err := os.MkdirAll(filepath.Join(s.root, p.ID, "scenes"), 0755); err != nil {
		return p, errors.Wrap(err, "create project dir")
	}
	return p, s.writeJSON(filepath.Join(s.root, p.ID, projectFile), p)
}

func (s *Store) GetProject(id string) (Project, error) {
	var p Project
	data, err := os.ReadFile(filepath.Join(s.root, id, projectFile))
	if os.IsNotExist(err) {
		return p, errors.Wrapf(ErrProjectNotFound, "project %s", id)
	}
	if err != nil {
		return p, errors.Wrapf(err, "read project %s", id)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, errors.Wrapf(err, "decode project %s", id)
	}
	scenes, _ := s.sceneDirs(id)
	p.SceneCount = len(scenes)
	return p, nil
}

func (s *Store) ListProjects() ([]Project, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.Wrap(err, "list projects")
	}
	var projects []Project
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p, err := s.GetProject(e.Name())
		if err != nil {
			continue
		}
		projects = append(projects, p)
	}
	return projects, nil
}

// --- SCENES ---

func (s *Store) scenePath(projectID, sceneID string) string {
	return filepath.Join(s.root, projectID, "scenes", sceneID, sceneFile)
}

// SceneDir is the folder holding a scene's files.
func (s *Store) SceneDir(projectID, sceneID string) string {
	return filepath.Join(s.root, projectID, "scenes", sceneID)
}

// CreateScene writes a new scene document with the given name.
func (s *Store) CreateScene(projectID, name string) (SceneInfo, error) {
	if _, err := s.GetProject(projectID); err != nil {
		return SceneInfo{}, err
	}
	id := uuid.NewString()
	doc, _ := sjson.SetBytes([]byte("{}"), "id", id)
	doc, _ = sjson.SetBytes(doc, "name", name)
	doc, _ = sjson.SetBytes(doc, "updatedAt", time.Now().Format(timeLayout))
	if err := s.SaveScene(projectID, id, doc); err != nil {
		return SceneInfo{}, err
	}
	return SceneInfo{ID: id, ProjectID: projectID, Name: name}, nil
}

// LoadScene returns the raw scene document.
func (s *Store) LoadScene(projectID, sceneID string) ([]byte, error) {
	data, err := os.ReadFile(s.scenePath(projectID, sceneID))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrSceneNotFound, "scene %s/%s", projectID, sceneID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read scene %s/%s", projectID, sceneID)
	}
	return data, nil
}

// SaveScene replaces the scene document atomically.
func (s *Store) SaveScene(projectID, sceneID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeFile(s.scenePath(projectID, sceneID), data)
}

func (s *Store) ListScenes(projectID string) ([]SceneInfo, error) {
	dirs, err := s.sceneDirs(projectID)
	if err != nil {
		return nil, err
	}
	var scenes []SceneInfo
	for _, id := range dirs {
		data, err := s.LoadScene(projectID, id)
		if err != nil {
			s.log.Warn().Err(err).Str("scene", id).Msg("skipping unreadable scene")
			continue
		}
		doc := gjson.ParseBytes(data)
		var langs []string
		doc.Get("narrationAudio").ForEach(func(k, _ gjson.Result) bool {
			langs = append(langs, k.String())
			return true
		})
		scenes = append(scenes, SceneInfo{
			ID:        id,
			ProjectID: projectID,
			Name:      doc.Get("name").String(),
			Languages: langs,
			UpdatedAt: doc.Get("updatedAt").String(),
		})
	}
	return scenes, nil
}

func (s *Store) sceneDirs(projectID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, projectID, "scenes"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "list scenes of %s", projectID)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// --- EDITS ---

// ApplyClipEdit writes a committed timing into the record at sourcePath and
// returns the updated document. Visual segments only store their duration.
func (s *Store) ApplyClipEdit(projectID, sceneID string, kind models.TrackKind, sourcePath string, t models.ClipTiming) ([]byte, error) {
	if sourcePath == "" {
		return nil, errors.Wrapf(ErrNotEditable, "%s clip", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.scenePath(projectID, sceneID))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrSceneNotFound, "scene %s/%s", projectID, sceneID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "read scene")
	}
	if !gjson.GetBytes(data, sourcePath).IsObject() {
		return nil, errors.Wrapf(ErrNotEditable, "no record at %s", sourcePath)
	}

	if kind != models.TrackVideo {
		if data, err = sjson.SetBytes(data, sourcePath+".startTime", round(t.StartTime)); err != nil {
			return nil, errors.Wrapf(err, "set %s.startTime", sourcePath)
		}
	}
	if data, err = sjson.SetBytes(data, sourcePath+".duration", round(t.Duration)); err != nil {
		return nil, errors.Wrapf(err, "set %s.duration", sourcePath)
	}
	data, _ = sjson.SetBytes(data, "updatedAt", time.Now().Format(timeLayout))

	if err := s.writeFile(s.scenePath(projectID, sceneID), data); err != nil {
		return nil, err
	}
	s.log.Info().Str("scene", sceneID).Str("path", sourcePath).Float64("start", t.StartTime).Float64("duration", t.Duration).Msg("clip edit saved")
	return data, nil
}

// WriteSceneFile stores an auxiliary file next to scene.json.
func (s *Store) WriteSceneFile(projectID, sceneID, name string, data []byte) (string, error) {
	path := filepath.Join(s.SceneDir(projectID, sceneID), name)
	s.mu.Lock()
	defer s.mu.Unlock()
	return path, s.writeFile(path, data)
}

// --- FILES ---

func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode json")
	}
	return s.writeFile(path, data)
}

// writeFile writes through a temp file and a rename so readers never see a
// partial document.
func (s *Store) writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "create dir for %s", path)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, "write %s", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "close %s", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "replace %s", path)
	}
	return nil
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
