package show

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-show/internal/blend"
	"github.com/nerrad567/gray-logic-show/internal/rules"
)

// SceneData is the serialised form of a scene, used for scene files, the
// database document column and the API.
type SceneData struct {
	ID         string             `yaml:"id,omitempty" json:"id,omitempty"`
	Name       string             `yaml:"name" json:"name"`
	Priority   int                `yaml:"priority" json:"priority"`
	Alpha      float64            `yaml:"alpha" json:"alpha"`
	Blend      string             `yaml:"blend,omitempty" json:"blend,omitempty"`
	BlendArgs  map[string]float64 `yaml:"blend_args,omitempty" json:"blend_args,omitempty"`
	BPM        float64            `yaml:"bpm" json:"bpm"`
	Backtrack  bool               `yaml:"backtrack" json:"backtrack"`
	CueTag     string             `yaml:"cue_tag,omitempty" json:"cue_tag,omitempty"`
	Active     bool               `yaml:"active,omitempty" json:"active,omitempty"`
	CurrentCue string             `yaml:"current_cue,omitempty" json:"current_cue,omitempty"`
	Cues       []CueData          `yaml:"cues" json:"cues"`
}

// CueData is the serialised form of a cue. Number is decimal ("1.5").
type CueData struct {
	ID              string                        `yaml:"id,omitempty" json:"id,omitempty"`
	Name            string                        `yaml:"name" json:"name"`
	Number          float64                       `yaml:"number" json:"number"`
	Values          map[string]map[string]float64 `yaml:"values,omitempty" json:"values,omitempty"`
	Variables       map[string]string             `yaml:"variables,omitempty" json:"variables,omitempty"`
	FadeIn          float64                       `yaml:"fade_in,omitempty" json:"fade_in,omitempty"`
	Length          float64                       `yaml:"length,omitempty" json:"length,omitempty"`
	LengthRandomize float64                       `yaml:"length_randomize,omitempty" json:"length_randomize,omitempty"`
	RelLength       bool                          `yaml:"rel_length,omitempty" json:"rel_length,omitempty"`
	NextCue         string                        `yaml:"next_cue,omitempty" json:"next_cue,omitempty"`
	Inherit         string                        `yaml:"inherit,omitempty" json:"inherit,omitempty"`
	Track           bool                          `yaml:"track" json:"track"`
	Reentrant       bool                          `yaml:"reentrant,omitempty" json:"reentrant,omitempty"`
	Shortcut        string                        `yaml:"shortcut,omitempty" json:"shortcut,omitempty"`
	Sound           string                        `yaml:"sound,omitempty" json:"sound,omitempty"`
	SoundVolume     float64                       `yaml:"sound_volume" json:"sound_volume"`
	SoundOutput     string                        `yaml:"sound_output,omitempty" json:"sound_output,omitempty"`
	Rules           []rules.Rule                  `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// Omitted fields take these defaults when decoding.
type sceneDataAlias SceneData
type cueDataAlias CueData

func defaultSceneData() sceneDataAlias {
	return sceneDataAlias{Priority: defaultPriority, Alpha: 1, BPM: defaultBPM, Backtrack: true}
}

func defaultCueData() cueDataAlias {
	return cueDataAlias{Track: true, SoundVolume: 1}
}

// UnmarshalYAML applies defaults for omitted fields.
func (d *SceneData) UnmarshalYAML(node *yaml.Node) error {
	a := defaultSceneData()
	if err := node.Decode(&a); err != nil {
		return err
	}
	*d = SceneData(a)
	return nil
}

// UnmarshalJSON applies defaults for omitted fields.
func (d *SceneData) UnmarshalJSON(data []byte) error {
	a := defaultSceneData()
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*d = SceneData(a)
	return nil
}

// UnmarshalYAML applies defaults for omitted fields.
func (d *CueData) UnmarshalYAML(node *yaml.Node) error {
	a := defaultCueData()
	if err := node.Decode(&a); err != nil {
		return err
	}
	*d = CueData(a)
	return nil
}

// UnmarshalJSON applies defaults for omitted fields.
func (d *CueData) UnmarshalJSON(data []byte) error {
	a := defaultCueData()
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*d = CueData(a)
	return nil
}

// toCue validates d and builds a detached cue.
func (d CueData) toCue() (*Cue, error) {
	if err := ValidateCueName(d.Name); err != nil {
		return nil, err
	}
	var errs []string
	if math.IsNaN(d.Number) || math.IsInf(d.Number, 0) {
		errs = append(errs, "number must be finite")
	}
	if d.FadeIn < 0 || d.Length < 0 || d.LengthRandomize < 0 {
		errs = append(errs, "fade_in, length and length_randomize must not be negative")
	}
	if d.SoundVolume < 0 {
		errs = append(errs, "sound_volume must not be negative")
	}
	for key := range d.Values {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, "value keys must not be empty")
			break
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: cue %q: %s", ErrInvalidScene, d.Name, strings.Join(errs, "; "))
	}

	id := d.ID
	if id == "" {
		id = uuid.NewString()
	}
	c := newCue(id, d.Name, int64(math.Round(d.Number*numberScale)))
	if d.Values != nil {
		c.Values = cloneValues(d.Values)
	}
	c.Variables = maps.Clone(d.Variables)
	c.FadeIn = d.FadeIn
	c.Length = d.Length
	c.LengthRandomize = d.LengthRandomize
	c.RelLength = d.RelLength
	c.NextCue = d.NextCue
	c.Inherit = d.Inherit
	c.Track = d.Track
	c.Reentrant = d.Reentrant
	c.Shortcut = d.Shortcut
	c.Sound = d.Sound
	c.SoundVolume = d.SoundVolume
	c.SoundOutput = d.SoundOutput
	c.Rules = rules.Clone(d.Rules)
	return c, nil
}

func (c *Cue) data() CueData {
	return CueData{
		ID:              c.ID,
		Name:            c.Name,
		Number:          float64(c.Number) / numberScale,
		Values:          cloneValues(c.Values),
		Variables:       maps.Clone(c.Variables),
		FadeIn:          c.FadeIn,
		Length:          c.Length,
		LengthRandomize: c.LengthRandomize,
		RelLength:       c.RelLength,
		NextCue:         c.NextCue,
		Inherit:         c.Inherit,
		Track:           c.Track,
		Reentrant:       c.Reentrant,
		Shortcut:        c.Shortcut,
		Sound:           c.Sound,
		SoundVolume:     c.SoundVolume,
		SoundOutput:     c.SoundOutput,
		Rules:           rules.Clone(c.Rules),
	}
}

// Data returns a snapshot of the scene in serialised form.
func (s *Scene) Data() SceneData {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()
	return s.dataLocked()
}

func (s *Scene) dataLocked() SceneData {
	d := SceneData{
		ID:        s.id,
		Name:      s.name,
		Priority:  s.priority,
		Alpha:     float64(s.defaultAlpha),
		Blend:     s.blend.String(),
		BlendArgs: maps.Clone(s.blendArgs),
		BPM:       s.bpm,
		Backtrack: s.backtrack,
		CueTag:    s.cueTag,
		Active:    s.active,
		Cues:      make([]CueData, 0, len(s.cuesOrdered)),
	}
	if s.cue != nil {
		d.CurrentCue = s.cue.Name
	}
	for _, c := range s.cuesOrdered {
		d.Cues = append(d.Cues, c.data())
	}
	return d
}

// CueData returns one cue in serialised form.
func (s *Scene) CueData(name string) (CueData, error) {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()

	c, ok := s.cues[name]
	if !ok {
		return CueData{}, fmt.Errorf("%w: %q in scene %s", ErrNoSuchCue, name, s.name)
	}
	return c.data(), nil
}

// Export returns every scene in serialised form, sorted by name.
func (b *Board) Export() []SceneData {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]SceneData, 0, len(b.scenes))
	for _, s := range b.scenes {
		out = append(out, s.dataLocked())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Import installs a scene from its serialised form, replacing any scene
// with the same id. Invalid data leaves the board unchanged. A scene marked
// active is started on its saved cue.
func (b *Board) Import(d SceneData) (*Scene, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.scenes[d.ID]
	if err := b.checkSceneNameLocked(d.Name, old); err != nil {
		return nil, err
	}
	s, err := b.buildSceneLocked(d)
	if err != nil {
		return nil, err
	}

	if old != nil {
		old.stopLocked()
		delete(b.byName, old.name)
		delete(b.scenes, old.id)
	}
	b.scenes[s.id] = s
	b.byName[s.name] = s
	for _, c := range s.cuesOrdered {
		if c.Shortcut != "" {
			b.shortcuts.register(c.Shortcut, s.id, c.ID)
		}
	}
	b.pushLocked(Event{Type: "scene.imported", Scene: s.name})

	if d.Active {
		if err := s.goLocked(); err != nil {
			return s, err
		}
	}
	return s, nil
}

// buildSceneLocked validates d into a detached scene.
func (b *Board) buildSceneLocked(d SceneData) (*Scene, error) {
	if len(d.Cues) == 0 {
		return nil, fmt.Errorf("%w: scene %q has no cues", ErrInvalidScene, d.Name)
	}
	if d.BPM <= 0 || math.IsNaN(d.BPM) || math.IsInf(d.BPM, 0) {
		return nil, fmt.Errorf("%w: scene %q: bpm must be positive", ErrInvalidScene, d.Name)
	}
	mode, err := blend.Parse(d.Blend, d.BlendArgs)
	if err != nil {
		return nil, fmt.Errorf("scene %q: %w", d.Name, err)
	}

	id := d.ID
	if id == "" {
		id = uuid.NewString()
	}
	s := newScene(b, id, d.Name)
	s.priority = d.Priority
	s.defaultAlpha = float32(min(max(d.Alpha, 0), 1))
	s.alpha = s.defaultAlpha
	s.blend = mode
	s.blendArgs = maps.Clone(d.BlendArgs)
	s.bpm = d.BPM
	s.backtrack = d.Backtrack
	s.cueTag = d.CueTag

	var errs []error
	for _, cd := range d.Cues {
		c, err := cd.toCue()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if c.Number == 0 && len(s.cues) > 0 {
			c.Number = s.nextFreeNumber()
		}
		if err := s.addCueLocked(c); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if _, ok := s.cues[DefaultCueName]; !ok {
		if err := s.addCueLocked(newCue(uuid.NewString(), DefaultCueName, s.defaultCueNumber())); err != nil {
			return nil, fmt.Errorf("%w: scene %q: %w", ErrInvalidScene, d.Name, err)
		}
	}
	if d.CurrentCue != "" {
		s.cue = s.cues[d.CurrentCue]
	}
	return s, nil
}

// ─── Scene files ───

// LoadSceneFile reads one YAML scene file.
func LoadSceneFile(path string) (SceneData, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return SceneData{}, fmt.Errorf("reading scene file: %w", err)
	}
	var d SceneData
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return SceneData{}, fmt.Errorf("parsing scene file %s: %w", path, err)
	}
	return d, nil
}

// LoadSceneDir reads every *.yaml and *.yml file in dir, sorted by file name.
func LoadSceneDir(dir string) ([]SceneData, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading scene directory: %w", err)
	}
	var out []SceneData
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		d, err := LoadSceneFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// WriteSceneFile writes d as YAML, replacing the file atomically.
func WriteSceneFile(path string, d SceneData) error {
	raw, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding scene %q: %w", d.Name, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("writing scene file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing scene file: %w", err)
	}
	return nil
}
