package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vampirenirmal/novelforge/internal/story"
)

const projectExt = ".json"

// ErrNoProject is returned when a named project has no file.
var ErrNoProject = errors.New("project not found")

// ProjectStore keeps one JSON file per project. Bound to a project name it
// also persists every checkpoint mutation.
type ProjectStore struct {
	files   Storage
	name    string
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

type ProjectOption func(*ProjectStore)

// WithTimeout bounds each write issued from Persist.
func WithTimeout(d time.Duration) ProjectOption {
	return func(p *ProjectStore) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithClock(now func() time.Time) ProjectOption {
	return func(p *ProjectStore) {
		p.now = now
	}
}

func WithLogger(logger *slog.Logger) ProjectOption {
	return func(p *ProjectStore) {
		p.logger = logger.With("component", "storage")
	}
}

func NewProjectStore(files Storage, opts ...ProjectOption) *ProjectStore {
	p := &ProjectStore{
		files:   files,
		timeout: 10 * time.Second,
		now:     time.Now,
		logger:  slog.Default().With("component", "storage"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Bind returns a copy of the store that persists into the named project.
func (p *ProjectStore) Bind(name string) (*ProjectStore, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	c := *p
	c.name = name
	return &c, nil
}

func (p *ProjectStore) Name() string { return p.name }

// Persist writes state to the bound project.
func (p *ProjectStore) Persist(state story.State) error {
	if p.name == "" {
		return errors.New("project store is not bound to a project")
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.Save(ctx, p.name, state)
}

func (p *ProjectStore) Save(ctx context.Context, name string, state story.State) error {
	if err := validName(name); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding project %s: %w", name, err)
	}
	if err := p.files.Save(ctx, name+projectExt, data); err != nil {
		return fmt.Errorf("saving project %s: %w", name, err)
	}
	p.logger.Debug("project saved", "project", name, "bytes", len(data))
	return nil
}

func (p *ProjectStore) Load(ctx context.Context, name string) (story.State, error) {
	if err := validName(name); err != nil {
		return story.State{}, err
	}
	data, err := p.files.Load(ctx, name+projectExt)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return story.State{}, fmt.Errorf("%w: %s", ErrNoProject, name)
		}
		return story.State{}, err
	}
	var st story.State
	if err := json.Unmarshal(data, &st); err != nil {
		return story.State{}, fmt.Errorf("decoding project %s: %w", name, err)
	}
	if st.ChaptersFull == nil {
		st.ChaptersFull = []string{}
	}
	if st.StatusLog == nil {
		st.StatusLog = []string{}
	}
	return st, nil
}

// Exists reports whether a project file is stored under name.
func (p *ProjectStore) Exists(ctx context.Context, name string) bool {
	if validName(name) != nil {
		return false
	}
	return p.files.Exists(ctx, name+projectExt)
}

// List returns the names of every stored project, sorted.
func (p *ProjectStore) List(ctx context.Context) ([]string, error) {
	paths, err := p.files.List(ctx, "*"+projectExt)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(paths))
	for _, path := range paths {
		names = append(names, strings.TrimSuffix(filepath.Base(path), projectExt))
	}
	sort.Strings(names)
	return names, nil
}

// Export writes the Markdown manuscript next to the project file and
// returns its relative path.
func (p *ProjectStore) Export(ctx context.Context, name string, state story.State) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	path := filepath.Join("exports", name+".md")
	if err := p.files.Save(ctx, path, ExportMarkdown(name, state, p.now())); err != nil {
		return "", fmt.Errorf("exporting project %s: %w", name, err)
	}
	return path, nil
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid project name %q", name)
	}
	return nil
}
