// Package prompts renders the per-task chat prompts. Prompt text is data:
// built-in templates are embedded and a YAML catalog may replace any of them.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/vampirenirmal/novelforge/internal/llm"
	"github.com/vampirenirmal/novelforge/internal/story"
)

//go:embed templates/*.tmpl
var builtin embed.FS

// Candidate is one section offered to the impact analyzer.
type Candidate struct {
	Name    string
	Content string
}

// Vars is the union of every value a template may reference.
type Vars struct {
	Plot             string
	Genre            string
	ExpandedPlot     string
	Overview         string
	NumChapters      int
	ANPC             int
	Chapter          int
	ChapterBrief     string
	PreviousChapters []string
	Transition       string
	Draft            string
	Feedback         string

	SectionType   string
	SectionName   string
	Original      string
	Modified      string
	EditedContent string
	DiffSummary   string
	Reason        string
	Candidates    []Candidate
	IsInfill      bool
	TotalChapters int

	NumberedOverview string
	Selection        string
	Instruction      string
	Message          string
	Transcript       string
}

// Override replaces the system and/or user template of a task.
type Override struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// Library caches parsed templates per task.
type Library struct {
	mu        sync.RWMutex
	templates map[llm.Task]*template.Template
	overrides map[llm.Task]Override
	logger    *slog.Logger
}

func New() *Library {
	return &Library{
		templates: make(map[llm.Task]*template.Template),
		overrides: make(map[llm.Task]Override),
		logger:    slog.Default().With("component", "prompts"),
	}
}

var funcs = template.FuncMap{
	"add":  func(a, b int) int { return a + b },
	"join": strings.Join,
}

// LoadOverrides reads a YAML catalog mapping task names to replacement
// templates. Unknown task names are rejected.
func (l *Library) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading prompt catalog: %w", err)
	}

	var raw map[string]Override
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing prompt catalog: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for name, o := range raw {
		task, err := llm.ParseTask(name)
		if err != nil {
			return fmt.Errorf("prompt catalog: %w", err)
		}
		l.overrides[task] = o
		delete(l.templates, task)
	}
	l.logger.Debug("prompt overrides loaded", "path", path, "count", len(raw))
	return nil
}

// Render executes the task's templates against v and returns the system and
// user messages.
func (l *Library) Render(task llm.Task, v Vars) ([]llm.Message, error) {
	tmpl, err := l.load(task)
	if err != nil {
		return nil, err
	}

	system, err := execute(tmpl, "system", v)
	if err != nil {
		return nil, fmt.Errorf("rendering %s system prompt: %w", task, err)
	}
	user, err := execute(tmpl, "user", v)
	if err != nil {
		return nil, fmt.Errorf("rendering %s user prompt: %w", task, err)
	}

	var msgs []llm.Message
	if system != "" {
		msgs = append(msgs, llm.System(system))
	}
	return append(msgs, llm.User(user)), nil
}

func (l *Library) load(task llm.Task) (*template.Template, error) {
	l.mu.RLock()
	if tmpl, ok := l.templates[task]; ok {
		l.mu.RUnlock()
		return tmpl, nil
	}
	o, overridden := l.overrides[task]
	l.mu.RUnlock()

	src, err := builtin.ReadFile("templates/" + string(task) + ".tmpl")
	if err != nil {
		return nil, fmt.Errorf("%w: no prompt for %q", story.ErrUnknownTask, task)
	}

	tmpl, err := template.New(string(task)).Funcs(funcs).Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("parsing %s template: %w", task, err)
	}
	if overridden {
		if o.System != "" {
			if _, err := tmpl.New("system").Parse(o.System); err != nil {
				return nil, fmt.Errorf("parsing %s system override: %w", task, err)
			}
		}
		if o.User != "" {
			if _, err := tmpl.New("user").Parse(o.User); err != nil {
				return nil, fmt.Errorf("parsing %s user override: %w", task, err)
			}
		}
	}

	l.mu.Lock()
	l.templates[task] = tmpl
	l.mu.Unlock()
	return tmpl, nil
}

func execute(tmpl *template.Template, name string, v Vars) (string, error) {
	if tmpl.Lookup(name) == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// Stats reports how many tasks have a parsed template cached.
func (l *Library) Stats() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.templates)
}
