package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/vampirenirmal/novelforge/internal/config"
	"github.com/vampirenirmal/novelforge/internal/engine"
	"github.com/vampirenirmal/novelforge/internal/llm"
	"github.com/vampirenirmal/novelforge/internal/overview"
	"github.com/vampirenirmal/novelforge/internal/pipeline"
	"github.com/vampirenirmal/novelforge/internal/prompts"
	"github.com/vampirenirmal/novelforge/internal/revision"
	"github.com/vampirenirmal/novelforge/internal/storage"
	"github.com/vampirenirmal/novelforge/internal/story"
)

// Deps replaces the process-level collaborators in tests.
type Deps struct {
	LoadConfig func(path string) (*config.Config, error)
	NewBackend func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.Backend, error)
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
	Now        func() time.Time
}

func buildApp(deps Deps) *cli.App {
	if deps.LoadConfig == nil {
		deps.LoadConfig = config.Load
	}
	if deps.NewBackend == nil {
		deps.NewBackend = newBackend
	}
	if deps.Stdin == nil {
		deps.Stdin = os.Stdin
	}
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	// with opens a session around action and closes it afterwards.
	with := func(action func(*cli.Context, *session) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			s, err := openSession(c, deps)
			if err != nil {
				return err
			}
			defer s.Close()
			return action(c, s)
		}
	}

	return &cli.App{
		Name:      "novelforge",
		Usage:     "generate and revise long-form fiction with a language model",
		Writer:    deps.Stdout,
		ErrWriter: deps.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "configuration file (.yaml or .toml)"},
			&cli.StringFlag{Name: "log-level", Usage: "override the configured log level"},
		},
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "start a new story",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "plot", Usage: "premise of the story"},
					&cli.StringFlag{Name: "genre"},
					&cli.IntFlag{Name: "chapters", Value: 10, Usage: "target number of chapters"},
					&cli.IntFlag{Name: "anpc", Value: 5, Usage: "approximate number of paragraphs per chapter"},
					&cli.StringFlag{Name: "mode", Value: string(story.RunFull), Usage: "FULL, OVERVIEW or START_EMPTY"},
					&cli.StringFlag{Name: "name", Usage: "project name; derived from the configured naming when empty"},
					&cli.BoolFlag{Name: "force", Usage: "overwrite an existing project with the same name"},
				},
				Action: with(runCreate),
			},
			{
				Name:      "resume",
				Usage:     "continue a paused or failed run",
				ArgsUsage: "<project>",
				Action:    with(runResume),
			},
			{
				Name:      "refresh",
				Usage:     "regenerate a project from a step onward",
				ArgsUsage: "<project>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "from", Required: true, Usage: `"expanded", "overview" or a chapter number`},
				},
				Action: with(runRefresh),
			},
			{
				Name:   "projects",
				Usage:  "list saved projects",
				Action: with(runProjects),
			},
			{
				Name:      "sections",
				Usage:     "list the sections of a project",
				ArgsUsage: "<project>",
				Action:    with(runSections),
			},
			{
				Name:      "show",
				Usage:     "print one section",
				ArgsUsage: "<project> <section>",
				Action:    with(runShow),
			},
			{
				Name:      "edit",
				Usage:     "replace a section and revise whatever it affects",
				ArgsUsage: "<project> <section>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: `new content; "-" reads stdin`},
					&cli.BoolFlag{Name: "accept", Usage: "commit the edit and every revised section"},
				},
				Action: with(runEdit),
			},
			{
				Name:      "fill",
				Usage:     "insert a new chapter",
				ArgsUsage: "<project>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: `chapter content; "-" reads stdin`},
					&cli.IntFlag{Name: "after", Value: -1, Usage: "chapter the fill follows; 0 inserts first, default appends"},
					&cli.BoolFlag{Name: "accept", Usage: "commit the fill and every revised section"},
				},
				Action: with(runFill),
			},
			{
				Name:      "export",
				Usage:     "write the manuscript as Markdown",
				ArgsUsage: "<project>",
				Action:    with(runExport),
			},
			{
				Name:      "history",
				Usage:     "list saved versions of a project",
				ArgsUsage: "<project>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20},
				},
				Action: with(runHistory),
			},
			{
				Name:      "restore",
				Usage:     "make a saved version the current one",
				ArgsUsage: "<project> <snapshot>",
				Action:    with(runRestore),
			},
		},
	}
}

func openSession(c *cli.Context, deps Deps) (*session, error) {
	cfg, err := deps.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	logger := cfg.Log.NewLogger(deps.Stderr)
	slog.SetDefault(logger)

	backend, err := deps.NewBackend(c.Context, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating LLM backend: %w", err)
	}
	lib := prompts.New()
	if cfg.Prompts.Catalog != "" {
		if err := lib.LoadOverrides(cfg.Prompts.Catalog); err != nil {
			return nil, fmt.Errorf("loading prompt catalog: %w", err)
		}
	}
	history, err := storage.OpenHistory(cfg.Storage.HistoryDB, cfg.Storage.HistoryKeep)
	if err != nil {
		return nil, err
	}
	projects := storage.NewProjectStore(storage.NewFileSystem(cfg.Storage.ProjectDir),
		storage.WithClock(deps.Now),
		storage.WithLogger(logger.With("component", "storage")))

	return &session{
		cfg:      cfg,
		logger:   logger,
		backend:  backend,
		prompts:  lib,
		projects: projects,
		history:  history,
		in:       deps.Stdin,
		out:      deps.Stdout,
		errOut:   deps.Stderr,
		now:      deps.Now,
	}, nil
}

func args(c *cli.Context, names ...string) ([]string, error) {
	if c.NArg() != len(names) {
		return nil, fmt.Errorf("usage: %s %s", c.Command.Name, "<"+strings.Join(names, "> <")+">")
	}
	return c.Args().Slice(), nil
}

func runCreate(c *cli.Context, s *session) error {
	in := pipeline.Inputs{
		Plot:        c.String("plot"),
		Genre:       c.String("genre"),
		NumChapters: c.Int("chapters"),
		ANPC:        c.Int("anpc"),
		Mode:        story.RunMode(strings.ToUpper(c.String("mode"))),
	}
	if err := in.Validate(); err != nil {
		return fmt.Errorf("invalid story inputs: %w", err)
	}

	name := c.String("name")
	if name == "" {
		naming, err := storage.ParseNaming(s.cfg.Storage.Naming)
		if err != nil {
			return err
		}
		name = storage.ProjectName(uuid.NewString(), in.Plot, naming, s.now())
	}
	if !c.Bool("force") && s.projects.Exists(c.Context, name) {
		return fmt.Errorf("project %s already exists; use --force to overwrite", name)
	}
	e, err := s.engine(name)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "project %s\n", name)
	return s.create(c.Context, e, name, in, false)
}

func runResume(c *cli.Context, s *session) error {
	a, err := args(c, "project")
	if err != nil {
		return err
	}
	e, err := s.open(c.Context, a[0], true)
	if err != nil {
		return err
	}
	return s.create(c.Context, e, a[0], pipeline.Inputs{}, true)
}

func runRefresh(c *cli.Context, s *session) error {
	a, err := args(c, "project")
	if err != nil {
		return err
	}
	anchor, err := pipeline.ParseAnchor(c.String("from"))
	if err != nil {
		return err
	}
	e, err := s.open(c.Context, a[0], true)
	if err != nil {
		return err
	}
	if _, err := e.RefreshFrom(anchor); err != nil {
		return err
	}
	return s.create(c.Context, e, a[0], pipeline.Inputs{}, true)
}

// create streams a creation run, printing status lines as they arrive.
func (s *session) create(ctx context.Context, e *engine.Engine, project string, in pipeline.Inputs, resume bool) error {
	var last pipeline.Event
	err := drive(ctx, e, e.RunCreation(context.WithoutCancel(ctx), in, resume), func(ev pipeline.Event) {
		if ev.Log != "" {
			fmt.Fprintln(s.errOut, ev.Log)
		}
		last = ev
	})
	if err != nil {
		return err
	}
	switch {
	case last.Failed:
		return fmt.Errorf("run failed: %s", last.Log)
	case last.Paused:
		fmt.Fprintf(s.out, "paused; continue with: novelforge resume %s\n", project)
	default:
		fmt.Fprintf(s.out, "%d of %d chapters written\n", len(last.State.ChaptersFull), last.State.NumChapters)
	}
	return nil
}

func runProjects(c *cli.Context, s *session) error {
	names, err := s.projects.List(c.Context)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(s.out, name)
	}
	return nil
}

func runSections(c *cli.Context, s *session) error {
	a, err := args(c, "project")
	if err != nil {
		return err
	}
	e, err := s.open(c.Context, a[0], false)
	if err != nil {
		return err
	}
	for _, sec := range e.ListSections() {
		fmt.Fprintln(s.out, sec)
	}
	return nil
}

// parseSection accepts display names plus the short forms "plot",
// "overview" and a bare chapter number.
func parseSection(name string) (story.Section, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "plot", "expanded":
		return story.ExpandedPlot, nil
	case "overview":
		return story.ChaptersOverview, nil
	}
	if k, err := strconv.Atoi(strings.TrimSpace(name)); err == nil {
		if k < 1 {
			return story.Section{}, fmt.Errorf("%w: chapter %d", story.ErrUnknownSection, k)
		}
		return story.Chapter(k), nil
	}
	return story.ParseSection(name)
}

func runShow(c *cli.Context, s *session) error {
	a, err := args(c, "project", "section")
	if err != nil {
		return err
	}
	sec, err := parseSection(a[1])
	if err != nil {
		return err
	}
	e, err := s.open(c.Context, a[0], false)
	if err != nil {
		return err
	}
	text, err := e.GetSection(sec)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, text)
	return nil
}

func (s *session) read(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(s.in)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading content: %w", err)
	}
	return string(data), nil
}

func runEdit(c *cli.Context, s *session) error {
	a, err := args(c, "project", "section")
	if err != nil {
		return err
	}
	sec, err := parseSection(a[1])
	if err != nil {
		return err
	}
	content, err := s.read(c.String("file"))
	if err != nil {
		return err
	}
	e, err := s.open(c.Context, a[0], true)
	if err != nil {
		return err
	}
	out, err := e.ApplyEdit(c.Context, sec, content)
	if err != nil {
		if out.Report != nil {
			s.report(out)
		}
		return err
	}
	return s.settle(c.Context, e, out, c.Bool("accept"))
}

func runFill(c *cli.Context, s *session) error {
	a, err := args(c, "project")
	if err != nil {
		return err
	}
	content, err := s.read(c.String("file"))
	if err != nil {
		return err
	}
	e, err := s.open(c.Context, a[0], true)
	if err != nil {
		return err
	}

	var selected *story.Section
	after := c.Int("after")
	if after < 0 {
		st, _ := e.State()
		after = len(st.ChaptersFull)
	}
	if after > 0 {
		ch := story.Chapter(after)
		selected = &ch
	}
	fill := e.CreateFill(selected, content)
	out, err := e.ApplyEdit(c.Context, fill, content)
	if err != nil {
		return err
	}
	return s.settle(c.Context, e, out, c.Bool("accept"))
}

// settle reports an edit outcome, runs its revision plan and optionally
// commits every section that ended up with a draft.
func (s *session) settle(ctx context.Context, e *engine.Engine, out engine.EditOutcome, accept bool) error {
	s.report(out)
	switch {
	case out.Committed && out.Chapter > 0:
		fmt.Fprintf(s.out, "committed as chapter %d\n", out.Chapter)
		return nil
	case out.Committed:
		fmt.Fprintf(s.out, "%s committed\n", out.Section)
		return nil
	case out.Plan == nil:
		if accept {
			return errors.New("nothing to accept: the edit was kept as a draft only")
		}
		return nil
	}

	plan := *out.Plan
	fmt.Fprintln(s.out, plan)
	var last revision.Event
	err := drive(ctx, e, e.RunRevision(context.WithoutCancel(ctx), plan), func(ev revision.Event) {
		if ev.Log != "" {
			fmt.Fprintln(s.errOut, ev.Log)
		}
		last = ev
	})
	if err != nil {
		return err
	}

	ready := []story.Section{plan.Edited}
	for _, sec := range plan.Impacted() {
		if _, _, ok := e.Draft(sec); ok {
			ready = append(ready, sec)
		}
	}
	if !accept {
		for _, sec := range ready[1:] {
			text, slot, _ := e.Draft(sec)
			fmt.Fprintf(s.out, "\n=== %s (%s) ===\n%s\n", sec, slot, text)
		}
		fmt.Fprintln(s.out, "\nnot committed; rerun with --accept to keep these revisions")
		return nil
	}
	if last.Paused {
		fmt.Fprintln(s.errOut, "revision paused; committing the sections revised so far")
	}
	accepted, err := e.Accept(ready)
	if err != nil {
		return err
	}
	for _, sec := range accepted {
		fmt.Fprintf(s.out, "%s committed\n", sec)
	}
	return nil
}

func (s *session) report(out engine.EditOutcome) {
	if out.Message != "" {
		fmt.Fprintln(s.out, out.Message)
	}
	if out.Report == nil {
		return
	}
	for _, check := range []struct {
		name string
		overview.Check
	}{
		{"numbering", out.Report.Numbering},
		{"deleted", out.Report.Deleted},
		{"added", out.Report.Added},
	} {
		if !check.OK {
			fmt.Fprintf(s.out, "%s: %s\n", check.name, check.Reason)
		}
	}
}

func runExport(c *cli.Context, s *session) error {
	a, err := args(c, "project")
	if err != nil {
		return err
	}
	st, err := s.projects.Load(c.Context, a[0])
	if err != nil {
		return err
	}
	path, err := s.projects.Export(c.Context, a[0], st)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, path)
	return nil
}

func runHistory(c *cli.Context, s *session) error {
	a, err := args(c, "project")
	if err != nil {
		return err
	}
	rows, err := s.history.List(a[0], c.Int("limit"))
	if err != nil {
		return err
	}
	for _, row := range rows {
		validated := ""
		if row.Validated {
			validated = " validated"
		}
		fmt.Fprintf(s.out, "%s  %s  %d chapters%s\n",
			row.ID, time.UnixMilli(row.CreatedAt).Format(time.DateTime), row.Chapters, validated)
	}
	return nil
}

func runRestore(c *cli.Context, s *session) error {
	a, err := args(c, "project", "snapshot")
	if err != nil {
		return err
	}
	st, err := s.history.Restore(a[1])
	if err != nil {
		return err
	}
	if err := s.projects.Save(c.Context, a[0], st); err != nil {
		return err
	}
	if err := s.history.Bind(a[0]).Persist(st); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s restored from %s\n", a[0], a[1])
	return nil
}
