package llm

import (
	"fmt"
	"time"

	"github.com/vampirenirmal/novelforge/internal/story"
)

// Task names one kind of chat-completion call. Each task carries its own
// default Params.
type Task string

const (
	TaskExpandPlot          Task = "expand_plot"
	TaskGenerateOverview    Task = "generate_overview"
	TaskValidateOverview    Task = "validate_overview"
	TaskWriteChapter        Task = "write_chapter"
	TaskReviseChapter       Task = "revise_chapter"
	TaskValidateChapter     Task = "validate_chapter"
	TaskDiffVersions        Task = "diff_versions"
	TaskAnalyzeImpact       Task = "analyze_impact"
	TaskEditPlot            Task = "edit_plot"
	TaskEditOverview        Task = "edit_overview"
	TaskEditChapter         Task = "edit_chapter"
	TaskTokenizeOverview    Task = "tokenize_overview"
	TaskGenerateTransitions Task = "generate_transitions"
	TaskValidateAfterEdit   Task = "validate_after_edit"
	TaskRewriteSelection    Task = "rewrite_selection"
	TaskChatEditor          Task = "chat_editor"
	TaskRefineChat          Task = "refine_chat"
)

// Tasks lists every known task in a stable order.
var Tasks = []Task{
	TaskExpandPlot,
	TaskGenerateOverview,
	TaskValidateOverview,
	TaskWriteChapter,
	TaskReviseChapter,
	TaskValidateChapter,
	TaskDiffVersions,
	TaskAnalyzeImpact,
	TaskEditPlot,
	TaskEditOverview,
	TaskEditChapter,
	TaskTokenizeOverview,
	TaskGenerateTransitions,
	TaskValidateAfterEdit,
	TaskRewriteSelection,
	TaskChatEditor,
	TaskRefineChat,
}

// ParseTask resolves a task by its name.
func ParseTask(name string) (Task, error) {
	for _, t := range Tasks {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", story.ErrUnknownTask, name)
}

// Params are the per-task call options. Temperature and TopP are optional;
// providers leave them unset when nil. Reasoning fields are forwarded only to
// providers that support structured reasoning.
type Params struct {
	MaxTokens          int
	Timeout            time.Duration
	Temperature        *float64
	TopP               *float64
	Retries            int
	ReasoningEffort    string
	MaxReasoningTokens int
}

// Override carries optional per-field replacements for Params, typically
// decoded from configuration.
type Override struct {
	MaxTokens          *int
	Timeout            *time.Duration
	Temperature        *float64
	TopP               *float64
	Retries            *int
	ReasoningEffort    *string
	MaxReasoningTokens *int
}

// Merge applies every set field of o on top of p.
func (p Params) Merge(o Override) Params {
	if o.MaxTokens != nil {
		p.MaxTokens = *o.MaxTokens
	}
	if o.Timeout != nil {
		p.Timeout = *o.Timeout
	}
	if o.Temperature != nil {
		p.Temperature = Float(*o.Temperature)
	}
	if o.TopP != nil {
		p.TopP = Float(*o.TopP)
	}
	if o.Retries != nil {
		p.Retries = *o.Retries
	}
	if o.ReasoningEffort != nil {
		p.ReasoningEffort = *o.ReasoningEffort
	}
	if o.MaxReasoningTokens != nil {
		p.MaxReasoningTokens = *o.MaxReasoningTokens
	}
	return p
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

func prose(maxTokens int, timeout time.Duration, temp float64) Params {
	return Params{
		MaxTokens:   maxTokens,
		Timeout:     timeout,
		Temperature: Float(temp),
		TopP:        Float(0.95),
		Retries:     2,
	}
}

func analytic(maxTokens int, timeout time.Duration) Params {
	return Params{
		MaxTokens:   maxTokens,
		Timeout:     timeout,
		Temperature: Float(0.2),
		Retries:     2,
	}
}

// DefaultParams returns the built-in defaults for every task.
func DefaultParams() map[Task]Params {
	return map[Task]Params{
		TaskExpandPlot:          prose(4000, 3*time.Minute, 0.8),
		TaskGenerateOverview:    prose(6000, 4*time.Minute, 0.7),
		TaskValidateOverview:    analytic(1500, 2*time.Minute),
		TaskWriteChapter:        prose(12000, 8*time.Minute, 0.85),
		TaskReviseChapter:       prose(12000, 8*time.Minute, 0.7),
		TaskValidateChapter:     analytic(1500, 3*time.Minute),
		TaskDiffVersions:        analytic(2000, 2*time.Minute),
		TaskAnalyzeImpact:       {MaxTokens: 3000, Timeout: 3 * time.Minute, Temperature: Float(0.2), Retries: 2, ReasoningEffort: "medium", MaxReasoningTokens: 4000},
		TaskEditPlot:            prose(4000, 4*time.Minute, 0.6),
		TaskEditOverview:        prose(6000, 4*time.Minute, 0.6),
		TaskEditChapter:         prose(12000, 8*time.Minute, 0.6),
		TaskTokenizeOverview:    analytic(1000, 90*time.Second),
		TaskGenerateTransitions: {MaxTokens: 8000, Timeout: 5 * time.Minute, Temperature: Float(0.3), Retries: 2, ReasoningEffort: "low", MaxReasoningTokens: 2000},
		TaskValidateAfterEdit:   analytic(1500, 2*time.Minute),
		TaskRewriteSelection:    prose(3000, 2*time.Minute, 0.7),
		TaskChatEditor:          prose(4000, 3*time.Minute, 0.7),
		TaskRefineChat:          prose(12000, 6*time.Minute, 0.6),
	}
}

// Catalog resolves the effective Params of a task.
type Catalog struct {
	params map[Task]Params
}

// NewCatalog starts from DefaultParams and applies overrides keyed by task.
func NewCatalog(overrides map[Task]Override) *Catalog {
	params := DefaultParams()
	for task, o := range overrides {
		params[task] = params[task].Merge(o)
	}
	return &Catalog{params: params}
}

// Params returns the parameters of task, or ErrUnknownTask.
func (c *Catalog) Params(task Task) (Params, error) {
	p, ok := c.params[task]
	if !ok {
		return Params{}, fmt.Errorf("%w: %q", story.ErrUnknownTask, task)
	}
	return p, nil
}
