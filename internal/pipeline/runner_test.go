package pipeline

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/novelforge/internal/checkpoint"
	"github.com/vampirenirmal/novelforge/internal/llm"
	"github.com/vampirenirmal/novelforge/internal/prompts"
	"github.com/vampirenirmal/novelforge/internal/stop"
	"github.com/vampirenirmal/novelforge/internal/story"
	"github.com/vampirenirmal/novelforge/internal/transitions"
)

const overviewText = `#### Chapter 1: *The Door*
Mara finds a door.
#### Chapter 2: *Through*
She steps through.
#### Chapter 3: *Home*
She returns.`

var seed = Inputs{
	Plot:        "A child finds a door to another world.",
	Genre:       "fantasy",
	NumChapters: 3,
	ANPC:        2,
	Mode:        story.RunFull,
}

type harness struct {
	backend *llm.ScriptedBackend
	cp      *checkpoint.Store
	stop    *stop.Signal
	runner  *Runner
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		backend: llm.NewScriptedBackend(),
		cp:      checkpoint.New(),
		stop:    stop.New(),
	}
	h.backend.
		Default(llm.TaskExpandPlot, "Expanded plot").
		Default(llm.TaskGenerateOverview, overviewText).
		Default(llm.TaskValidateOverview, "OK").
		Default(llm.TaskWriteChapter, "Chapter text").
		Default(llm.TaskValidateChapter, "OK").
		Default(llm.TaskReviseChapter, "Revised chapter")
	h.runner = New(h.backend, prompts.New(), h.cp, h.stop, opts...)
	return h
}

func collect(seq iter.Seq[Event]) []Event {
	var out []Event
	for ev := range seq {
		out = append(out, ev)
	}
	return out
}

func last(events []Event) Event { return events[len(events)-1] }

func TestMinimalFullRun(t *testing.T) {
	h := newHarness(t)
	h.backend.Push(llm.TaskValidateChapter, "NOT OK\nThe ending is rushed.")

	events := collect(h.runner.Run(context.Background(), seed, false))
	final := last(events)
	require.True(t, final.Done)
	require.False(t, final.Failed)

	st := final.State
	assert.Equal(t, "Expanded plot", st.ExpandedPlot)
	assert.Equal(t, overviewText, st.ChaptersOverview)
	assert.True(t, st.OverviewValidated)
	assert.Equal(t, []string{"Revised chapter", "Chapter text", "Chapter text"}, st.ChaptersFull)
	require.NotNil(t, st.NextChapterIndex)
	assert.Equal(t, 4, *st.NextChapterIndex)
	assert.Nil(t, st.PendingValidationIndex)

	assert.Contains(t, st.ValidationText, "Overview, attempt 1: OK")
	assert.Contains(t, st.ValidationText, "Chapter 1, attempt 1: NOT OK\nThe ending is rushed.")
	assert.True(t, strings.HasPrefix(st.ValidationText, "Chapter 3, attempt 1: OK"))
	assert.Len(t, st.StatusLog, len(events))

	stored, ok := h.cp.Load()
	require.True(t, ok)
	assert.Equal(t, st, stored)

	assert.Equal(t, []llm.Task{
		llm.TaskExpandPlot,
		llm.TaskGenerateOverview,
		llm.TaskValidateOverview,
		llm.TaskWriteChapter, llm.TaskValidateChapter, llm.TaskReviseChapter, llm.TaskValidateChapter,
		llm.TaskWriteChapter, llm.TaskValidateChapter,
		llm.TaskWriteChapter, llm.TaskValidateChapter,
	}, h.backend.Tasks())
}

func TestOverviewOnlyRun(t *testing.T) {
	h := newHarness(t)
	in := seed
	in.Mode = story.RunOverview

	final := last(collect(h.runner.Run(context.Background(), in, false)))
	require.True(t, final.Done)
	assert.True(t, final.State.OverviewValidated)
	assert.Empty(t, final.State.ChaptersFull)
	assert.Nil(t, final.State.NextChapterIndex)
	assert.Empty(t, h.backend.CallsFor(llm.TaskWriteChapter))
}

func TestStartEmptyRun(t *testing.T) {
	h := newHarness(t)
	in := Inputs{NumChapters: 1, Mode: story.RunStartEmpty}

	final := last(collect(h.runner.Run(context.Background(), in, false)))
	require.True(t, final.Done)
	assert.Empty(t, final.State.ExpandedPlot)
	assert.Empty(t, h.backend.Calls())
	assert.True(t, h.cp.Has())
}

func TestResumeAfterStop(t *testing.T) {
	h := newHarness(t)
	h.backend.Handle(llm.TaskWriteChapter, func([]llm.Message) (string, error) {
		h.stop.Request()
		return "Chapter one", nil
	})

	paused := last(collect(h.runner.Run(context.Background(), seed, false)))
	require.True(t, paused.Paused)
	assert.Equal(t, []string{"Chapter one"}, paused.State.ChaptersFull)
	require.NotNil(t, paused.State.PendingValidationIndex)
	assert.Equal(t, 1, *paused.State.PendingValidationIndex)
	assert.Empty(t, h.backend.CallsFor(llm.TaskValidateChapter))

	stored, ok := h.cp.Load()
	require.True(t, ok)
	assert.Equal(t, paused.State, stored)

	h.backend.Handle(llm.TaskWriteChapter, nil)
	resumed := last(collect(h.runner.Run(context.Background(), Inputs{}, true)))
	require.True(t, resumed.Done)
	assert.Equal(t, []string{"Chapter one", "Chapter text", "Chapter text"}, resumed.State.ChaptersFull)
	assert.Nil(t, resumed.State.PendingValidationIndex)

	assert.Len(t, h.backend.CallsFor(llm.TaskValidateChapter), 3)
	assert.Len(t, h.backend.CallsFor(llm.TaskWriteChapter), 3)
	assert.Len(t, h.backend.CallsFor(llm.TaskExpandPlot), 1)
}

func TestStopBeforeFirstStepStillPersists(t *testing.T) {
	h := newHarness(t)
	h.backend.Handle(llm.TaskExpandPlot, func([]llm.Message) (string, error) {
		h.stop.Request()
		return "Expanded plot", nil
	})

	final := last(collect(h.runner.Run(context.Background(), seed, false)))
	assert.True(t, final.Paused)
	assert.Equal(t, "Expanded plot", final.State.ExpandedPlot)
	assert.Empty(t, final.State.ChaptersOverview)
	assert.Empty(t, h.backend.CallsFor(llm.TaskGenerateOverview))
}

func TestOverviewValidationGivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	h.backend.Default(llm.TaskValidateOverview, "NOT OK: missing the climax")
	in := seed
	in.Mode = story.RunOverview

	final := last(collect(h.runner.Run(context.Background(), in, false)))
	require.True(t, final.Done)
	assert.True(t, final.State.OverviewValidated)
	assert.Len(t, h.backend.CallsFor(llm.TaskValidateOverview), DefaultMaxValidationAttempts)
	assert.Len(t, h.backend.CallsFor(llm.TaskGenerateOverview), DefaultMaxValidationAttempts)

	regen := h.backend.CallsFor(llm.TaskGenerateOverview)[1]
	assert.Contains(t, regen.Prompt(), "missing the climax")
}

func TestValidatorFailureDoesNotHaltPipeline(t *testing.T) {
	h := newHarness(t)
	h.backend.Fail(llm.TaskValidateChapter, errors.New("timeout"))

	final := last(collect(h.runner.Run(context.Background(), seed, false)))
	require.True(t, final.Done)
	assert.False(t, final.Failed)
	assert.Len(t, final.State.ChaptersFull, 3)
	assert.Contains(t, final.State.ValidationText, "Chapter 1, attempt 1: UNKNOWN")
	assert.Empty(t, h.backend.CallsFor(llm.TaskReviseChapter))
}

func TestGenerationFailureEndsRun(t *testing.T) {
	h := newHarness(t)
	h.backend.Fail(llm.TaskGenerateOverview, errors.New("quota"))

	final := last(collect(h.runner.Run(context.Background(), seed, false)))
	assert.True(t, final.Failed)
	assert.True(t, final.Done)
	assert.Contains(t, final.Log, "Generating overview failed")

	stored, ok := h.cp.Load()
	require.True(t, ok)
	assert.Equal(t, "Expanded plot", stored.ExpandedPlot)
}

func TestInvalidInputsLeaveCheckpointAlone(t *testing.T) {
	h := newHarness(t)
	h.cp.Save(story.State{Plot: "existing"})

	final := last(collect(h.runner.Run(context.Background(), Inputs{Mode: story.RunFull}, false)))
	assert.True(t, final.Failed)
	stored, _ := h.cp.Load()
	assert.Equal(t, "existing", stored.Plot)
}

func TestConsumerBreakStopsRun(t *testing.T) {
	h := newHarness(t)
	for ev := range h.runner.Run(context.Background(), seed, false) {
		if ev.State.HasExpandedPlot() {
			break
		}
	}
	assert.Empty(t, h.backend.CallsFor(llm.TaskGenerateOverview))
}

func TestTransitionClauseReachesChapterWriter(t *testing.T) {
	backend := llm.NewScriptedBackend().Push(llm.TaskGenerateTransitions, `{"transitions":[
		{"chapter":1,"transition_type":"first_chapter","thread_id":"main","entry_constraints":{"pov":"Mara"},"exit_payload":{"last_beat":"door opens"}},
		{"chapter":2,"transition_type":"direct","thread_id":"main","entry_constraints":{"pov":"Mara"},"exit_payload":{"last_beat":"she runs"}},
		{"chapter":3,"transition_type":"time_skip","thread_id":"main","entry_constraints":{"pov":"Mara"},"exit_payload":{"last_beat":"home"}}]}`)
	planner, err := transitions.NewPlanner(backend, prompts.New(), 4)
	require.NoError(t, err)

	h := newHarness(t, WithPlanner(planner))
	final := last(collect(h.runner.Run(context.Background(), seed, false)))
	require.True(t, final.Done)

	writes := h.backend.CallsFor(llm.TaskWriteChapter)
	require.Len(t, writes, 3)
	assert.Contains(t, writes[1].Prompt(), "transition type: direct")
	assert.Contains(t, writes[2].Prompt(), "transition type: time_skip")
	assert.Len(t, backend.CallsFor(llm.TaskGenerateTransitions), 1)
}

func TestRefreshFrom(t *testing.T) {
	h := newHarness(t)
	final := last(collect(h.runner.Run(context.Background(), seed, false)))
	require.Len(t, final.State.ChaptersFull, 3)

	st, err := h.runner.RefreshFrom(AnchorChapter(2))
	require.NoError(t, err)
	assert.Len(t, st.ChaptersFull, 1)
	assert.Equal(t, 2, *st.NextChapterIndex)
	assert.True(t, st.OverviewValidated)

	resumed := last(collect(h.runner.Run(context.Background(), Inputs{}, true)))
	require.True(t, resumed.Done)
	assert.Len(t, resumed.State.ChaptersFull, 3)

	st, err = h.runner.RefreshFrom(AnchorOverview)
	require.NoError(t, err)
	assert.Empty(t, st.ChaptersOverview)
	assert.Empty(t, st.ChaptersFull)
	assert.False(t, st.OverviewValidated)
	assert.Equal(t, "Expanded plot", st.ExpandedPlot)

	st, err = h.runner.RefreshFrom(AnchorExpanded)
	require.NoError(t, err)
	assert.Empty(t, st.ExpandedPlot)
}

func TestParseAnchor(t *testing.T) {
	a, err := ParseAnchor("overview")
	require.NoError(t, err)
	assert.Equal(t, AnchorOverview, a)

	a, err = ParseAnchor(" 4 ")
	require.NoError(t, err)
	assert.Equal(t, AnchorChapter(4), a)

	_, err = ParseAnchor("0")
	assert.Error(t, err)
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		reply    string
		verdict  Verdict
		feedback string
	}{
		{"OK", VerdictOK, ""},
		{"\n**OK** looks good", VerdictOK, "looks good"},
		{"NOT OK\n1. fix the ending", VerdictNotOK, "1. fix the ending"},
		{"not ok: pacing drags\nmore", VerdictNotOK, "pacing drags\nmore"},
		{"I think it is fine", VerdictUnknown, "I think it is fine"},
		{"", VerdictUnknown, ""},
	}
	for _, tt := range tests {
		v, fb := ParseVerdict(tt.reply)
		assert.Equal(t, tt.verdict, v, tt.reply)
		assert.Equal(t, tt.feedback, fb, tt.reply)
	}
}
