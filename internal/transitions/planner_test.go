package transitions

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/novelforge/internal/llm"
	"github.com/vampirenirmal/novelforge/internal/prompts"
)

func samplePlan(n int) string {
	plan := make([]Contract, n)
	for i := range plan {
		typ := "direct"
		if i == 0 {
			typ = "first_chapter"
		}
		plan[i] = Contract{
			Chapter:  i + 1,
			Type:     typ,
			ThreadID: "main",
			Entry:    EntryConstraints{POV: "Mara", NarrativePerson: "third"},
			Exit:     ExitPayload{LastBeat: "the door closes", OpenThreads: []string{"the key"}},
		}
	}
	out, _ := json.Marshal(map[string]any{"transitions": plan})
	return string(out)
}

func newPlanner(t *testing.T, backend llm.Backend) *Planner {
	t.Helper()
	p, err := NewPlanner(backend, prompts.New(), 4, WithRetries(2))
	require.NoError(t, err)
	return p
}

func TestPlanAndCache(t *testing.T) {
	backend := llm.NewScriptedBackend().Push(llm.TaskGenerateTransitions, samplePlan(3))
	p := newPlanner(t, backend)

	plan := p.Plan(context.Background(), "plot", "overview", 3)
	require.Len(t, plan, 3)
	assert.Equal(t, "first_chapter", plan[0].Type)
	assert.True(t, p.Cached("overview", 3))

	again := p.Plan(context.Background(), "plot", "overview", 3)
	assert.Equal(t, plan, again)
	assert.Len(t, backend.CallsFor(llm.TaskGenerateTransitions), 1)

	p.Invalidate()
	assert.False(t, p.Cached("overview", 3))
}

func TestPlanRetriesRejectedOutput(t *testing.T) {
	backend := llm.NewScriptedBackend().Push(llm.TaskGenerateTransitions,
		samplePlan(2),
		`{"transitions":[{"chapter":1,"transition_type":"teleport","thread_id":"x"}]}`,
		samplePlan(3),
	)
	p := newPlanner(t, backend)

	plan := p.Plan(context.Background(), "plot", "overview", 3)
	require.Len(t, plan, 3)

	calls := backend.CallsFor(llm.TaskGenerateTransitions)
	require.Len(t, calls, 3)
	assert.Contains(t, calls[1].Prompt(), "wrong number of transitions")
}

func TestPlanFailureYieldsEmpty(t *testing.T) {
	backend := llm.NewScriptedBackend().
		Fail(llm.TaskGenerateTransitions, errors.New("down")).
		Push(llm.TaskGenerateTransitions, "not json", "{}")
	p := newPlanner(t, backend)

	plan := p.Plan(context.Background(), "plot", "overview", 3)
	assert.Empty(t, plan)
	assert.Len(t, backend.CallsFor(llm.TaskGenerateTransitions), 3)
	assert.Equal(t, "", ClauseFor(plan, 1))
}

func TestConcurrentPlansCoalesce(t *testing.T) {
	backend := llm.NewScriptedBackend().Default(llm.TaskGenerateTransitions, samplePlan(2))
	p := newPlanner(t, backend)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Len(t, p.Plan(context.Background(), "plot", "same overview", 2), 2)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, len(backend.CallsFor(llm.TaskGenerateTransitions)), 8)
	assert.True(t, p.Cached("same overview", 2))
}

func TestClause(t *testing.T) {
	c := Contract{
		Chapter:  2,
		Type:     "return",
		ThreadID: "b-plot",
		Anchor:   Anchor{FromChapter: 1, ResumeFromChapter: 1, Trigger: "the letter"},
		Entry:    EntryConstraints{POV: "Ines", DoNotExplain: []string{"the curse"}},
		Exit:     ExitPayload{LastBeat: "she leaves"},
	}
	text := c.Clause()
	assert.Contains(t, text, "transition type: return (thread b-plot)")
	assert.Contains(t, text, "trigger: the letter")
	assert.Contains(t, text, "do not re-explain: the curse")
	assert.Contains(t, text, "end on: she leaves")
	assert.Equal(t, text, ClauseFor([]Contract{{}, c}, 2))
}
