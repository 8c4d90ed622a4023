package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/vampirenirmal/novelforge/internal/llm"
	"github.com/vampirenirmal/novelforge/internal/pipeline"
	"github.com/vampirenirmal/novelforge/internal/prompts"
	"github.com/vampirenirmal/novelforge/internal/story"
)

// working returns the text an assistant operation starts from: the shown
// draft, else committed content.
func (e *Engine) working(sec story.Section) (string, story.State, error) {
	st, ok := e.checkpoint.Load()
	if !ok {
		return "", st, story.ErrNoState
	}
	if text, ok := e.drafts.Content(sec); ok {
		return text, st, nil
	}
	text, err := e.GetSection(sec)
	return text, st, err
}

func (e *Engine) ask(ctx context.Context, task llm.Task, msgs []llm.Message) (string, error) {
	text, err := e.backend.Complete(ctx, task, msgs)
	if err != nil {
		return "", fmt.Errorf("%s: %w", task, err)
	}
	return strings.TrimSpace(text), nil
}

// RewriteSelection rewrites one passage of sec following instruction. The
// section with the passage replaced is stored as the USER draft and the
// rewritten passage is returned.
func (e *Engine) RewriteSelection(ctx context.Context, sec story.Section, selection, instruction string) (string, error) {
	text, st, err := e.working(sec)
	if err != nil {
		return "", err
	}
	if selection == "" || !strings.Contains(text, selection) {
		return "", fmt.Errorf("%w: selection not found in %s", story.ErrInvariantBreach, sec)
	}

	msgs, err := e.prompts.Render(llm.TaskRewriteSelection, prompts.Vars{
		Genre:       st.Genre,
		SectionName: sec.String(),
		Draft:       text,
		Selection:   selection,
		Instruction: instruction,
	})
	if err != nil {
		return "", err
	}
	rewritten, err := e.ask(ctx, llm.TaskRewriteSelection, msgs)
	if err != nil {
		return "", err
	}
	e.drafts.AddUser(sec, strings.Replace(text, selection, rewritten, 1))
	return rewritten, nil
}

// Chat answers one turn of an editorial conversation about sec. history
// holds the earlier user and assistant turns; the caller keeps it.
func (e *Engine) Chat(ctx context.Context, sec story.Section, history []llm.Message, message string) (string, error) {
	text, st, err := e.working(sec)
	if err != nil {
		return "", err
	}
	msgs, err := e.prompts.Render(llm.TaskChatEditor, prompts.Vars{
		Genre:       st.Genre,
		SectionName: sec.String(),
		Draft:       text,
		Message:     message,
	})
	if err != nil {
		return "", err
	}
	last := len(msgs) - 1
	turns := make([]llm.Message, 0, len(msgs)+len(history))
	turns = append(turns, msgs[:last]...)
	for _, m := range history {
		if m.Role != llm.RoleSystem {
			turns = append(turns, m)
		}
	}
	turns = append(turns, msgs[last])
	return e.ask(ctx, llm.TaskChatEditor, turns)
}

// RefineChat applies a conversation to sec and stores the rewritten section
// in the CHAT slot.
func (e *Engine) RefineChat(ctx context.Context, sec story.Section, history []llm.Message, instruction string) (string, error) {
	text, st, err := e.working(sec)
	if err != nil {
		return "", err
	}
	msgs, err := e.prompts.Render(llm.TaskRefineChat, prompts.Vars{
		Genre:       st.Genre,
		SectionName: sec.String(),
		Draft:       text,
		Instruction: instruction,
		Transcript:  transcript(history),
	})
	if err != nil {
		return "", err
	}
	refined, err := e.ask(ctx, llm.TaskRefineChat, msgs)
	if err != nil {
		return "", err
	}
	e.drafts.AddChat(sec, refined)
	return refined, nil
}

func transcript(history []llm.Message) string {
	var sb strings.Builder
	for _, m := range history {
		if m.Role == llm.RoleSystem {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
	}
	return sb.String()
}

// ValidateDraft reviews the shown draft of sec against the change it had to
// absorb. A failed call reads as UNKNOWN.
func (e *Engine) ValidateDraft(ctx context.Context, sec story.Section, diffSummary string) (pipeline.Verdict, string) {
	text, st, err := e.working(sec)
	if err != nil {
		return pipeline.VerdictUnknown, err.Error()
	}
	msgs, err := e.prompts.Render(llm.TaskValidateAfterEdit, prompts.Vars{
		Genre:       st.Genre,
		SectionName: sec.String(),
		Draft:       text,
		DiffSummary: diffSummary,
	})
	if err != nil {
		return pipeline.VerdictUnknown, err.Error()
	}
	reply, err := e.backend.Complete(ctx, llm.TaskValidateAfterEdit, msgs)
	if err != nil {
		e.logger.Warn("draft validation failed", "section", sec.String(), "error", err)
		return pipeline.VerdictUnknown, err.Error()
	}
	return pipeline.ParseVerdict(reply)
}
