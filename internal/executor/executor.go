// Package executor maps a classified intent onto task store operations and
// renders the chat reply for it.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/basket/taskchat/internal/intent"
	"github.com/basket/taskchat/internal/persistence"
)

// ErrAccessDenied is returned when an action names a task owned by someone
// else. The accompanying Result carries only AccessDeniedMessage.
var ErrAccessDenied = errors.New("executor: access denied")

const AccessDeniedMessage = "I can only access your own tasks."

// TaskStore is the subset of persistence.Store the executor drives.
type TaskStore interface {
	CreateTask(ctx context.Context, ownerID, title string) (persistence.Task, error)
	ListTasks(ctx context.Context, ownerID string, completed *bool) ([]persistence.Task, error)
	GetTask(ctx context.Context, ownerID, id string) (persistence.Task, error)
	UpdateTask(ctx context.Context, ownerID, id string, patch persistence.TaskPatch) (persistence.Task, error)
	SetCompleted(ctx context.Context, ownerID, id string, completed bool) (persistence.Task, error)
	DeleteTask(ctx context.Context, ownerID, id string) error
	ClearCompleted(ctx context.Context, ownerID string) (int, error)
}

// ToolCall records one store operation for the conversation log.
type ToolCall struct {
	Tool   string         `json:"tool"`
	Result map[string]any `json:"result"`
}

// Result is the outcome of one executed intent.
type Result struct {
	Intent    intent.Intent  `json:"intent"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
}

// Mutated reports whether any store operation ran.
func (r Result) Mutated() bool {
	for _, tc := range r.ToolCalls {
		if tc.Tool != "list_tasks" {
			return true
		}
	}
	return false
}

type Executor struct {
	store TaskStore
}

func New(store TaskStore) *Executor {
	return &Executor{store: store}
}

// Execute runs r for owner. Task references are resolved against the
// owner's own list, so a miss becomes a clarification listing candidates.
// Delete is executed directly; callers gate it behind confirmation.
func (e *Executor) Execute(ctx context.Context, owner string, r intent.Result) (Result, error) {
	switch r.Intent {
	case intent.Create:
		return e.create(ctx, owner, r.Params.Title)
	case intent.List:
		return e.list(ctx, owner, r.Params.Filter)
	case intent.ClearCompleted:
		return e.clearCompleted(ctx, owner)
	case intent.Complete, intent.Uncomplete, intent.Update, intent.Delete:
		task, miss, err := e.Resolve(ctx, owner, r.Intent, r.Params.Reference)
		if err != nil || miss != nil {
			if miss != nil {
				return *miss, err
			}
			return Result{}, err
		}
		return e.ExecuteByID(ctx, owner, r.Intent, task.ID, r.Params)
	case intent.Clarify:
		return Result{Intent: intent.Clarify, Message: r.Params.Question}, nil
	default:
		return Result{Intent: r.Intent, Message: "No action required."}, nil
	}
}

// Resolve finds the task ref points at. On a miss it returns a ready-made
// clarification instead of a task.
func (e *Executor) Resolve(ctx context.Context, owner string, in intent.Intent, ref string) (persistence.Task, *Result, error) {
	tasks, err := e.store.ListTasks(ctx, owner, nil)
	if err != nil {
		return persistence.Task{}, nil, fmt.Errorf("list tasks: %w", err)
	}
	if t, ok := intent.Resolve(ref, tasks); ok {
		return t, nil, nil
	}
	miss := notFound(in, ref, tasks)
	return persistence.Task{}, &miss, nil
}

// ExecuteByID applies in to the task with the given id. It is the entry
// point for actions that already carry an id, such as a confirmed delete or
// a model-proposed action.
func (e *Executor) ExecuteByID(ctx context.Context, owner string, in intent.Intent, id string, p intent.Params) (Result, error) {
	task, err := e.store.GetTask(ctx, owner, id)
	if err != nil {
		return e.byIDError(ctx, owner, in, id, err)
	}

	switch in {
	case intent.Complete, intent.Uncomplete:
		done := in == intent.Complete
		updated, err := e.store.SetCompleted(ctx, owner, id, done)
		if err != nil {
			return e.byIDError(ctx, owner, in, id, err)
		}
		msg := fmt.Sprintf("Great job! I've marked '%s' as complete!", updated.Title)
		tool := "complete_task"
		if !done {
			msg = fmt.Sprintf("I've marked '%s' as incomplete.", updated.Title)
			tool = "uncomplete_task"
		}
		return taskResult(in, msg, tool, updated), nil

	case intent.Update:
		newTitle := strings.TrimSpace(p.NewTitle)
		if newTitle == "" {
			return Result{
				Intent:  intent.Clarify,
				Message: fmt.Sprintf("What would you like to rename '%s' to?", task.Title),
				Data:    map[string]any{"task_id": task.ID},
			}, nil
		}
		updated, err := e.store.UpdateTask(ctx, owner, id, persistence.TaskPatch{Title: &newTitle})
		if errors.Is(err, persistence.ErrInvalidTitle) {
			return invalidTitle(in), nil
		}
		if err != nil {
			return e.byIDError(ctx, owner, in, id, err)
		}
		msg := fmt.Sprintf("Done! I've updated '%s' to '%s'.", task.Title, updated.Title)
		return taskResult(in, msg, "update_task", updated), nil

	case intent.Delete:
		if err := e.store.DeleteTask(ctx, owner, id); err != nil {
			return e.byIDError(ctx, owner, in, id, err)
		}
		data := map[string]any{"deleted_task_id": task.ID, "deleted_task_title": task.Title}
		return Result{
			Intent:    intent.Delete,
			Message:   fmt.Sprintf("Done! I've removed '%s' from your list.", task.Title),
			Data:      data,
			ToolCalls: []ToolCall{{Tool: "delete_task", Result: data}},
		}, nil
	}
	return Result{Intent: in, Message: "No action required."}, nil
}

func (e *Executor) byIDError(ctx context.Context, owner string, in intent.Intent, id string, err error) (Result, error) {
	switch {
	case errors.Is(err, persistence.ErrForbidden):
		return Result{Intent: in, Message: AccessDeniedMessage}, ErrAccessDenied
	case errors.Is(err, persistence.ErrNotFound):
		tasks, lerr := e.store.ListTasks(ctx, owner, nil)
		if lerr != nil {
			return Result{}, fmt.Errorf("list tasks: %w", lerr)
		}
		return notFound(in, id, tasks), nil
	}
	return Result{}, fmt.Errorf("%s task: %w", in, err)
}

func (e *Executor) create(ctx context.Context, owner, title string) (Result, error) {
	if strings.TrimSpace(title) == "" {
		return Result{Intent: intent.Clarify, Message: "What would you like to name the task?"}, nil
	}
	task, err := e.store.CreateTask(ctx, owner, title)
	if errors.Is(err, persistence.ErrInvalidTitle) {
		return invalidTitle(intent.Create), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("create task: %w", err)
	}
	return taskResult(intent.Create, fmt.Sprintf("I've added '%s' to your task list!", task.Title), "add_task", task), nil
}

func (e *Executor) list(ctx context.Context, owner string, f intent.Filter) (Result, error) {
	if f == "" {
		f = intent.FilterAll
	}
	tasks, err := e.store.ListTasks(ctx, owner, f.Completed())
	if err != nil {
		return Result{}, fmt.Errorf("list tasks: %w", err)
	}

	var msg string
	if len(tasks) == 0 {
		switch f {
		case intent.FilterCompleted:
			msg = "You don't have any completed tasks yet."
		case intent.FilterIncomplete:
			msg = "You don't have any incomplete tasks. Great job!"
		default:
			msg = "You don't have any tasks yet. Would you like to create one?"
		}
	} else {
		qualifier := ""
		if f != intent.FilterAll {
			qualifier = string(f) + " "
		}
		msg = fmt.Sprintf("Here are your %d %s%s.\n\n%s", len(tasks), qualifier, plural("task", len(tasks)), FormatTaskList(tasks))
	}

	data := map[string]any{"tasks": taskViews(tasks), "filter": string(f), "count": len(tasks)}
	return Result{
		Intent:    intent.List,
		Message:   msg,
		Data:      data,
		ToolCalls: []ToolCall{{Tool: "list_tasks", Result: map[string]any{"filter": string(f), "count": len(tasks)}}},
	}, nil
}

func (e *Executor) clearCompleted(ctx context.Context, owner string) (Result, error) {
	n, err := e.store.ClearCompleted(ctx, owner)
	if err != nil {
		return Result{}, fmt.Errorf("clear completed: %w", err)
	}
	data := map[string]any{"deleted_count": n}
	msg := "You don't have any completed tasks to clear!"
	if n > 0 {
		msg = fmt.Sprintf("I've cleared %d completed %s.", n, plural("task", n))
	}
	return Result{
		Intent:    intent.ClearCompleted,
		Message:   msg,
		Data:      data,
		ToolCalls: []ToolCall{{Tool: "clear_completed", Result: data}},
	}, nil
}

// notFound builds the clarification for an unresolved reference. The
// candidates shown depend on what the user was trying to do.
func notFound(in intent.Intent, ref string, all []persistence.Task) Result {
	var (
		candidates []persistence.Task
		kind       string
		verb       = string(in)
		empty      string
	)
	switch in {
	case intent.Complete:
		candidates = filterTasks(all, false)
		kind = "pending "
		empty = fmt.Sprintf("I couldn't find a task matching '%s'. You don't have any pending tasks!", ref)
	case intent.Uncomplete:
		candidates = filterTasks(all, true)
		kind = "completed "
		empty = fmt.Sprintf("I couldn't find a task matching '%s'. You don't have any completed tasks!", ref)
	default:
		candidates = all
		empty = fmt.Sprintf("You don't have any tasks to %s!", verb)
	}

	res := Result{
		Intent: intent.Clarify,
		Data:   map[string]any{"reference": ref, "target": string(in), "tasks": taskViews(candidates)},
	}
	if len(candidates) == 0 {
		res.Message = empty
		return res
	}
	res.Message = fmt.Sprintf("I couldn't find a task matching '%s'. Here are your %stasks:\n\n%s\n\nWhich one would you like to %s?",
		ref, kind, FormatTaskList(candidates), verb)
	return res
}

func invalidTitle(in intent.Intent) Result {
	return Result{
		Intent:  intent.Clarify,
		Message: fmt.Sprintf("Task titles need to be between 1 and %d characters. Could you try a shorter one?", persistence.MaxTitleLength),
		Data:    map[string]any{"target": string(in)},
	}
}

func taskResult(in intent.Intent, msg, tool string, t persistence.Task) Result {
	data := map[string]any{"task": taskView(t)}
	return Result{
		Intent:    in,
		Message:   msg,
		Data:      data,
		ToolCalls: []ToolCall{{Tool: tool, Result: data}},
	}
}

// FormatTaskList renders tasks as a bullet list with a status box.
func FormatTaskList(tasks []persistence.Task) string {
	lines := make([]string, 0, len(tasks))
	for _, t := range tasks {
		status := "⬜"
		if t.Completed {
			status = "✅"
		}
		lines = append(lines, fmt.Sprintf("• %s %s", status, t.Title))
	}
	return strings.Join(lines, "\n")
}

func taskView(t persistence.Task) map[string]any {
	return map[string]any{
		"id":         t.ID,
		"title":      t.Title,
		"completed":  t.Completed,
		"created_at": t.CreatedAt,
	}
}

func taskViews(tasks []persistence.Task) []map[string]any {
	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskView(t))
	}
	return out
}

func filterTasks(tasks []persistence.Task, completed bool) []persistence.Task {
	var out []persistence.Task
	for _, t := range tasks {
		if t.Completed == completed {
			out = append(out, t)
		}
	}
	return out
}

func plural(word string, n int) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
