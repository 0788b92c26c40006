package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/basket/taskchat/internal/bus"
	"github.com/basket/taskchat/internal/shared"
)

// MaxTitleLength is the longest accepted task title, in characters.
const MaxTitleLength = 500

type Task struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"-"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskPatch carries the fields of an update. Nil fields are left untouched.
type TaskPatch struct {
	Title     *string
	Completed *bool
}

// ValidateTitle trims title and checks its length.
func ValidateTitle(title string) (string, error) {
	t := strings.TrimSpace(title)
	if t == "" {
		return "", fmt.Errorf("%w: title must not be empty", ErrInvalidTitle)
	}
	if utf8.RuneCountInString(t) > MaxTitleLength {
		return "", fmt.Errorf("%w: title must be at most %d characters", ErrInvalidTitle, MaxTitleLength)
	}
	return t, nil
}

func (s *Store) CreateTask(ctx context.Context, ownerID, title string) (Task, error) {
	clean, err := ValidateTitle(title)
	if err != nil {
		return Task{}, err
	}
	now := s.timestamp()
	t := Task{
		ID:        shared.NewID(),
		OwnerID:   ownerID,
		Title:     clean,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.retry(ctx, func() error {
		_, err := s.exec(ctx, `
			INSERT INTO tasks (id, owner_id, title, completed, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?);
		`, t.ID, t.OwnerID, t.Title, false, t.CreatedAt, t.UpdatedAt)
		return err
	})
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	s.publish(bus.TopicTaskCreated, taskEvent(t, now))
	return t, nil
}

// ListTasks returns the owner's tasks newest first. A non-nil completed
// restricts the result to that state.
func (s *Store) ListTasks(ctx context.Context, ownerID string, completed *bool) ([]Task, error) {
	q := `SELECT id, owner_id, title, completed, created_at, updated_at FROM tasks WHERE owner_id = ?`
	args := []any{ownerID}
	if completed != nil {
		q += ` AND completed = ?`
		args = append(args, *completed)
	}
	q += ` ORDER BY created_at DESC, id DESC;`

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]Task, 0)
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Completed, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// GetTask returns ErrNotFound when no task has this id and ErrForbidden
// when it exists but belongs to another user.
func (s *Store) GetTask(ctx context.Context, ownerID, id string) (Task, error) {
	var t Task
	err := s.queryRow(ctx, `
		SELECT id, owner_id, title, completed, created_at, updated_at FROM tasks WHERE id = ?;
	`, id).Scan(&t.ID, &t.OwnerID, &t.Title, &t.Completed, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	if t.OwnerID != ownerID {
		return Task{}, ErrForbidden
	}
	return t, nil
}

// ownershipError explains why an owner-scoped write touched no rows.
func (s *Store) ownershipError(ctx context.Context, ownerID, id string) error {
	if _, err := s.GetTask(ctx, ownerID, id); err != nil {
		return err
	}
	return ErrNotFound
}

// UpdateTask applies patch and returns the stored task. An empty patch
// still bumps updated_at.
func (s *Store) UpdateTask(ctx context.Context, ownerID, id string, patch TaskPatch) (Task, error) {
	sets := []string{"updated_at = ?"}
	now := s.timestamp()
	args := []any{now}
	if patch.Title != nil {
		clean, err := ValidateTitle(*patch.Title)
		if err != nil {
			return Task{}, err
		}
		sets = append(sets, "title = ?")
		args = append(args, clean)
	}
	if patch.Completed != nil {
		sets = append(sets, "completed = ?")
		args = append(args, *patch.Completed)
	}
	args = append(args, id, ownerID)

	var res sql.Result
	err := s.retry(ctx, func() error {
		var err error
		res, err = s.exec(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ? AND owner_id = ?;`, args...)
		return err
	})
	if err != nil {
		return Task{}, fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Task{}, s.ownershipError(ctx, ownerID, id)
	}
	t, err := s.GetTask(ctx, ownerID, id)
	if err != nil {
		return Task{}, err
	}
	s.publish(bus.TopicTaskUpdated, taskEvent(t, now))
	return t, nil
}

// SetCompleted is UpdateTask for the completion flag alone. Repeating it is
// not an error.
func (s *Store) SetCompleted(ctx context.Context, ownerID, id string, completed bool) (Task, error) {
	return s.UpdateTask(ctx, ownerID, id, TaskPatch{Completed: &completed})
}

func (s *Store) DeleteTask(ctx context.Context, ownerID, id string) error {
	var res sql.Result
	err := s.retry(ctx, func() error {
		var err error
		res, err = s.exec(ctx, `DELETE FROM tasks WHERE id = ? AND owner_id = ?;`, id, ownerID)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.ownershipError(ctx, ownerID, id)
	}
	s.publish(bus.TopicTaskDeleted, bus.TaskEvent{OwnerID: ownerID, TaskID: id, At: s.timestamp()})
	return nil
}

// ClearCompleted deletes every completed task of the owner and returns how
// many were removed.
func (s *Store) ClearCompleted(ctx context.Context, ownerID string) (int, error) {
	var res sql.Result
	err := s.retry(ctx, func() error {
		var err error
		res, err = s.exec(ctx, `DELETE FROM tasks WHERE owner_id = ? AND completed = ?;`, ownerID, true)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("clear completed tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.publish(bus.TopicTasksClearedFinish, bus.TaskEvent{OwnerID: ownerID, Count: int(n), Completed: true, At: s.timestamp()})
	}
	return int(n), nil
}

func taskEvent(t Task, at time.Time) bus.TaskEvent {
	return bus.TaskEvent{
		OwnerID:   t.OwnerID,
		TaskID:    t.ID,
		Title:     t.Title,
		Completed: t.Completed,
		At:        at,
	}
}
