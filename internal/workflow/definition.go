// Package workflow runs explicit state-transition tables.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindTask    Kind = "Task"
	KindPass    Kind = "Pass"
	KindMap     Kind = "Map" // a task that fans out with ForEach
	KindChoice  Kind = "Choice"
	KindSucceed Kind = "Succeed"
	KindFail    Kind = "Fail"
)

// ErrStateFailed is returned by a Fail state that carries no error of its own.
var ErrStateFailed = errors.New("workflow failed")

// TaskFunc transforms the machine data. Returning an error hands control to the
// state's retry and catch policies.
type TaskFunc[T any] func(ctx context.Context, in T) (T, error)

// Matcher selects the errors a Retrier or Catcher applies to.
type Matcher func(error) bool

// ErrorIs matches errors wrapping any of targets.
func ErrorIs(targets ...error) Matcher {
	return func(err error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	}
}

// AnyError matches every error.
func AnyError(error) bool { return true }

// Retrier re-runs a failing task. The n-th retry waits Interval * Backoff^(n-1).
type Retrier struct {
	Match       Matcher
	MaxAttempts int
	Interval    time.Duration
	Backoff     float64
}

func (r Retrier) wait(retry int) time.Duration {
	d := float64(r.Interval)
	b := r.Backoff
	if b <= 0 {
		b = 1
	}
	for i := 1; i < retry; i++ {
		d *= b
	}
	return time.Duration(d)
}

// Catcher routes an error that survived retries to Next. Record, when set, folds the
// error into the data handed to Next.
type Catcher[T any] struct {
	Match  Matcher
	Next   string
	Record func(in T, err error) T
}

// Choice moves to Next when When holds. Choices are tried in order.
type Choice[T any] struct {
	When func(T) bool
	Next string
}

type State[T any] struct {
	Kind    Kind
	Task    TaskFunc[T]
	Next    string
	End     bool
	Retry   []Retrier
	Catch   []Catcher[T]
	Choices []Choice[T]
	Default string
	Error   error // Fail states
}

// Definition is a named transition table.
type Definition[T any] struct {
	Name    string
	StartAt string
	States  map[string]State[T]
}

// Validate checks that every transition lands on a declared state and every state
// either transitions or terminates.
func (d Definition[T]) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("workflow: definition has no name")
	}
	if _, ok := d.States[d.StartAt]; !ok {
		return fmt.Errorf("workflow %s: start state %q not declared", d.Name, d.StartAt)
	}
	target := func(from, to string) error {
		if _, ok := d.States[to]; !ok {
			return fmt.Errorf("workflow %s: state %s transitions to undeclared %q", d.Name, from, to)
		}
		return nil
	}
	for name, s := range d.States {
		switch s.Kind {
		case KindTask, KindPass, KindMap:
			if s.Task == nil {
				return fmt.Errorf("workflow %s: %s state %s has no task", d.Name, s.Kind, name)
			}
			if s.Kind == KindPass && (len(s.Retry) > 0 || len(s.Catch) > 0) {
				return fmt.Errorf("workflow %s: pass state %s cannot retry or catch", d.Name, name)
			}
			if s.End == (s.Next != "") {
				return fmt.Errorf("workflow %s: state %s needs exactly one of Next or End", d.Name, name)
			}
			if !s.End {
				if err := target(name, s.Next); err != nil {
					return err
				}
			}
			for _, c := range s.Catch {
				if c.Match == nil {
					return fmt.Errorf("workflow %s: state %s has a catcher without a matcher", d.Name, name)
				}
				if err := target(name, c.Next); err != nil {
					return err
				}
			}
			for _, r := range s.Retry {
				if r.Match == nil || r.MaxAttempts < 0 {
					return fmt.Errorf("workflow %s: state %s has an invalid retrier", d.Name, name)
				}
			}
		case KindChoice:
			if len(s.Choices) == 0 {
				return fmt.Errorf("workflow %s: choice state %s has no branches", d.Name, name)
			}
			for _, c := range s.Choices {
				if c.When == nil {
					return fmt.Errorf("workflow %s: choice state %s has a branch without a condition", d.Name, name)
				}
				if err := target(name, c.Next); err != nil {
					return err
				}
			}
			if s.Default != "" {
				if err := target(name, s.Default); err != nil {
					return err
				}
			}
		case KindSucceed, KindFail:
		default:
			return fmt.Errorf("workflow %s: state %s has unknown kind %q", d.Name, name, s.Kind)
		}
	}
	return nil
}
