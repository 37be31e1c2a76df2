// Package steps maps a task's flat action list onto numbered steps and back.
//
// Every function works on copies: the grouped view never shares slices or
// pointers with the flat list it was built from.
package steps

import (
	"errors"
	"fmt"
	"sort"

	"taskdesk/internal/domain"
)

var (
	ErrLastStep       = errors.New("cannot remove the only step")
	ErrStepOutOfRange = errors.New("step out of range")
	ErrActionNotFound = errors.New("action not found")
)

// Map groups actions by step number. Order inside a bucket is the order of
// the flat list.
type Map map[int][]domain.Action

// Organize buckets actions by StepNumber. Actions without one land in step 1.
func Organize(actions []domain.Action) Map {
	m := Map{}
	for _, a := range actions {
		step := a.StepNumber
		if step <= 0 {
			step = 1
		}
		a = a.Clone()
		a.StepNumber = step
		m[step] = append(m[step], a)
	}
	return m
}

// Order returns the step keys of m in ascending order.
func Order(m Map) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Flatten concatenates the buckets named in order, rewriting each action's
// StepNumber to the bucket's 1-based position in order.
func Flatten(m Map, order []int) []domain.Action {
	var out []domain.Action
	for i, k := range order {
		for _, a := range m[k] {
			a = a.Clone()
			a.StepNumber = i + 1
			out = append(out, a)
		}
	}
	return out
}

// Normalize renumbers actions so step numbers form 1..N with no gaps,
// preserving relative order.
func Normalize(actions []domain.Action) []domain.Action {
	m := Organize(actions)
	return Flatten(m, Order(m))
}

// Count is the number of non-empty steps in a flat action list.
func Count(actions []domain.Action) int {
	return len(Organize(actions))
}

// Editor is the authoring view of a task's steps. Steps always holds the
// keys 1..N, possibly with empty buckets. Methods return a new Editor and
// leave the receiver untouched.
type Editor struct {
	Steps   Map
	Current int
}

func NewEditor(actions []domain.Action) Editor {
	m := Organize(actions)
	steps := Map{}
	for i, k := range Order(m) {
		bucket := m[k]
		for j := range bucket {
			bucket[j].StepNumber = i + 1
		}
		steps[i+1] = bucket
	}
	if len(steps) == 0 {
		steps[1] = nil
	}
	return Editor{Steps: steps, Current: 1}
}

func (e Editor) Count() int {
	return len(e.Steps)
}

func (e Editor) clone() Editor {
	steps := make(Map, len(e.Steps))
	for k, bucket := range e.Steps {
		var cp []domain.Action
		for _, a := range bucket {
			cp = append(cp, a.Clone())
		}
		steps[k] = cp
	}
	return Editor{Steps: steps, Current: e.Current}
}

func (e Editor) check(k int) error {
	if k < 1 || k > e.Count() {
		return fmt.Errorf("%w: %d not in 1..%d", ErrStepOutOfRange, k, e.Count())
	}
	return nil
}

// AddStep appends an empty step and makes it current.
func (e Editor) AddStep() Editor {
	out := e.clone()
	n := out.Count() + 1
	out.Steps[n] = nil
	out.Current = n
	return out
}

// RemoveStep deletes step k and shifts every later step down by one. The
// current pointer follows the shift when it pointed at or past k.
func (e Editor) RemoveStep(k int) (Editor, error) {
	if err := e.check(k); err != nil {
		return e, err
	}
	if e.Count() == 1 {
		return e, ErrLastStep
	}
	src := e.clone()
	out := Editor{Steps: Map{}, Current: src.Current}
	for j := 1; j <= src.Count(); j++ {
		switch {
		case j < k:
			out.Steps[j] = src.Steps[j]
		case j > k:
			bucket := src.Steps[j]
			for i := range bucket {
				bucket[i].StepNumber = j - 1
			}
			out.Steps[j-1] = bucket
		}
	}
	if out.Current >= k {
		out.Current = max(1, out.Current-1)
	}
	return out, nil
}

// Select makes step k current.
func (e Editor) Select(k int) (Editor, error) {
	if err := e.check(k); err != nil {
		return e, err
	}
	out := e.clone()
	out.Current = k
	return out, nil
}

// AddAction appends a to step k.
func (e Editor) AddAction(k int, a domain.Action) (Editor, error) {
	if err := e.check(k); err != nil {
		return e, err
	}
	out := e.clone()
	a = a.Clone()
	a.StepNumber = k
	out.Steps[k] = append(out.Steps[k], a)
	return out, nil
}

func (e Editor) find(id string) (int, int) {
	for k, bucket := range e.Steps {
		for i, a := range bucket {
			if a.ID == id {
				return k, i
			}
		}
	}
	return 0, -1
}

func (e Editor) RemoveAction(id string) (Editor, error) {
	k, i := e.find(id)
	if i < 0 {
		return e, fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	out := e.clone()
	bucket := out.Steps[k]
	out.Steps[k] = append(bucket[:i:i], bucket[i+1:]...)
	return out, nil
}

// MoveAction moves the action to the end of step to.
func (e Editor) MoveAction(id string, to int) (Editor, error) {
	if err := e.check(to); err != nil {
		return e, err
	}
	k, i := e.find(id)
	if i < 0 {
		return e, fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	a := e.Steps[k][i]
	out, err := e.RemoveAction(id)
	if err != nil {
		return e, err
	}
	return out.AddAction(to, a)
}

// Actions flattens the editor in step order. Empty steps vanish, so the
// result never carries a gap.
func (e Editor) Actions() []domain.Action {
	var order []int
	for _, k := range Order(e.Steps) {
		if len(e.Steps[k]) > 0 {
			order = append(order, k)
		}
	}
	return Flatten(e.Steps, order)
}
