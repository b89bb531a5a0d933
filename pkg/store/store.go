// Package store holds the experiments of one calibration session.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/flowlab/flowcal/pkg/calibration"
)

// ErrInvalidIndex is returned for an index outside the stored experiments.
var ErrInvalidIndex = errors.New("invalid experiment index")

// Store is an ordered collection of experiments plus a selection and the
// recorded offset readings. Readers always get copies, so an appended
// experiment is either fully visible or not visible at all.
type Store struct {
	mu          sync.RWMutex
	experiments []calibration.Experiment
	selected    []int
	offsets     []float64
	policy      calibration.OffsetPolicy
}

// New returns an empty store. An empty policy means OffsetOverwrite.
func New(policy calibration.OffsetPolicy) *Store {
	if policy == "" {
		policy = calibration.OffsetOverwrite
	}
	return &Store{policy: policy}
}

// Append stores a copy of e and returns its index.
func (s *Store) Append(e calibration.Experiment) int {
	c := e.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.experiments = append(s.experiments, c)
	return len(s.experiments) - 1
}

// Remove deletes the experiment at index. Selected indices after it shift
// down by one; the removed index leaves the selection.
func (s *Store) Remove(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.experiments) {
		return fmt.Errorf("%w: %d (have %d experiments)", ErrInvalidIndex, index, len(s.experiments))
	}

	s.experiments = append(s.experiments[:index:index], s.experiments[index+1:]...)

	selected := s.selected[:0:0]
	for _, i := range s.selected {
		switch {
		case i == index:
			continue
		case i > index:
			selected = append(selected, i-1)
		default:
			selected = append(selected, i)
		}
	}
	s.selected = selected
	return nil
}

// Select replaces the selection. Every index must be valid and unique,
// otherwise the selection is left unchanged.
func (s *Store) Select(indices []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(s.experiments) {
			return fmt.Errorf("%w: %d (have %d experiments)", ErrInvalidIndex, i, len(s.experiments))
		}
		if _, ok := seen[i]; ok {
			return fmt.Errorf("%w: %d selected twice", ErrInvalidIndex, i)
		}
		seen[i] = struct{}{}
	}
	s.selected = append([]int(nil), indices...)
	return nil
}

// Selection returns the selected indices in selection order.
func (s *Store) Selection() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int{}, s.selected...)
}

// Experiments returns a copy of all experiments in insertion order.
func (s *Store) Experiments() []calibration.Experiment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]calibration.Experiment, len(s.experiments))
	for i, e := range s.experiments {
		out[i] = e.Clone()
	}
	return out
}

// Experiment returns a copy of the experiment at index.
func (s *Store) Experiment(index int) (calibration.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index < 0 || index >= len(s.experiments) {
		return calibration.Experiment{}, fmt.Errorf("%w: %d (have %d experiments)", ErrInvalidIndex, index, len(s.experiments))
	}
	return s.experiments[index].Clone(), nil
}

// Len returns the number of experiments.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.experiments)
}

// Clear drops all experiments, the selection and the recorded offsets.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.experiments = nil
	s.selected = nil
	s.offsets = nil
}

// RecordOffset stores an offset reading according to the store's policy.
func (s *Store) RecordOffset(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.policy == calibration.OffsetAccumulate {
		s.offsets = append(s.offsets, v)
		return
	}
	s.offsets = []float64{v}
}

// Offsets returns the recorded offsets, oldest first.
func (s *Store) Offsets() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]float64{}, s.offsets...)
}

// Policy returns the offset policy.
func (s *Store) Policy() calibration.OffsetPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// SetPolicy changes the offset policy. Offsets already recorded are kept.
func (s *Store) SetPolicy(p calibration.OffsetPolicy) {
	if p == "" {
		p = calibration.OffsetOverwrite
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = p
}

// Snapshot returns experiments and offsets read under a single lock.
func (s *Store) Snapshot() ([]calibration.Experiment, []float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exps := make([]calibration.Experiment, len(s.experiments))
	for i, e := range s.experiments {
		exps[i] = e.Clone()
	}
	return exps, append([]float64{}, s.offsets...)
}
