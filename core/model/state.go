package model

import "sync"

// StateManager tracks the fit lifecycle of a component and the input
// dimensions it was fitted on. Safe for concurrent use.
type StateManager struct {
	mu        sync.RWMutex
	state     EstimatorState
	nFeatures int
	nSamples  int
}

// NewStateManager creates an unfitted StateManager.
func NewStateManager() *StateManager {
	return &StateManager{state: NotFitted}
}

// SetFitted marks the component as fitted.
func (s *StateManager) SetFitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Fitted
}

// IsFitted reports whether the component is fitted.
func (s *StateManager) IsFitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == Fitted
}

// Reset clears the fitted state and the recorded dimensions.
func (s *StateManager) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = NotFitted
	s.nFeatures = 0
	s.nSamples = 0
}

// SetDimensions records the training dimensions.
func (s *StateManager) SetDimensions(nFeatures, nSamples int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nFeatures = nFeatures
	s.nSamples = nSamples
}

// NFeatures returns the number of features seen during Fit.
func (s *StateManager) NFeatures() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nFeatures
}

// NSamples returns the number of samples seen during Fit.
func (s *StateManager) NSamples() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nSamples
}

// State returns the current lifecycle state.
func (s *StateManager) State() EstimatorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}
