package integration

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/zoobzio/weave"
)

type appConfig struct {
	Feature string `json:"feature" yaml:"feature"`
	Limit   int    `json:"limit" yaml:"limit"`
}

// Validate implements weave.Validator.
func (c appConfig) Validate() error {
	if c.Feature == "" {
		return errors.New("feature is required")
	}
	if c.Limit < 0 {
		return fmt.Errorf("limit must be >= 0, got %d", c.Limit)
	}
	return nil
}

// services tracks which configurations have a running service.
type services struct {
	mu      sync.Mutex
	running []appConfig
	log     []string
}

func (s *services) attach(set weave.DynamicSet[appConfig]) weave.DynamicSet[appConfig] {
	return set.Foreach(
		func(c appConfig) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.running = append(s.running, c)
			s.log = append(s.log, "start "+c.Feature)
		},
		func(c appConfig) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if i := slices.Index(s.running, c); i >= 0 {
				s.running = slices.Delete(s.running, i, i+1)
			}
			s.log = append(s.log, "stop "+c.Feature)
		},
	)
}

func (s *services) live() []appConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.running)
}

func (s *services) history() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.log)
}

func (s *services) has(feature string, limit int) bool {
	for _, c := range s.live() {
		if c.Feature == feature && c.Limit == limit {
			return true
		}
	}
	return false
}
