/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package tracked

import (
	"maps"
	"sync"
	"time"
)

// Span is a timed operation inside a Request.
type Span struct {
	mu sync.Mutex

	id        string
	parentID  string
	operation string
	startTime time.Time
	endTime   time.Time
	tags      map[string]any
}

// ID returns the span id.
func (s *Span) ID() string {
	return s.id
}

// ParentID returns the id of the enclosing span, or "" for a root span.
func (s *Span) ParentID() string {
	return s.parentID
}

// Operation returns the span operation, e.g. "Controller/users.show" or "SQL/Query".
func (s *Span) Operation() string {
	return s.operation
}

// StartTime returns when the span was opened.
func (s *Span) StartTime() time.Time {
	return s.startTime
}

// EndTime returns when the span was stopped, or the zero time.
func (s *Span) EndTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endTime
}

// Tag sets a span level tag.
func (s *Span) Tag(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tags == nil {
		s.tags = make(map[string]any)
	}
	s.tags[key] = value
}

// Tags returns a copy of the span tags.
func (s *Span) Tags() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.tags)
}

func (s *Span) stop(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endTime.IsZero() {
		s.endTime = at
	}
}
