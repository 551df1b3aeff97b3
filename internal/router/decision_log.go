package router

import (
	"sync"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
)

const defaultDecisionLogSize = 200

// DecisionStats summarizes retained routing decisions
type DecisionStats struct {
	Total      int `json:"total"`
	Structured int `json:"structured"`
	Dynamic    int `json:"dynamic"`
	Fallbacks  int `json:"fallbacks"`
	Failures   int `json:"failures"`
}

// DecisionLog is a bounded ring of recent routing decisions
type DecisionLog struct {
	mu    sync.RWMutex
	items []domain.RoutingDecision
	next  int
	full  bool
}

// NewDecisionLog creates a log keeping the last size decisions
func NewDecisionLog(size int) *DecisionLog {
	if size <= 0 {
		size = defaultDecisionLogSize
	}
	return &DecisionLog{items: make([]domain.RoutingDecision, size)}
}

// Add appends a decision, overwriting the oldest when full
func (l *DecisionLog) Add(d domain.RoutingDecision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items[l.next] = d
	l.next = (l.next + 1) % len(l.items)
	if l.next == 0 {
		l.full = true
	}
}

// Recent returns up to limit decisions, newest first. limit <= 0 returns all.
func (l *DecisionLog) Recent(limit int) []domain.RoutingDecision {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.len()
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.RoutingDecision, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (l.next - i + len(l.items)) % len(l.items)
		out = append(out, l.items[idx])
	}
	return out
}

// Stats counts retained decisions by outcome
func (l *DecisionLog) Stats() DecisionStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var s DecisionStats
	n := l.len()
	for i := 0; i < n; i++ {
		d := l.items[i]
		s.Total++
		switch d.Path {
		case domain.PathStructured:
			s.Structured++
		case domain.PathDynamic:
			s.Dynamic++
		}
		if d.Fallback {
			s.Fallbacks++
		}
		if !d.Success {
			s.Failures++
		}
	}
	return s
}

func (l *DecisionLog) len() int {
	if l.full {
		return len(l.items)
	}
	return l.next
}
