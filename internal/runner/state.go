package runner

import (
	"slices"
	"sync"
	"time"
)

// Loop states reported in LoopStatus.State
const (
	LoopIdle    = "idle"
	LoopWorking = "working"
	LoopStopped = "stopped"
)

// LoopStatus describes one worker loop
type LoopStatus struct {
	WorkerID  string     `json:"workerId"`
	Plan      string     `json:"plan"`
	State     string     `json:"state"`
	UserID    *int64     `json:"userId,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	Success   int        `json:"success"`
	Fail      int        `json:"fail"`
}

// Stats is a point-in-time copy of the runner counters
type Stats struct {
	Success   int          `json:"successfulSyncCount"`
	Fail      int          `json:"failedSyncCount"`
	InitCount int          `json:"initCount"`
	SyncCount int          `json:"syncCount"`
	Loops     []LoopStatus `json:"loops"`
}

// Working returns how many loops are in the middle of a run
func (s Stats) Working() int {
	n := 0
	for _, l := range s.Loops {
		if l.State == LoopWorking {
			n++
		}
	}
	return n
}

// State tracks the users claimed by this process and the per-loop counters.
// It is owned by a Runner and shared by its loops.
type State struct {
	mu      sync.RWMutex
	claimed map[int64]string
	loops   map[string]*LoopStatus
	order   []string
	stats   Stats
}

// NewState creates an empty state
func NewState() *State {
	return &State{
		claimed: make(map[int64]string),
		loops:   make(map[string]*LoopStatus),
	}
}

func (s *State) addLoop(workerID, plan string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.loops[workerID]; ok {
		return
	}
	s.loops[workerID] = &LoopStatus{WorkerID: workerID, Plan: plan, State: LoopIdle}
	s.order = append(s.order, workerID)
}

// Claim marks userID as taken by workerID. It returns false when another loop
// already holds the user.
func (s *State) Claim(workerID string, userID int64, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.claimed[userID]; ok {
		return false
	}
	s.claimed[userID] = workerID
	if l, ok := s.loops[workerID]; ok {
		id := userID
		l.State = LoopWorking
		l.UserID = &id
		l.StartedAt = &at
	}
	return true
}

// Release drops the claim on userID and counts the run's outcome
func (s *State) Release(workerID string, userID int64, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.claimed[userID] == workerID {
		delete(s.claimed, userID)
	}

	l, ok := s.loops[workerID]
	if ok {
		l.State = LoopIdle
		l.UserID = nil
		l.StartedAt = nil
	}
	if failed {
		s.stats.Fail++
		if ok {
			l.Fail++
		}
	} else {
		s.stats.Success++
		if ok {
			l.Success++
		}
	}
	if ok && l.Plan == PlanInit {
		s.stats.InitCount++
	} else {
		s.stats.SyncCount++
	}
}

// Claimed returns the claimed user ids in ascending order
func (s *State) Claimed() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.claimed) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(s.claimed))
	for id := range s.claimed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *State) setLoopState(workerID, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.loops[workerID]; ok {
		l.State = state
	}
}

// Snapshot copies the counters and loop statuses
func (s *State) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.stats
	out.Loops = make([]LoopStatus, 0, len(s.order))
	for _, id := range s.order {
		l := *s.loops[id]
		if l.UserID != nil {
			userID := *l.UserID
			l.UserID = &userID
		}
		if l.StartedAt != nil {
			startedAt := *l.StartedAt
			l.StartedAt = &startedAt
		}
		out.Loops = append(out.Loops, l)
	}
	return out
}
