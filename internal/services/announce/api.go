package announce

import (
	"sort"
)

// CancelJob requests cancellation of one running job. The job stops at its
// next batch boundary; recipients already being sent to still settle.
// Returns false when the job is unknown or already finished.
func (s *Service) CancelJob(id string) bool {
	s.statusMu.RLock()
	cancel := s.cancels[id]
	s.statusMu.RUnlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// CancelAll cancels every running job and returns how many were signalled.
func (s *Service) CancelAll() int {
	s.statusMu.RLock()
	cancels := make([]func(), 0, len(s.cancels))
	for _, c := range s.cancels {
		cancels = append(cancels, c)
	}
	s.statusMu.RUnlock()
	for _, c := range cancels {
		c()
	}
	return len(cancels)
}

// Status returns a copy of one job's status.
func (s *Service) Status(id string) (JobStatus, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st, ok := s.status[id]
	if !ok || st == nil {
		return JobStatus{}, false
	}
	return *st, true
}

// Jobs returns copies of all tracked job statuses, newest first.
func (s *Service) Jobs() []JobStatus {
	s.statusMu.RLock()
	out := make([]JobStatus, 0, len(s.status))
	for _, st := range s.status {
		if st != nil {
			out = append(out, *st)
		}
	}
	s.statusMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}
