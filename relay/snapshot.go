package relay

import "github.com/sarchlab/mpirelay/ipc"

// EndpointStatus is what a router knows about one endpoint.
type EndpointStatus struct {
	Name      string  `json:"name"`
	JobID     int32   `json:"job_id"`
	Rank      int32   `json:"rank"`
	Ready     bool    `json:"ready"`
	Finalized bool    `json:"finalized"`
	Backlog   int     `json:"backlog"`
	InKey     ipc.Key `json:"in_key"`
	OutKey    ipc.Key `json:"out_key"`
}

// Snapshot describes the router's state.
type Snapshot struct {
	Name      string           `json:"name"`
	JobCount  int32            `json:"job_count"`
	Endpoints []EndpointStatus `json:"endpoints"`
	Waiting   int              `json:"waiting"`
	Stats     Stats            `json:"stats"`
}

// Snapshot returns the current state of the router.
func (r *Router) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		Name:     r.name,
		JobCount: r.jobCount,
		Stats:    r.stats,
	}

	for _, a := range r.attachments {
		in, out := a.ep.Keys()
		s.Endpoints = append(s.Endpoints, EndpointStatus{
			Name:      a.ep.Name(),
			JobID:     a.jobID,
			Rank:      a.rank,
			Ready:     a.ready,
			Finalized: a.finalized,
			Backlog:   len(a.backlog),
			InKey:     in,
			OutKey:    out,
		})
	}

	for _, msgs := range r.waiting {
		s.Waiting += len(msgs)
	}

	return s
}

// Endpoint returns the attached endpoint with the given name.
func (r *Router) Endpoint(name string) (*Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.attachments {
		if a.ep.Name() == name {
			return a.ep, true
		}
	}

	return nil, false
}
