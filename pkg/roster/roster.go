// Package roster holds the per-connection participant records of a match session.
package roster

import (
	"time"

	"github.com/rotisserie/eris"
)

var (
	ErrDuplicateParticipant = eris.New("participant already in roster")
	ErrUnknownParticipant   = eris.New("participant not in roster")
)

// Participant is a connected client with a score in the current match. Created on join, mutated by
// gameplay events and the state machine.
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsHost bool   `json:"is_host"`

	Score int  `json:"score"`
	Gems  int  `json:"gems"`
	Ready bool `json:"ready"`

	// Dropped is set when the participant forfeits a running match. A dropped participant stays in the
	// roster so it can be ranked last.
	Dropped   bool `json:"dropped"`
	Connected bool `json:"connected"`

	// Checkpoint is the last checkpoint reached in single-player missions.
	Checkpoint int `json:"checkpoint"`

	AckedRegistration     bool `json:"-"`
	RegistrationSucceeded bool `json:"-"`
	AckedRosterUpdate     bool `json:"-"`

	JoinedAt time.Time `json:"joined_at"`
}

// Roster keeps participants in connection order with an id index. It is not safe for concurrent use;
// the owning session's event loop is the only writer.
type Roster struct {
	order []*Participant
	byID  map[string]*Participant
}

func New() *Roster {
	return &Roster{
		order: make([]*Participant, 0, 8),
		byID:  make(map[string]*Participant),
	}
}

// Add appends a connected participant. The first participant becomes host unless another participant
// is already host.
func (r *Roster) Add(id, name string, now time.Time) (*Participant, error) {
	if _, exists := r.byID[id]; exists {
		return nil, eris.Wrapf(ErrDuplicateParticipant, "participant %s", id)
	}

	p := &Participant{
		ID:        id,
		Name:      name,
		Connected: true,
		JoinedAt:  now,
	}
	if r.Host() == nil {
		p.IsHost = true
	}

	r.order = append(r.order, p)
	r.byID[id] = p
	return p, nil
}

// Remove deletes a participant. If it was the host, the next connected participant is promoted.
func (r *Roster) Remove(id string) (*Participant, error) {
	p, ok := r.byID[id]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownParticipant, "participant %s", id)
	}

	delete(r.byID, id)
	for i, q := range r.order {
		if q == p {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if p.IsHost {
		p.IsHost = false
		r.promote()
	}
	return p, nil
}

func (r *Roster) promote() {
	for _, q := range r.order {
		if q.Connected && !q.Dropped {
			q.IsHost = true
			return
		}
	}
}

// Get returns a participant by id.
func (r *Roster) Get(id string) (*Participant, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// All returns every participant in connection order, including dropped ones. The slice is a copy;
// the participants are not.
func (r *Roster) All() []*Participant {
	out := make([]*Participant, len(r.order))
	copy(out, r.order)
	return out
}

// Connected returns the connected participants in connection order.
func (r *Roster) Connected() []*Participant {
	out := make([]*Participant, 0, len(r.order))
	for _, p := range r.order {
		if p.Connected {
			out = append(out, p)
		}
	}
	return out
}

func (r *Roster) ConnectedCount() int {
	n := 0
	for _, p := range r.order {
		if p.Connected {
			n++
		}
	}
	return n
}

// Host returns the host, or nil when the roster is empty.
func (r *Roster) Host() *Participant {
	for _, p := range r.order {
		if p.IsHost {
			return p
		}
	}
	return nil
}

// AllReady reports whether every connected participant is ready. An empty roster is never ready.
func (r *Roster) AllReady() bool {
	n := 0
	for _, p := range r.order {
		if !p.Connected {
			continue
		}
		if !p.Ready {
			return false
		}
		n++
	}
	return n > 0
}

// ResetScores zeroes per-match counters on every participant.
func (r *Roster) ResetScores() {
	for _, p := range r.order {
		p.Score = 0
		p.Gems = 0
		p.Checkpoint = 0
	}
}

// ResetReady clears every ready flag.
func (r *Roster) ResetReady() {
	for _, p := range r.order {
		p.Ready = false
	}
}

// Prune removes every participant that is no longer connected and returns their ids.
func (r *Roster) Prune() []string {
	var removed []string
	for _, p := range r.All() {
		if !p.Connected {
			removed = append(removed, p.ID)
			_, _ = r.Remove(p.ID)
		}
	}
	return removed
}

func (r *Roster) Len() int {
	return len(r.order)
}

// Snapshot returns value copies of every participant in connection order.
func (r *Roster) Snapshot() []Participant {
	out := make([]Participant, len(r.order))
	for i, p := range r.order {
		out[i] = *p
	}
	return out
}
