package dialer

import (
	"sort"

	"github.com/acme/lead-dialer/internal/domain"
)

// DialQueue is the in-memory ordered working set of eligible leads for one
// campaign. It has no locking of its own: all access goes through the
// owning engine's serialization point.
type DialQueue struct {
	leads []domain.Lead
}

// NewDialQueue constructs an empty queue.
func NewDialQueue() *DialQueue {
	return &DialQueue{}
}

// Replace swaps the working set for a freshly queried batch and restores
// the dialing order: priority descending, ties broken by ascending
// last_call_at with never-called leads first.
func (q *DialQueue) Replace(leads []domain.Lead) {
	q.leads = append(q.leads[:0], leads...)
	sortLeads(q.leads)
}

// Len returns the number of queued leads.
func (q *DialQueue) Len() int {
	return len(q.leads)
}

// Dequeue pops the head of the queue, discarding entries rejected by the
// final recheck. Returns false when no eligible lead remains.
func (q *DialQueue) Dequeue(recheck func(domain.Lead) bool) (domain.Lead, bool) {
	for len(q.leads) > 0 {
		lead := q.leads[0]
		q.leads = q.leads[1:]
		if recheck == nil || recheck(lead) {
			return lead, true
		}
	}
	return domain.Lead{}, false
}

func sortLeads(leads []domain.Lead) {
	sort.SliceStable(leads, func(i, j int) bool {
		ri, rj := leads[i].Priority.Rank(), leads[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		li, lj := leads[i].LastCallAt, leads[j].LastCallAt
		switch {
		case li == nil && lj == nil:
			return false
		case li == nil:
			return true
		case lj == nil:
			return false
		default:
			return li.Before(*lj)
		}
	})
}
