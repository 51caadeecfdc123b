package reminder

import (
	"container/heap"
	"time"
)

type queued struct {
	at time.Time
	id string
}

// reminderQueue orders armed reminders by their scheduled instant.
type reminderQueue struct {
	backingArray []*queued         // pointer to an element in reminders
	reminders    map[string]*queued // actual reminders
}

func newReminderQueue() *reminderQueue {
	r := &reminderQueue{
		backingArray: []*queued{},
		reminders:    make(map[string]*queued),
	}
	heap.Init(r)
	return r
}

func (rq reminderQueue) Len() int {
	return len(rq.backingArray)
}

func (rq reminderQueue) Less(i, j int) bool {
	return rq.backingArray[i].at.Before(rq.backingArray[j].at)
}

func (rq reminderQueue) Swap(i, j int) {
	rq.backingArray[j], rq.backingArray[i] = rq.backingArray[i], rq.backingArray[j]
}

func (rq *reminderQueue) Push(r any) {
	q, ok := r.(*queued)
	if !ok {
		return
	}

	// first save the reminder, then save a pointer to it
	rq.reminders[q.id] = q
	rq.backingArray = append(rq.backingArray, q)
}

func (rq *reminderQueue) Pop() any {
	if len(rq.backingArray) == 0 {
		return nil
	}

	ba := rq.backingArray
	n := len(ba)
	rq.backingArray = ba[:n-1]
	popped := ba[n-1]
	q := rq.reminders[popped.id]
	delete(rq.reminders, popped.id)

	return q
}

func (rq *reminderQueue) Peek() *queued {
	if len(rq.backingArray) == 0 {
		return nil
	}

	return rq.reminders[rq.backingArray[0].id]
}
