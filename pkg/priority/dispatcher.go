package priority

import "fmt"

// Job is dispatched by Dispatcher. The dispatcher does not own the Job but
// expects it to live as long as it is queued. Start must not block — it is
// called synchronously from Add/OnJobFinished and must tolerate reentrancy:
// a Job is free to call back into the dispatcher, including destroying
// itself, from within Start.
type Job interface {
	Start()
}

// Limits describes how many jobs may run concurrently, broken down by
// priority. TotalJobs bounds the number of simultaneously running jobs.
// ReservedSlots[p] reserves slots for priority p or higher; unreserved
// slots (TotalJobs - sum(ReservedSlots)) are usable by any priority. The
// sum of ReservedSlots must not exceed TotalJobs.
type Limits struct {
	TotalJobs     int
	ReservedSlots []int
}

// Dispatcher gates job starts based on configured capacity per priority. It
// is not safe for concurrent use from multiple goroutines — callers own
// serialization (see pkg/resolvehost's owner-loop pattern).
type Dispatcher struct {
	queue      *Queue[Job]
	maxRunning []int
	running    int
}

// NewDispatcher creates a dispatcher with levels priority levels enforcing
// limits.
func NewDispatcher(levels int, limits Limits) *Dispatcher {
	d := &Dispatcher{queue: NewQueue[Job](levels)}
	d.SetLimits(limits)
	return d
}

// NumRunningJobs returns the number of jobs currently running.
func (d *Dispatcher) NumRunningJobs() int { return d.running }

// NumQueuedJobs returns the number of jobs waiting for a slot.
func (d *Dispatcher) NumQueuedJobs() int { return d.queue.Size() }

// NumPriorities returns the number of priority levels.
func (d *Dispatcher) NumPriorities() int { return d.queue.Levels() }

func computeMaxRunning(levels int, limits Limits) []int {
	if len(limits.ReservedSlots) != levels {
		panic(fmt.Sprintf("priority: limits must carry exactly %d reserved slots, got %d", levels, len(limits.ReservedSlots)))
	}
	reservedSum := 0
	for _, r := range limits.ReservedSlots {
		reservedSum += r
	}
	if reservedSum > limits.TotalJobs {
		panic("priority: sum of reserved slots exceeds total jobs")
	}
	unreserved := limits.TotalJobs - reservedSum

	// max_running[p] = sum(reserved_slots[q] for q <= p) + unreserved.
	maxRunning := make([]int, levels)
	running := unreserved
	for p := 0; p < levels; p++ {
		running += limits.ReservedSlots[p]
		maxRunning[p] = running
	}
	return maxRunning
}

// SetLimits recomputes the per-priority running caps and starts any pending
// jobs the new limits now permit. It never stops an already-running job.
// Limits may only be resized while preserving the number of priority
// levels.
func (d *Dispatcher) SetLimits(limits Limits) {
	d.maxRunning = computeMaxRunning(d.queue.Levels(), limits)
	for d.maybeDispatchNext() {
	}
}

// SetLimitsToZero prevents any new job from starting until SetLimits is
// called again with non-zero capacity.
func (d *Dispatcher) SetLimitsToZero() {
	for p := range d.maxRunning {
		d.maxRunning[p] = 0
	}
}

// GetLimits returns the limits currently in effect. The lowest priority's
// reserved slot is always reported as 0 (it cannot reserve anything below
// itself), mirroring the source design's documented quirk.
func (d *Dispatcher) GetLimits() Limits {
	reserved := make([]int, len(d.maxRunning))
	prev := 0
	// max_running[p] - max_running[p-1] == reserved_slots[p] for p>0; for
	// p==0, max_running[0] == unreserved + reserved_slots[0], so recovering
	// reserved_slots[0] individually is ambiguous by design — report 0.
	for p := 1; p < len(d.maxRunning); p++ {
		reserved[p] = d.maxRunning[p] - d.maxRunning[p-1]
	}
	total := 0
	if len(d.maxRunning) > 0 {
		total = d.maxRunning[len(d.maxRunning)-1]
	}
	_ = prev
	return Limits{TotalJobs: total, ReservedSlots: reserved}
}

func (d *Dispatcher) canStart(priority int) bool {
	return d.running < d.maxRunning[priority]
}

// Add enqueues job at priority. If a slot is available, job starts
// synchronously and a null handle is returned; otherwise job is queued and
// its handle is returned.
func (d *Dispatcher) Add(job Job, priority int) Handle {
	return d.add(job, priority, false)
}

// AddAtHead is identical to Add except it queues at the front of priority's
// level when no slot is immediately available.
func (d *Dispatcher) AddAtHead(job Job, priority int) Handle {
	return d.add(job, priority, true)
}

func (d *Dispatcher) add(job Job, priority int, atHead bool) Handle {
	d.queue.checkPriority(priority)
	if d.canStart(priority) {
		d.running++
		job.Start()
		return Handle{}
	}
	if atHead {
		return d.queue.InsertAtFront(job, priority)
	}
	return d.queue.Insert(job, priority)
}

// Cancel removes the queued job referred to by handle. It does not affect
// the running-job count.
func (d *Dispatcher) Cancel(handle Handle) {
	if !handle.Valid() {
		panic("priority: cancel called with null handle")
	}
	d.queue.Erase(handle)
}

// EvictOldestLowest cancels and returns the oldest job at the lowest
// non-empty priority level, or nil if the queue is empty.
func (d *Dispatcher) EvictOldestLowest() Job {
	h, ok := d.queue.FirstMin()
	if !ok {
		return nil
	}
	job, _ := d.queue.Get(h)
	d.queue.Erase(h)
	return job
}

// ChangePriority moves the queued job referred to by handle to newPriority,
// starting it immediately if the new priority now permits it. Returns the
// updated handle, or a null handle if the job started. No-op (returns the
// same handle) if newPriority equals the handle's current priority.
func (d *Dispatcher) ChangePriority(handle Handle, newPriority int) Handle {
	if !handle.Valid() {
		panic("priority: change priority called with null handle")
	}
	if handle.priority == newPriority {
		return handle
	}
	job, ok := d.queue.Get(handle)
	if !ok {
		panic("priority: change priority called with stale handle")
	}
	d.queue.Erase(handle)
	if d.canStart(newPriority) {
		d.running++
		job.Start()
		return Handle{}
	}
	return d.queue.Insert(job, newPriority)
}

// OnJobFinished decrements the running-job count and dispatches as many
// further jobs as current limits permit. Precondition: NumRunningJobs() > 0.
func (d *Dispatcher) OnJobFinished() {
	if d.running <= 0 {
		panic("priority: on job finished called with no running jobs")
	}
	d.running--
	for d.maybeDispatchNext() {
	}
}

// maybeDispatchNext inspects the highest-priority, oldest queued job; if
// current limits permit it to run, starts it and returns true. The caller
// drives a top-level "while maybeDispatchNext()" loop so that reentrant
// Start calls (a job finishing or queuing further jobs from within Start)
// are handled outside any single dispatch step.
func (d *Dispatcher) maybeDispatchNext() bool {
	h, ok := d.queue.FirstMax()
	if !ok {
		return false
	}
	if !d.canStart(h.priority) {
		return false
	}
	job, _ := d.queue.Get(h)
	d.queue.Erase(h)
	d.running++
	job.Start()
	return true
}
