package resolvehost

import (
	"context"
	"net/netip"
	"time"

	"hostresolve/pkg/hostcache"
	"hostresolve/pkg/priority"
)

const icannNameCollisionAddr = "127.0.53.53"

// Job aggregates every Request resolving the same JobKey. It is owned by
// the Manager's key→job map for its entire life except during the brief
// window where it has removed itself from the map but is still draining
// callbacks to attached requests (§9's redesign: drain into a local slice,
// detach from the map, then fire).
type Job struct {
	manager *Manager
	key     hostcache.Key
	cache   *hostcache.Cache
	ctx     context.Context

	tasks []task
	idx   int

	completionResults []taskResult
	finalResult        taskResult
	finalErr           Error

	requests []*Request

	priorityCounts []int
	priorityMax    int

	dispatched bool
	handle     priority.Handle

	cachePermitted bool
	clock          func() time.Time
}

func newJob(m *Manager, key hostcache.Key, tasks []task, cachePermitted bool) *Job {
	return &Job{
		manager:        m,
		key:            key,
		cache:          m.cache,
		ctx:            context.Background(),
		tasks:          tasks,
		priorityCounts: make([]int, m.numPriorities),
		cachePermitted: cachePermitted,
		clock:          m.clock,
	}
}

func (j *Job) now() time.Time { return j.clock() }

// attach adds req to the job's request list and priority tracker, updating
// the dispatcher if the aggregate priority rose and the job already holds
// a dispatcher handle.
func (j *Job) attach(req *Request) {
	j.requests = append(j.requests, req)
	req.job = j
	j.priorityCounts[req.priority]++
	if req.priority > j.priorityMax {
		j.priorityMax = req.priority
		if j.dispatched && j.handle.Valid() {
			j.handle = j.manager.dispatcher.ChangePriority(j.handle, j.priorityMax)
		}
	}
}

// detach removes req, e.g. because the caller dropped it before completion.
// If it was the last attached request, the job is cancelled outright.
func (j *Job) detach(req *Request) {
	for i, r := range j.requests {
		if r == req {
			j.requests = append(j.requests[:i], j.requests[i+1:]...)
			break
		}
	}
	j.priorityCounts[req.priority]--
	j.recomputeMax()

	if len(j.requests) == 0 {
		j.cancel()
	}
}

func (j *Job) recomputeMax() {
	newMax := 0
	for p := len(j.priorityCounts) - 1; p >= 0; p-- {
		if j.priorityCounts[p] > 0 {
			newMax = p
			break
		}
	}
	if newMax != j.priorityMax {
		j.priorityMax = newMax
		if j.dispatched && j.handle.Valid() {
			j.handle = j.manager.dispatcher.ChangePriority(j.handle, j.priorityMax)
		}
	}
}

// cancel tears down a job with no remaining requests. It never fires a
// callback (there is nothing left to notify) but still frees the
// dispatcher slot or queue entry it was holding.
func (j *Job) cancel() {
	delete(j.manager.jobs, j.key)
	if j.dispatched {
		if j.handle.Valid() {
			j.manager.dispatcher.Cancel(j.handle)
		} else {
			j.manager.dispatcher.OnJobFinished()
		}
	}
	for _, t := range j.tasks {
		t.cancel()
	}
}

// Start implements priority.Job; called synchronously by the dispatcher
// once a slot is available.
func (j *Job) Start() {
	j.handle = priority.Handle{}
	j.runCurrent()
}

func (j *Job) runCurrent() {
	current := j.tasks[j.idx]
	current.run(j.ctx, j, func(r taskResult) { j.advance(&r) })
}

// advance drives the task-list state machine. Called with res == nil to
// kick a freshly created job off, and with a non-nil res whenever a task
// (local or external) has just completed.
func (j *Job) advance(res *taskResult) {
	for {
		finished := false
		var needDispatch bool
		var localStep task
		var externalAlreadyRunning task
		var finishInfo jobFinish

		if res != nil {
			finished = j.completeCurrent(*res)
			res = nil
		}

		if !finished {
			current := j.tasks[j.idx]
			if current.kind().external() {
				if !j.dispatched {
					j.dispatched = true
					needDispatch = true
				} else {
					externalAlreadyRunning = current
				}
			} else {
				localStep = current
			}
		}

		if finished {
			finishInfo = j.finish()
			j.deliver(finishInfo)
			return
		}

		if needDispatch {
			j.handle = j.manager.dispatcher.Add(j, j.priorityMax)
			return
		}

		if localStep != nil {
			var r taskResult
			localStep.run(j.ctx, j, func(out taskResult) { r = out })
			res = &r
			continue
		}

		externalAlreadyRunning.run(j.ctx, j, func(r taskResult) { j.advance(&r) })
		return
	}
}

// completeCurrent folds a just-finished task's result into the job's
// state, per §4.6.1: success short-circuits, fatal failure ends the job,
// recoverable failure advances to the next task, and running out of tasks
// ends the job with NAME_NOT_RESOLVED.
func (j *Job) completeCurrent(res taskResult) (finished bool) {
	if res.err == ErrOK {
		j.finalResult = res
		j.finalErr = ErrOK
		return true
	}
	j.completionResults = append(j.completionResults, res)
	if res.err.fatal() {
		j.finalResult = res
		j.finalErr = res.err
		return true
	}
	j.idx++
	if j.idx >= len(j.tasks) {
		j.finalResult = taskResult{err: ErrNameNotResolved}
		j.finalErr = ErrNameNotResolved
		return true
	}
	return false
}

type jobFinish struct {
	requests []*Request
	err      Error
	entry    hostcache.Entry
}

// finish applies the ICANN name-collision guard, caches the result if
// permitted, removes the job from the manager's map, and returns the
// drained request list for delivery outside any lock.
func (j *Job) finish() jobFinish {
	result := j.finalResult
	if containsICANNCollision(result.entry) {
		result = taskResult{
			err:   ErrICANNNameCollision,
			entry: hostcache.Entry{Error: int(ErrICANNNameCollision)},
		}
	}

	if j.cachePermitted {
		entry := result.entry
		entry.Error = int(Squash(result.err))
		j.cache.Set(j.key, entry, j.now())
	}

	delete(j.manager.jobs, j.key)
	if j.dispatched {
		j.manager.dispatcher.OnJobFinished()
	}

	reqs := j.requests
	j.requests = nil

	return jobFinish{requests: reqs, err: Squash(result.err), entry: result.entry}
}

func (j *Job) deliver(info jobFinish) {
	for _, req := range info.requests {
		req.complete(info.err, info.entry)
	}
}

func containsICANNCollision(e hostcache.Entry) bool {
	want, err := netip.ParseAddr(icannNameCollisionAddr)
	if err != nil {
		return false
	}
	for _, addr := range e.Addresses {
		if addr.Addr == want {
			return true
		}
	}
	return false
}
