package resolvehost

import (
	"context"

	"hostresolve/pkg/hostcache"
)

// TaskKind enumerates the task types a Job's sequence may contain, in the
// order §4.6.1 lists them.
type TaskKind int

const (
	TaskSecureCacheLookup TaskKind = iota
	TaskCacheLookup
	TaskInsecureCacheLookup
	TaskConfigPreset
	TaskHosts
	TaskDNS
	TaskSecureDNS
	TaskSystem
	TaskMDNS
	TaskNAT64
)

func (k TaskKind) String() string {
	switch k {
	case TaskSecureCacheLookup:
		return "SECURE_CACHE_LOOKUP"
	case TaskCacheLookup:
		return "CACHE_LOOKUP"
	case TaskInsecureCacheLookup:
		return "INSECURE_CACHE_LOOKUP"
	case TaskConfigPreset:
		return "CONFIG_PRESET"
	case TaskHosts:
		return "HOSTS"
	case TaskDNS:
		return "DNS"
	case TaskSecureDNS:
		return "SECURE_DNS"
	case TaskSystem:
		return "SYSTEM"
	case TaskMDNS:
		return "MDNS"
	case TaskNAT64:
		return "NAT64"
	default:
		return "UNKNOWN_TASK"
	}
}

// external reports whether this task kind must go through the dispatcher
// rather than running synchronously on the owner loop.
func (k TaskKind) external() bool {
	switch k {
	case TaskDNS, TaskSecureDNS, TaskSystem, TaskMDNS, TaskNAT64:
		return true
	default:
		return false
	}
}

// occupiedSlots reports how many dispatcher slots a task of this kind would
// take if slots were counted per task: two for a DNS task, which runs its A
// and AAAA transactions concurrently. Nothing calls it; the dispatcher
// counts one slot per Job.
func (k TaskKind) occupiedSlots() int {
	if k == TaskDNS || k == TaskSecureDNS {
		return 2
	}
	return 1
}

// taskResult is what a task hands back to its Job on completion.
type taskResult struct {
	err   Error
	entry hostcache.Entry
}

// task is the uniform shape every task-list entry implements. run must not
// complete synchronously for external tasks; it posts taskResult to done.
// Local tasks may call done synchronously from within run.
type task interface {
	kind() TaskKind
	run(ctx context.Context, job *Job, done func(taskResult))
	cancel()
}

// localTask adapts a synchronous lookup function (cache, hosts, config
// preset) into the task interface.
type localTask struct {
	k  TaskKind
	fn func(ctx context.Context, job *Job) taskResult
}

func (t *localTask) kind() TaskKind { return t.k }

func (t *localTask) run(ctx context.Context, job *Job, done func(taskResult)) {
	done(t.fn(ctx, job))
}

func (t *localTask) cancel() {}

func newCacheLookupTask(k TaskKind, wantSecure *bool) *localTask {
	return &localTask{
		k: k,
		fn: func(_ context.Context, job *Job) taskResult {
			key := job.key
			if wantSecure != nil {
				key.Secure = *wantSecure
			}
			entry, ok := job.cache.Lookup(key, job.now())
			if !ok {
				return taskResult{err: ErrDNSCacheMiss}
			}
			return taskResult{err: Error(entry.Error), entry: entry}
		},
	}
}

func newConfigPresetTask(lookup func(hostname string) (hostcache.Entry, bool)) *localTask {
	return &localTask{
		k: TaskConfigPreset,
		fn: func(_ context.Context, job *Job) taskResult {
			entry, ok := lookup(job.key.Hostname)
			if !ok {
				return taskResult{err: ErrDNSCacheMiss}
			}
			return taskResult{err: Error(entry.Error), entry: entry}
		},
	}
}

func newHostsTask(lookup func(hostname string) (hostcache.Entry, bool)) *localTask {
	return &localTask{
		k: TaskHosts,
		fn: func(_ context.Context, job *Job) taskResult {
			entry, ok := lookup(job.key.Hostname)
			if !ok {
				return taskResult{err: ErrDNSCacheMiss}
			}
			return taskResult{err: Error(entry.Error), entry: entry}
		},
	}
}
