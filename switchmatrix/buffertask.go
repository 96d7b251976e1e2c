/*
NAME
  buffertask.go

DESCRIPTION
  buffertask implements the per-source-port fan-out object: it owns the
  source ring buffer's read cursor, holds the list of live jobs reading
  from that source, and arbitrates add/delete requests through the
  spscqueue command primitive, per SPEC_FULL.md §4.6.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package switchmatrix

import (
	"github.com/iasaudio/bar/barid"
	"github.com/iasaudio/bar/ring"
	"github.com/iasaudio/bar/spscqueue"
)

// taskCmdKind distinguishes an add-job command from a delete-job command
// in a BufferTask's pending queue.
type taskCmdKind int

const (
	cmdAddJob taskCmdKind = iota
	cmdDeleteJob
)

type taskCmd struct {
	kind taskCmdKind
	job  *Job
	id   barid.JobID
}

// SourceDeletedEvent is emitted once per connection severed when a
// source is reaped, per SPEC_FULL.md §4.7's broadcast behavior.
type SourceDeletedEvent struct {
	Source barid.PortID
	Sink   barid.PortID
}

// BufferTask is the per-source-port object owning all jobs fanning out
// of that source. It is invoked once per source period by the zone that
// owns it; all mutation outside that worker goes through cmds.
type BufferTask struct {
	Source  Port
	isDummy bool

	jobs []*Job
	cmds *spscqueue.Queue[taskCmd]

	deleted []SourceDeletedEvent
}

// NewBufferTask constructs a dummy buffer task for source: it streams
// source frames into a discard sink until a real job is added, keeping
// source timing deterministic from the first sample, per SPEC_FULL.md
// §4.6.
func NewBufferTask(source Port) *BufferTask {
	return &BufferTask{
		Source:  source,
		isDummy: true,
		cmds:    spscqueue.New[taskCmd](64),
	}
}

// EnqueueAdd asynchronously requests job be added to this task's job
// list; application happens on the next Tick.
func (t *BufferTask) EnqueueAdd(job *Job) {
	t.cmds.Push(taskCmd{kind: cmdAddJob, job: job})
}

// EnqueueDelete asynchronously requests the job with id be removed;
// application happens on the next Tick.
func (t *BufferTask) EnqueueDelete(id barid.JobID) {
	t.cmds.Push(taskCmd{kind: cmdDeleteJob, id: id})
}

// Empty reports whether the task currently owns no jobs, meaning it is a
// candidate for reaping.
func (t *BufferTask) Empty() bool { return len(t.jobs) == 0 && t.isDummy }

// DrainDeletedEvents returns and clears the SourceDeleted events queued
// by the most recent Tick's command drain.
func (t *BufferTask) DrainDeletedEvents() []SourceDeletedEvent {
	ev := t.deleted
	t.deleted = nil
	return ev
}

// Tick drains pending add/delete commands, then (unless the task is a
// dummy awaiting its first connection) acquires exactly one source read
// area for this period and hands it, unchanged, to every job fanning out
// of this source - so an N-sink fan-out reads one shared source snapshot
// instead of N disjoint slices - committing the source cursor once
// afterward by the largest frame count any job actually consumed, per
// SPEC_FULL.md §4.6 steps 2-3.
func (t *BufferTask) Tick(sinkPeriod int) {
	t.drainCommands()

	if t.isDummy {
		t.drainSource(sinkPeriod)
		return
	}

	srcAreas, srcOff, srcFrames, err := t.Source.RingBuf.BeginAccess(ring.Read, sinkPeriod)
	if err != nil || srcFrames == 0 {
		return
	}

	consumed := 0
	for _, j := range t.jobs {
		if err := j.Tick(srcAreas, srcFrames, sinkPeriod); err != nil {
			// Real-time transfers recover locally per SPEC_FULL.md §7;
			// a failed tick simply skips this job's output this period.
			continue
		}
		if srcFrames > consumed {
			consumed = srcFrames
		}
	}
	t.Source.RingBuf.EndAccess(ring.Read, srcOff, consumed)
}

func (t *BufferTask) drainCommands() {
	for _, c := range t.cmds.DrainAll() {
		switch c.kind {
		case cmdAddJob:
			t.jobs = append(t.jobs, c.job)
			t.isDummy = false
		case cmdDeleteJob:
			t.removeJob(c.id)
		}
	}
}

func (t *BufferTask) removeJob(id barid.JobID) {
	for i, j := range t.jobs {
		if j.ID == id {
			t.deleted = append(t.deleted, SourceDeletedEvent{Source: t.Source.ID, Sink: j.Sink.ID})
			t.jobs = append(t.jobs[:i], t.jobs[i+1:]...)
			break
		}
	}
	if len(t.jobs) == 0 {
		t.isDummy = true
	}
}

// drainSource discards up to sinkPeriod frames from the source ring
// buffer so the source's timing stays deterministic while no real job is
// connected yet.
func (t *BufferTask) drainSource(sinkPeriod int) {
	_, off, frames, err := t.Source.RingBuf.BeginAccess(ring.Read, sinkPeriod)
	if err != nil || frames == 0 {
		return
	}
	t.Source.RingBuf.EndAccess(ring.Read, off, frames)
}
