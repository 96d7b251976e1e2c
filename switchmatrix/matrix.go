/*
NAME
  matrix.go

DESCRIPTION
  matrix implements the global switch matrix: the process-wide registry
  mapping source port -> BufferTask, and the connect/disconnect/destroy
  operations that route commands to the correct task, per SPEC_FULL.md
  §4.7.

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
	"sync"

	"github.com/iasaudio/bar/barerr"
	"github.com/iasaudio/bar/barid"
)

// Matrix is the process-wide registry of buffer tasks, one of the
// explicit process-wide collaborator objects named in SPEC_FULL.md §9
// "Global singletons".
type Matrix struct {
	mu    sync.Mutex
	tasks map[barid.PortID]*BufferTask
	jobs  map[barid.JobID]*Job
}

// New constructs an empty switch matrix.
func New() *Matrix {
	return &Matrix{
		tasks: make(map[barid.PortID]*BufferTask),
		jobs:  make(map[barid.JobID]*Job),
	}
}

// TaskFor returns (creating if necessary) the buffer task owning source.
func (m *Matrix) TaskFor(source Port) *BufferTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[source.ID]
	if !ok {
		t = NewBufferTask(source)
		m.tasks[source.ID] = t
	}
	return t
}

// Connect locates or creates the buffer task for source, enqueues an
// add-job command, and returns immediately; the job is actually inserted
// at the task's next real-time tick, per SPEC_FULL.md §4.7.
func (m *Matrix) Connect(id barid.JobID, source, sink Port, numPeriodsAsrcBuffer int) error {
	job, err := NewJob(id, source, sink, numPeriodsAsrcBuffer)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()

	t := m.TaskFor(source)
	t.EnqueueAdd(job)
	return nil
}

// Disconnect enqueues a delete-job command for id on its owning task.
func (m *Matrix) Disconnect(id barid.JobID) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if ok {
		delete(m.jobs, id)
	}
	m.mu.Unlock()
	if !ok {
		return barerr.New(barerr.NothingRemoved, "switchmatrix.Disconnect", nil)
	}

	t := m.TaskFor(job.Src)
	t.EnqueueDelete(id)
	return nil
}

// DestroySource tears down every task owned by source's port, used when
// the owning device is destroyed; one SourceDeleted event is emitted per
// severed connection (collected from the task's next tick).
func (m *Matrix) DestroySource(source barid.PortID) {
	m.mu.Lock()
	t, ok := m.tasks[source]
	if ok {
		delete(m.tasks, source)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	for _, j := range t.jobs {
		t.EnqueueDelete(j.ID)
	}
}

// Reap removes tasks that have gone empty since their last tick and have
// no commands pending. Called once per period by the
// owning zone after running all tasks.
func (m *Matrix) Reap() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.tasks {
		if t.Empty() && t.cmds.Len() == 0 {
			delete(m.tasks, id)
		}
	}
}
