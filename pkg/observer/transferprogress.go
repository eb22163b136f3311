package observer

import (
	"fmt"
	"sync"

	"github.com/docker/go-units"
	"github.com/hashicorp/go-hclog"
)

// TaskStatus mirrors the Sleeping/Started/Stopped/Finished states the
// original pyrc.event.progress.FileTransferTask tracked per file.
type TaskStatus int

const (
	// TaskSleeping is a task that has been registered but not yet started.
	TaskSleeping TaskStatus = iota
	// TaskStarted is an active, in-progress transfer.
	TaskStarted
	// TaskStopped is a task halted before completion.
	TaskStopped
	// TaskFinished is a task whose sent byte count reached its total.
	TaskFinished
)

// FileTask tracks one file's transfer progress.
type FileTask struct {
	Name   string
	Total  int64
	Sent   int64
	Status TaskStatus
}

// TransferProgress is the Transfer-progress observer variant from
// spec.md §4.2: it tracks per-file byte counts via a
// (filename, size_total, size_sent) callback and transitions a task to
// Finished when sent == total. It doesn't implement Observer directly —
// ExecCommand doesn't carry byte progress — it's driven by the transfer
// engine's own copy loop (pkg/transfer) calling Update per chunk written.
type TransferProgress struct {
	logger hclog.Logger
	mu     sync.Mutex
	tasks  map[string]*FileTask
}

// NewTransferProgress returns a TransferProgress surface that logs through
// logger as tasks progress and finish.
func NewTransferProgress(logger hclog.Logger) *TransferProgress {
	return &TransferProgress{logger: logger, tasks: map[string]*FileTask{}}
}

// AddFile registers a file of the given total size as a tracked task in the
// Sleeping state.
func (p *TransferProgress) AddFile(name string, total int64) *FileTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	task := &FileTask{Name: name, Total: total, Status: TaskSleeping}
	p.tasks[name] = task
	return task
}

// Start transitions name's task to Started.
func (p *TransferProgress) Start(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.tasks[name]; ok {
		t.Status = TaskStarted
		p.logger.Debug("transfer started", "file", name, "size", units.HumanSize(float64(t.Total)))
	}
}

// Update reports sent bytes out of size for the named file, finishing the
// task automatically once sent reaches size.
func (p *TransferProgress) Update(name string, size, sent int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[name]
	if !ok {
		t = &FileTask{Name: name, Total: size, Status: TaskStarted}
		p.tasks[name] = t
	}
	t.Sent = sent
	if sent >= size && size > 0 {
		t.Status = TaskFinished
		p.logger.Debug("transfer finished", "file", name, "size", units.HumanSize(float64(size)))
	}
}

// Stop transitions name's task to Stopped unless it already finished.
func (p *TransferProgress) Stop(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.tasks[name]; ok && t.Status != TaskFinished {
		t.Status = TaskStopped
	}
}

// Task returns the current state of the named file's task.
func (p *TransferProgress) Task(name string) (FileTask, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[name]
	if !ok {
		return FileTask{}, false
	}
	return *t, true
}

// String renders a one-line human summary of sent and total sizes.
func (t FileTask) String() string {
	return fmt.Sprintf("%s: %s / %s", t.Name, units.HumanSize(float64(t.Sent)), units.HumanSize(float64(t.Total)))
}
