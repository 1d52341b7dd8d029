// Package uploadqueue keeps the list of files waiting to be uploaded and
// drives them through PENDING -> UPLOADING -> DONE | ERROR.
//
// All uploads run on a single worker goroutine, one at a time, in the order
// the jobs were enqueued. UploadAll and Retry hand work to that worker and
// wait for it. A job is claimed by the worker with a status compare-and-set,
// so overlapping UploadAll calls never upload the same job twice.
package uploadqueue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrJobInFlight  = errors.New("job is uploading")
	ErrNotRetryable = errors.New("only failed jobs can be retried")
	ErrClosed       = errors.New("upload queue is closed")
)

const taskBacklog = 64

type task struct {
	ctx context.Context
	ids []string
	// claimed is set for retries, which move the job to UPLOADING before the
	// task is queued. prevErr is restored if the task never runs.
	claimed bool
	prevErr string
	// done receives nil once the worker ran the task, ErrClosed when the
	// queue shut down first.
	done chan error
}

type Manager struct {
	uploader Uploader
	observer func(FileJob)

	mu       sync.Mutex
	jobs     []*FileJob
	inflight int

	// sendMu is held shared while a task is sent and exclusively by Close
	// while it drains what the worker left behind.
	sendMu sync.RWMutex
	closed bool

	tasks   chan task
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once
}

type Option func(*Manager)

// WithObserver registers fn to be called with a copy of the job after every
// status change. Transitions made by the worker are reported on the worker
// goroutine; the UPLOADING and hand-back transitions of Retry are reported
// on the goroutine calling Retry.
func WithObserver(fn func(FileJob)) Option {
	return func(m *Manager) {
		m.observer = fn
	}
}

// NewManager starts the upload worker. Call Close to stop it.
func NewManager(uploader Uploader, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		uploader: uploader,
		tasks:    make(chan task, taskBacklog),
		ctx:      ctx,
		cancel:   cancel,
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.run()
	return m
}

// Enqueue appends one PENDING job per file, keeping input order. It does not
// start uploading.
func (m *Manager) Enqueue(files ...File) []FileJob {
	added := make([]FileJob, 0, len(files))

	m.mu.Lock()
	for _, f := range files {
		mimeType := f.MimeType
		if mimeType == "" {
			mimeType = defaultMimeType
		}
		job := &FileJob{
			ID:       uuid.NewString(),
			Name:     f.Name,
			Size:     f.Size,
			MimeType: mimeType,
			Status:   StatusPending,
			open:     f.Open,
		}
		m.jobs = append(m.jobs, job)
		added = append(added, *job)
	}
	m.mu.Unlock()

	logrus.Debugf("Enqueued %d file(s)", len(added))
	return added
}

// Remove deletes the job with id. Removing an unknown id is a no-op; an
// uploading job cannot be removed.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return nil
	}
	if m.jobs[i].Status == StatusUploading {
		return ErrJobInFlight
	}
	m.jobs = append(m.jobs[:i:i], m.jobs[i+1:]...)
	return nil
}

// ClearAll removes every job regardless of status. Callers should not offer
// it while IsUploading reports true.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	m.jobs = nil
	m.mu.Unlock()
}

// ClearCompleted removes every DONE job.
func (m *Manager) ClearCompleted() {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := make([]*FileJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.Status != StatusDone {
			kept = append(kept, j)
		}
	}
	m.jobs = kept
}

// UploadAll uploads every job that is PENDING at call time, one after the
// other, and returns once all of them are terminal. A failing job is
// recorded as ERROR and does not stop the others; the returned error is only
// about the call itself (context cancelled, queue closed).
//
// Cancelling ctx lets the current transfer finish but leaves the remaining
// jobs of this pass PENDING.
func (m *Manager) UploadAll(ctx context.Context) error {
	m.mu.Lock()
	var ids []string
	for _, j := range m.jobs {
		if j.Status == StatusPending {
			ids = append(ids, j.ID)
		}
	}
	m.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	return m.submit(ctx, task{ctx: ctx, ids: ids})
}

// Retry uploads a failed job again. Jobs in any other status are left
// untouched and ErrNotRetryable is returned.
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.Lock()
	i := m.indexOf(id)
	if i < 0 {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	job := m.jobs[i]
	if job.Status != StatusError {
		m.mu.Unlock()
		return ErrNotRetryable
	}
	prevErr := job.ErrorMessage
	job.Status = StatusUploading
	job.ErrorMessage = ""
	snapshot := *job
	m.mu.Unlock()
	m.notify(snapshot)

	return m.submit(ctx, task{ctx: ctx, ids: []string{id}, claimed: true, prevErr: prevErr})
}

// submit queues t for the worker and waits for it. Once queued the task runs
// even if ctx is cancelled. A retry that never reaches the worker is handed
// back to ERROR.
func (m *Manager) submit(ctx context.Context, t task) error {
	t.done = make(chan error, 1)

	m.mu.Lock()
	m.inflight++
	m.mu.Unlock()

	m.sendMu.RLock()
	if m.closed {
		m.sendMu.RUnlock()
		m.abandon(t)
		return ErrClosed
	}
	select {
	case m.tasks <- t:
		m.sendMu.RUnlock()
	case <-ctx.Done():
		m.sendMu.RUnlock()
		m.abandon(t)
		return ctx.Err()
	case <-m.ctx.Done():
		m.sendMu.RUnlock()
		m.abandon(t)
		return ErrClosed
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// abandon settles a task the worker will never run.
func (m *Manager) abandon(t task) {
	if t.claimed {
		m.release(t)
	}
	m.finish()
}

// release moves the claimed jobs of t that are still UPLOADING back to ERROR
// with their previous message.
func (m *Manager) release(t task) {
	for _, id := range t.ids {
		m.mu.Lock()
		j := m.find(id)
		if j == nil || j.Status != StatusUploading {
			m.mu.Unlock()
			continue
		}
		j.Status = StatusError
		j.ErrorMessage = t.prevErr
		snapshot := *j
		m.mu.Unlock()
		m.notify(snapshot)
	}
}

func (m *Manager) finish() {
	m.mu.Lock()
	m.inflight--
	m.mu.Unlock()
}

func (m *Manager) run() {
	defer close(m.stopped)
	for {
		select {
		case <-m.ctx.Done():
			return
		case t := <-m.tasks:
			err := m.process(t)
			m.finish()
			t.done <- err
		}
	}
}

func (m *Manager) process(t task) error {
	for _, id := range t.ids {
		if m.ctx.Err() != nil {
			if t.claimed {
				m.release(t)
			}
			return ErrClosed
		}
		if !t.claimed {
			if t.ctx.Err() != nil {
				return nil
			}
			if !m.claim(id) {
				continue
			}
		}
		m.upload(id)
	}
	return nil
}

// claim moves a PENDING job to UPLOADING. Jobs removed or already picked up
// by another pass are skipped.
func (m *Manager) claim(id string) bool {
	m.mu.Lock()
	job := m.find(id)
	if job == nil || job.Status != StatusPending {
		m.mu.Unlock()
		return false
	}
	job.Status = StatusUploading
	snapshot := *job
	m.mu.Unlock()

	m.notify(snapshot)
	return true
}

func (m *Manager) upload(id string) {
	m.mu.Lock()
	job := m.find(id)
	if job == nil {
		m.mu.Unlock()
		return
	}
	name, open := job.Name, job.open
	m.mu.Unlock()

	receipt, err := m.send(name, open)

	m.mu.Lock()
	// the job may have been cleared while the transfer ran
	job = m.find(id)
	if job == nil {
		m.mu.Unlock()
		return
	}
	if err != nil {
		job.Status = StatusError
		job.ErrorMessage = err.Error()
		if job.ErrorMessage == "" {
			job.ErrorMessage = "Upload failed"
		}
		job.RootHash, job.TxHash = "", ""
	} else {
		job.Status = StatusDone
		job.RootHash = receipt.RootHash
		job.TxHash = receipt.TxHash
		job.ErrorMessage = ""
	}
	snapshot := *job
	m.mu.Unlock()

	if err != nil {
		logrus.Warnf("Upload of %s failed: %v", name, err)
	} else {
		logrus.Infof("Uploaded %s | root %s | tx %s", name, receipt.RootHash, receipt.TxHash)
	}
	m.notify(snapshot)
}

func (m *Manager) send(name string, open func() (io.ReadCloser, error)) (Receipt, error) {
	if open == nil {
		return Receipt{}, fmt.Errorf("no payload for %s", name)
	}
	rc, err := open()
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer rc.Close()

	receipt, err := m.uploader.Upload(m.ctx, name, rc)
	if err != nil {
		return Receipt{}, err
	}
	if receipt.RootHash == "" {
		return Receipt{}, errors.New("upload returned no root hash")
	}
	return receipt, nil
}

func (m *Manager) notify(job FileJob) {
	if m.observer != nil {
		m.observer(job)
	}
}

// Jobs returns a snapshot of the queue in enqueue order.
func (m *Manager) Jobs() []FileJob {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]FileJob, len(m.jobs))
	for i, j := range m.jobs {
		out[i] = *j
	}
	return out
}

func (m *Manager) Job(id string) (FileJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j := m.find(id); j != nil {
		return *j, true
	}
	return FileJob{}, false
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Stats
	s.Total = len(m.jobs)
	for _, j := range m.jobs {
		s.TotalSize += j.Size
		switch j.Status {
		case StatusDone:
			s.Done++
			s.HasCompleted = true
		case StatusPending:
			s.HasPending = true
		}
	}
	return s
}

// IsUploading reports whether a pass or retry is queued or running.
func (m *Manager) IsUploading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inflight > 0 {
		return true
	}
	for _, j := range m.jobs {
		if j.Status == StatusUploading {
			return true
		}
	}
	return false
}

// Close stops the worker. A transfer in progress is abandoned and recorded
// as ERROR; retries still queued go back to ERROR, passes still queued leave
// their jobs PENDING. Later UploadAll and Retry calls return ErrClosed.
func (m *Manager) Close() {
	m.once.Do(func() {
		m.cancel()
		<-m.stopped

		m.sendMu.Lock()
		m.closed = true
		for {
			select {
			case t := <-m.tasks:
				m.abandon(t)
				t.done <- ErrClosed
			default:
				m.sendMu.Unlock()
				return
			}
		}
	})
}

func (m *Manager) indexOf(id string) int {
	for i, j := range m.jobs {
		if j.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) find(id string) *FileJob {
	if i := m.indexOf(id); i >= 0 {
		return m.jobs[i]
	}
	return nil
}
