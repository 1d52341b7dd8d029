package uploadqueue

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUploader records calls and fails any file whose name is in fail.
type fakeUploader struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]bool
	active  int32
	maxSeen int32

	// when set, every upload reports on started and waits for release
	started chan string
	release chan struct{}
}

func (f *fakeUploader) Upload(ctx context.Context, name string, r io.Reader) (Receipt, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, n) {
			break
		}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return Receipt{}, err
	}

	f.mu.Lock()
	f.calls = append(f.calls, name)
	fail := f.fail[name]
	f.mu.Unlock()

	if f.started != nil {
		f.started <- name
		<-f.release
	}

	if fail {
		return Receipt{}, errors.New("relay returned 500: storage unavailable")
	}
	return Receipt{RootHash: "0xroot-" + string(data), TxHash: "0xtx-" + name}, nil
}

func (f *fakeUploader) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func files(names ...string) []File {
	out := make([]File, len(names))
	for i, n := range names {
		out[i] = FromBytes(n, []byte(n))
	}
	return out
}

func names(jobs []FileJob) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.Name
	}
	return out
}

// plain drops the payload opener so jobs compare by value.
func plain(j FileJob) FileJob {
	j.open = nil
	return j
}

func newTestManager(t *testing.T, up Uploader, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(up, opts...)
	t.Cleanup(m.Close)
	return m
}

func TestEnqueueRemoveClearKeepOrder(t *testing.T) {
	m := newTestManager(t, &fakeUploader{})

	added := m.Enqueue(files("a", "b", "c", "d")...)
	require.Len(t, added, 4)
	for _, j := range added {
		assert.Equal(t, StatusPending, j.Status)
		assert.NotEmpty(t, j.ID)
		assert.Empty(t, j.RootHash)
		assert.Empty(t, j.ErrorMessage)
	}

	require.NoError(t, m.Remove(added[1].ID))
	assert.Equal(t, []string{"a", "c", "d"}, names(m.Jobs()))

	// unknown id is a no-op
	require.NoError(t, m.Remove("missing"))
	assert.Equal(t, []string{"a", "c", "d"}, names(m.Jobs()))

	m.Enqueue(files("e")...)
	require.NoError(t, m.Remove(added[0].ID))
	assert.Equal(t, []string{"c", "d", "e"}, names(m.Jobs()))

	m.ClearAll()
	assert.Empty(t, m.Jobs())
	assert.Equal(t, Stats{}, m.Stats())
}

func TestEnqueueDoesNotUpload(t *testing.T) {
	up := &fakeUploader{}
	m := newTestManager(t, up)

	m.Enqueue(files("a")...)
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, up.Calls())
	assert.False(t, m.IsUploading())
}

func TestUploadAllSequentialInOrder(t *testing.T) {
	up := &fakeUploader{}
	m := newTestManager(t, up)
	m.Enqueue(files("one", "two", "three", "four", "five")...)

	require.NoError(t, m.UploadAll(context.Background()))

	assert.Equal(t, []string{"one", "two", "three", "four", "five"}, up.Calls())
	assert.Equal(t, int32(1), atomic.LoadInt32(&up.maxSeen))
	for _, j := range m.Jobs() {
		assert.Equal(t, StatusDone, j.Status)
		assert.Equal(t, "0xroot-"+j.Name, j.RootHash)
		assert.Equal(t, "0xtx-"+j.Name, j.TxHash)
		assert.Empty(t, j.ErrorMessage)
	}
	assert.False(t, m.IsUploading())
}

func TestUploadAllIsolatesFailure(t *testing.T) {
	up := &fakeUploader{fail: map[string]bool{"c": true}}
	m := newTestManager(t, up)
	m.Enqueue(files("a", "b", "c", "d", "e")...)

	require.NoError(t, m.UploadAll(context.Background()))

	for _, j := range m.Jobs() {
		if j.Name == "c" {
			assert.Equal(t, StatusError, j.Status)
			assert.Contains(t, j.ErrorMessage, "storage unavailable")
			assert.Empty(t, j.RootHash)
			continue
		}
		assert.Equal(t, StatusDone, j.Status, j.Name)
		assert.NotEmpty(t, j.RootHash)
		assert.Empty(t, j.ErrorMessage)
	}
	assert.Len(t, up.Calls(), 5)
}

func TestUploadAllOnlyTouchesPending(t *testing.T) {
	up := &fakeUploader{fail: map[string]bool{"bad": true}}
	m := newTestManager(t, up)
	m.Enqueue(files("good", "bad")...)
	require.NoError(t, m.UploadAll(context.Background()))

	before := m.Jobs()
	m.Enqueue(files("late")...)
	require.NoError(t, m.UploadAll(context.Background()))

	after := m.Jobs()
	assert.Equal(t, plain(before[0]), plain(after[0]))
	assert.Equal(t, plain(before[1]), plain(after[1]))
	assert.Equal(t, StatusDone, after[2].Status)
	assert.Equal(t, []string{"good", "bad", "late"}, up.Calls())

	// nothing pending: returns immediately without uploading
	require.NoError(t, m.UploadAll(context.Background()))
	assert.Len(t, up.Calls(), 3)
}

func TestRetry(t *testing.T) {
	up := &fakeUploader{fail: map[string]bool{"flaky": true}}
	m := newTestManager(t, up)
	jobs := m.Enqueue(files("ok", "flaky", "waiting")...)
	ctx := context.Background()

	assert.ErrorIs(t, m.Retry(ctx, "missing"), ErrJobNotFound)

	// PENDING is not retryable and stays untouched
	assert.ErrorIs(t, m.Retry(ctx, jobs[2].ID), ErrNotRetryable)
	j, _ := m.Job(jobs[2].ID)
	assert.Equal(t, StatusPending, j.Status)
	assert.Empty(t, up.Calls())

	require.NoError(t, m.UploadAll(ctx))

	// DONE is not retryable either
	done, _ := m.Job(jobs[0].ID)
	assert.ErrorIs(t, m.Retry(ctx, jobs[0].ID), ErrNotRetryable)
	again, _ := m.Job(jobs[0].ID)
	assert.Equal(t, plain(done), plain(again))

	failed, _ := m.Job(jobs[1].ID)
	require.Equal(t, StatusError, failed.Status)

	// still failing: back to ERROR
	require.NoError(t, m.Retry(ctx, jobs[1].ID))
	failed, _ = m.Job(jobs[1].ID)
	assert.Equal(t, StatusError, failed.Status)
	assert.NotEmpty(t, failed.ErrorMessage)

	up.mu.Lock()
	up.fail = nil
	up.mu.Unlock()

	require.NoError(t, m.Retry(ctx, jobs[1].ID))
	fixed, _ := m.Job(jobs[1].ID)
	assert.Equal(t, StatusDone, fixed.Status)
	assert.Equal(t, "0xroot-flaky", fixed.RootHash)
	assert.Empty(t, fixed.ErrorMessage)
}

func TestRemoveRejectedWhileUploading(t *testing.T) {
	up := &fakeUploader{started: make(chan string), release: make(chan struct{})}
	m := newTestManager(t, up)
	jobs := m.Enqueue(files("big", "small")...)

	errCh := make(chan error, 1)
	go func() { errCh <- m.UploadAll(context.Background()) }()

	assert.Equal(t, "big", <-up.started)
	assert.True(t, m.IsUploading())

	assert.ErrorIs(t, m.Remove(jobs[0].ID), ErrJobInFlight)
	j, ok := m.Job(jobs[0].ID)
	require.True(t, ok)
	assert.Equal(t, StatusUploading, j.Status)

	// a job waiting for its turn can still be removed and is skipped
	require.NoError(t, m.Remove(jobs[1].ID))

	close(up.release)
	require.NoError(t, <-errCh)

	assert.Equal(t, []string{"big"}, up.Calls())
	assert.Equal(t, []string{"big"}, names(m.Jobs()))
}

func TestJobsAddedDuringPassAreExcluded(t *testing.T) {
	up := &fakeUploader{started: make(chan string), release: make(chan struct{})}
	m := newTestManager(t, up)
	m.Enqueue(files("first")...)

	errCh := make(chan error, 1)
	go func() { errCh <- m.UploadAll(context.Background()) }()

	<-up.started
	late := m.Enqueue(files("late")...)
	close(up.release)
	require.NoError(t, <-errCh)

	j, _ := m.Job(late[0].ID)
	assert.Equal(t, StatusPending, j.Status)
	assert.True(t, m.Stats().HasPending)
}

func TestConcurrentUploadAllUploadsEachJobOnce(t *testing.T) {
	up := &fakeUploader{}
	m := newTestManager(t, up)
	m.Enqueue(files("a", "b", "c", "d")...)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.UploadAll(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"a", "b", "c", "d"}, up.Calls())
	assert.Equal(t, int32(1), atomic.LoadInt32(&up.maxSeen))
}

func TestCancelLeavesRestPending(t *testing.T) {
	up := &fakeUploader{started: make(chan string), release: make(chan struct{})}
	m := newTestManager(t, up)
	jobs := m.Enqueue(files("a", "b")...)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.UploadAll(ctx) }()

	<-up.started
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(up.release)
	assert.Eventually(t, func() bool {
		j, _ := m.Job(jobs[0].ID)
		return j.Status == StatusDone
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !m.IsUploading() }, time.Second, 5*time.Millisecond)

	j, _ := m.Job(jobs[1].ID)
	assert.Equal(t, StatusPending, j.Status)
}

func TestStatsAndClearCompleted(t *testing.T) {
	up := &fakeUploader{fail: map[string]bool{"x": true}}
	m := newTestManager(t, up)
	m.Enqueue(FromBytes("a", make([]byte, 1024)), FromBytes("x", make([]byte, 512)))

	s := m.Stats()
	assert.Equal(t, Stats{Total: 2, TotalSize: 1536, HasPending: true}, s)

	require.NoError(t, m.UploadAll(context.Background()))
	s = m.Stats()
	assert.Equal(t, Stats{Total: 2, Done: 1, TotalSize: 1536, HasCompleted: true}, s)

	m.ClearCompleted()
	assert.Equal(t, []string{"x"}, names(m.Jobs()))
	assert.False(t, m.Stats().HasCompleted)
}

func TestObserverSeesEveryTransition(t *testing.T) {
	var mu sync.Mutex
	var seen []Status
	up := &fakeUploader{fail: map[string]bool{"a": true}}
	m := newTestManager(t, up, WithObserver(func(j FileJob) {
		mu.Lock()
		seen = append(seen, j.Status)
		mu.Unlock()
	}))
	jobs := m.Enqueue(files("a")...)

	require.NoError(t, m.UploadAll(context.Background()))
	require.NoError(t, m.Retry(context.Background(), jobs[0].ID))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusUploading, StatusError, StatusUploading, StatusError}, seen)
}

func TestUploadOpenFailureIsRecorded(t *testing.T) {
	m := newTestManager(t, &fakeUploader{})
	jobs := m.Enqueue(File{
		Name: "gone.bin",
		Size: 10,
		Open: func() (io.ReadCloser, error) { return nil, os.ErrNotExist },
	})

	require.NoError(t, m.UploadAll(context.Background()))
	j, _ := m.Job(jobs[0].ID)
	assert.Equal(t, StatusError, j.Status)
	assert.Contains(t, j.ErrorMessage, "gone.bin")
	assert.Equal(t, defaultMimeType, j.MimeType)
}

func TestClosedManager(t *testing.T) {
	m := NewManager(&fakeUploader{})
	m.Enqueue(files("a")...)
	m.Close()
	m.Close()

	assert.ErrorIs(t, m.UploadAll(context.Background()), ErrClosed)
}

func TestUploadAllAfterCloseSettles(t *testing.T) {
	for i := 0; i < 100; i++ {
		m := NewManager(&fakeUploader{})
		jobs := m.Enqueue(files("a")...)
		m.Close()

		require.ErrorIs(t, m.UploadAll(context.Background()), ErrClosed)
		j, _ := m.Job(jobs[0].ID)
		require.Equal(t, StatusPending, j.Status)
		require.False(t, m.IsUploading())
	}
}

func TestRetryAfterCloseHandsJobBack(t *testing.T) {
	for i := 0; i < 200; i++ {
		up := &fakeUploader{fail: map[string]bool{"a": true}}
		m := NewManager(up)
		jobs := m.Enqueue(files("a")...)
		require.NoError(t, m.UploadAll(context.Background()))
		before, _ := m.Job(jobs[0].ID)
		m.Close()

		require.ErrorIs(t, m.Retry(context.Background(), jobs[0].ID), ErrClosed)
		j, _ := m.Job(jobs[0].ID)
		require.Equal(t, StatusError, j.Status)
		require.Equal(t, before.ErrorMessage, j.ErrorMessage)
		require.False(t, m.IsUploading())
		require.Len(t, up.Calls(), 1)
	}
}

func TestCloseSettlesQueuedRetry(t *testing.T) {
	up := &fakeUploader{fail: map[string]bool{"b": true}}
	m := NewManager(up)
	jobs := m.Enqueue(files("b")...)
	require.NoError(t, m.UploadAll(context.Background()))
	failed, _ := m.Job(jobs[0].ID)

	up.started = make(chan string)
	up.release = make(chan struct{})
	m.Enqueue(files("a")...)

	passErr := make(chan error, 1)
	go func() { passErr <- m.UploadAll(context.Background()) }()
	<-up.started

	retryErr := make(chan error, 1)
	go func() { retryErr <- m.Retry(context.Background(), jobs[0].ID) }()
	assert.Eventually(t, func() bool { return len(m.tasks) == 1 }, time.Second, time.Millisecond)

	closed := make(chan struct{})
	go func() {
		m.Close()
		close(closed)
	}()
	close(up.release)
	<-closed

	assert.ErrorIs(t, <-retryErr, ErrClosed)
	<-passErr

	j, _ := m.Job(jobs[0].ID)
	assert.Equal(t, StatusError, j.Status)
	assert.Equal(t, failed.ErrorMessage, j.ErrorMessage)
	assert.False(t, m.IsUploading())
}

func TestFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world\n"), 0644))

	f, err := FromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", f.Name)
	assert.Equal(t, int64(12), f.Size)
	assert.True(t, strings.HasPrefix(f.MimeType, "text/plain"), f.MimeType)

	rc, err := f.Open()
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "hello world\n", string(data))

	_, err = FromPath(dir)
	assert.Error(t, err)
	_, err = FromPath(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
