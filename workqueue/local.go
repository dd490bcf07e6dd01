package workqueue

import (
	"container/heap"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/h2non/filetype"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/lyonslab/yerba/common/logger"
	"github.com/lyonslab/yerba/common/util"
)

const (
	// MaxOutput is the maximum number of bytes of combined stdout/stderr
	// retained for a task. Output beyond this is discarded.
	MaxOutput = 65536
	// fileTypeHeaderLength is the number of bytes filetype needs to sniff
	// a file's type. Magic number from https://github.com/h2non/filetype
	fileTypeHeaderLength = 261
	// waitPollInterval is how often Wait re-checks for a completed task
	// when called with a timeout.
	waitPollInterval = 5 * time.Millisecond
)

// Config configures a LocalQueue.
type Config struct {
	// Project is the queue name advertised to the catalog server.
	Project string
	// Port is the TCP port to listen on for worker connections.
	// Set to -1 to pick a free port.
	Port int
	// Workers is the number of tasks that can execute concurrently.
	// Zero or less means one worker per CPU.
	Workers int
	// LogPath is the path of the queue transaction log, or empty to
	// disable transaction logging.
	LogPath string
	// Debug enables per-transition debug logging.
	Debug bool
	// CatalogServer is the host of a catalog server to advertise this
	// queue to, or empty to disable advertisement.
	CatalogServer string
	// CatalogPort is the port of the catalog server.
	CatalogPort int
	// AnnounceInterval is how often the queue advertises itself to the
	// catalog server. Zero or less means DefaultAnnounceInterval.
	AnnounceInterval time.Duration
}

type taskState int

const (
	taskStatePending taskState = iota
	taskStateRunning
)

type task struct {
	id           TaskID
	spec         TaskSpec
	state        taskState
	heapIndex    int
	process      *os.Process
	cancelled    bool
	submitMicros int64
}

// taskHeap orders pending tasks by descending priority, then by
// submission order within a priority.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].spec.Priority != h[j].spec.Priority {
		return h[i].spec.Priority > h[j].spec.Priority
	}
	return h[i].id < h[j].id
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *taskHeap) Push(x interface{}) {
	t := x.(*task)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}

// LocalQueue runs tasks on a pool of worker goroutines inside the daemon
// process. It binds a TCP port so the queue is discoverable the same way
// a distributed queue master would be, but all execution is local.
type LocalQueue struct {
	config   Config
	clk      clock.Clock
	listener net.Listener
	port     int
	workers  int

	mu        sync.Mutex
	cond      *sync.Cond
	pending   taskHeap
	tasks     map[TaskID]*task
	completed []*Result
	nextID    TaskID
	stats     Stats
	closed    bool
	txnLog    *os.File

	wg    sync.WaitGroup
	stopC chan struct{}
	logger.Log
}

func NewLocalQueue(config Config, clk clock.Clock, logFactory logger.LogFactory) (*LocalQueue, error) {
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	if config.AnnounceInterval <= 0 {
		config.AnnounceInterval = DefaultAnnounceInterval
	}
	listenPort := config.Port
	if listenPort < 0 {
		listenPort = 0
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", listenPort))
	if err != nil {
		return nil, errors.Wrapf(err, "error listening on work queue port %d", config.Port)
	}
	q := &LocalQueue{
		config:   config,
		clk:      clk,
		listener: listener,
		port:     listener.Addr().(*net.TCPAddr).Port,
		workers:  config.Workers,
		tasks:    make(map[TaskID]*task),
		stopC:    make(chan struct{}),
		Log:      logFactory("WorkQueue"),
	}
	q.cond = sync.NewCond(&q.mu)
	if config.LogPath != "" {
		txnLog, err := os.OpenFile(config.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			listener.Close()
			return nil, errors.Wrap(err, "error opening work queue transaction log")
		}
		q.txnLog = txnLog
	}
	q.stats.StartTime = clk.Now().UnixMicro()
	q.stats.TotalWorkersJoined = q.workers
	q.stats.WorkersReady = q.workers
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.wg.Add(1)
	go q.acceptLoop()
	if config.CatalogServer != "" {
		q.wg.Add(1)
		go q.announceLoop()
	}
	q.Infof("Started work queue %q on port %d with %d workers", config.Project, q.port, q.workers)
	return q, nil
}

// Submit queues a task for execution and returns its id.
func (q *LocalQueue) Submit(spec TaskSpec) (TaskID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, errors.New("error submitting task: the work queue has been shut down")
	}
	q.nextID++
	t := &task{
		id:           q.nextID,
		spec:         spec,
		state:        taskStatePending,
		submitMicros: q.clk.Now().UnixMicro(),
	}
	q.tasks[t.id] = t
	heap.Push(&q.pending, t)
	q.stats.TasksWaiting = q.pending.Len()
	q.transition(t, "WAITING", fmt.Sprintf("priority %d", spec.Priority))
	q.cond.Signal()
	return t.id, nil
}

// Wait returns the next completed task result, or nil if no task completed
// within timeout. A timeout of zero or less polls without blocking.
func (q *LocalQueue) Wait(timeout time.Duration) *Result {
	deadline := q.clk.Now().Add(timeout)
	for {
		q.mu.Lock()
		if len(q.completed) > 0 {
			result := q.completed[0]
			q.completed = q.completed[1:]
			q.stats.TasksComplete = len(q.completed)
			q.mu.Unlock()
			return result
		}
		closed := q.closed
		q.mu.Unlock()
		if timeout <= 0 || closed || !q.clk.Now().Before(deadline) {
			return nil
		}
		q.clk.Sleep(waitPollInterval)
	}
}

// Cancel removes a pending task from the queue, or kills the process group
// of a running one. Results of cancelled tasks are never returned by Wait.
// Returns false if the task is unknown or already complete.
func (q *LocalQueue) Cancel(id TaskID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return false
	}
	t.cancelled = true
	switch t.state {
	case taskStatePending:
		heap.Remove(&q.pending, t.heapIndex)
		delete(q.tasks, id)
		q.stats.TasksWaiting = q.pending.Len()
		q.transition(t, "CANCELLED", "removed from queue")
	case taskStateRunning:
		if t.process != nil {
			killProcessGroup(t.process)
		}
		q.transition(t, "CANCELLED", "signalled")
	}
	return true
}

// Stats returns a snapshot of the queue's counters.
func (q *LocalQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Port returns the TCP port the queue is listening on.
func (q *LocalQueue) Port() int {
	return q.port
}

// Shutdown cancels all tasks, stops the workers and closes the listener.
// It blocks until all workers have exited.
func (q *LocalQueue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.Infof("Stopping work queue %q on port %d", q.config.Project, q.port)
	q.closed = true
	for q.pending.Len() > 0 {
		t := heap.Pop(&q.pending).(*task)
		t.cancelled = true
		delete(q.tasks, t.id)
		q.transition(t, "CANCELLED", "shutdown")
	}
	q.stats.TasksWaiting = 0
	for _, t := range q.tasks {
		t.cancelled = true
		if t.process != nil {
			killProcessGroup(t.process)
		}
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	close(q.stopC)
	q.listener.Close()
	q.wg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.stats.TotalWorkersRemoved = q.workers
	q.stats.WorkersReady = 0
	if q.txnLog != nil {
		q.txnLog.Close()
		q.txnLog = nil
	}
}

func (q *LocalQueue) worker() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for q.pending.Len() == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		t := heap.Pop(&q.pending).(*task)
		t.state = taskStateRunning
		q.stats.TasksWaiting = q.pending.Len()
		q.stats.TasksRunning++
		q.stats.WorkersBusy++
		q.stats.WorkersReady--
		q.stats.TotalTasksDispatched++
		q.transition(t, "RUNNING", "")
		q.mu.Unlock()

		result := q.execute(t)

		q.mu.Lock()
		q.stats.TasksRunning--
		q.stats.WorkersBusy--
		q.stats.WorkersReady++
		delete(q.tasks, t.id)
		if t.cancelled || q.closed {
			q.transition(t, "DISCARDED", "task was cancelled")
		} else {
			q.completed = append(q.completed, result)
			q.stats.TasksComplete = len(q.completed)
			q.stats.TotalTasksComplete++
			q.transition(t, "DONE", fmt.Sprintf("returned %d", result.ReturnStatus))
		}
		q.mu.Unlock()
	}
}

// execute runs the task's command under /bin/sh in the daemon's working
// directory and collects its result.
func (q *LocalQueue) execute(t *task) *Result {
	sendStart := q.clk.Now()
	var bytesSent int64
	for _, input := range t.spec.Inputs {
		info, err := os.Stat(input.LocalPath)
		if err != nil {
			q.Debugf("Task %d input %q is not readable: %v", t.id, input.LocalPath, err)
			continue
		}
		if !info.IsDir() {
			bytesSent += info.Size()
		}
	}
	sendMicros := q.clk.Since(sendStart).Microseconds()

	output := newCappedBuffer(MaxOutput)
	cmd := exec.Command("/bin/sh", "-c", t.spec.Command)
	cmd.Stdout = output
	cmd.Stderr = output
	setProcessGroup(cmd)

	started := q.clk.Now()
	var returnStatus int
	err := cmd.Start()
	if err != nil {
		returnStatus = 127
		fmt.Fprintf(output, "%v", err)
	} else {
		q.mu.Lock()
		t.process = cmd.Process
		if t.cancelled {
			// Cancelled between dispatch and start
			killProcessGroup(cmd.Process)
		}
		q.mu.Unlock()
		err = cmd.Wait()
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				returnStatus = exitErr.ExitCode()
			} else {
				returnStatus = 127
				fmt.Fprintf(output, "%v", err)
			}
		}
		q.mu.Lock()
		t.process = nil
		q.mu.Unlock()
	}
	finished := q.clk.Now()

	receiveStart := q.clk.Now()
	var bytesReceived int64
	var digests []OutputDigest
	for _, out := range t.spec.Outputs {
		if out.Directory {
			continue
		}
		digest, size, kind, err := digestFile(out.LocalPath)
		if err != nil {
			q.Debugf("Task %d did not produce output %q: %v", t.id, out.LocalPath, err)
			continue
		}
		bytesReceived += size
		digests = append(digests, OutputDigest{Path: out.LocalPath, Digest: digest, Kind: kind})
	}
	bytesReceived += int64(output.Len())
	receiveMicros := q.clk.Since(receiveStart).Microseconds()

	q.mu.Lock()
	q.stats.TotalSendTime += sendMicros
	q.stats.TotalReceiveTime += receiveMicros
	q.stats.TotalBytesSent += bytesSent
	q.stats.TotalBytesReceived += bytesReceived
	q.mu.Unlock()

	return &Result{
		TaskID:        t.id,
		Command:       t.spec.Command,
		SubmitTime:    t.submitMicros,
		FinishTime:    finished.UnixMicro(),
		ExecutionTime: finished.Sub(started).Microseconds(),
		ReturnStatus:  returnStatus,
		Output:        output.String(),
		Outputs:       digests,
	}
}

// acceptLoop accepts and drops worker connections. Execution happens on the
// local pool, so remote workers have nothing to pick up; the open port keeps
// the queue discoverable.
func (q *LocalQueue) acceptLoop() {
	defer q.wg.Done()
	for {
		conn, err := q.listener.Accept()
		if err != nil {
			select {
			case <-q.stopC:
			default:
				q.Tracef("Work queue listener closed: %v", err)
			}
			return
		}
		q.Tracef("Ignoring worker connection from %s", conn.RemoteAddr())
		conn.Close()
	}
}

// transition records a task state change to the transaction log and, when
// debug is enabled, the daemon log. Callers must hold mu.
func (q *LocalQueue) transition(t *task, state string, detail string) {
	if q.config.Debug {
		q.Debugf("Task %d -> %s %s", t.id, state, detail)
	}
	if q.txnLog == nil {
		return
	}
	line := fmt.Sprintf("%d TASK %d %s %d %s\n", q.clk.Now().UnixMicro(), t.id, state, t.spec.Priority, detail)
	_, err := q.txnLog.WriteString(line)
	if err != nil {
		q.Warnf("Failed to write to work queue transaction log: %v", err)
	}
}

// digestFile returns the BLAKE2b-256 digest, size and sniffed media type of
// the file at path.
func digestFile(path string) (digest string, size int64, kind string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, "", errors.Wrap(err, "error opening output file")
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return "", 0, "", errors.Wrap(err, "error examining output file")
	}
	if info.IsDir() {
		return "", 0, "", errors.Errorf("error output file %q is a directory", path)
	}
	hasher, err := blake2b.New256(nil)
	if err != nil {
		return "", 0, "", errors.Wrap(err, "error creating output hasher")
	}
	countingReader := util.NewCountingReader(file)
	hashingReader := io.TeeReader(countingReader, hasher)

	headerRead := 0
	header := make([]byte, fileTypeHeaderLength)
	for headerRead < len(header) {
		n, err := hashingReader.Read(header[headerRead:])
		headerRead += n
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", 0, "", errors.Wrap(err, "error reading output file header")
		}
	}
	matched, err := filetype.Match(header[:headerRead])
	if err != nil {
		return "", 0, "", errors.Wrap(err, "error determining output file type")
	}
	kind = matched.MIME.Value
	if kind == "" {
		kind = "application/octet-stream"
	}
	_, err = io.Copy(io.Discard, hashingReader)
	if err != nil {
		return "", 0, "", errors.Wrap(err, "error reading output file")
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), int64(countingReader.Count()), kind, nil
}

// cappedBuffer keeps the first max bytes written to it and silently
// discards the rest.
type cappedBuffer struct {
	max int
	buf []byte
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if remaining := b.max - len(b.buf); remaining > 0 {
		if len(p) > remaining {
			b.buf = append(b.buf, p[:remaining]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) Len() int {
	return len(b.buf)
}

func (b *cappedBuffer) String() string {
	return string(b.buf)
}
