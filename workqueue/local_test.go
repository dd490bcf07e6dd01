package workqueue

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/lyonslab/yerba/common/logger"
)

func newTestQueue(t *testing.T, workers int) (*LocalQueue, string) {
	logRegistry, err := logger.NewLogRegistry("")
	require.Nil(t, err)
	logFactory := logger.MakeLogrusLogFactoryStdOut(logRegistry)
	txnLogPath := filepath.Join(t.TempDir(), "queue.txn")
	queue, err := NewLocalQueue(Config{
		Project: "yerba-test",
		Port:    -1,
		Workers: workers,
		LogPath: txnLogPath,
	}, clock.New(), logFactory)
	require.Nil(t, err)
	return queue, txnLogPath
}

// makeLatch returns a command that blocks until releaseLatch is called, by
// polling for a flag file. It keeps queue tests deterministic without timing
// assumptions.
func makeLatch(t *testing.T) (command string, release func()) {
	flagPath := filepath.Join(t.TempDir(), "latch.flag")
	command = fmt.Sprintf("while [ ! -f %q ]; do sleep 0.01; done", flagPath)
	release = func() {
		err := os.WriteFile(flagPath, []byte("go"), 0600)
		require.Nil(t, err)
	}
	return command, release
}

func waitForStats(t *testing.T, queue *LocalQueue, check func(Stats) bool) {
	require.Eventually(t, func() bool {
		return check(queue.Stats())
	}, 10*time.Second, 5*time.Millisecond)
}

func TestLocalQueueRunsTask(t *testing.T) {
	queue, _ := newTestQueue(t, 2)
	defer queue.Shutdown()

	id, err := queue.Submit(TaskSpec{Command: "echo hello from the queue"})
	require.Nil(t, err)

	result := queue.Wait(10 * time.Second)
	require.NotNil(t, result)
	assert.Equal(t, id, result.TaskID)
	assert.Equal(t, "echo hello from the queue", result.Command)
	assert.Equal(t, 0, result.ReturnStatus)
	assert.Contains(t, result.Output, "hello from the queue")
	assert.True(t, result.FinishTime >= result.SubmitTime)
	assert.True(t, result.ExecutionTime >= 0)

	stats := queue.Stats()
	assert.Equal(t, 1, stats.TotalTasksComplete)
	assert.Equal(t, 1, stats.TotalTasksDispatched)
	assert.Equal(t, 0, stats.TasksRunning)
}

func TestLocalQueueReturnStatus(t *testing.T) {
	queue, _ := newTestQueue(t, 1)
	defer queue.Shutdown()

	_, err := queue.Submit(TaskSpec{Command: "exit 3"})
	require.Nil(t, err)

	result := queue.Wait(10 * time.Second)
	require.NotNil(t, result)
	assert.Equal(t, 3, result.ReturnStatus)
}

func TestLocalQueueOutputDigests(t *testing.T) {
	workDir := t.TempDir()
	inputPath := filepath.Join(workDir, "in.txt")
	outputPath := filepath.Join(workDir, "out.txt")
	content := []byte("the quick brown fox\n")
	require.Nil(t, os.WriteFile(inputPath, content, 0600))

	queue, _ := newTestQueue(t, 1)
	defer queue.Shutdown()

	_, err := queue.Submit(TaskSpec{
		Command: fmt.Sprintf("cat %q > %q", inputPath, outputPath),
		Inputs:  []FileSpec{{LocalPath: inputPath, RemoteName: "in.txt", Cache: true}},
		Outputs: []FileSpec{{LocalPath: outputPath, RemoteName: "out.txt"}},
	})
	require.Nil(t, err)

	result := queue.Wait(10 * time.Second)
	require.NotNil(t, result)
	require.Equal(t, 0, result.ReturnStatus)
	require.Len(t, result.Outputs, 1)
	expected := blake2b.Sum256(content)
	assert.Equal(t, outputPath, result.Outputs[0].Path)
	assert.Equal(t, fmt.Sprintf("%x", expected), result.Outputs[0].Digest)
	assert.Equal(t, "application/octet-stream", result.Outputs[0].Kind)

	stats := queue.Stats()
	assert.Equal(t, int64(len(content)), stats.TotalBytesSent)
	assert.True(t, stats.TotalBytesReceived >= int64(len(content)))
}

func TestLocalQueueMissingOutput(t *testing.T) {
	queue, _ := newTestQueue(t, 1)
	defer queue.Shutdown()

	_, err := queue.Submit(TaskSpec{
		Command: "true",
		Outputs: []FileSpec{{LocalPath: filepath.Join(t.TempDir(), "never-made.txt"), RemoteName: "never-made.txt"}},
	})
	require.Nil(t, err)

	result := queue.Wait(10 * time.Second)
	require.NotNil(t, result)
	assert.Equal(t, 0, result.ReturnStatus)
	assert.Empty(t, result.Outputs)
}

func TestLocalQueuePriorityOrder(t *testing.T) {
	queue, _ := newTestQueue(t, 1)
	defer queue.Shutdown()

	blocker, release := makeLatch(t)
	blockerID, err := queue.Submit(TaskSpec{Command: blocker, Priority: 100})
	require.Nil(t, err)
	waitForStats(t, queue, func(stats Stats) bool { return stats.TasksRunning == 1 })

	lowID, err := queue.Submit(TaskSpec{Command: "echo low", Priority: 1})
	require.Nil(t, err)
	highID, err := queue.Submit(TaskSpec{Command: "echo high", Priority: 10})
	require.Nil(t, err)
	release()

	var order []TaskID
	for i := 0; i < 3; i++ {
		result := queue.Wait(10 * time.Second)
		require.NotNil(t, result)
		order = append(order, result.TaskID)
	}
	assert.Equal(t, []TaskID{blockerID, highID, lowID}, order)
}

func TestLocalQueueCancelPending(t *testing.T) {
	queue, _ := newTestQueue(t, 1)
	defer queue.Shutdown()

	blocker, release := makeLatch(t)
	blockerID, err := queue.Submit(TaskSpec{Command: blocker})
	require.Nil(t, err)
	waitForStats(t, queue, func(stats Stats) bool { return stats.TasksRunning == 1 })

	pendingID, err := queue.Submit(TaskSpec{Command: "echo never"})
	require.Nil(t, err)
	assert.True(t, queue.Cancel(pendingID))
	assert.False(t, queue.Cancel(pendingID))
	release()

	result := queue.Wait(10 * time.Second)
	require.NotNil(t, result)
	assert.Equal(t, blockerID, result.TaskID)
	assert.Nil(t, queue.Wait(200*time.Millisecond))
	assert.Equal(t, 1, queue.Stats().TotalTasksComplete)
}

func TestLocalQueueCancelRunning(t *testing.T) {
	queue, _ := newTestQueue(t, 1)
	defer queue.Shutdown()

	blocker, _ := makeLatch(t)
	id, err := queue.Submit(TaskSpec{Command: blocker})
	require.Nil(t, err)
	waitForStats(t, queue, func(stats Stats) bool { return stats.TasksRunning == 1 })

	assert.True(t, queue.Cancel(id))
	waitForStats(t, queue, func(stats Stats) bool { return stats.TasksRunning == 0 })
	assert.Nil(t, queue.Wait(200*time.Millisecond))
	assert.Equal(t, 0, queue.Stats().TotalTasksComplete)
	assert.False(t, queue.Cancel(id))
}

func TestLocalQueueWaitTimeout(t *testing.T) {
	queue, _ := newTestQueue(t, 1)
	defer queue.Shutdown()

	assert.Nil(t, queue.Wait(0))
	start := time.Now()
	assert.Nil(t, queue.Wait(50*time.Millisecond))
	assert.True(t, time.Since(start) >= 50*time.Millisecond)
}

func TestLocalQueuePortIsReachable(t *testing.T) {
	queue, _ := newTestQueue(t, 1)
	defer queue.Shutdown()

	require.True(t, queue.Port() > 0)
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", queue.Port()))
	require.Nil(t, err)
	conn.Close()
}

func TestLocalQueueShutdown(t *testing.T) {
	queue, _ := newTestQueue(t, 1)

	blocker, _ := makeLatch(t)
	_, err := queue.Submit(TaskSpec{Command: blocker})
	require.Nil(t, err)
	waitForStats(t, queue, func(stats Stats) bool { return stats.TasksRunning == 1 })
	_, err = queue.Submit(TaskSpec{Command: "echo pending"})
	require.Nil(t, err)

	queue.Shutdown()

	_, err = queue.Submit(TaskSpec{Command: "echo rejected"})
	require.NotNil(t, err)
	_, err = net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", queue.Port()))
	require.NotNil(t, err)

	// Shutdown is idempotent
	queue.Shutdown()
}

func TestLocalQueueTransactionLog(t *testing.T) {
	queue, txnLogPath := newTestQueue(t, 1)

	id, err := queue.Submit(TaskSpec{Command: "echo logged"})
	require.Nil(t, err)
	result := queue.Wait(10 * time.Second)
	require.NotNil(t, result)
	queue.Shutdown()

	buf, err := os.ReadFile(txnLogPath)
	require.Nil(t, err)
	log := string(buf)
	assert.Contains(t, log, fmt.Sprintf("TASK %d WAITING", id))
	assert.Contains(t, log, fmt.Sprintf("TASK %d RUNNING", id))
	assert.Contains(t, log, fmt.Sprintf("TASK %d DONE", id))
}

func TestDigestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	content := []byte(strings.Repeat("yerba ", 1000))
	require.Nil(t, os.WriteFile(path, content, 0600))

	digest, size, kind, err := digestFile(path)
	require.Nil(t, err)
	expected := blake2b.Sum256(content)
	assert.Equal(t, fmt.Sprintf("%x", expected), digest)
	assert.Equal(t, int64(len(content)), size)
	assert.Equal(t, "application/octet-stream", kind)

	_, _, _, err = digestFile(filepath.Join(t.TempDir(), "missing.bin"))
	require.NotNil(t, err)
}
