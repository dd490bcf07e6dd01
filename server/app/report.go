package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/lyonslab/yerba/common/models"
	"github.com/lyonslab/yerba/common/util"
)

const bytesPerMegabyte = 1048576.0

// report logs the periodic operational report: host load and memory, the
// work queue's lifetime counters, and the status of every live workflow.
// The format is kept exactly as operators' log scrapers expect it,
// misspellings included.
func (e *Engine) report() {
	loads, err := util.LoadAvg()
	if err != nil {
		e.Warnf("Failed to read load averages: %v", err)
		loads = [3]float64{}
	}
	memory, err := util.MemInfo()
	if err != nil {
		e.Warnf("Failed to read memory info: %v", err)
	}
	stats := e.queue.Stats()

	var b strings.Builder
	fmt.Fprintf(&b, "\n---- System Info---\n")
	fmt.Fprintf(&b, "--CPU LOAD: %v %v %v\n", loads[0], loads[1], loads[2])
	fmt.Fprintf(&b, "--Total Memory Avaible %d\n", memory["MemTotal"])
	fmt.Fprintf(&b, "--Memory Free %d\n", memory["MemFree"])
	fmt.Fprintf(&b, "---- Work Queue Info --\n")
	fmt.Fprintf(&b, "--The work queue started on %s\n", time.UnixMicro(stats.StartTime).Format(models.InfoTimeFormat))
	fmt.Fprintf(&b, "--The total time sending data to workers is %d\n", stats.TotalSendTime)
	fmt.Fprintf(&b, "--The total time spent recieving data from the workers is %d\n", stats.TotalReceiveTime)
	fmt.Fprintf(&b, "--The total number of MB sent is %v\n", float64(stats.TotalBytesSent)/bytesPerMegabyte)
	fmt.Fprintf(&b, "--The total number of MB recieved is %v\n", float64(stats.TotalBytesReceived)/bytesPerMegabyte)
	fmt.Fprintf(&b, "--The total number of workers joined %d\n", stats.TotalWorkersJoined)
	fmt.Fprintf(&b, "--The total number of workers removed is %d\n", stats.TotalWorkersRemoved)
	fmt.Fprintf(&b, "--The total number of tasks completed is %d\n", stats.TotalTasksComplete)
	fmt.Fprintf(&b, "--The total number of tasks dispatched is %d\n", stats.TotalTasksDispatched)
	fmt.Fprintf(&b, "----- Task info --\n")
	fmt.Fprintf(&b, "--There are %d tasks waiting\n", stats.TasksWaiting)
	fmt.Fprintf(&b, "--There are %d tasks completed\n", stats.TasksComplete)
	fmt.Fprintf(&b, "--There are %d tasks running\n", stats.TasksRunning)
	fmt.Fprintf(&b, "---- Worker info --\n")
	fmt.Fprintf(&b, "--There are %d workers initializing\n", stats.WorkersInit)
	fmt.Fprintf(&b, "--There are %d workers ready\n", stats.WorkersReady)
	fmt.Fprintf(&b, "--There are %d workers busy\n", stats.WorkersBusy)
	fmt.Fprintf(&b, "--There are %d workers full\n", stats.WorkersFull)

	b.WriteString("INTERNAL STATE CHECK\n----WORKFLOW STATUS--\n")
	snapshot := e.workflows.Snapshot()
	if len(snapshot) == 0 {
		b.WriteString("--No workflows found\n")
	} else {
		for _, workflow := range snapshot {
			fmt.Fprintf(&b, "--WORKFLOW (status = %s): %d (%s)\n", workflow.Status.Name(), workflow.ID, workflow.Message)
		}
	}
	e.Debug(b.String())
}
