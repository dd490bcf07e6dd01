package watch_ui

import (
	"fmt"

	"github.com/alessio/shellescape"
	"github.com/chelnak/ysmrr"

	"github.com/lyonslab/yerba/common/models"
	"github.com/lyonslab/yerba/server/api/msg/documents"
)

// jobSpinners maintains one spinner per job in the watched workflow. The
// set is created from the first status report; a workflow's job list never
// changes after submission.
type jobSpinners struct {
	manager  ysmrr.SpinnerManager
	spinners []*spinnerState
}

type spinnerState struct {
	spinner *ysmrr.Spinner
	// finished is true once the job reached a final state, so no further
	// text updates are accepted.
	finished bool
}

func newJobSpinners() *jobSpinners {
	return &jobSpinners{manager: ysmrr.NewSpinnerManager()}
}

// Update reconciles the spinner display with the latest status report.
func (s *jobSpinners) Update(report *documents.StatusReportResponse) {
	if s.spinners == nil && len(report.Jobs) > 0 {
		s.spinners = make([]*spinnerState, len(report.Jobs))
		for i := range report.Jobs {
			s.spinners[i] = &spinnerState{spinner: s.manager.AddSpinner("")}
		}
		s.manager.Start()
	}
	for i, job := range report.Jobs {
		if i >= len(s.spinners) {
			break
		}
		s.spinners[i].update(i, job)
	}
}

func (s *jobSpinners) Stop() {
	if s.spinners != nil {
		s.manager.Stop()
	}
}

func (st *spinnerState) update(index int, job map[string]interface{}) {
	if st.finished {
		return
	}
	status := jobField(job, "status")
	message := fmt.Sprintf("%s  %s", jobLabel(index, job), status)
	st.spinner.UpdateMessage(shellescape.StripUnsafe(message))
	switch models.JobState(status) {
	case models.JobStateCompleted, models.JobStateSkipped:
		st.spinner.Complete()
		st.finished = true
	case models.JobStateFailed, models.JobStateCancelled, models.JobStateStopped:
		st.spinner.Error()
		st.finished = true
	}
}
