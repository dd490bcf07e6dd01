package rest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lyonslab/yerba/common/gerror"
	"github.com/lyonslab/yerba/common/logger"
	"github.com/lyonslab/yerba/common/models"
	"github.com/lyonslab/yerba/server/api/msg"
	"github.com/lyonslab/yerba/server/api/msg/documents"
)

// Engine is the slice of the daemon the monitor reads through. Do routes a
// request onto the engine goroutine alongside the socket clients' requests
// and returns the response document.
type Engine interface {
	Do(ctx context.Context, route string, data interface{}) (interface{}, error)
}

// WorkflowAPI serves the monitor's read-only workflow endpoints. Every
// response is the same document the message socket would return for the
// equivalent request.
type WorkflowAPI struct {
	*APIBase
	engine Engine
}

func NewWorkflowAPI(engine Engine, logFactory logger.LogFactory) *WorkflowAPI {
	return &WorkflowAPI{
		APIBase: NewAPIBase(logFactory("WorkflowAPI")),
		engine:  engine,
	}
}

func (a *WorkflowAPI) Health(w http.ResponseWriter, r *http.Request) {
	response, err := a.engine.Do(r.Context(), msg.RouteHealth, nil)
	if err != nil {
		a.Error(w, r, err)
		return
	}
	a.JSON(w, r, response)
}

func (a *WorkflowAPI) List(w http.ResponseWriter, r *http.Request) {
	response, err := a.engine.Do(r.Context(), msg.RouteWorkflows, &documents.WorkflowsRequest{})
	if err != nil {
		a.Error(w, r, err)
		return
	}
	a.JSON(w, r, response)
}

func (a *WorkflowAPI) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "workflow_id"), 10, 64)
	if err != nil {
		a.Error(w, r, gerror.NewErrValidationFailed("The workflow id must be an integer."))
		return
	}
	response, err := a.engine.Do(r.Context(), msg.RouteGetStatus, &documents.IDRequest{ID: models.WorkflowID(id)})
	if err != nil {
		a.Error(w, r, err)
		return
	}
	a.JSON(w, r, response)
}
