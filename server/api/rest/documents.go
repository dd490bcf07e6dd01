package rest

import (
	"github.com/lyonslab/yerba/common/gerror"
	"github.com/lyonslab/yerba/common/models"
)

// ErrorDocument is a standard error representation returned by the API
type ErrorDocument struct {
	Code           gerror.Code                      `json:"code"`
	HTTPStatusCode int                              `json:"http_status_code"`
	Message        string                           `json:"message"`
	Details        map[gerror.DetailKey]interface{} `json:"details"`
}

// WorkflowEvent is the payload of one event stream entry, published every
// time a workflow's status moves.
type WorkflowEvent struct {
	ID     models.WorkflowID `json:"id"`
	Status string            `json:"status"`
}
