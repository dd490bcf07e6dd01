package gerror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hashicorp/go-multierror"

	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	err := NewErrAlreadyExists("workflow already exists")
	err = err.Wrap(fmt.Errorf("i'm a scary internal error"))
	require.Equal(t, "workflow already exists: i'm a scary internal error", err.Error())
	require.Equal(t, "workflow already exists", err.Message())

	err = err.EDetail("workflow_id", 7)
	require.Equal(t, "workflow already exists [workflow_id=7]: i'm a scary internal error", err.Error())
	require.Equal(t, "workflow already exists", err.Message())

	err = err.Wrap(NewErrNotFound("workflow does not exist").EDetail("id", 8).Wrap(fmt.Errorf("i'm a scary internal error")))
	require.Equal(t, "workflow already exists [workflow_id=7]: workflow does not exist [id=8]: i'm a scary internal error", err.Error())
	require.Equal(t, "workflow already exists", err.Message())
}

func TestMultiError(t *testing.T) {
	// Compose a multierror with our tested error in the middle
	var results *multierror.Error

	results = multierror.Append(results, fmt.Errorf("error 1: %w", errors.New("1")))
	results = multierror.Append(results, NewErrQueueUnavailable("work queue could not be started", errors.New("2")))
	results = multierror.Append(results, fmt.Errorf("error 3: %w", errors.New("3")))

	// Assert that our Is chaining returns an error in the middle of the chain
	err := results.ErrorOrNil()
	require.True(t, IsQueueUnavailable(err))

	// Wrap up the above error with another multierror
	var outerResults *multierror.Error
	outerResults = multierror.Append(err, fmt.Errorf("outer error 1: %w", errors.New("11")))

	// And assert our Is chaining returns the error we are after.
	outerErr := outerResults.ErrorOrNil()
	require.True(t, IsQueueUnavailable(outerErr))
}
