package workflows

import (
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"golang.org/x/net/context"

	"github.com/lyonslab/yerba/common/gerror"
	"github.com/lyonslab/yerba/common/logger"
	"github.com/lyonslab/yerba/common/models"
	"github.com/lyonslab/yerba/server/store"
)

const tableName = "workflows"

type queryBuilder interface {
	ToSQL() (string, []interface{}, error)
}

type WorkflowStore struct {
	db *store.DB
	logger.Log
}

func NewStore(db *store.DB, logFactory logger.LogFactory) *WorkflowStore {
	return &WorkflowStore{
		db:  db,
		Log: logFactory("WorkflowStore"),
	}
}

// Create inserts a new workflow record and returns its assigned index.
func (d *WorkflowStore) Create(ctx context.Context, txOrNil *store.Tx, record *models.WorkflowRecord) (models.WorkflowID, error) {
	var id models.WorkflowID
	err := d.db.Write(txOrNil, func(writer store.Writer) error {
		insert := d.logInsert(writer.Insert(goqu.T(tableName)).Rows(record))
		if d.db.Driver == store.Postgres {
			found, err := insert.Returning(goqu.C("workflow_id")).Executor().ScanValContext(ctx, &id)
			if err != nil {
				return fmt.Errorf("error inserting workflow: %w", err)
			}
			if !found {
				return fmt.Errorf("error inserting workflow: no id returned")
			}
			return nil
		}
		result, err := insert.Executor().ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("error inserting workflow: %w", err)
		}
		lastID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("error reading inserted workflow id: %w", err)
		}
		id = models.WorkflowID(lastID)
		return nil
	})
	if err != nil {
		return 0, store.MakeStandardDBError(err)
	}
	record.ID = id
	return id, nil
}

// Get reads an existing workflow record by its index.
// Returns a NotFound error if the workflow does not exist.
func (d *WorkflowStore) Get(ctx context.Context, txOrNil *store.Tx, id models.WorkflowID) (*models.WorkflowRecord, error) {
	record := &models.WorkflowRecord{}
	found := false
	err := d.db.Read(txOrNil, func(reader store.Reader) error {
		query, args, err := d.logSelect(reader.From(tableName).
			Select(record).
			Where(goqu.Ex{"workflow_id": id})).ToSQL()
		if err != nil {
			return fmt.Errorf("error generating query: %w", err)
		}
		found, err = reader.ScanStructContext(ctx, record, query, args...)
		return err
	})
	if err != nil {
		return nil, store.MakeStandardDBError(err)
	}
	if !found {
		return nil, gerror.NewErrNotFound(models.StatusNotFound.Message(id))
	}
	return record, nil
}

// FindByJobs looks up the most recent workflow whose canonical jobs blob
// matches exactly. This is the resubmission check: a workflow submitted
// twice maps onto one record.
// Returns a NotFound error if no workflow matches.
func (d *WorkflowStore) FindByJobs(ctx context.Context, txOrNil *store.Tx, jobs []byte) (*models.WorkflowRecord, error) {
	record := &models.WorkflowRecord{}
	found := false
	err := d.db.Read(txOrNil, func(reader store.Reader) error {
		query, args, err := d.logSelect(reader.From(tableName).
			Select(record).
			Where(goqu.Ex{"workflow_jobs": jobs}).
			Order(goqu.C("workflow_id").Desc()).
			Limit(1)).ToSQL()
		if err != nil {
			return fmt.Errorf("error generating query: %w", err)
		}
		found, err = reader.ScanStructContext(ctx, record, query, args...)
		return err
	})
	if err != nil {
		return nil, store.MakeStandardDBError(err)
	}
	if !found {
		return nil, gerror.NewErrNotFound("No workflow matches the submitted jobs")
	}
	return record, nil
}

// Update refreshes a workflow's definition from a re-submission. Only the
// name, logfile, jobs and priority columns change; the status and timestamps
// are not touched.
// Returns a NotFound error if the workflow does not exist.
func (d *WorkflowStore) Update(ctx context.Context, txOrNil *store.Tx, record *models.WorkflowRecord) error {
	var affected int64
	err := d.db.Write(txOrNil, func(writer store.Writer) error {
		result, err := d.logUpdate(writer.Update(goqu.T(tableName)).
			Set(goqu.Record{
				"workflow_name":     record.Name,
				"workflow_logfile":  record.Logfile,
				"workflow_jobs":     record.Jobs,
				"workflow_priority": record.Priority,
			}).
			Where(goqu.Ex{"workflow_id": record.ID})).
			Executor().ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("error updating workflow: %w", err)
		}
		affected, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("error reading rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return store.MakeStandardDBError(err)
	}
	if affected == 0 {
		return gerror.NewErrNotFound(models.StatusNotFound.Message(record.ID))
	}
	return nil
}

// UpdateStatus records a workflow's new status. Terminal statuses also set
// the completion timestamp.
// Returns a NotFound error if the workflow does not exist.
func (d *WorkflowStore) UpdateStatus(ctx context.Context, txOrNil *store.Tx, id models.WorkflowID, status models.Status) error {
	updates := goqu.Record{"workflow_status": status}
	if status.Terminal() {
		updates["workflow_completed"] = models.NewTime(time.Now())
	}
	var affected int64
	err := d.db.Write(txOrNil, func(writer store.Writer) error {
		result, err := d.logUpdate(writer.Update(goqu.T(tableName)).
			Set(updates).
			Where(goqu.Ex{"workflow_id": id})).
			Executor().ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("error updating workflow status: %w", err)
		}
		affected, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("error reading rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return store.MakeStandardDBError(err)
	}
	if affected == 0 {
		return gerror.NewErrNotFound(models.StatusNotFound.Message(id))
	}
	return nil
}

// GetStatus reads the stored status of a workflow.
// Returns a NotFound error if the workflow does not exist.
func (d *WorkflowStore) GetStatus(ctx context.Context, txOrNil *store.Tx, id models.WorkflowID) (models.Status, error) {
	var status models.Status
	found := false
	err := d.db.Read(txOrNil, func(reader store.Reader) error {
		query, args, err := d.logSelect(reader.From(tableName).
			Select(goqu.C("workflow_status")).
			Where(goqu.Ex{"workflow_id": id})).ToSQL()
		if err != nil {
			return fmt.Errorf("error generating query: %w", err)
		}
		found, err = reader.ScanValContext(ctx, &status, query, args...)
		return err
	})
	if err != nil {
		return models.StatusError, store.MakeStandardDBError(err)
	}
	if !found {
		return models.StatusNotFound, gerror.NewErrNotFound(models.StatusNotFound.Message(id))
	}
	return status, nil
}

// Fetch lists stored workflows in submission order. When ids are given the
// listing is limited to those workflows; an empty set means all workflows.
func (d *WorkflowStore) Fetch(ctx context.Context, txOrNil *store.Tx, ids []models.WorkflowID) ([]*models.WorkflowSummary, error) {
	var summaries []*models.WorkflowSummary
	err := d.db.Read(txOrNil, func(reader store.Reader) error {
		dataset := reader.From(tableName).
			Select(&models.WorkflowSummary{}).
			Order(goqu.C("workflow_id").Asc())
		if len(ids) > 0 {
			dataset = dataset.Where(goqu.C("workflow_id").In(ids))
		}
		query, args, err := d.logSelect(dataset).ToSQL()
		if err != nil {
			return fmt.Errorf("error generating query: %w", err)
		}
		return reader.ScanStructsContext(ctx, &summaries, query, args...)
	})
	if err != nil {
		return nil, store.MakeStandardDBError(err)
	}
	return summaries, nil
}

// StopAll marks every workflow that was still live as stopped, recording
// completion now. Run at startup to resolve workflows orphaned by the
// previous daemon process. Returns the number of workflows stopped.
func (d *WorkflowStore) StopAll(ctx context.Context, txOrNil *store.Tx) (int64, error) {
	var affected int64
	err := d.db.Write(txOrNil, func(writer store.Writer) error {
		result, err := d.logUpdate(writer.Update(goqu.T(tableName)).
			Set(goqu.Record{
				"workflow_status":    models.StatusStopped,
				"workflow_completed": models.NewTime(time.Now()),
			}).
			Where(goqu.C("workflow_status").In(
				models.StatusInitialized,
				models.StatusScheduled,
				models.StatusRunning,
			))).
			Executor().ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("error stopping live workflows: %w", err)
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, store.MakeStandardDBError(err)
	}
	return affected, nil
}

// SetStartIndex seeds the workflow index sequence so that the next
// workflow is assigned index+1. Only applied while the table is empty;
// once any workflow exists the call is a no-op.
func (d *WorkflowStore) SetStartIndex(ctx context.Context, txOrNil *store.Tx, index int64) error {
	if index <= 0 {
		return nil
	}
	return d.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		var count int64
		err := d.db.Read(tx, func(reader store.Reader) error {
			query, args, err := d.logSelect(reader.From(tableName).Select(goqu.COUNT("*"))).ToSQL()
			if err != nil {
				return fmt.Errorf("error generating query: %w", err)
			}
			_, err = reader.ScanValContext(ctx, &count, query, args...)
			return err
		})
		if err != nil {
			return store.MakeStandardDBError(err)
		}
		if count > 0 {
			return nil
		}
		return d.db.Write(tx, func(writer store.Writer) error {
			switch d.db.Driver {
			case store.Sqlite:
				_, err := writer.ExecContext(ctx, "DELETE FROM SQLITE_SEQUENCE WHERE name = ?", tableName)
				if err != nil {
					return fmt.Errorf("error clearing workflow sequence: %w", err)
				}
				_, err = writer.ExecContext(ctx, "INSERT INTO SQLITE_SEQUENCE (name, seq) VALUES (?, ?)", tableName, index)
				if err != nil {
					return fmt.Errorf("error seeding workflow sequence: %w", err)
				}
				return nil
			case store.Postgres:
				_, err := writer.ExecContext(ctx,
					fmt.Sprintf("ALTER SEQUENCE %s_workflow_id_seq RESTART WITH %d", tableName, index+1))
				if err != nil {
					return fmt.Errorf("error seeding workflow sequence: %w", err)
				}
				return nil
			default:
				return fmt.Errorf("error unsupported database driver: %s", d.db.Driver)
			}
		})
	})
}

// logSelect logs a select query via the configured logger.
func (d *WorkflowStore) logSelect(ds *goqu.SelectDataset) *goqu.SelectDataset {
	d.logQuery(ds)
	return ds
}

// logInsert logs an insert query via the configured logger.
func (d *WorkflowStore) logInsert(ds *goqu.InsertDataset) *goqu.InsertDataset {
	d.logQuery(ds)
	return ds
}

// logUpdate logs an update query via the configured logger.
func (d *WorkflowStore) logUpdate(ds *goqu.UpdateDataset) *goqu.UpdateDataset {
	d.logQuery(ds)
	return ds
}

// logQuery generates and logs the raw SQL of a query to the configured logger.
func (d *WorkflowStore) logQuery(ds queryBuilder) {
	query, args, err := ds.ToSQL()
	if err != nil {
		d.Errorf("Error generating query: %v", err)
		return
	}
	d.WithFields(logger.Fields{"query": query, "args": args}).Trace()
}
