// Package executor persists the valid records of a batch, one transaction per
// record, so a single bad record never blocks its neighbours.
package executor

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	batchdomain "github.com/fleetdesk/fleetdesk/internal/batch/domain"
	driverdomain "github.com/fleetdesk/fleetdesk/internal/driver/domain"
	"github.com/fleetdesk/fleetdesk/internal/observability/metrics"
	"github.com/fleetdesk/fleetdesk/internal/upload/decoder"
	"github.com/fleetdesk/fleetdesk/internal/upload/notify"
	"github.com/fleetdesk/fleetdesk/internal/upload/validate"
)

// State survives retry attempts of the same batch so records persisted in an
// earlier attempt are neither re-inserted nor double-counted.
type State struct {
	done         map[string]bool
	validCount   int
	invalidCount int
	cancelled    bool
}

func NewState() *State {
	return &State{done: make(map[string]bool)}
}

func (s *State) Counts() (valid, invalid int) {
	return s.validCount, s.invalidCount
}

// Cancelled reports whether the batch was cancelled mid-run.
func (s *State) Cancelled() bool {
	return s.cancelled
}

func recordKey(rec *validate.RowRecord) string {
	if rec.RefID != "" {
		return rec.RefID
	}
	return fmt.Sprintf("row:%d", rec.Row)
}

type ExecutorParam struct {
	fx.In

	Log     *zap.Logger
	Drivers driverdomain.Repository
	Batches batchdomain.Service
	Hub     *notify.Hub
	GenID   *snowflake.Node
}

type Executor struct {
	log     *zap.Logger
	drivers driverdomain.Repository
	batches batchdomain.Service
	hub     *notify.Hub
	genID   *snowflake.Node
}

func New(p ExecutorParam) *Executor {
	return &Executor{
		log:     p.Log.Named("upload.executor"),
		drivers: p.Drivers,
		batches: p.Batches,
		hub:     p.Hub,
		genID:   p.GenID,
	}
}

// Persist walks every record: valid ones are inserted in their own
// transaction, invalid ones are only counted. A persistence failure demotes
// the record to invalid and the walk continues. The ledger is updated after
// each record so progress survives a crash mid-batch.
//
// Returned errors are infrastructure failures (ledger writes, status reads)
// worth retrying; record-level failures never surface here.
func (e *Executor) Persist(ctx context.Context, batch *batchdomain.Batch, records []*validate.RowRecord, state *State) error {
	total := len(records)

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if state.done[recordKey(rec)] {
			continue
		}

		cancelled, err := e.cancellationRequested(ctx, batch.ID)
		if err != nil {
			return err
		}
		if cancelled {
			state.cancelled = true
			e.log.Info("cancellation requested, stopping batch",
				zap.String("batch_id", batch.ID),
				zap.Int("processed", state.validCount+state.invalidCount),
			)
			return nil
		}

		if rec.Status == validate.StatusValid {
			if err := e.persistRecord(ctx, batch, rec); err != nil {
				// Demote and keep going; the row error lands in the report.
				rec.AddError(validate.FieldError{
					Sheet: decoder.SheetDrivers, Row: rec.Row, RefID: rec.RefID,
					Field:   decoder.ColRefID,
					Code:    validate.CodePersistenceFailed,
					Message: "record could not be saved",
				})
				e.log.Warn("record persistence failed",
					zap.String("batch_id", batch.ID),
					zap.String("ref_id", rec.RefID),
					zap.Error(err),
				)
			}
		}

		validDelta, invalidDelta := 0, 1
		if rec.Status == validate.StatusValid {
			validDelta, invalidDelta = 1, 0
		}
		if err := e.batches.AddRowOutcome(ctx, batch.ID, validDelta, invalidDelta); err != nil {
			return fmt.Errorf("record row outcome: %w", err)
		}

		state.done[recordKey(rec)] = true
		state.validCount += validDelta
		state.invalidCount += invalidDelta
		metrics.Pipeline().AddRowsProcessed(string(rec.Status), 1)

		e.hub.Publish(batch.ID, notify.ProgressEvent{
			Event:        notify.EventRow,
			RefID:        rec.RefID,
			RowStatus:    string(rec.Status),
			ValidCount:   state.validCount,
			InvalidCount: state.invalidCount,
			TotalRows:    total,
		})
	}
	return nil
}

func (e *Executor) cancellationRequested(ctx context.Context, batchID string) (bool, error) {
	current, err := e.batches.Get(ctx, batchID)
	if err != nil {
		return false, fmt.Errorf("read batch status: %w", err)
	}
	return current.Status == batchdomain.BatchStatusCancelling, nil
}

func (e *Executor) persistRecord(ctx context.Context, batch *batchdomain.Batch, rec *validate.RowRecord) error {
	agg := e.buildAggregate(batch, rec)
	return e.drivers.CreateAggregate(ctx, agg)
}

func (e *Executor) buildAggregate(batch *batchdomain.Batch, rec *validate.RowRecord) *driverdomain.Aggregate {
	driverID := e.genID.Generate()

	agg := &driverdomain.Aggregate{
		Driver: driverdomain.Driver{
			ID:                  driverID,
			FirstName:           rec.FirstName,
			LastName:            rec.LastName,
			Phone:               rec.Phone,
			Email:               rec.Email,
			DateOfBirth:         rec.DateOfBirth,
			VehicleRegistration: rec.VehicleRegistration,
			UploadBatchID:       batch.ID,
			UploadRefID:         rec.RefID,
		},
	}
	for _, addr := range rec.Addresses {
		agg.Addresses = append(agg.Addresses, driverdomain.DriverAddress{
			ID:            e.genID.Generate(),
			DriverID:      driverID,
			AddressTypeID: addr.AddressTypeID,
			Line1:         addr.Line1,
			Line2:         addr.Line2,
			City:          addr.City,
			State:         addr.State,
			PostalCode:    addr.PostalCode,
			IsPrimary:     addr.IsPrimary,
		})
	}
	for _, doc := range rec.Documents {
		agg.Documents = append(agg.Documents, driverdomain.DriverDocument{
			ID:             e.genID.Generate(),
			DriverID:       driverID,
			DocumentTypeID: doc.DocumentTypeID,
			Number:         doc.Number,
			IssuedAt:       doc.IssuedAt,
			ExpiresAt:      doc.ExpiresAt,
		})
	}
	for _, emp := range rec.Employment {
		agg.Employment = append(agg.Employment, driverdomain.DriverEmployment{
			ID:        e.genID.Generate(),
			DriverID:  driverID,
			Employer:  emp.Employer,
			Role:      emp.Role,
			StartedAt: emp.StartedAt,
			EndedAt:   emp.EndedAt,
		})
	}
	for _, inc := range rec.Incidents {
		agg.Incidents = append(agg.Incidents, driverdomain.DriverIncident{
			ID:          e.genID.Generate(),
			DriverID:    driverID,
			OccurredAt:  inc.OccurredAt,
			Description: inc.Description,
			Severity:    inc.Severity,
		})
	}
	return agg
}
