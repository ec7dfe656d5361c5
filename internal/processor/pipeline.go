package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xaenox/teams-extractor/internal/classifier"
	"github.com/xaenox/teams-extractor/internal/forwarder"
	"github.com/xaenox/teams-extractor/internal/models"
	"github.com/xaenox/teams-extractor/internal/storage"
)

// Pipeline advances ingested resolutions through the record state
// machine: received -> processed | agent_error | failed, then
// processed -> forwarded | n8n_error. Ingest returns as soon as the
// record is persisted; classification and forwarding run in a detached,
// supervised goroutine whose faults always land in a terminal status.
//
// Retry may race an in-flight task for the same id; the final status is
// then the last writer's. Callers are expected to retry only settled
// records.
type Pipeline struct {
	store      storage.Store
	classifier classifier.Classifier
	forwarder  forwarder.Forwarder
	logger     *zap.Logger
	wg         sync.WaitGroup
}

func NewPipeline(store storage.Store, clf classifier.Classifier, fwd forwarder.Forwarder, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:      store,
		classifier: clf,
		forwarder:  fwd,
		logger:     logger,
	}
}

// Ingest persists the bundle with status received and schedules
// processing. It returns the assigned id without waiting for
// classification.
func (p *Pipeline) Ingest(ctx context.Context, res models.Resolution) (int64, error) {
	id, err := p.store.Insert(ctx, res)
	if err != nil {
		return 0, err
	}
	p.logger.Info("message queued for processing",
		zap.Int64("record_id", id),
		zap.String("author", res.Author),
		zap.String("channel", res.Channel))
	p.dispatch(id, res)
	return id, nil
}

// Retry re-reads a record, resets it to received clearing any stored
// error, and re-runs processing with the persisted bundle. It works from
// any status.
func (p *Pipeline) Retry(ctx context.Context, id int64) error {
	rec, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}
	status := models.StatusReceived
	if err := p.store.Update(ctx, id, storage.Update{Status: &status, ClearError: true}); err != nil {
		return err
	}
	p.logger.Info("message queued for retry", zap.Int64("record_id", id))
	p.dispatch(id, rec.Resolution())
	return nil
}

// Wait blocks until all in-flight processing tasks finish. Used on
// shutdown and in tests.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) dispatch(id int64, res models.Resolution) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		// The task is detached from the ingest request, so it gets its
		// own context and must never let a fault escape.
		ctx := context.Background()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("processing panicked",
					zap.Int64("record_id", id),
					zap.Any("panic", r))
				p.markFailed(ctx, id, fmt.Sprintf("panic: %v", r))
			}
		}()
		p.process(ctx, id, res)
	}()
}

func (p *Pipeline) process(ctx context.Context, id int64, res models.Resolution) {
	payload, err := p.classifier.Classify(ctx, res)
	if err != nil {
		var ce *classifier.ClassificationError
		if errors.As(err, &ce) {
			p.logger.Error("classification failed",
				zap.Int64("record_id", id),
				zap.Error(err))
			p.transition(ctx, id, storage.Update{
				Status: statusPtr(models.StatusAgentError),
				Error:  stringPtr(err.Error()),
			})
			return
		}
		p.markFailed(ctx, id, err.Error())
		return
	}

	p.logger.Info("classification complete",
		zap.Int64("record_id", id),
		zap.String("issue_type", payload.IssueType))
	p.transition(ctx, id, storage.Update{
		Status:  statusPtr(models.StatusProcessed),
		Payload: payload,
	})

	if !p.forwarder.Configured() {
		p.logger.Warn("webhook not configured, skipping forward",
			zap.Int64("record_id", id))
		return
	}

	code, body, err := p.forwarder.Forward(ctx, id, res, payload)
	if err != nil {
		var fe *forwarder.ForwardError
		if errors.As(err, &fe) {
			p.logger.Error("webhook rejected payload",
				zap.Int64("record_id", id),
				zap.Int("status", fe.StatusCode))
			p.transition(ctx, id, storage.Update{
				Status:      statusPtr(models.StatusN8NError),
				ForwardCode: &code,
				ForwardBody: &body,
			})
			return
		}
		p.markFailed(ctx, id, err.Error())
		return
	}

	p.transition(ctx, id, storage.Update{
		Status:      statusPtr(models.StatusForwarded),
		ForwardCode: &code,
		ForwardBody: &body,
	})
	p.logger.Info("message forwarded", zap.Int64("record_id", id))
}

func (p *Pipeline) markFailed(ctx context.Context, id int64, reason string) {
	p.logger.Error("processing failed",
		zap.Int64("record_id", id),
		zap.String("error", reason))
	p.transition(ctx, id, storage.Update{
		Status: statusPtr(models.StatusFailed),
		Error:  &reason,
	})
}

func (p *Pipeline) transition(ctx context.Context, id int64, upd storage.Update) {
	if err := p.store.Update(ctx, id, upd); err != nil {
		p.logger.Error("failed to persist status transition",
			zap.Int64("record_id", id),
			zap.Error(err))
	}
}

func statusPtr(s models.Status) *models.Status { return &s }
func stringPtr(s string) *string               { return &s }
