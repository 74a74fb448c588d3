package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paysync/internal/archive"
	paymentdomain "github.com/smallbiznis/paysync/internal/payment/domain"
	"github.com/smallbiznis/paysync/internal/reconcile/domain"
	"github.com/smallbiznis/paysync/internal/reconcile/engine"
	subscriptiondomain "github.com/smallbiznis/paysync/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const classificationFailed = "failed"

// IngestWebhook verifies, parses and records a provider webhook, then applies
// it. Once the ledger row exists the call succeeds even if applying fails; the
// reprocess sweep retries failed rows.
func (s *Service) IngestWebhook(ctx context.Context, req domain.IngestWebhookRequest) (domain.IngestWebhookResult, error) {
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	adapter, err := s.registry.Adapter(provider)
	if err != nil {
		return domain.IngestWebhookResult{}, err
	}
	if err := adapter.Verify(ctx, req.Payload, req.Headers); err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, "", "unauthorized")
		return domain.IngestWebhookResult{}, err
	}

	event, err := adapter.Parse(ctx, req.Payload, req.Headers)
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, "", "invalid")
		return domain.IngestWebhookResult{}, err
	}

	isNew, record, err := s.ledger.Record(ctx, event)
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, event.Type, "error")
		return domain.IngestWebhookResult{}, err
	}

	result := domain.IngestWebhookResult{
		EventID:         record.ID,
		ProviderEventID: record.ProviderEventID,
		EventType:       record.EventType,
		Duplicate:       !isNew,
		Classification:  record.Classification,
	}
	if !isNew {
		s.metrics.RecordWebhookEvent(ctx, provider, event.Type, "duplicate")
		s.log.Debug("duplicate webhook ignored",
			zap.String("provider_event_id", record.ProviderEventID),
		)
		return result, nil
	}

	if err := s.archiver.Archive(ctx, archive.Object{
		Provider:        record.Provider,
		ProviderEventID: record.ProviderEventID,
		ReceivedAt:      record.ReceivedAt,
		Payload:         req.Payload,
	}); err != nil {
		s.log.Warn("failed to archive webhook payload",
			zap.String("provider_event_id", record.ProviderEventID),
			zap.Error(err),
		)
	}

	if !paymentdomain.KnownEventType(event.Type) {
		s.metrics.RecordWebhookEvent(ctx, provider, event.Type, paymentdomain.ClassificationUnknownEventType)
		return result, nil
	}

	classification, err := s.process(ctx, *record, *event)
	switch {
	case errors.Is(err, paymentdomain.ErrEventAlreadyProcessed):
	case err != nil:
		s.markFailed(ctx, *record, err)
		classification = classificationFailed
	}
	result.Classification = classification
	s.metrics.RecordWebhookEvent(ctx, provider, event.Type, classification)
	return result, nil
}

// ProcessEvent re-applies one stored ledger row.
func (s *Service) ProcessEvent(ctx context.Context, eventID snowflake.ID) (string, error) {
	record, err := s.ledger.Get(ctx, eventID)
	if err != nil {
		return "", err
	}
	if record.Processed {
		return record.Classification, paymentdomain.ErrEventAlreadyProcessed
	}
	if !paymentdomain.KnownEventType(record.EventType) {
		return paymentdomain.ClassificationUnknownEventType, paymentdomain.ErrEventIgnored
	}

	event, err := s.rebuildEvent(ctx, *record)
	if err != nil {
		s.markFailed(ctx, *record, err)
		return classificationFailed, err
	}

	classification, err := s.process(ctx, *record, event)
	switch {
	case errors.Is(err, paymentdomain.ErrEventAlreadyProcessed):
		return classification, err
	case err != nil:
		s.markFailed(ctx, *record, err)
		return classificationFailed, err
	}
	return classification, nil
}

// Reprocess replays unprocessed ledger rows below the attempt ceiling.
func (s *Service) Reprocess(ctx context.Context, limit int) (domain.ReprocessResult, error) {
	cfg := s.cfg.Get()
	if limit <= 0 {
		limit = cfg.ReprocessBatch
	}

	rows, err := s.ledger.ListUnprocessed(ctx, limit, cfg.ReprocessMaxAttempts)
	if err != nil {
		return domain.ReprocessResult{}, err
	}

	result := domain.ReprocessResult{Scanned: len(rows)}
	var errs []error
	for _, row := range rows {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := s.ProcessEvent(ctx, row.ID); err != nil {
			if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
				continue
			}
			result.Failed++
			errs = append(errs, err)
			continue
		}
		result.Processed++
	}

	if backlog, err := s.ledger.Backlog(ctx, cfg.ReprocessMaxAttempts); err == nil {
		s.jobs.SetLedgerBacklog(int(backlog))
	}
	return result, errors.Join(errs...)
}

// process applies one event under the subscription lock. The state change and
// the processed flag commit in the same transaction. A row another caller
// finished first returns its stored classification with
// ErrEventAlreadyProcessed.
func (s *Service) process(ctx context.Context, record paymentdomain.EventRecord, event paymentdomain.PaymentEvent) (string, error) {
	var (
		res            engine.Result
		classification string
	)

	err := s.withSubscriptionLock(ctx, event.SubscriptionID, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			stored, err := s.ledger.WithTx(tx).Get(ctx, record.ID)
			if err != nil {
				return err
			}
			if stored.Processed {
				classification = stored.Classification
				return paymentdomain.ErrEventAlreadyProcessed
			}

			sub, err := s.repo.FindByIDForUpdate(ctx, tx, event.SubscriptionID)
			if err != nil {
				return err
			}
			if sub == nil {
				return subscriptiondomain.ErrSubscriptionNotFound
			}
			payments, err := s.repo.ListPayments(ctx, tx, sub.ID)
			if err != nil {
				return err
			}

			res, err = engine.ApplyEvent(event, *sub, payments, s.now())
			switch {
			case errors.Is(err, engine.ErrInvalidTransition):
				classification = paymentdomain.ClassificationInvalidTransition
				s.log.Warn("event ignored: transition not permitted",
					zap.String("provider_event_id", record.ProviderEventID),
					zap.String("event_type", event.Type),
					zap.String("subscription_id", sub.ID),
					zap.String("status", string(sub.Status)),
				)
				res = engine.Result{}
				return s.ledger.WithTx(tx).MarkProcessed(ctx, record.ID, classification)
			case err != nil:
				return err
			}

			if err := s.persist(ctx, tx, res); err != nil {
				return err
			}
			classification = paymentdomain.ClassificationApplied
			if res.Noop() {
				classification = paymentdomain.ClassificationNoop
			}
			return s.ledger.WithTx(tx).MarkProcessed(ctx, record.ID, classification)
		})
	})
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
			return classification, err
		}
		return "", err
	}

	s.afterCommit(ctx, res)
	return classification, nil
}

func (s *Service) rebuildEvent(ctx context.Context, record paymentdomain.EventRecord) (paymentdomain.PaymentEvent, error) {
	adapter, err := s.registry.Adapter(record.Provider)
	if err != nil {
		return paymentdomain.PaymentEvent{}, err
	}
	event, err := adapter.Parse(ctx, record.Payload, nil)
	if err != nil {
		return paymentdomain.PaymentEvent{}, err
	}
	event.ProviderEventID = record.ProviderEventID
	return *event, nil
}

func (s *Service) markFailed(ctx context.Context, record paymentdomain.EventRecord, cause error) {
	s.log.Warn("failed to apply payment event",
		zap.String("provider_event_id", record.ProviderEventID),
		zap.String("event_type", record.EventType),
		zap.String("subscription_id", record.SubscriptionID),
		zap.Error(cause),
	)
	if err := s.ledger.MarkFailed(ctx, record.ID, cause); err != nil {
		s.log.Error("failed to mark ledger row failed",
			zap.String("provider_event_id", record.ProviderEventID),
			zap.Error(err),
		)
	}
	if errors.Is(cause, subscriptiondomain.ErrSubscriptionNotFound) {
		if err := s.ledger.Classify(ctx, record.ID, paymentdomain.ClassificationSubscriptionNotFound); err != nil {
			s.log.Error("failed to classify ledger row", zap.Error(err))
		}
	}
}
