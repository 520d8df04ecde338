package counters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/logger"
	"github.com/dvloznov/period-counters/internal/period"
)

// TransactionEvent is a mutation of one income or expense document.
type TransactionEvent struct {
	// Operation may be left empty; it is then inferred from Before and After.
	Operation     domain.Operation       `json:"operation,omitempty"`
	TxType        domain.TxType          `json:"type"`
	TransactionID string                 `json:"transactionId"`
	Before        *domain.RawTransaction `json:"before,omitempty"`
	After         *domain.RawTransaction `json:"after,omitempty"`
}

// ResolveOperation returns the event's operation, inferring it when unset.
func (ev *TransactionEvent) ResolveOperation() (domain.Operation, error) {
	if ev.Operation != "" {
		return ev.Operation, nil
	}
	switch {
	case ev.Before == nil && ev.After != nil:
		return domain.OpCreate, nil
	case ev.Before != nil && ev.After != nil:
		return domain.OpUpdate, nil
	case ev.Before != nil && ev.After == nil:
		return domain.OpDelete, nil
	default:
		return "", fmt.Errorf("event for %s carries neither before nor after data", ev.TransactionID)
	}
}

// HandleTransactionEvent normalizes both sides of ev and applies the resulting
// deltas to the daily, weekly and monthly buckets. When an update moves the
// transaction to another period, the old bucket receives a delete and the new one
// a create. Failures on individual buckets do not stop the others; they are joined
// and returned.
func (e *Engine) HandleTransactionEvent(ctx context.Context, ev TransactionEvent) error {
	op, err := ev.ResolveOperation()
	if err != nil {
		return fmt.Errorf("HandleTransactionEvent: %w", err)
	}

	newTx, err := e.normalizeSide(ctx, ev, ev.After)
	if err != nil {
		return fmt.Errorf("HandleTransactionEvent: normalizing new data: %w", err)
	}
	oldTx, err := e.normalizeSide(ctx, ev, ev.Before)
	if err != nil {
		return fmt.Errorf("HandleTransactionEvent: normalizing old data: %w", err)
	}

	switch op {
	case domain.OpCreate, domain.OpUpdate:
		if newTx == nil {
			return fmt.Errorf("HandleTransactionEvent: %s event for %s has no new data", op, ev.TransactionID)
		}
	case domain.OpDelete:
		if oldTx == nil {
			return fmt.Errorf("HandleTransactionEvent: delete event for %s has no old data", ev.TransactionID)
		}
	default:
		return fmt.Errorf("HandleTransactionEvent: unknown operation %q", op)
	}
	if op == domain.OpCreate {
		oldTx = nil
	}

	txType := ev.TxType
	if txType == "" {
		if newTx != nil {
			txType = newTx.Type
		} else {
			txType = oldTx.Type
		}
	}

	log := logger.FromContext(ctx).With().
		Str("transaction_id", ev.TransactionID).
		Str("type", string(txType)).
		Str("operation", string(op)).
		Logger()
	ctx = logger.WithContext(ctx, log)

	var newUser, oldUser string
	var newTS, oldTS time.Time
	if newTx != nil && op != domain.OpDelete {
		newUser, newTS = newTx.UserID, newTx.Timestamp
	}
	if oldTx != nil {
		oldUser, oldTS = oldTx.UserID, oldTx.Timestamp
	}

	var errs []error
	for _, c := range period.AffectedPeriods(newTS, oldTS) {
		switch {
		case op == domain.OpCreate:
			_, err = e.ApplyDelta(ctx, newUser, c.Granularity, c.New, txType, newTx, domain.OpCreate, nil)
			errs = append(errs, err)

		case op == domain.OpDelete:
			_, err = e.ApplyDelta(ctx, oldUser, c.Granularity, c.Old, txType, nil, domain.OpDelete, oldTx)
			errs = append(errs, err)

		case oldTx == nil:
			_, err = e.ApplyDelta(ctx, newUser, c.Granularity, c.New, txType, newTx, domain.OpUpdate, nil)
			errs = append(errs, err)

		case c.Moved() || newUser != oldUser:
			_, err = e.ApplyDelta(ctx, oldUser, c.Granularity, c.Old, txType, nil, domain.OpDelete, oldTx)
			errs = append(errs, err)
			_, err = e.ApplyDelta(ctx, newUser, c.Granularity, c.New, txType, newTx, domain.OpCreate, nil)
			errs = append(errs, err)

		default:
			_, err = e.ApplyDelta(ctx, newUser, c.Granularity, c.New, txType, newTx, domain.OpUpdate, oldTx)
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		log.Error().Err(err).Msg("Transaction event applied with errors")
		return fmt.Errorf("HandleTransactionEvent: %w", err)
	}
	return nil
}

func (e *Engine) normalizeSide(ctx context.Context, ev TransactionEvent, raw *domain.RawTransaction) (*domain.NormalizedTx, error) {
	if raw == nil {
		return nil, nil
	}
	c := *raw
	if c.ID == "" {
		c.ID = ev.TransactionID
	}
	if c.Type == "" {
		c.Type = ev.TxType
	}
	return e.normalizer.Normalize(ctx, &c)
}
