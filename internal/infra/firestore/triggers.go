package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/dvloznov/period-counters/internal/domain"
)

// GetTrigger implements store.TriggerStore. A missing document reads as not set.
func (r *Repository) GetTrigger(ctx context.Context, name domain.TriggerName) (*domain.Trigger, error) {
	snap, err := r.client.Collection(TriggersCollection).Doc(string(name)).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return &domain.Trigger{Name: name}, nil
		}
		return nil, fmt.Errorf("GetTrigger: reading %s: %w", name, err)
	}

	var doc triggerDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("GetTrigger: decoding %s: %w", name, err)
	}
	return fromTriggerDoc(name, &doc), nil
}

// SetTrigger implements store.TriggerStore.
func (r *Repository) SetTrigger(ctx context.Context, t *domain.Trigger) error {
	if _, err := r.client.Collection(TriggersCollection).Doc(string(t.Name)).Set(ctx, toTriggerDoc(t)); err != nil {
		return fmt.Errorf("SetTrigger: writing %s: %w", t.Name, err)
	}
	return nil
}

// CompleteTrigger implements store.TriggerStore.
func (r *Repository) CompleteTrigger(ctx context.Context, name domain.TriggerName, at time.Time) error {
	_, err := r.client.Collection(TriggersCollection).Doc(string(name)).Set(ctx, map[string]interface{}{
		"shouldGenerate":  false,
		"periodCounterId": nil,
		"lastCompleted":   at,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("CompleteTrigger: resetting %s: %w", name, err)
	}
	return nil
}

func toTriggerDoc(t *domain.Trigger) *triggerDoc {
	doc := &triggerDoc{
		ShouldGenerate: t.ShouldGenerate,
		LastTriggered:  t.LastTriggered,
		LastCompleted:  t.LastCompleted,
	}
	if t.PeriodCounterID != "" {
		id := t.PeriodCounterID
		doc.PeriodCounterID = &id
	}
	return doc
}

func fromTriggerDoc(name domain.TriggerName, doc *triggerDoc) *domain.Trigger {
	t := &domain.Trigger{
		Name:           name,
		ShouldGenerate: doc.ShouldGenerate,
		LastTriggered:  doc.LastTriggered,
		LastCompleted:  doc.LastCompleted,
	}
	if doc.PeriodCounterID != nil {
		t.PeriodCounterID = *doc.PeriodCounterID
	}
	return t
}
