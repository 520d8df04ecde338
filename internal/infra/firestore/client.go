// Package firestore implements the store interfaces on Cloud Firestore, using the
// same collections and document shapes as the mobile client.
package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/dvloznov/period-counters/internal/store"
)

// Collection names.
const (
	IncomeCollection         = "income"
	ExpenseCollection        = "expense"
	ItemsCollection          = "items"
	PeriodCountersCollection = "period_counters"
	TriggersCollection       = "triggers"
)

// Repository implements every store interface on one shared Firestore client.
type Repository struct {
	client *firestore.Client
}

// NewRepository initializes a Firebase app for projectID and opens Firestore.
// Credentials come from Application Default Credentials unless credsFile is set.
func NewRepository(ctx context.Context, projectID, credsFile string) (*Repository, error) {
	conf := &firebase.Config{ProjectID: projectID}

	var opts []option.ClientOption
	if credsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credsFile))
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: initializing Firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating Firestore client: %w", err)
	}
	return &Repository{client: client}, nil
}

// NewRepositoryWithClient wraps an existing client, e.g. one pointed at the emulator.
func NewRepositoryWithClient(client *firestore.Client) *Repository {
	return &Repository{client: client}
}

// Close closes the Firestore client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Ensure Repository implements the store interfaces.
var (
	_ store.BucketStore      = (*Repository)(nil)
	_ store.TransactionStore = (*Repository)(nil)
	_ store.ItemStore        = (*Repository)(nil)
	_ store.TriggerStore     = (*Repository)(nil)
)
