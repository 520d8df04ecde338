// Package notionsync mirrors period bucket summaries into a Notion database.
package notionsync

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
	"golang.org/x/time/rate"
)

// APIRequestsPerSecond is the average rate Notion allows per integration.
const APIRequestsPerSecond = 3

// APIClient is the BucketPages used outside tests. Calls share one limiter so a
// large sync stays under the Notion rate limit instead of collecting 429s.
type APIClient struct {
	api     *notionapi.Client
	limiter *rate.Limiter
}

// NewAPIClient returns a client for the integration token. rps <= 0 selects
// APIRequestsPerSecond.
func NewAPIClient(token string, rps float64) *APIClient {
	if rps <= 0 {
		rps = APIRequestsPerSecond
	}
	return &APIClient{
		api:     notionapi.NewClient(notionapi.Token(token)),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (c *APIClient) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("CreatePage: %w", err)
	}
	page, err := c.api.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent:     notionapi.Parent{Type: notionapi.ParentTypeDatabaseID, DatabaseID: notionapi.DatabaseID(databaseID)},
		Properties: properties,
	})
	if err != nil {
		return nil, fmt.Errorf("CreatePage: database %s: %w", databaseID, err)
	}
	return page, nil
}

func (c *APIClient) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("UpdatePage: %w", err)
	}
	page, err := c.api.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{Properties: properties})
	if err != nil {
		return nil, fmt.Errorf("UpdatePage: page %s: %w", pageID, err)
	}
	return page, nil
}

func (c *APIClient) QueryDatabase(ctx context.Context, databaseID string, query *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("QueryDatabase: %w", err)
	}
	resp, err := c.api.Database.Query(ctx, notionapi.DatabaseID(databaseID), query)
	if err != nil {
		return nil, fmt.Errorf("QueryDatabase: database %s: %w", databaseID, err)
	}
	return resp, nil
}

var _ BucketPages = (*APIClient)(nil)
