package notionsync

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/logger"
)

const (
	// BatchSize defines the number of buckets logged per progress line.
	BatchSize = 100
)

// BucketPages is the slice of the Notion API a bucket sync needs: list the rows of
// the summary database, then create or update one row per bucket.
type BucketPages interface {
	QueryDatabase(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)
	UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error)
}

// SyncReport counts what a sync did.
type SyncReport struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// SyncBuckets upserts one summary page per bucket, keyed by the bucket id title.
// Pages for buckets not in the list are left alone. Per-page failures are logged
// and counted; the sync continues.
func SyncBuckets(ctx context.Context, notionClient BucketPages, notionDBID string, buckets []*domain.Bucket, dryRun bool) (*SyncReport, error) {
	log := logger.FromContext(ctx)

	log.Info().
		Int("bucket_count", len(buckets)).
		Bool("dry_run", dryRun).
		Msg("Starting bucket sync to Notion")

	notionPages, err := queryAllNotionPages(ctx, notionClient, notionDBID)
	if err != nil {
		return nil, fmt.Errorf("SyncBuckets: %w", err)
	}

	existing := make(map[string]string, len(notionPages))
	for _, page := range notionPages {
		if id := extractBucketID(page); id != "" {
			existing[id] = string(page.ID)
		}
	}

	log.Info().Int("notion_page_count", len(notionPages)).Msg("Retrieved existing Notion pages")

	report := &SyncReport{}
	for i, b := range buckets {
		if i > 0 && i%BatchSize == 0 {
			log.Info().Int("processed", i).Msg("Bucket sync progress")
		}

		props := BucketToNotionProperties(b)
		pageID, found := existing[b.ID]

		if dryRun {
			log.Info().
				Str("bucket_id", b.ID).
				Bool("exists", found).
				Msg("[DRY RUN] Would upsert Notion page")
			if found {
				report.Updated++
			} else {
				report.Created++
			}
			continue
		}

		if found {
			if _, err := notionClient.UpdatePage(ctx, pageID, props); err != nil {
				log.Warn().Err(err).Str("bucket_id", b.ID).Str("page_id", pageID).Msg("Failed to update Notion page")
				report.Failed++
				continue
			}
			report.Updated++
			continue
		}

		page, err := notionClient.CreatePage(ctx, notionDBID, props)
		if err != nil {
			log.Warn().Err(err).Str("bucket_id", b.ID).Msg("Failed to create Notion page")
			report.Failed++
			continue
		}
		existing[b.ID] = string(page.ID)
		report.Created++
	}

	log.Info().
		Int("created", report.Created).
		Int("updated", report.Updated).
		Int("failed", report.Failed).
		Msg("Bucket sync to Notion completed")

	return report, nil
}

// queryAllNotionPages queries all pages from a Notion database and returns them.
// Handles pagination automatically.
func queryAllNotionPages(ctx context.Context, notionClient BucketPages, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: 100,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}
