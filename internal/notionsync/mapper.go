package notionsync

import (
	"strings"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/insights"
)

// Property names of the summary database. "Bucket ID" is the title column.
const (
	PropBucketID    = "Bucket ID"
	PropGranularity = "Granularity"
	PropPeriodID    = "Period"
	PropUpdated     = "Insights Updated"
	PropIncome      = "Income"
	PropExpense     = "Expense"
	PropNet         = "Net"
	PropCO2         = "CO2 (kg)"
	PropSavingsRate = "Savings Rate"
	PropInsights    = "Insights"
)

// maxRichText is Notion's limit for one rich text object.
const maxRichText = 2000

func text(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: content},
		},
	}
}

// BucketToNotionProperties maps a bucket to a summary row.
func BucketToNotionProperties(b *domain.Bucket) notionapi.Properties {
	metrics := insights.ComputeKeyMetrics(b.Totals)

	props := notionapi.Properties{
		PropBucketID: notionapi.TitleProperty{
			Title: text(b.ID),
		},
		PropGranularity: notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(b.Granularity)},
		},
		PropPeriodID: notionapi.RichTextProperty{
			RichText: text(b.PeriodID),
		},
		PropIncome: notionapi.NumberProperty{
			Number: b.Totals.Income.InexactFloat64(),
		},
		PropExpense: notionapi.NumberProperty{
			Number: b.Totals.Expense.InexactFloat64(),
		},
		PropNet: notionapi.NumberProperty{
			Number: b.Totals.Income.Sub(b.Totals.Expense).InexactFloat64(),
		},
		PropCO2: notionapi.NumberProperty{
			Number: b.Totals.CO2Kg.InexactFloat64(),
		},
		PropSavingsRate: notionapi.NumberProperty{
			Number: metrics.SavingsRate,
		},
	}

	if b.InsightsLastUpdated != nil {
		updated := notionapi.Date(*b.InsightsLastUpdated)
		props[PropUpdated] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &updated},
		}
	}

	if b.Insights != nil && len(b.Insights.Core) > 0 {
		summary := strings.Join(b.Insights.Core, "\n")
		if len(summary) > maxRichText {
			summary = summary[:maxRichText]
		}
		props[PropInsights] = notionapi.RichTextProperty{
			RichText: text(summary),
		}
	}

	return props
}

// extractBucketID returns the title of a summary page, or "".
func extractBucketID(page notionapi.Page) string {
	if prop, ok := page.Properties[PropBucketID]; ok {
		if title, ok := prop.(*notionapi.TitleProperty); ok {
			if len(title.Title) > 0 {
				return title.Title[0].PlainText
			}
		}
	}
	return ""
}
