package attribution

import (
	"context"
	"strconv"

	"github.com/radiusdt/enhanced-attribution/internal/models"
	"github.com/radiusdt/enhanced-attribution/internal/period"
	"github.com/radiusdt/enhanced-attribution/internal/storage"
)

const (
	serverTimeLayout = "2006-01-02 15:04:05"
	dateLayout       = "2006-01-02"
	timeLayout       = "15:04:05"
)

// LiveAggregator computes the detailed conversion view straight from the
// row store.
type LiveAggregator struct {
	rows  storage.RowStore
	goals storage.GoalStore
}

// NewLiveAggregator creates a live aggregator.
func NewLiveAggregator(rows storage.RowStore, goals storage.GoalStore) *LiveAggregator {
	return &LiveAggregator{rows: rows, goals: goals}
}

// ComputeDetailed returns one row per conversion with a non-empty URL in
// the window, newest first. limit caps the rows; 0 or less means no cap.
func (a *LiveAggregator) ComputeDetailed(ctx context.Context, siteID int64, w period.Window, limit int) ([]models.DetailedConversionRow, error) {
	if limit < 0 {
		limit = 0
	}

	recs, err := a.rows.FetchConversions(ctx, storage.ConversionQuery{
		SiteID: siteID,
		Window: w,
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}

	goalNames, err := a.goals.GoalNames(ctx, siteID)
	if err != nil {
		return nil, err
	}

	rows := make([]models.DetailedConversionRow, 0, len(recs))
	for i := range recs {
		rows = append(rows, detailedRow(&recs[i], goalNames))
	}
	return rows, nil
}

func detailedRow(rec *models.ConversionRecord, goalNames map[int64]string) models.DetailedConversionRow {
	a := Classify(rec.ReferrerType, rec.ReferrerName, rec.CampaignMedium, rec.CampaignSource)

	visitCount := ""
	if rec.Visit.VisitCount != nil {
		visitCount = strconv.FormatInt(*rec.Visit.VisitCount, 10)
	}
	returning := "new"
	if rec.Visit.IsReturning {
		returning = "returning"
	}

	// Timestamps are already in site time.
	ts := rec.Timestamp
	return models.DetailedConversionRow{
		ConversionURL:      rec.URL,
		Channel:            a.Channel,
		Source:             a.Source,
		CampaignMedium:     a.CampaignMedium,
		CampaignName:       a.CampaignName,
		GoalID:             rec.GoalID,
		GoalName:           goalNames[rec.GoalID],
		ServerTime:         ts.Format(serverTimeLayout),
		DateS:              ts.Format(dateLayout),
		TimeS:              ts.Format(timeLayout),
		VisitID:            rec.VisitID,
		VisitorID:          rec.VisitorID,
		VisitorCountVisits: visitCount,
		VisitorReturning:   returning,
		LocationCountry:    rec.Visit.Country,
		LocationCity:       rec.Visit.City,
		ConfigOS:           rec.Visit.OS,
		ConfigBrowserName:  rec.Visit.Browser,
		ConfigDeviceType:   rec.Visit.DeviceType,
	}
}
