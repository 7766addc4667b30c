package storage

import (
	"strconv"
	"time"

	"github.com/radiusdt/enhanced-attribution/internal/models"
)

// conversionScan holds scan targets for one row of conversionsSQL.
type conversionScan struct {
	goalID, visitID  int64
	serverTime       time.Time
	visitorID, url   string
	referrerName     string
	referrerType     int64
	medium, source   string
	revenue          float64
	visitCount       *int64
	returning        int64
	country, city    string
	os, browser, dev string
}

func (s *conversionScan) targets() []any {
	return []any{
		&s.goalID, &s.visitID, &s.serverTime, &s.visitorID, &s.url,
		&s.referrerName, &s.referrerType, &s.medium, &s.source, &s.revenue,
		&s.visitCount, &s.returning, &s.country, &s.city, &s.os, &s.browser, &s.dev,
	}
}

func (s *conversionScan) record(siteID int64) models.ConversionRecord {
	return models.ConversionRecord{
		ConversionEvent: models.ConversionEvent{
			SiteID:         siteID,
			GoalID:         s.goalID,
			VisitID:        s.visitID,
			VisitorID:      s.visitorID,
			Timestamp:      s.serverTime,
			URL:            s.url,
			ReferrerName:   s.referrerName,
			ReferrerType:   int(s.referrerType),
			CampaignMedium: s.medium,
			CampaignSource: s.source,
			Revenue:        s.revenue,
		},
		Visit: models.VisitContext{
			VisitCount:  s.visitCount,
			IsReturning: s.returning != 0,
			Country:     s.country,
			City:        s.city,
			OS:          s.os,
			Browser:     s.browser,
			DeviceType:  s.dev,
		},
	}
}

// dimensionScan holds scan targets for one row of dimensionSQL.
type dimensionScan struct {
	dims       []Dimension
	aggregates []Aggregate

	text    []string
	numeric []int64
	row     DimensionRow
	aggs    []float64
}

func newDimensionScan(q DimensionQuery) *dimensionScan {
	return &dimensionScan{
		dims:       q.Dimensions,
		aggregates: q.Aggregates,
		text:       make([]string, len(q.Dimensions)),
		numeric:    make([]int64, len(q.Dimensions)),
		aggs:       make([]float64, len(q.Aggregates)),
	}
}

func (s *dimensionScan) targets() []any {
	targets := make([]any, 0, len(s.dims)+3+len(s.aggregates))
	for i, d := range s.dims {
		if d == DimensionReferrerType {
			targets = append(targets, &s.numeric[i])
		} else {
			targets = append(targets, &s.text[i])
		}
	}
	targets = append(targets, &s.row.NbConversions, &s.row.NbVisitsConverted, &s.row.NbVisitorsConverted)
	for i := range s.aggregates {
		targets = append(targets, &s.aggs[i])
	}
	return targets
}

// current converts the last scanned values into a fresh DimensionRow.
func (s *dimensionScan) current() DimensionRow {
	row := DimensionRow{
		Values:              make(map[Dimension]string, len(s.dims)),
		NbConversions:       s.row.NbConversions,
		NbVisitsConverted:   s.row.NbVisitsConverted,
		NbVisitorsConverted: s.row.NbVisitorsConverted,
	}
	for i, d := range s.dims {
		if d == DimensionReferrerType {
			row.Values[d] = strconv.FormatInt(s.numeric[i], 10)
		} else {
			row.Values[d] = s.text[i]
		}
	}
	if len(s.aggregates) > 0 {
		row.Aggregates = make(map[Aggregate]float64, len(s.aggregates))
		for i, a := range s.aggregates {
			row.Aggregates[a] = s.aggs[i]
		}
	}
	return row
}
