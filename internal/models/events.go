package models

import (
	"time"
)

// ===========================================
// REFERRER TYPES
// ===========================================

// Referrer type codes as written by the tracker into log_visit/log_conversion.
const (
	ReferrerTypeDirectEntry   = 1
	ReferrerTypeSearchEngine  = 2
	ReferrerTypeWebsite       = 3
	ReferrerTypeCampaign      = 6
	ReferrerTypeSocialNetwork = 7
)

// ===========================================
// CONVERSION EVENT
// ===========================================

// ConversionEvent is one row of the conversion log. It is produced by the
// tracker and only ever read here.
type ConversionEvent struct {
	SiteID    int64     `json:"idsite"`
	GoalID    int64     `json:"idgoal"`
	VisitID   int64     `json:"idvisit"`
	VisitorID string    `json:"idvisitor"` // lower-case hex
	Timestamp time.Time `json:"server_time"`
	URL       string    `json:"url"`

	// Attribution fields, copied from the visit at conversion time
	ReferrerName   string `json:"referer_name,omitempty"`
	ReferrerType   int    `json:"referer_type"`
	CampaignMedium string `json:"campaign_medium,omitempty"`
	CampaignSource string `json:"campaign_source,omitempty"`

	Revenue float64 `json:"revenue,omitempty"`
}

// ===========================================
// VISIT CONTEXT
// ===========================================

// VisitContext holds the visit columns joined 1:1 onto a conversion by
// visit id. Nullable columns are pointers; empty means NULL in storage.
type VisitContext struct {
	VisitCount  *int64 `json:"visitor_count_visits,omitempty"`
	IsReturning bool   `json:"visitor_returning"`
	Country     string `json:"location_country,omitempty"`
	City        string `json:"location_city,omitempty"`
	OS          string `json:"config_os,omitempty"`
	Browser     string `json:"config_browser_name,omitempty"`
	DeviceType  string `json:"config_device_type,omitempty"`
}

// ConversionRecord is a conversion joined with the visit it belongs to.
type ConversionRecord struct {
	ConversionEvent
	Visit VisitContext `json:"visit"`
}

// Goal maps a goal id to its display name for a site.
type Goal struct {
	SiteID int64  `json:"idsite"`
	GoalID int64  `json:"idgoal"`
	Name   string `json:"name"`
}
