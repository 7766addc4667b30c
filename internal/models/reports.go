package models

// Channel is the coarse attribution bucket of a conversion.
type Channel string

const (
	ChannelDirect   Channel = "direct"
	ChannelSearch   Channel = "search"
	ChannelCampaign Channel = "campaign"
	ChannelSocial   Channel = "social"
	ChannelWebsite  Channel = "website"
	ChannelUnknown  Channel = "unknown"
)

// Record names under which rollups are persisted.
const (
	RecordGoalUrlsAggregate    = "goal_urls_aggregate"
	RecordGoalUrlsByChannel    = "goal_urls_by_channel"
	RecordGoalUrlsBySource     = "goal_urls_by_source"
	RecordTotalGoalConversions = "total_goal_conversions"
	RecordUniqueGoalUrls       = "unique_goal_urls"
)

// ===========================================
// CHANNEL ASSIGNMENT
// ===========================================

// ChannelAssignment is the classification of one conversion.
type ChannelAssignment struct {
	Channel        Channel `json:"channel"`
	Source         string  `json:"source"`
	CampaignMedium string  `json:"campaign_medium"`
	CampaignName   string  `json:"campaign_name"`
}

// ===========================================
// LIVE ROWS
// ===========================================

// DetailedConversionRow is one conversion as served by the live view.
// Every string field is always present; missing values are "".
type DetailedConversionRow struct {
	ConversionURL      string  `json:"conversion_url"`
	Channel            Channel `json:"channel"`
	Source             string  `json:"source"`
	CampaignMedium     string  `json:"campaign_medium"`
	CampaignName       string  `json:"campaign_name"`
	GoalID             int64   `json:"goal_id"`
	GoalName           string  `json:"goal_name"`
	ServerTime         string  `json:"server_time"`
	DateS              string  `json:"date_s"`
	TimeS              string  `json:"time_s"`
	VisitID            int64   `json:"idvisit"`
	VisitorID          string  `json:"idvisitor"`
	VisitorCountVisits string  `json:"visitor_count_visits"`
	VisitorReturning   string  `json:"visitor_returning"`
	LocationCountry    string  `json:"location_country"`
	LocationCity       string  `json:"location_city"`
	ConfigOS           string  `json:"config_os"`
	ConfigBrowserName  string  `json:"config_browser_name"`
	ConfigDeviceType   string  `json:"config_device_type"`
}

// ===========================================
// ROLLUPS
// ===========================================

// ConversionMetrics are the counters shared by every rollup row.
type ConversionMetrics struct {
	NbConversions       int64   `json:"nb_conversions"`
	NbVisitsConverted   int64   `json:"nb_visits_converted"`
	NbVisitorsConverted int64   `json:"nb_visitors_converted"`
	Revenue             float64 `json:"revenue"`
}

// UrlRollupRow aggregates conversions of one conversion URL.
type UrlRollupRow struct {
	ConversionURL string `json:"conversion_url"`
	ConversionMetrics
	AvgOrderRevenue float64 `json:"avg_order_revenue"`
}

// ChannelRollupRow aggregates conversions of one channel.
type ChannelRollupRow struct {
	Label Channel `json:"label"`
	ConversionMetrics
}

// SourceRollupRow aggregates conversions of one (referrer type, referrer name) pair.
type SourceRollupRow struct {
	Label        string `json:"label"`
	ReferrerType int    `json:"referer_type"`
	ReferrerName string `json:"referer_name"`
	ConversionMetrics
}

// SummaryMetrics are the two scalar records of a build.
type SummaryMetrics struct {
	TotalGoalConversions int64 `json:"total_goal_conversions"`
	UniqueGoalUrls       int64 `json:"unique_goal_urls"`
}
