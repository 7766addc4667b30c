// Package attribution attributes goal conversions to acquisition channels
// and serves them either live from the row store or from archived rollups.
package attribution

import "github.com/radiusdt/enhanced-attribution/internal/models"

// DirectSource is the live-path source of direct entries.
const DirectSource = "-"

// Rollup-path source labels.
const (
	SourceLabelDirect          = "Direct"
	SourceLabelUnknownCampaign = "Unknown Campaign"
	SourceLabelUnknown         = "Unknown"
)

var channelByReferrerType = map[int]models.Channel{
	models.ReferrerTypeDirectEntry:   models.ChannelDirect,
	models.ReferrerTypeSearchEngine:  models.ChannelSearch,
	models.ReferrerTypeCampaign:      models.ChannelCampaign,
	models.ReferrerTypeSocialNetwork: models.ChannelSocial,
	models.ReferrerTypeWebsite:       models.ChannelWebsite,
}

// ChannelLabel maps a referrer type code to its channel. Unmapped codes
// are unknown.
func ChannelLabel(referrerType int) models.Channel {
	if ch, ok := channelByReferrerType[referrerType]; ok {
		return ch
	}
	return models.ChannelUnknown
}

// Classify assigns a conversion to a channel with its source, medium and
// campaign name. referrerType is the only discriminant.
func Classify(referrerType int, referrerName, campaignMedium, campaignSource string) models.ChannelAssignment {
	a := models.ChannelAssignment{Channel: ChannelLabel(referrerType)}

	switch referrerType {
	case models.ReferrerTypeDirectEntry:
		a.Source = DirectSource
	case models.ReferrerTypeSearchEngine, models.ReferrerTypeSocialNetwork, models.ReferrerTypeWebsite:
		a.Source = referrerName
	case models.ReferrerTypeCampaign:
		a.Source = campaignSource
		a.CampaignMedium = campaignMedium
		a.CampaignName = referrerName
	}
	return a
}

// SourceLabel is the label of a (referrer type, referrer name) group in the
// source rollup.
func SourceLabel(referrerType int, referrerName string) string {
	switch referrerType {
	case models.ReferrerTypeDirectEntry:
		return SourceLabelDirect
	case models.ReferrerTypeCampaign:
		if referrerName == "" {
			return SourceLabelUnknownCampaign
		}
		return referrerName
	case models.ReferrerTypeSearchEngine, models.ReferrerTypeSocialNetwork, models.ReferrerTypeWebsite:
		if referrerName == "" {
			return SourceLabelUnknown
		}
		return referrerName
	}
	return SourceLabelUnknown
}
