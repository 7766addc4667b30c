package segment

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/radiusdt/enhanced-attribution/internal/models"
)

type kind int

const (
	kindString kind = iota
	kindInt
	kindFlag
)

// dimension describes how a segment dimension maps onto storage columns
// (alias c = log_conversion, v = log_visit) and onto in-memory records.
type dimension struct {
	kind   kind
	column string

	text   func(*models.ConversionRecord) string
	number func(*models.ConversionRecord) int64
	parse  func(string) (int64, error)
}

var referrerTypeNames = map[string]int64{
	"direct":   models.ReferrerTypeDirectEntry,
	"search":   models.ReferrerTypeSearchEngine,
	"website":  models.ReferrerTypeWebsite,
	"campaign": models.ReferrerTypeCampaign,
	"social":   models.ReferrerTypeSocialNetwork,
}

var dimensions = map[string]*dimension{
	"referrerType": {
		kind:   kindInt,
		column: "c.referer_type",
		number: func(r *models.ConversionRecord) int64 { return int64(r.ReferrerType) },
		parse: func(v string) (int64, error) {
			if code, ok := referrerTypeNames[strings.ToLower(v)]; ok {
				return code, nil
			}
			return strconv.ParseInt(v, 10, 64)
		},
	},
	"referrerName": {
		kind:   kindString,
		column: "COALESCE(c.referer_name, '')",
		text:   func(r *models.ConversionRecord) string { return r.ReferrerName },
	},
	"goalId": {
		kind:   kindInt,
		column: "c.idgoal",
		number: func(r *models.ConversionRecord) int64 { return r.GoalID },
		parse:  func(v string) (int64, error) { return strconv.ParseInt(v, 10, 64) },
	},
	"pageUrl": {
		kind:   kindString,
		column: "COALESCE(c.url, '')",
		text:   func(r *models.ConversionRecord) string { return r.URL },
	},
	"visitorType": {
		kind:   kindFlag,
		column: "v.visitor_returning",
		number: func(r *models.ConversionRecord) int64 {
			if r.Visit.IsReturning {
				return 1
			}
			return 0
		},
		parse: func(v string) (int64, error) {
			switch strings.ToLower(v) {
			case "new":
				return 0, nil
			case "returning":
				return 1, nil
			}
			return 0, fmt.Errorf("visitor type must be new or returning, got %q", v)
		},
	},
	"countryCode": {
		kind:   kindString,
		column: "COALESCE(v.location_country, '')",
		text:   func(r *models.ConversionRecord) string { return r.Visit.Country },
	},
	"city": {
		kind:   kindString,
		column: "COALESCE(v.location_city, '')",
		text:   func(r *models.ConversionRecord) string { return r.Visit.City },
	},
	"deviceType": {
		kind:   kindString,
		column: "COALESCE(v.config_device_type, '')",
		text:   func(r *models.ConversionRecord) string { return r.Visit.DeviceType },
	},
	"browserName": {
		kind:   kindString,
		column: "COALESCE(v.config_browser_name, '')",
		text:   func(r *models.ConversionRecord) string { return r.Visit.Browser },
	},
	"operatingSystem": {
		kind:   kindString,
		column: "COALESCE(v.config_os, '')",
		text:   func(r *models.ConversionRecord) string { return r.Visit.OS },
	},
}

func (d *dimension) parseValue(v string) (int64, error) {
	return d.parse(v)
}

// numEqual compares numeric values; flags compare on truthiness.
func (d *dimension) numEqual(got, want int64) bool {
	if d.kind == kindFlag {
		return (got != 0) == (want != 0)
	}
	return got == want
}

// Dimensions returns the names of all supported dimensions.
func Dimensions() []string {
	names := make([]string, 0, len(dimensions))
	for name := range dimensions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
