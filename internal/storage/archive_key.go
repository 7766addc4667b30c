package storage

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/radiusdt/enhanced-attribution/internal/period"
	"github.com/radiusdt/enhanced-attribution/internal/segment"
)

// allVisits names the empty segment inside archive keys.
const allVisits = "all"

// ArchiveKey addresses one persisted record.
type ArchiveKey struct {
	SiteID  int64
	Period  string
	Start   string
	End     string
	Segment string // canonical segment expression, "" for all visits
	Record  string
}

// NewArchiveKey builds the key of record for a site, window and segment.
func NewArchiveKey(siteID int64, w period.Window, seg segment.Segment, record string) ArchiveKey {
	return ArchiveKey{
		SiteID:  siteID,
		Period:  w.Period,
		Start:   w.StartString(),
		End:     w.EndString(),
		Segment: seg.String(),
		Record:  record,
	}
}

// WithRecord returns a copy of k pointing at another record of the same archive.
func (k ArchiveKey) WithRecord(record string) ArchiveKey {
	k.Record = record
	return k
}

// SegmentHash identifies the segment in keys; raw expressions can be long.
func (k ArchiveKey) SegmentHash() string {
	if k.Segment == "" {
		return allVisits
	}
	return strconv.FormatUint(xxhash.Sum64String(k.Segment), 16)
}

// Archive returns the key without the record name. All records of one
// build share it.
func (k ArchiveKey) Archive() string {
	return strings.Join([]string{
		strconv.FormatInt(k.SiteID, 10),
		k.Period,
		k.Start,
		k.End,
		k.SegmentHash(),
	}, ":")
}

func (k ArchiveKey) String() string {
	return k.Archive() + ":" + k.Record
}
