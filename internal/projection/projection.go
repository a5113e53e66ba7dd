// Package projection derives dashboard views from the status fields the
// backend returns. Everything here is pure: views are recomputed from the
// latest fetch and never patched in place.
package projection

import (
	"fmt"

	"questboard/internal/model"
)

// Bucket names a tab of the company dashboard.
type Bucket string

const (
	Recruiting Bucket = "recruiting"
	Active     Bucket = "active"
	Completed  Bucket = "completed"
	// Other holds drafts and archived campaigns, which no tab shows.
	Other Bucket = "other"
)

// Tabs lists the user-facing buckets in display order.
var Tabs = []Bucket{Recruiting, Active, Completed}

var bucketStatus = map[Bucket]model.CampaignStatus{
	Recruiting: model.CampaignOpen,
	Active:     model.CampaignInProgress,
	Completed:  model.CampaignCompleted,
}

// ParseBucket maps a tab query value to a bucket, defaulting to Recruiting.
func ParseBucket(s string) (Bucket, error) {
	if s == "" {
		return Recruiting, nil
	}
	b := Bucket(s)
	if _, ok := bucketStatus[b]; !ok {
		return "", fmt.Errorf("unknown tab %q", s)
	}
	return b, nil
}

// BucketOf returns the bucket a campaign status falls in.
func BucketOf(status model.CampaignStatus) Bucket {
	for b, st := range bucketStatus {
		if st == status {
			return b
		}
	}
	return Other
}

// Filter returns the campaigns whose status equals the bucket's status.
func Filter(campaigns []model.Campaign, b Bucket) []model.Campaign {
	want, ok := bucketStatus[b]
	out := []model.Campaign{}
	for _, c := range campaigns {
		if ok && c.Status == want {
			out = append(out, c)
		} else if !ok && b == Other && BucketOf(c.Status) == Other {
			out = append(out, c)
		}
	}
	return out
}

// Partition splits campaigns into every bucket, including Other, preserving
// order inside each bucket.
func Partition(campaigns []model.Campaign) map[Bucket][]model.Campaign {
	out := map[Bucket][]model.Campaign{
		Recruiting: {},
		Active:     {},
		Completed:  {},
		Other:      {},
	}
	for _, c := range campaigns {
		b := BucketOf(c.Status)
		out[b] = append(out[b], c)
	}
	return out
}

// CampaignCounts are the stat tiles of the company dashboard.
type CampaignCounts struct {
	Recruiting int `json:"recruiting"`
	Active     int `json:"active"`
	Completed  int `json:"completed"`
}

// CountCampaigns counts campaigns per tab.
func CountCampaigns(campaigns []model.Campaign) CampaignCounts {
	var n CampaignCounts
	for _, c := range campaigns {
		switch c.Status {
		case model.CampaignOpen:
			n.Recruiting++
		case model.CampaignInProgress:
			n.Active++
		case model.CampaignCompleted:
			n.Completed++
		}
	}
	return n
}

// Missions is the club dashboard split of its applications.
type Missions struct {
	ActiveMissions []model.Application `json:"active_missions"`
	OtherBids      []model.Application `json:"other_bids"`
}

// SplitApplications puts AWARDED applications in ActiveMissions and
// everything else in OtherBids.
func SplitApplications(apps []model.Application) Missions {
	m := Missions{ActiveMissions: []model.Application{}, OtherBids: []model.Application{}}
	for _, a := range apps {
		if a.Status == model.ApplicationAwarded {
			m.ActiveMissions = append(m.ActiveMissions, a)
		} else {
			m.OtherBids = append(m.OtherBids, a)
		}
	}
	return m
}

// BidCounts are the stat tiles of the club dashboard.
type BidCounts struct {
	PendingBids int `json:"pending_bids"`
	QuestWins   int `json:"quest_wins"`
}

// CountBids counts pending bids and wins.
func CountBids(apps []model.Application) BidCounts {
	var n BidCounts
	for _, a := range apps {
		switch a.Status {
		case model.ApplicationPending:
			n.PendingBids++
		case model.ApplicationAwarded:
			n.QuestWins++
		}
	}
	return n
}

// OpenQuests returns the campaigns shown on the quest board.
func OpenQuests(campaigns []model.Campaign) []model.Campaign {
	return Filter(campaigns, Recruiting)
}

// OpenBounties returns up to limit OPEN campaigns the club has not applied
// to. A non-positive limit returns all of them.
func OpenBounties(campaigns []model.Campaign, apps []model.Application, limit int) []model.Campaign {
	applied := make(map[int64]struct{}, len(apps))
	for _, a := range apps {
		applied[a.Campaign] = struct{}{}
	}
	out := []model.Campaign{}
	for _, c := range campaigns {
		if c.Status != model.CampaignOpen {
			continue
		}
		if _, ok := applied[c.ID]; ok {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Action is something a company can do with one application on the manage page.
type Action string

const (
	ActionAward    Action = "award"
	ActionReview   Action = "review"
	ActionComplete Action = "complete"
)

// ApplicationActions lists the actions the manage page offers for app.
func ApplicationActions(c model.Campaign, app model.Application) []Action {
	switch {
	case c.Status == model.CampaignOpen && app.Status == model.ApplicationPending:
		return []Action{ActionAward}
	case c.Status == model.CampaignInProgress && app.Status == model.ApplicationAwarded:
		return []Action{ActionComplete}
	case c.Status == model.CampaignInProgress && app.Status == model.ApplicationSubmitted:
		return []Action{ActionReview, ActionComplete}
	}
	return []Action{}
}
