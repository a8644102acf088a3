package tracker

import (
	"context"
	"fmt"
	"strconv"

	"osb-tracker/internal/hit"
	"osb-tracker/internal/scope"
)

// Event is the input of SendEvent. Empty strings are left out of the hit.
type Event struct {
	Category    string
	Action      string
	Label       string
	Value       string
	Interaction *bool
	Data        hit.Fields
}

// SendEvent records an event hit. Data becomes the ad-hoc overlay of this hit.
func (t *Tracker) SendEvent(ctx context.Context, e Event) error {
	rec := hit.Fields{}
	putNonEmpty(rec, "category", e.Category)
	putNonEmpty(rec, "action", e.Action)
	putNonEmpty(rec, "label", e.Label)
	putNonEmpty(rec, "value", e.Value)
	if e.Interaction != nil {
		rec["interaction"] = hit.String(strconv.FormatBool(*e.Interaction))
	}
	return t.record(ctx, hit.Event, "", []hit.Fields{rec}, func() { t.store.SetAdHoc(e.Data) }, nil)
}

// SendAggregate records an aggregate hit; value is sent with one decimal.
func (t *Tracker) SendAggregate(ctx context.Context, sc, name string, agg hit.AggregateType, value float64) error {
	rec := hit.Fields{
		"value":     hit.String(fmt.Sprintf("%.1f", value)),
		"aggregate": hit.String(string(agg)),
	}
	putNonEmpty(rec, "scope", sc)
	putNonEmpty(rec, "name", name)
	return t.Record(ctx, hit.Aggregate, "", []hit.Fields{rec})
}

// SendScreenView clears page scope and records a screenview.
func (t *Tracker) SendScreenView(ctx context.Context, screenName, className string, data hit.Fields) error {
	rec := data.Clone()
	if rec == nil {
		rec = hit.Fields{}
	}
	rec["sn"] = hit.String(screenName)
	rec["cn"] = hit.String(className)
	return t.record(ctx, hit.ScreenView, "", []hit.Fields{rec}, func() { _ = t.store.Remove(scope.RemovePage) }, nil)
}

// PageView is the input of SendPageView.
type PageView struct {
	URL      string
	Title    string
	Referrer string
	ID       string

	CampaignID         string // osc_id
	CampaignLabel      string // osc_label
	SearchKeyword      string // oss_keyword
	SearchCategory     string // oss_category
	SearchTotalResults string // oss_total_results
	SearchPerPage      string // oss_results_per_page
	SearchCurrentPage  string // oss_current_page

	Data hit.Fields
}

func (p PageView) fields() hit.Fields {
	rec := p.Data.Clone()
	if rec == nil {
		rec = hit.Fields{}
	}
	for k, v := range map[string]string{
		"url":                  p.URL,
		"title":                p.Title,
		"ref":                  p.Referrer,
		"id":                   p.ID,
		"osc_id":               p.CampaignID,
		"osc_label":            p.CampaignLabel,
		"oss_keyword":          p.SearchKeyword,
		"oss_category":         p.SearchCategory,
		"oss_total_results":    p.SearchTotalResults,
		"oss_results_per_page": p.SearchPerPage,
		"oss_current_page":     p.SearchCurrentPage,
	} {
		rec[k] = hit.String(v)
	}
	return rec
}

// SendPageView records a pageview and keeps its fields as the page scope of
// the hits that follow.
func (t *Tracker) SendPageView(ctx context.Context, p PageView) error {
	rec := p.fields()
	return t.record(ctx, hit.PageView, "", []hit.Fields{rec}, nil, func() {
		t.store.SetScope(hit.ScopePage, []hit.Fields{rec})
	})
}

func putNonEmpty(f hit.Fields, key, value string) {
	if value != "" {
		f[key] = hit.String(value)
	}
}
