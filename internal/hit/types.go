package hit

import (
	"fmt"
	"strings"
)

// HitType selects the wire tag and the special-key routing of a hit.
type HitType string

const (
	IDs                HitType = "ids"
	Social             HitType = "social"
	Event              HitType = "event"
	Action             HitType = "action"
	Exception          HitType = "exception"
	PageView           HitType = "pageview"
	ScreenView         HitType = "screenview"
	Timing             HitType = "timing"
	ViewableImpression HitType = "viewable_impression"
	Aggregate          HitType = "aggregate"
)

var hitTypes = []HitType{IDs, Social, Event, Action, Exception, PageView, ScreenView, Timing, ViewableImpression, Aggregate}

func ParseHitType(s string) (HitType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, t := range hitTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown hit type %q", s)
}

// Tag is the wire `tp` value. Unknown types fall back to "event".
func (t HitType) Tag() string {
	switch t {
	case ScreenView:
		return "screenview"
	case PageView:
		return "pageview"
	case Action:
		return "ac"
	case IDs:
		return "id"
	case Event:
		return "event"
	case Aggregate:
		return "aggregate"
	case ViewableImpression:
		return "viewable_impression"
	default:
		return "event"
	}
}

// SetScope names a bucket of persistent field data.
type SetScope string

const (
	ScopePage   SetScope = "page"
	ScopeEvent  SetScope = "event"
	ScopeItem   SetScope = "item"
	ScopeAction SetScope = "action"
)

func ParseSetScope(s string) (SetScope, error) {
	switch SetScope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopePage:
		return ScopePage, nil
	case ScopeEvent:
		return ScopeEvent, nil
	case ScopeItem:
		return ScopeItem, nil
	case ScopeAction:
		return ScopeAction, nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

type AggregateType string

const (
	AggregateMax     AggregateType = "max"
	AggregateMin     AggregateType = "min"
	AggregateCount   AggregateType = "count"
	AggregateSum     AggregateType = "sum"
	AggregateAverage AggregateType = "avg"
)

var specialKeys = map[HitType]map[string]struct{}{
	Event:      set("category", "value", "label", "action", "interaction"),
	Aggregate:  set("scope", "name", "value", "aggregate"),
	ScreenView: set("sn", "cn"),
	PageView: set("title", "id", "url", "ref", "osc_id", "osc_label", "oss_keyword", "oss_category",
		"oss_total_results", "oss_results_per_page", "oss_current_page"),
	Action: set("tax", "id", "discount", "currencyCode", "revenue", "currency_code"),
}

// IsSpecialKey reports whether key belongs in the hit envelope rather than the data bag.
func IsSpecialKey(key string, t HitType) bool {
	_, ok := specialKeys[t][key]
	return ok
}

func set(keys ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}
