package engine

import (
	"time"

	"osb-tracker/internal/hit"
	"osb-tracker/internal/scope"
)

// Build merges the scoped data in snap and the per-call records into one hit.
//
// Page scope is folded into every hit: keys special to pageviews go to the
// page-info envelope, the rest to the data bag. The set scope matching the hit
// type follows, then the ad-hoc send data, then the per-call records, each
// later source overwriting earlier values for the same key. A key special to
// the hit type always lands in the envelope, never in the bag.
func Build(t hit.HitType, subType string, perCall []hit.Fields, snap scope.Snapshot, now time.Time) Canonical {
	r := router{typ: t, envelope: hit.Fields{}, bag: hit.Fields{}}

	page := hit.Fields{"view_id": hit.String(snap.ViewID)}
	for _, rec := range snap.Records(hit.ScopePage) {
		for k, v := range rec {
			if hit.IsSpecialKey(k, hit.PageView) {
				page[k] = v
				continue
			}
			r.put(k, v)
		}
	}

	switch t {
	case hit.Event:
		r.fold(snap.Records(hit.ScopeEvent))
	case hit.Action:
		r.fold(snap.Records(hit.ScopeAction))
		if items := snap.Records(hit.ScopeItem); len(items) > 0 {
			r.envelope["items"] = hit.Records(items)
		}
	}

	for k, v := range snap.AdHoc {
		r.put(k, v)
	}

	tag := t.Tag()
	if t == hit.Action {
		tag = subType
	}

	r.fold(perCall)

	return Canonical{
		Hit: Hit{
			Tag:      tag,
			Time:     now.UnixMilli(),
			Envelope: r.envelope,
			Data:     r.bag,
		},
		Page: page,
	}
}

type router struct {
	typ      hit.HitType
	envelope hit.Fields
	bag      hit.Fields
}

func (r *router) put(k string, v hit.Value) {
	if hit.IsSpecialKey(k, r.typ) {
		r.envelope[k] = v
		delete(r.bag, k)
		return
	}
	r.bag[k] = v
}

func (r *router) fold(records []hit.Fields) {
	for _, rec := range records {
		for k, v := range rec {
			r.put(k, v)
		}
	}
}
