package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osb-tracker/internal/hit"
	"osb-tracker/internal/scope"
)

var now = time.UnixMilli(1700000000123)

func snapshot(setData map[hit.SetScope][]hit.Fields, adHoc hit.Fields) scope.Snapshot {
	if setData == nil {
		setData = map[hit.SetScope][]hit.Fields{}
	}
	return scope.Snapshot{SetData: setData, AdHoc: adHoc, ViewID: "abcd1234"}
}

func TestBuild_PageView(t *testing.T) {
	c := Build(hit.PageView, "", []hit.Fields{{
		"url":    hit.String("https://a"),
		"title":  hit.String("T"),
		"author": hit.String("me"),
	}}, snapshot(nil, nil), now)

	assert.Equal(t, "pageview", c.Hit.Tag)
	assert.Equal(t, int64(1700000000123), c.Hit.Time)
	assert.Equal(t, hit.String("https://a"), c.Hit.Envelope["url"])
	assert.Equal(t, hit.String("T"), c.Hit.Envelope["title"])
	assert.Equal(t, hit.Fields{"author": hit.String("me")}, c.Hit.Data)
	assert.Equal(t, hit.String("abcd1234"), c.Page["view_id"])
}

func TestBuild_PageScopeSeedsPageInfoAndBag(t *testing.T) {
	snap := snapshot(map[hit.SetScope][]hit.Fields{
		hit.ScopePage: {{
			"title":   hit.String("Home"),
			"osc_id":  hit.String("cmp"),
			"section": hit.String("news"),
		}},
	}, nil)

	c := Build(hit.Event, "", nil, snap, now)

	assert.Equal(t, hit.String("Home"), c.Page["title"])
	assert.Equal(t, hit.String("cmp"), c.Page["osc_id"])
	assert.Equal(t, hit.Fields{"section": hit.String("news")}, c.Hit.Data)
	assert.Equal(t, "event", c.Hit.Tag)
}

func TestBuild_EventScopeRouting(t *testing.T) {
	snap := snapshot(map[hit.SetScope][]hit.Fields{
		hit.ScopeEvent: {{
			"category": hit.String("video"),
			"extra":    hit.Int(1),
		}},
		hit.ScopeAction: {{"revenue": hit.Number(9.5)}},
	}, nil)

	c := Build(hit.Event, "", nil, snap, now)

	assert.Equal(t, hit.String("video"), c.Hit.Envelope["category"])
	assert.Equal(t, hit.Fields{"extra": hit.Int(1)}, c.Hit.Data)
	assert.NotContains(t, c.Hit.Envelope, "revenue")
}

func TestBuild_ActionUsesSubTypeAndItems(t *testing.T) {
	items := []hit.Fields{
		{"id": hit.String("sku-1"), "price": hit.Number(10)},
		{"id": hit.String("sku-2"), "price": hit.Number(5)},
	}
	snap := snapshot(map[hit.SetScope][]hit.Fields{
		hit.ScopeAction: {{"id": hit.String("order-1"), "revenue": hit.Number(15), "coupon": hit.String("X")}},
		hit.ScopeItem:   items,
	}, nil)

	c := Build(hit.Action, "purchase", nil, snap, now)

	assert.Equal(t, "purchase", c.Hit.Tag)
	assert.Equal(t, hit.String("order-1"), c.Hit.Envelope["id"])
	assert.Equal(t, hit.Number(15), c.Hit.Envelope["revenue"])
	assert.Equal(t, hit.Records(items), c.Hit.Envelope["items"])
	assert.Equal(t, hit.Fields{"coupon": hit.String("X")}, c.Hit.Data)
}

func TestBuild_Precedence(t *testing.T) {
	snap := snapshot(map[hit.SetScope][]hit.Fields{
		hit.ScopePage:  {{"color": hit.String("page")}},
		hit.ScopeEvent: {{"color": hit.String("event"), "label": hit.String("scope")}},
	}, hit.Fields{"color": hit.String("adhoc")})

	c := Build(hit.Event, "", []hit.Fields{{"label": hit.String("call")}}, snap, now)
	assert.Equal(t, hit.String("adhoc"), c.Hit.Data["color"])
	assert.Equal(t, hit.String("call"), c.Hit.Envelope["label"])

	c = Build(hit.Event, "", []hit.Fields{{"color": hit.String("call")}}, snap, now)
	assert.Equal(t, hit.String("call"), c.Hit.Data["color"])
}

func TestBuild_SpecialKeysNeverInBag(t *testing.T) {
	types := []hit.HitType{hit.IDs, hit.Social, hit.Event, hit.Action, hit.Exception, hit.PageView,
		hit.ScreenView, hit.Timing, hit.ViewableImpression, hit.Aggregate}
	everything := hit.Fields{}
	for _, k := range []string{"category", "value", "label", "action", "interaction", "scope", "name",
		"aggregate", "sn", "cn", "title", "id", "url", "ref", "osc_id", "osc_label", "oss_keyword",
		"tax", "discount", "currencyCode", "revenue", "currency_code", "free"} {
		everything[k] = hit.String(k)
	}
	snap := snapshot(map[hit.SetScope][]hit.Fields{
		hit.ScopePage:   {everything},
		hit.ScopeEvent:  {everything},
		hit.ScopeAction: {everything},
	}, everything)

	for _, typ := range types {
		t.Run(string(typ), func(t *testing.T) {
			c := Build(typ, "sub", []hit.Fields{everything}, snap, now)
			for k := range c.Hit.Data {
				assert.False(t, hit.IsSpecialKey(k, typ), "key %q in bag", k)
			}
			assert.Contains(t, c.Hit.Data, "free")
		})
	}
}

func TestBuild_UnknownTypeTagsEvent(t *testing.T) {
	c := Build(hit.HitType("bogus"), "", nil, snapshot(nil, nil), now)
	assert.Equal(t, "event", c.Hit.Tag)
	assert.Empty(t, c.Hit.Data)
}

func TestBuild_DoesNotMutateInputs(t *testing.T) {
	rec := hit.Fields{"category": hit.String("c")}
	snap := snapshot(nil, hit.Fields{"a": hit.Int(1)})

	c := Build(hit.Event, "", []hit.Fields{rec}, snap, now)
	c.Hit.Data["b"] = hit.Int(2)

	assert.Len(t, rec, 1)
	assert.Len(t, snap.AdHoc, 1)
}

func TestHit_MarshalJSON(t *testing.T) {
	c := Build(hit.Event, "", []hit.Fields{{"category": hit.String("c"), "x": hit.Bool(true)}}, snapshot(nil, nil), now)

	raw, err := json.Marshal(c.Hit)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "event", got["tp"])
	assert.Equal(t, float64(1700000000123), got["ht"])
	assert.Equal(t, "c", got["category"])
	assert.Equal(t, map[string]any{"x": true}, got["data"])
}

func TestHit_MarshalJSON_EmptyData(t *testing.T) {
	raw, err := json.Marshal(Hit{Tag: "event", Time: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tp":"event","ht":1,"data":{}}`, string(raw))
}
