package scope

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osb-tracker/internal/hit"
	"osb-tracker/internal/storage"
)

func TestConsentRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())

	_, ok := s.Consent(ctx)
	assert.False(t, ok)

	s.SetConsent(ctx, []string{"x", "y"})
	got, ok := s.Consent(ctx)
	require.True(t, ok)
	assert.Equal(t, []string{"x", "y"}, got)

	s.SetConsentString(ctx, "z")
	got, ok = s.Consent(ctx)
	require.True(t, ok)
	assert.Equal(t, []string{"z"}, got)
}

func TestConsentSurvivesNewStore(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	New(kv).SetConsent(ctx, []string{"tcf"})

	got, ok := New(kv).Consent(ctx)
	require.True(t, ok)
	assert.Equal(t, []string{"tcf"}, got)
}

func TestClearAfterSend(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())

	s.SetScope(hit.ScopePage, []hit.Fields{{
		"title":        hit.String("Home"),
		"section":      hit.String("news"),
		"oss_keyword":  hit.String("shoes"),
		"oss_category": hit.String("all"),
		"osc_id":       hit.String("cmp-1"),
		"osc_label":    hit.String("spring"),
	}})
	s.SetScope(hit.ScopeEvent, []hit.Fields{{"category": hit.String("c")}})
	s.SetScope(hit.ScopeItem, []hit.Fields{{"sku": hit.String("1")}})
	s.SetScope(hit.ScopeAction, []hit.Fields{{"revenue": hit.Int(3)}})
	s.SetAdHoc(hit.Fields{"once": hit.Bool(true)})
	s.SetIds([]hit.Fields{{"key": hit.String("email")}})
	s.SetNamed("custom", hit.Fields{"a": hit.String("b")})

	s.ClearAfterSend()
	snap := s.Snapshot(ctx)

	assert.Empty(t, snap.Records(hit.ScopeEvent))
	assert.Empty(t, snap.Records(hit.ScopeItem))
	assert.Empty(t, snap.Records(hit.ScopeAction))
	assert.Empty(t, snap.AdHoc)
	assert.Empty(t, snap.IDs)
	assert.Empty(t, snap.EventData)

	page := snap.Records(hit.ScopePage)
	require.Len(t, page, 1)
	assert.Equal(t, []string{"osc_label", "section", "title"}, page[0].Keys())
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())
	s.SetScope(hit.ScopePage, []hit.Fields{{"a": hit.String("1")}})
	s.SetScope(hit.ScopeEvent, []hit.Fields{{"b": hit.String("2")}})
	s.SetAdHoc(hit.Fields{"c": hit.String("3")})

	require.NoError(t, s.Remove(RemovePage))
	snap := s.Snapshot(ctx)
	assert.Empty(t, snap.Records(hit.ScopePage))
	assert.Len(t, snap.Records(hit.ScopeEvent), 1)

	require.NoError(t, s.Remove(RemoveAll))
	snap = s.Snapshot(ctx)
	assert.Empty(t, snap.Records(hit.ScopeEvent))
	assert.Empty(t, snap.AdHoc)

	assert.Error(t, s.Remove("nope"))
}

func TestNextViewID(t *testing.T) {
	s := New(storage.NewMemory())
	first := s.ViewID()
	assert.Len(t, first, 8)

	assert.Equal(t, first, s.NextViewID(hit.Event))
	pv := s.NextViewID(hit.PageView)
	assert.Len(t, pv, 8)
	assert.Equal(t, pv, s.ViewID())

	sv := s.NextViewID(hit.ScreenView)
	assert.Equal(t, sv, s.ViewID())
	assert.NotEqual(t, sv, s.RegenerateViewID())
}

func TestSnapshotIsIsolated(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())
	s.SetScope(hit.ScopePage, []hit.Fields{{"a": hit.String("1")}})

	snap := s.Snapshot(ctx)
	snap.Records(hit.ScopePage)[0]["a"] = hit.String("changed")

	v, _ := s.Records(hit.ScopePage)[0]["a"].Str()
	assert.Equal(t, "1", v)
}

func TestSetScopeCopiesInput(t *testing.T) {
	s := New(storage.NewMemory())
	rec := hit.Fields{"a": hit.String("1")}
	s.SetScope(hit.ScopePage, []hit.Fields{rec})
	rec["a"] = hit.String("2")

	v, _ := s.Records(hit.ScopePage)[0]["a"].Str()
	assert.Equal(t, "1", v)
}
