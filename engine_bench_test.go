package tests

import (
	"context"
	"testing"
	"time"

	"osb-tracker/internal/engine"
	"osb-tracker/internal/hit"
	"osb-tracker/internal/scope"
	"osb-tracker/internal/storage"
)

func BenchmarkBuild(b *testing.B) {
	store := scope.New(storage.NewMemory())
	store.SetScope(hit.ScopePage, []hit.Fields{{"title": hit.String("Home"), "section": hit.String("news")}})
	store.SetScope(hit.ScopeEvent, []hit.Fields{{"category": hit.String("video"), "extra": hit.Int(1)}})
	snap := store.Snapshot(context.Background())
	rec := []hit.Fields{{"action": hit.String("play"), "position": hit.Number(12.5)}}
	now := time.Now()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = engine.Build(hit.Event, "", rec, snap, now)
	}
}
