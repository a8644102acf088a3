package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_StartsOffline(t *testing.T) {
	m := NewMonitor(NewStatic(true, ModeWifi), time.Second)
	assert.False(t, m.IsOnline())
	assert.Equal(t, ModeOffline, m.Mode())
}

func TestMonitor_CheckPublishesTransitions(t *testing.T) {
	p := NewStatic(true, ModeCellular)
	m := NewMonitor(p, time.Second)
	sub := m.Subscribe()

	assert.True(t, m.Check(context.Background()))
	assert.True(t, m.IsOnline())
	assert.Equal(t, ModeCellular, m.Mode())
	assert.Equal(t, State{Online: true, Mode: ModeCellular}, <-sub)

	assert.False(t, m.Check(context.Background()))

	p.Set(false, ModeWifi)
	assert.True(t, m.Check(context.Background()))
	assert.Equal(t, State{Mode: ModeOffline}, <-sub)
}

func TestMonitor_SlowSubscriberGetsLatest(t *testing.T) {
	p := NewStatic(true, ModeWifi)
	m := NewMonitor(p, time.Second)
	sub := m.Subscribe()

	m.Check(context.Background())
	p.Set(false, "")
	m.Check(context.Background())

	assert.Equal(t, State{Mode: ModeOffline}, <-sub)
	select {
	case s := <-sub:
		t.Fatalf("unexpected extra state %+v", s)
	default:
	}
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	m := NewMonitor(NewStatic(true, ModeWifi), 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, m.IsOnline, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestHTTPProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))

	p := NewHTTPProber(srv.URL, ModeWifi, time.Second)
	assert.Equal(t, State{Online: true, Mode: ModeWifi}, p.Probe(context.Background()))

	srv.Close()
	assert.Equal(t, State{Mode: ModeOffline}, p.Probe(context.Background()))
}

func TestHTTPProber_NoURLIsOnline(t *testing.T) {
	p := NewHTTPProber("", ModeCellular, 0)
	assert.True(t, p.Probe(context.Background()).Online)
}
