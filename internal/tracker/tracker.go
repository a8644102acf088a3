// Package tracker is the public face of the event-collection core. A Tracker
// owns one scope store and one delivery queue; hosts build it once and share it.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"osb-tracker/internal/connectivity"
	"osb-tracker/internal/consent"
	"osb-tracker/internal/device"
	"osb-tracker/internal/engine"
	"osb-tracker/internal/hit"
	"osb-tracker/internal/observability"
	"osb-tracker/internal/payload"
	"osb-tracker/internal/queue"
	"osb-tracker/internal/scope"
	"osb-tracker/internal/storage"
)

var ErrNotInitialized = errors.New("tracker: not initialized")

// Connectivity is the online signal the tracker reads and follows.
type Connectivity interface {
	IsOnline() bool
	Mode() string
	Subscribe() <-chan connectivity.State
}

// Deps are the collaborators of a tracker.
type Deps struct {
	KV           storage.KV
	Deliverer    queue.Deliverer
	Connectivity Connectivity
	Device       device.Provider
}

type Option func(*Tracker)

func WithProtocolVersion(v string) Option {
	return func(t *Tracker) { t.protocolVersion = v }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithDeliveryTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.deliveryTimeout = d }
}

// WithConsentOptions configures the consent manager, e.g. its callback.
func WithConsentOptions(opts ...consent.Option) Option {
	return func(t *Tracker) { t.consentOpts = append(t.consentOpts, opts...) }
}

// Info is the account context set by Configure.
type Info struct {
	AccountID string
	SiteID    string
	URL       string
}

type Tracker struct {
	store   *scope.Store
	queue   *queue.Queue
	consent *consent.Manager
	device  device.Provider
	conn    Connectivity

	protocolVersion string
	deliveryTimeout time.Duration
	consentOpts     []consent.Option
	now             func() time.Time

	// send serializes build, render, scope reset and enqueue.
	send sync.Mutex

	mu          sync.RWMutex
	info        Info
	namespaces  []string
	debug       bool
	initialized bool
}

func New(deps Deps, opts ...Option) *Tracker {
	t := &Tracker{
		device:          deps.Device,
		conn:            deps.Connectivity,
		protocolVersion: "6.10.unknown",
		deliveryTimeout: 10 * time.Second,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.device == nil {
		t.device = device.NewStatic(device.Info{})
	}
	t.store = scope.New(deps.KV)
	t.queue = queue.New(deps.KV, deps.Deliverer, deps.Connectivity,
		queue.WithTimeout(t.deliveryTimeout),
		queue.WithClock(t.now),
	)
	t.consent = consent.NewManager(deps.KV, t, append([]consent.Option{consent.WithClock(t.now)}, t.consentOpts...)...)
	return t
}

// Configure sets the account context, rehydrates the queue and marks the
// tracker initialized. It may be called again to switch accounts.
func (t *Tracker) Configure(ctx context.Context, accountID, url, siteID string) {
	t.Clear()

	t.mu.Lock()
	t.info = Info{AccountID: accountID, SiteID: siteID, URL: url}
	t.initialized = true
	t.mu.Unlock()

	t.queue.Initialize(ctx)
	log.Info().Str("account", accountID).Str("site", siteID).Str("url", url).Msg("tracker configured")
}

// Clear forgets the account context; Record fails until Configure runs again.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.info = Info{}
	t.initialized = false
}

func (t *Tracker) Info() Info {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.info
}

// SetDebug logs every rendered payload when on.
func (t *Tracker) SetDebug(on bool) {
	t.mu.Lock()
	t.debug = on
	t.mu.Unlock()
}

func (t *Tracker) SetNamespaces(ns ...string) {
	t.mu.Lock()
	t.namespaces = append([]string(nil), ns...)
	t.mu.Unlock()
}

func (t *Tracker) SetScope(sc hit.SetScope, records []hit.Fields) {
	t.locked(func() { t.store.SetScope(sc, records) })
}

// SetAdHoc sets data overlaid on the next hits until the scope resets.
func (t *Tracker) SetAdHoc(fields hit.Fields) { t.locked(func() { t.store.SetAdHoc(fields) }) }

func (t *Tracker) SetNamed(name string, fields hit.Fields) {
	t.locked(func() { t.store.SetNamed(name, fields) })
}

func (t *Tracker) SetIds(records ...hit.Fields) { t.locked(func() { t.store.SetIds(records) }) }

func (t *Tracker) SetIdentifiers(ids device.Identifiers) {
	t.locked(func() { t.store.SetIdentifiers(ids) })
}

func (t *Tracker) SetGeo(g device.Geo) { t.locked(func() { t.store.SetGeo(g) }) }

func (t *Tracker) SetConsent(ctx context.Context, consent []string) {
	t.locked(func() { t.store.SetConsent(ctx, consent) })
}

func (t *Tracker) SetConsentString(ctx context.Context, consent string) {
	t.locked(func() { t.store.SetConsentString(ctx, consent) })
}

func (t *Tracker) Consent(ctx context.Context) ([]string, bool) { return t.store.Consent(ctx) }

// ConsentManager exposes CMP callback handling and resurfacing checks.
func (t *Tracker) ConsentManager() *consent.Manager { return t.consent }

// Remove clears one scope target; see scope.Remove* for the names.
func (t *Tracker) Remove(target string) (err error) {
	t.locked(func() { err = t.store.Remove(target) })
	return err
}

func (t *Tracker) RemoveAll() { t.locked(func() { _ = t.store.Remove(scope.RemoveAll) }) }

// Foreground starts a new view, as when the app returns to the foreground.
func (t *Tracker) Foreground() (id string) {
	t.locked(func() { id = t.store.RegenerateViewID() })
	return id
}

// locked runs fn inside the send domain so no hit is built halfway through it.
func (t *Tracker) locked(fn func()) {
	t.send.Lock()
	defer t.send.Unlock()
	fn()
}

func (t *Tracker) ProtocolVersion() string { return t.protocolVersion }

// QueueLen is the number of payloads waiting for delivery.
func (t *Tracker) QueueLen() int { return t.queue.Len() }

// Flush merges and drains the queue, then waits for in-flight deliveries.
func (t *Tracker) Flush(ctx context.Context) {
	t.queue.OnConnectivityChanged(ctx, t.conn.IsOnline())
	t.queue.Wait()
}

// Shutdown waits for the in-flight delivery and persists what is left.
func (t *Tracker) Shutdown(ctx context.Context) {
	t.queue.Wait()
	t.queue.Persist(ctx)
}

// Record builds, renders and enqueues one hit. A hit that cannot be rendered
// is dropped and logged; only a missing Configure is reported.
func (t *Tracker) Record(ctx context.Context, hitType hit.HitType, subType string, records []hit.Fields) error {
	return t.record(ctx, hitType, subType, records, nil, nil)
}

// record holds the send lock from before, through the build and enqueue, to
// after. Neither hook runs when the tracker is not configured; after runs
// only once the hit has been handled.
func (t *Tracker) record(ctx context.Context, hitType hit.HitType, subType string, records []hit.Fields, before, after func()) (err error) {
	ctx, span := observability.StartRecordSpan(ctx, string(hitType))
	defer func() { observability.EndSpanWithError(span, err) }()

	t.send.Lock()
	defer t.send.Unlock()

	t.mu.RLock()
	info, debug, ok := t.info, t.debug, t.initialized
	namespaces := t.namespaces
	t.mu.RUnlock()
	if !ok {
		return ErrNotInitialized
	}

	if before != nil {
		before()
	}
	t.recordLocked(ctx, hitType, subType, records, info, namespaces, debug)
	if after != nil {
		after()
	}
	return nil
}

func (t *Tracker) recordLocked(ctx context.Context, hitType hit.HitType, subType string, records []hit.Fields, info Info, namespaces []string, debug bool) {
	t.store.NextViewID(hitType)
	snap := t.store.Snapshot(ctx)
	now := t.now()

	c := engine.Build(hitType, subType, records, snap, now)
	body, err := payload.Render(c, t.payloadContext(ctx, snap, info, namespaces, now))
	t.store.ClearAfterSend()
	if err != nil {
		observability.HitsDropped.WithLabelValues("serialization").Inc()
		log.Error().Err(err).Str("type", string(hitType)).Msg("hit dropped")
		return
	}

	if debug {
		log.Info().Str("type", string(hitType)).RawJSON("payload", []byte(body)).Msg("hit recorded")
	}
	t.queue.Enqueue(ctx, info.URL, body)
	observability.HitsRecorded.WithLabelValues(string(hitType)).Inc()
}

func (t *Tracker) payloadContext(ctx context.Context, snap scope.Snapshot, info Info, namespaces []string, now time.Time) payload.Context {
	ids := t.identifiers(ctx, snap.Identifiers)
	geo := snap.Geo
	if !geo.Enabled {
		geo = t.device.Geo()
	}
	return payload.Context{
		AccountID:       info.AccountID,
		SiteID:          info.SiteID,
		Namespaces:      namespaces,
		ProtocolVersion: t.protocolVersion,
		Now:             now,
		Device:          t.device.Info(),
		Conn:            t.conn.Mode(),
		Geo:             geo,
		Identifiers:     ids,
		Consent:         snap.Consent,
		IDs:             snap.IDs,
		NamedKey:        snap.EventKey,
		NamedData:       snap.EventData,
	}
}

// identifiers prefers values set on the tracker, then the device provider;
// cduid comes from the last consent callback when nothing else set it.
func (t *Tracker) identifiers(ctx context.Context, set device.Identifiers) device.Identifiers {
	dev := t.device.Identifiers()
	if set.IDFA == nil {
		set.IDFA = dev.IDFA
	}
	if set.IDFV == nil {
		set.IDFV = dev.IDFV
	}
	if set.CDUID == nil {
		set.CDUID = dev.CDUID
	}
	if set.CDUID == nil {
		if cduid, ok := t.consent.CDUID(ctx); ok {
			set.CDUID = &cduid
		}
	}
	return set
}

// ConsentDialogURL is the hosted consent dialog for the configured account,
// prefilled with the stored consent string and the best user id.
func (t *Tracker) ConsentDialogURL(ctx context.Context, serverURL, version string) string {
	info := t.Info()
	snap := t.store.Snapshot(ctx)
	var current string
	if len(snap.Consent) > 0 {
		current = snap.Consent[0]
	}
	return consent.WebviewURL(serverURL, info.AccountID, info.SiteID, version, current, consent.UserUID(t.identifiers(ctx, snap.Identifiers)))
}

// Run forwards connectivity transitions to the queue until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	updates := t.conn.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-updates:
			t.queue.OnConnectivityChanged(ctx, s.Online)
		}
	}
}
