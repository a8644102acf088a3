// Package scope holds the data a tracker merges into every hit: the set
// scopes, ad-hoc send data, the named top-level section, ids, consent and the
// current view id.
package scope

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/rs/zerolog/log"

	"osb-tracker/internal/device"
	"osb-tracker/internal/hit"
	"osb-tracker/internal/storage"
)

// ConsentKey is the persisted consent slot.
const ConsentKey = "osb-defaults-consent"

// transientPageKeys are onsite search and campaign attribution keys that only
// apply to the hit they were sent with.
var transientPageKeys = []string{
	"oss_category",
	"oss_keyword",
	"oss_total_results",
	"oss_results_per_page",
	"oss_current_page",
	"osc_id",
	"onsite_search",
	"onsite_campaign",
}

// Remove targets accepted by Store.Remove.
const (
	RemoveAction = "action"
	RemoveEvent  = "event"
	RemoveItem   = "item"
	RemovePage   = "page"
	RemoveHits   = "hits"
	RemoveIDs    = "ids"
	RemoveAll    = "all"
)

// Snapshot is a deep copy of the store taken for one hit.
type Snapshot struct {
	SetData     map[hit.SetScope][]hit.Fields
	AdHoc       hit.Fields
	EventKey    string
	EventData   hit.Fields
	IDs         []hit.Fields
	Consent     []string // nil when never set
	ViewID      string
	Identifiers device.Identifiers
	Geo         device.Geo
}

// Records returns the records set for sc, nil when unset.
func (s Snapshot) Records(sc hit.SetScope) []hit.Fields {
	return s.SetData[sc]
}

// Store is the scoped data store of one tracker. Safe for concurrent use.
type Store struct {
	kv storage.KV

	mu          sync.Mutex
	setData     map[hit.SetScope][]hit.Fields
	adHoc       hit.Fields
	eventKey    string
	eventData   hit.Fields
	ids         []hit.Fields
	viewID      string
	identifiers device.Identifiers
	geo         device.Geo
}

func New(kv storage.KV) *Store {
	return &Store{
		kv:      kv,
		setData: map[hit.SetScope][]hit.Fields{},
		viewID:  randomID(8),
	}
}

// SetScope replaces the record list of sc.
func (s *Store) SetScope(sc hit.SetScope, records []hit.Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setData[sc] = hit.CloneAll(records)
}

func (s *Store) Records(sc hit.SetScope) []hit.Fields {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hit.CloneAll(s.setData[sc])
}

// SetAdHoc replaces the data overlaid on every send until cleared.
func (s *Store) SetAdHoc(fields hit.Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adHoc = fields.Clone()
}

// SetNamed sets the extra top-level section rendered under name.
func (s *Store) SetNamed(name string, fields hit.Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventKey = name
	s.eventData = fields.Clone()
}

func (s *Store) SetIds(records []hit.Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = hit.CloneAll(records)
}

func (s *Store) SetIdentifiers(ids device.Identifiers) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identifiers = ids
}

func (s *Store) SetGeo(g device.Geo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.geo = g
}

// SetConsent persists consent. Persistence failures are logged.
func (s *Store) SetConsent(ctx context.Context, consent []string) {
	if err := s.kv.SetList(ctx, ConsentKey, consent); err != nil {
		log.Error().Err(err).Msg("persist consent")
	}
}

// SetConsentString stores a single consent string as a one-element list.
func (s *Store) SetConsentString(ctx context.Context, consent string) {
	s.SetConsent(ctx, []string{consent})
}

// Consent returns the persisted consent list, ok=false when none is stored.
func (s *Store) Consent(ctx context.Context) ([]string, bool) {
	consent, err := s.kv.GetList(ctx, ConsentKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Msg("read consent")
		}
		return nil, false
	}
	return consent, true
}

func (s *Store) ViewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewID
}

// NextViewID regenerates the view id for pageview and screenview hits and
// returns the id the hit should carry.
func (s *Store) NextViewID(t hit.HitType) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t == hit.PageView || t == hit.ScreenView {
		s.viewID = randomID(8)
	}
	return s.viewID
}

// RegenerateViewID starts a new view, e.g. when the app returns to the foreground.
func (s *Store) RegenerateViewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewID = randomID(8)
	return s.viewID
}

// ClearAfterSend resets the per-hit scope after a send: event, item and
// action scopes, ids, ad-hoc data and the named section data. Transient page
// keys are stripped while the rest of page scope is kept.
func (s *Store) ClearAfterSend() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.eventData = nil
	s.adHoc = nil
	s.ids = nil
	s.setData[hit.ScopeEvent] = nil
	s.setData[hit.ScopeItem] = nil
	s.setData[hit.ScopeAction] = nil

	for _, page := range s.setData[hit.ScopePage] {
		for _, k := range transientPageKeys {
			delete(page, k)
		}
	}
}

// Remove clears one target or all of them.
func (s *Store) Remove(target string) error {
	if target == RemoveAll {
		for _, t := range []string{RemoveAction, RemoveEvent, RemoveItem, RemovePage, RemoveHits, RemoveIDs} {
			_ = s.Remove(t)
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch target {
	case RemoveAction:
		s.setData[hit.ScopeAction] = nil
	case RemoveEvent:
		s.setData[hit.ScopeEvent] = nil
		s.eventData = nil
	case RemoveItem:
		s.setData[hit.ScopeItem] = nil
	case RemovePage:
		s.setData[hit.ScopePage] = nil
	case RemoveHits:
		s.adHoc = nil
	case RemoveIDs:
		s.ids = nil
	default:
		return fmt.Errorf("unknown remove target %q", target)
	}
	return nil
}

// Snapshot copies the store for one hit.
func (s *Store) Snapshot(ctx context.Context) Snapshot {
	consent, _ := s.Consent(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	setData := make(map[hit.SetScope][]hit.Fields, len(s.setData))
	for k, v := range s.setData {
		setData[k] = hit.CloneAll(v)
	}
	return Snapshot{
		SetData:     setData,
		AdHoc:       s.adHoc.Clone(),
		EventKey:    s.eventKey,
		EventData:   s.eventData.Clone(),
		IDs:         hit.CloneAll(s.ids),
		Consent:     consent,
		ViewID:      s.viewID,
		Identifiers: s.identifiers,
		Geo:         s.geo,
	}
}

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomID(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}
