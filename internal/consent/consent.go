// Package consent processes CMP callbacks and decides when the consent
// dialog has to be shown again. Rendering the dialog is up to the host.
package consent

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"osb-tracker/internal/device"
	"osb-tracker/internal/storage"
)

// Persisted slots. The consent list itself lives in scope.ConsentKey.
const (
	ExpirationKey        = "osb-defaults-consent-exp"
	CDUIDKey             = "osb-defaults-cduid"
	LocalCMPVersionKey   = "osb-defaults-local-cmp-version"
	RemoteCMPVersionKey  = "osb-defaults-remote-cmp-version"
	CMPCheckTimestampKey = "osb-defaults-cmp-check-timestamp"
	GoogleConsentModeKey = "osb-defaults-google-consent-mode"
)

const (
	DefaultCDN       = "https://cdn.onesecondbefore.com/cmp/"
	cmpCheckInterval = 24 * time.Hour
	zeroIDFA         = "00000000-0000-0000-0000-000000000000"
)

var ErrInvalidCallback = errors.New("consent: invalid callback payload")

const (
	granted = "granted"
	denied  = "denied"
)

// Mode is the Google consent mode signal set.
type Mode map[string]string

// MapConsentMode derives Google consent mode from the accepted TCF purposes.
func MapConsentMode(purposes []int) Mode {
	m := Mode{
		"ad_storage":              denied,
		"ad_user_data":            denied,
		"ad_personalization":      denied,
		"analytics_storage":       granted,
		"functionality_storage":   granted,
		"personalization_storage": granted,
		"security_storage":        granted,
	}
	has := func(p int) bool { return slices.Contains(purposes, p) }
	if has(1) {
		m["ad_storage"] = granted
	}
	if has(1) && has(7) {
		m["ad_user_data"] = granted
	}
	if has(3) && has(4) {
		m["ad_personalization"] = granted
	}
	return m
}

// Callback is the message the CMP posts once the user made a choice.
type Callback struct {
	Consent struct {
		TCString string `json:"tcString"`
		Purposes []int  `json:"purposes"`
	} `json:"consent"`
	ExpirationDate int64  `json:"expirationDate"` // epoch ms
	CDUID          string `json:"cduid"`
}

// ConsentSetter stores the consent string used on every hit.
type ConsentSetter interface {
	SetConsentString(ctx context.Context, consent string)
}

type Option func(*Manager)

// WithCallback registers a function receiving the consent mode after each callback.
func WithCallback(fn func(Mode)) Option {
	return func(m *Manager) { m.onChange = fn }
}

func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

func WithCDN(base string) Option {
	return func(m *Manager) { m.cdn = base }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

type Manager struct {
	kv       storage.KV
	consent  ConsentSetter
	client   *http.Client
	cdn      string
	now      func() time.Time
	onChange func(Mode)
}

func NewManager(kv storage.KV, consent ConsentSetter, opts ...Option) *Manager {
	m := &Manager{
		kv:      kv,
		consent: consent,
		client:  &http.Client{Timeout: 10 * time.Second},
		cdn:     DefaultCDN,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ProcessCallback stores consent mode, consent string, expiration and cduid
// from a raw CMP callback.
func (m *Manager) ProcessCallback(ctx context.Context, raw string) (Mode, error) {
	var cb Callback
	if err := json.Unmarshal([]byte(raw), &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	if cb.Consent.TCString == "" || cb.CDUID == "" || cb.ExpirationDate == 0 || cb.Consent.Purposes == nil {
		return nil, fmt.Errorf("%w: missing fields", ErrInvalidCallback)
	}

	mode := MapConsentMode(cb.Consent.Purposes)
	if err := m.storeMode(ctx, mode); err != nil {
		return nil, err
	}
	if m.onChange != nil {
		m.onChange(mode)
	}

	m.consent.SetConsentString(ctx, cb.Consent.TCString)
	if err := m.kv.SetString(ctx, ExpirationKey, strconv.FormatInt(cb.ExpirationDate, 10)); err != nil {
		return nil, fmt.Errorf("store consent expiration: %w", err)
	}
	if err := m.kv.SetString(ctx, CDUIDKey, cb.CDUID); err != nil {
		return nil, fmt.Errorf("store cduid: %w", err)
	}
	log.Info().Str("cduid", cb.CDUID).Int64("expires", cb.ExpirationDate).Msg("consent stored")
	return mode, nil
}

func (m *Manager) storeMode(ctx context.Context, mode Mode) error {
	raw, err := json.Marshal(mode)
	if err != nil {
		return err
	}
	if err := m.kv.SetString(ctx, GoogleConsentModeKey, string(raw)); err != nil {
		return fmt.Errorf("store consent mode: %w", err)
	}
	return nil
}

// ConsentMode returns the stored Google consent mode.
func (m *Manager) ConsentMode(ctx context.Context) (Mode, bool) {
	raw, ok := m.getString(ctx, GoogleConsentModeKey)
	if !ok {
		return nil, false
	}
	var mode Mode
	if err := json.Unmarshal([]byte(raw), &mode); err != nil {
		log.Warn().Err(err).Msg("decode stored consent mode")
		return nil, false
	}
	return mode, true
}

func (m *Manager) CDUID(ctx context.Context) (string, bool) {
	return m.getString(ctx, CDUIDKey)
}

// ShouldResurfaceCMP reports whether the CMP published a newer version than
// the one last shown. A true result records the remote version as shown.
func (m *Manager) ShouldResurfaceCMP(ctx context.Context) bool {
	remote, ok := m.getInt(ctx, RemoteCMPVersionKey)
	if !ok {
		return false
	}
	if local, ok := m.getInt(ctx, LocalCMPVersionKey); ok && remote <= local {
		return false
	}
	if err := m.kv.SetString(ctx, LocalCMPVersionKey, strconv.FormatInt(remote, 10)); err != nil {
		log.Error().Err(err).Msg("store local cmp version")
	}
	return true
}

// ShouldShowConsent is true when the CMP must resurface or stored consent is
// missing or expired.
func (m *Manager) ShouldShowConsent(ctx context.Context) bool {
	if m.ShouldResurfaceCMP(ctx) {
		return true
	}
	exp, ok := m.getInt(ctx, ExpirationKey)
	return !ok || exp <= m.now().UnixMilli()
}

// CMPVersionURL is the CDN document holding the cmpVersion of a site.
func CMPVersionURL(base, accountID, siteID string) string {
	if siteID == "" {
		return ""
	}
	sum := sha1.Sum([]byte(accountID + "-" + siteID))
	return base + hex.EncodeToString(sum[:])[:8] + ".json"
}

// FetchRemoteCMPVersion refreshes the remote CMP version, at most once per 24h.
func (m *Manager) FetchRemoteCMPVersion(ctx context.Context, accountID, siteID string) error {
	if last, ok := m.getInt(ctx, CMPCheckTimestampKey); ok {
		if time.Unix(last, 0).Add(cmpCheckInterval).After(m.now()) {
			return nil
		}
	}
	u := CMPVersionURL(m.cdn, accountID, siteID)
	if u == "" {
		return errors.New("consent: site id unknown")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch cmp version: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch cmp version: status %d", resp.StatusCode)
	}

	var doc struct {
		CMPVersion *int64 `json:"cmpVersion"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode cmp version: %w", err)
	}
	if doc.CMPVersion == nil {
		return errors.New("consent: cmpVersion missing")
	}

	if err := m.kv.SetString(ctx, RemoteCMPVersionKey, strconv.FormatInt(*doc.CMPVersion, 10)); err != nil {
		return fmt.Errorf("store remote cmp version: %w", err)
	}
	if err := m.kv.SetString(ctx, CMPCheckTimestampKey, strconv.FormatInt(m.now().Unix(), 10)); err != nil {
		return fmt.Errorf("store cmp check timestamp: %w", err)
	}
	log.Debug().Int64("cmp_version", *doc.CMPVersion).Msg("remote cmp version refreshed")
	return nil
}

// UserUID picks the id handed to the consent dialog: cduid, then a real idfa, then idfv.
func UserUID(ids device.Identifiers) string {
	switch {
	case ids.CDUID != nil:
		return *ids.CDUID
	case ids.IDFA != nil && *ids.IDFA != zeroIDFA:
		return *ids.IDFA
	case ids.IDFV != nil:
		return *ids.IDFV
	}
	return ""
}

// WebviewURL is the address of the hosted consent dialog.
func WebviewURL(serverURL, accountID, siteID, version, consent, userUID string) string {
	q := url.Values{}
	q.Set("aid", accountID)
	if siteID != "" {
		q.Set("sid", siteID)
	}
	q.Set("type", "app")
	q.Set("show", "true")
	q.Set("version", version)
	q.Set("consent", consent)
	q.Set("cduid", userUID)
	return serverURL + "/consent?" + q.Encode()
}

func (m *Manager) getString(ctx context.Context, key string) (string, bool) {
	v, err := m.kv.GetString(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Str("key", key).Msg("read consent slot")
		}
		return "", false
	}
	return v, true
}

func (m *Manager) getInt(ctx context.Context, key string) (int64, bool) {
	raw, ok := m.getString(ctx, key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("parse consent slot")
		return 0, false
	}
	return n, true
}
