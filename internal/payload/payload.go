// Package payload renders canonical hits into the collector wire format and
// merges queued bodies into one upload.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"osb-tracker/internal/device"
	"osb-tracker/internal/engine"
	"osb-tracker/internal/hit"
)

var ErrSerialization = errors.New("payload: serialization failed")

const transportTag = "ios-post"

// Context is everything outside the canonical hit that goes on the wire.
type Context struct {
	AccountID       string
	SiteID          string
	Namespaces      []string
	Debug           bool
	ProtocolVersion string
	Now             time.Time

	Device      device.Info
	Conn        string // wifi | cellular | offline
	Geo         device.Geo
	Identifiers device.Identifiers

	Consent   []string // nil renders null
	IDs       []hit.Fields
	NamedKey  string
	NamedData hit.Fields
}

func (c Context) namespace() string {
	if len(c.Namespaces) == 0 {
		return "default"
	}
	return strings.Join(c.Namespaces, ",")
}

func (c Context) system() map[string]any {
	is := 1
	if c.Geo.Valid() {
		is = 0
	}
	return map[string]any{
		"st":  c.Now.UnixMilli(),
		"tv":  c.ProtocolVersion,
		"cs":  0,
		"is":  is,
		"aid": c.AccountID,
		"sid": c.SiteID,
		"ns":  c.namespace(),
		"tt":  transportTag,
	}
}

func (c Context) deviceInfo() map[string]any {
	dv := map[string]any{
		"idfa":  c.Identifiers.IDFA,
		"idfv":  c.Identifiers.IDFV,
		"cduid": c.Identifiers.CDUID,
		"tz":    c.Device.TZOffsetMinutes,
		"lang":  c.Device.Lang(),
		"conn":  c.Conn,
		"sw":    c.Device.ScreenWidth,
		"sh":    c.Device.ScreenHeight,
		"mem":   strconv.FormatInt(c.Device.FreeStorage, 10),
	}
	if c.Geo.Valid() {
		dv["geo"] = map[string]float64{
			"latitude":  c.Geo.Latitude,
			"longitude": c.Geo.Longitude,
		}
	}
	return dv
}

// Render builds the upload body for one canonical hit.
func Render(c engine.Canonical, ctx Context) (string, error) {
	body := map[string]any{
		"sy":      ctx.system(),
		"dv":      ctx.deviceInfo(),
		"hits":    []engine.Hit{c.Hit},
		"pg":      c.Page,
		"consent": nil,
		"ids":     nil,
	}
	if ctx.Consent != nil {
		body["consent"] = ctx.Consent
	}
	if len(ctx.IDs) > 0 {
		body["ids"] = ctx.IDs
	}
	if ctx.NamedKey != "" && len(ctx.NamedData) > 0 {
		body[ctx.NamedKey] = ctx.NamedData
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return string(raw), nil
}
