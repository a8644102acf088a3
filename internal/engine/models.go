package engine

import (
	"encoding/json"

	"osb-tracker/internal/hit"
)

// Hit is one entry of the wire `hits` list.
type Hit struct {
	Tag      string     // tp
	Time     int64      // ht, epoch milliseconds
	Envelope hit.Fields // special keys (and items for actions)
	Data     hit.Fields // free-form data bag
}

func (h Hit) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(h.Envelope)+3)
	for k, v := range h.Envelope {
		out[k] = v
	}
	data := h.Data
	if data == nil {
		data = hit.Fields{}
	}
	out["tp"] = h.Tag
	out["ht"] = h.Time
	out["data"] = data
	return json.Marshal(out)
}

// Canonical is the builder output: the hit plus the page-info envelope (pg).
type Canonical struct {
	Hit  Hit
	Page hit.Fields
}
