package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

type wireBody struct {
	Sy   map[string]json.RawMessage `json:"sy"`
	Dv   json.RawMessage            `json:"dv"`
	Hits []json.RawMessage          `json:"hits"`
}

// Merge combines queued bodies into one: every hits list concatenated in
// order, the last sy and dv sections kept and sy.st refreshed to now.
// Bodies that do not parse are skipped.
func Merge(bodies []string, now time.Time) (string, error) {
	var (
		out    wireBody
		parsed int
	)
	out.Hits = []json.RawMessage{}

	for i, body := range bodies {
		var b wireBody
		if err := json.Unmarshal([]byte(body), &b); err != nil {
			log.Warn().Err(err).Int("index", i).Msg("skip unparseable queued body")
			continue
		}
		parsed++
		if b.Sy != nil {
			out.Sy = b.Sy
		}
		if len(b.Dv) > 0 && !bytes.Equal(b.Dv, []byte("null")) {
			out.Dv = b.Dv
		}
		out.Hits = append(out.Hits, b.Hits...)
	}
	if parsed == 0 {
		return "", fmt.Errorf("%w: no queued body could be parsed", ErrSerialization)
	}

	if out.Sy == nil {
		out.Sy = map[string]json.RawMessage{}
	}
	out.Sy["st"] = json.RawMessage(fmt.Sprintf("%d", now.UnixMilli()))
	if out.Dv == nil {
		out.Dv = json.RawMessage("{}")
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return string(raw), nil
}
