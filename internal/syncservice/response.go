package syncservice

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Response is the sync envelope returned to clients.
type Response struct {
	Code int      `json:"code"`
	Data []Bundle `json:"data"`
}

// Bundle holds one record sequence per requested category, in request order,
// plus the server timestamp. It marshals as a flat object:
// {"<category>": [...], "serverUptime": T}.
type Bundle struct {
	Categories   *orderedmap.OrderedMap[string, []any]
	ServerUptime int64
}

func newBundle(size int, uptime int64) Bundle {
	return Bundle{
		Categories:   orderedmap.New[string, []any](orderedmap.WithCapacity[string, []any](size)),
		ServerUptime: uptime,
	}
}

// Records returns the records collected for category, or nil when it was not
// requested.
func (b Bundle) Records(category string) []any {
	if b.Categories == nil {
		return nil
	}
	return b.Categories.Value(category)
}

// MarshalJSON implements json.Marshaler. Category keys keep request order and
// serverUptime comes last unless a category of that name already took its
// slot.
func (b Bundle) MarshalJSON() ([]byte, error) {
	out := orderedmap.New[string, any]()
	if b.Categories != nil {
		for pair := b.Categories.Oldest(); pair != nil; pair = pair.Next() {
			out.Set(pair.Key, pair.Value)
		}
	}
	out.Set("serverUptime", b.ServerUptime)
	return out.MarshalJSON()
}
