package syncservice

import (
	"bytes"
	"encoding/json"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Interests is the ordered list of requested categories. A bare JSON string is
// accepted as a single category.
type Interests []string

// UnmarshalJSON implements json.Unmarshaler.
func (in *Interests) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*in = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*in = Interests{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*in = many
	return nil
}

// Request is a sync request body. Filters and LastUptime are accepted and
// carried along but do not influence the result.
type Request struct {
	Get        Interests       `json:"get"`
	Filters    json.RawMessage `json:"filters,omitempty"`
	LastUptime json.RawMessage `json:"lastUptime,omitempty"`
}

// Validate validates the request. An empty interest list is valid; a missing
// one is not.
func (r *Request) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Get, validation.NotNil),
	)
}
