package model

import "encoding/json"

// MutationData describes one outbound write to replay.
type MutationData struct {
	URL    string          `json:"url"`
	Method string          `json:"method"`
	Body   json.RawMessage `json:"body"`
}

// Mutation is a queued MutationData. ID is allocated by the store and
// increases with submission order.
type Mutation struct {
	ID   int64        `json:"id,omitempty"`
	Data MutationData `json:"data"`
}

// HasBody reports whether the mutation carries a request body.
func (d MutationData) HasBody() bool {
	return len(d.Body) != 0 && string(d.Body) != "null"
}
