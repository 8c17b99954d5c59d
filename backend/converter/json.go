package converter

import (
	"encoding/json"

	"github.com/itixo/durabletask/backend/payload"
)

type jsonConverter struct{}

func (jc *jsonConverter) To(v any) (payload.Payload, error) {
	return json.Marshal(v)
}

func (jc *jsonConverter) From(data payload.Payload, vptr any) error {
	// An empty payload decodes into the zero value
	if len(data) == 0 {
		return nil
	}

	return json.Unmarshal(data, vptr)
}
