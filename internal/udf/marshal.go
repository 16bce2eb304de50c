package udf

import (
	"encoding/json"
	"fmt"

	"github.com/arc-self/rotor/internal/model"
)

// remarshalEvent round-trips a goja-exported plain value through JSON into
// a *model.Event, since goja.Value.Export() of a JS object yields a
// map[string]interface{}, not our typed struct.
func remarshalEvent(v any) (*model.Event, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("udf result: encode: %w", err)
	}
	var ev model.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("udf result: decode: %w", err)
	}
	return &ev, nil
}
