package httpapi

import "encoding/json"

// stopField accepts the request body's `stop` field as either a bare
// string or a list of strings, normalizing to a slice.
type stopField []string

func (s *stopField) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*s = nil
			return nil
		}
		*s = stopField{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = stopField(list)
	return nil
}
