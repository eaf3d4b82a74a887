package nostr

import "encoding/json"

// Filter is a conjunction of optional constraints used by both the
// subscription and negentropy protocols (spec §3.2).
type Filter struct {
	IDs     []string         `json:"ids,omitempty"`
	Authors []string         `json:"authors,omitempty"`
	Kinds   []Kind           `json:"kinds,omitempty"`
	Tags    map[string][]string `json:"-"`
	Since   *int64           `json:"since,omitempty"`
	Until   *int64           `json:"until,omitempty"`
	Limit   *int             `json:"limit,omitempty"`
	Search  string           `json:"search,omitempty"`
}

// MarshalJSON flattens the single-letter generic tag constraints into
// "#a".."#z" keys alongside the named fields, per spec §6.1/§3.2.
func (f Filter) MarshalJSON() ([]byte, error) {
	m := map[string]any{}
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	for letter, values := range f.Tags {
		if len(values) == 0 {
			continue
		}
		m["#"+letter] = values
	}
	if f.Since != nil {
		m["since"] = *f.Since
	}
	if f.Until != nil {
		m["until"] = *f.Until
	}
	if f.Limit != nil {
		m["limit"] = *f.Limit
	}
	if f.Search != "" {
		m["search"] = f.Search
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts both the named fields and "#x" generic tag keys.
func (f *Filter) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["ids"]; ok {
		if err := json.Unmarshal(v, &f.IDs); err != nil {
			return err
		}
	}
	if v, ok := raw["authors"]; ok {
		if err := json.Unmarshal(v, &f.Authors); err != nil {
			return err
		}
	}
	if v, ok := raw["kinds"]; ok {
		if err := json.Unmarshal(v, &f.Kinds); err != nil {
			return err
		}
	}
	if v, ok := raw["since"]; ok {
		var ts int64
		if err := json.Unmarshal(v, &ts); err != nil {
			return err
		}
		f.Since = &ts
	}
	if v, ok := raw["until"]; ok {
		var ts int64
		if err := json.Unmarshal(v, &ts); err != nil {
			return err
		}
		f.Until = &ts
	}
	if v, ok := raw["limit"]; ok {
		var n int
		if err := json.Unmarshal(v, &n); err != nil {
			return err
		}
		f.Limit = &n
	}
	if v, ok := raw["search"]; ok {
		if err := json.Unmarshal(v, &f.Search); err != nil {
			return err
		}
	}
	for key, v := range raw {
		if len(key) == 2 && key[0] == '#' {
			var values []string
			if err := json.Unmarshal(v, &values); err != nil {
				return err
			}
			if f.Tags == nil {
				f.Tags = map[string][]string{}
			}
			f.Tags[key[1:]] = values
		}
	}
	return nil
}

// Clone returns a deep-enough copy of f suitable for per-relay
// specialisation (gossip break-down, addressable re-authoring).
func (f Filter) Clone() Filter {
	clone := f
	clone.IDs = append([]string(nil), f.IDs...)
	clone.Authors = append([]string(nil), f.Authors...)
	clone.Kinds = append([]Kind(nil), f.Kinds...)
	if f.Tags != nil {
		clone.Tags = make(map[string][]string, len(f.Tags))
		for k, v := range f.Tags {
			clone.Tags[k] = append([]string(nil), v...)
		}
	}
	return clone
}

func contains[T comparable](haystack []T, needle T) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

// Matches reports whether event satisfies every constraint present in f,
// by conjunctive AND over present constraints (spec §3.2).
func (f Filter) Matches(e Event) bool {
	if f.Since != nil && f.Until != nil && *f.Since > *f.Until {
		return false
	}
	if f.Limit != nil && *f.Limit == 0 {
		return false
	}
	if len(f.IDs) > 0 && !contains(f.IDs, e.ID) {
		return false
	}
	if len(f.Authors) > 0 && !contains(f.Authors, e.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !contains(f.Kinds, e.Kind) {
		return false
	}
	if f.Since != nil && e.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && e.CreatedAt > *f.Until {
		return false
	}
	for letter, values := range f.Tags {
		if len(letter) != 1 {
			continue
		}
		matched := false
		for _, row := range e.Tags {
			if row.Name() == letter && contains(values, row.Value()) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
