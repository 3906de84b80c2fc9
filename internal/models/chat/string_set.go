package chat

import (
	"encoding/json"
	"sort"
)

// StringSet - отсортированное множество строк без повторов.
type StringSet []string

func NewStringSet(items ...string) StringSet {
	return StringSet(nil).Union(items...)
}

func (s StringSet) Contains(item string) bool {
	i := sort.SearchStrings(s, item)
	return i < len(s) && s[i] == item
}

// Union возвращает новое множество; исходное не меняется.
func (s StringSet) Union(items ...string) StringSet {
	out := make(StringSet, 0, len(s)+len(items))
	out = append(out, s...)
	for _, item := range items {
		if item == "" || out.Contains(item) {
			continue
		}
		i := sort.SearchStrings(out, item)
		out = append(out, "")
		copy(out[i+1:], out[i:])
		out[i] = item
	}
	return out
}

func (s StringSet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(s))
}

func (s *StringSet) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*s = NewStringSet(items...)
	return nil
}
