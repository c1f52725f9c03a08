package config

import (
	"sort"

	"github.com/go-viper/mapstructure/v2"
)

// Keys flattens f into dotted keys ("rate_limit.search") named by the
// mapstructure tags, which is how viper addresses them. Registering every
// key as a default lets environment variables override keys the config file
// never mentions.
func (f *File) Keys() (map[string]interface{}, error) {
	var nested map[string]interface{}
	if err := mapstructure.Decode(f, &nested); err != nil {
		return nil, err
	}
	out := make(map[string]interface{})
	flatten("", nested, out)
	return out, nil
}

func flatten(prefix string, in, out map[string]interface{}) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if m, ok := v.(map[string]interface{}); ok {
			flatten(key, m, out)
			continue
		}
		out[key] = v
	}
}

// SortedKeys returns the keys of m in order.
func SortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
