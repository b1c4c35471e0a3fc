package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AdminIDs is the initial admin list. It accepts a comma-separated string
// ("1, 2,3") from the environment and either a YAML sequence or the same
// string form from the config file. An empty list is valid.
type AdminIDs []int64

// Decode implements envconfig.Decoder.
func (a *AdminIDs) Decode(value string) error {
	ids, err := ParseAdminIDs(value)
	if err != nil {
		return err
	}
	*a = ids
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *AdminIDs) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return a.Decode(node.Value)
	case yaml.SequenceNode:
		ids := make([]int64, 0, len(node.Content))
		for _, item := range node.Content {
			id, err := parseAdminID(item.Value)
			if err != nil {
				return fmt.Errorf("line %d: %w", item.Line, err)
			}
			ids = append(ids, id)
		}
		*a = ids
		return nil
	default:
		return fmt.Errorf("telegram.admins: expected a list or a comma-separated string")
	}
}

// ParseAdminIDs parses a comma-separated list of integer ids.
func ParseAdminIDs(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []int64{}, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := parseAdminID(p)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseAdminID(raw string) (int64, error) {
	v := strings.TrimSpace(raw)
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid admin id %q: must be an integer", v)
	}
	return id, nil
}
