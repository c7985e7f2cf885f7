package bot

import (
	"fmt"
	"strings"
)

// ParseRefArg extracts a group reference (name, uuid or uuid prefix) from
// command arguments. Names may contain spaces.
func ParseRefArg(args string) (string, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return "", fmt.Errorf("group name or uuid is required")
	}
	return s, nil
}

// ParseSetArgs extracts a setting name and value. The value may be empty
// to clear a setting.
func ParseSetArgs(args string) (string, string, error) {
	parts := strings.SplitN(strings.TrimSpace(args), " ", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("usage: /set <name> <value>")
	}
	value := ""
	if len(parts) == 2 {
		value = strings.TrimSpace(parts[1])
	}
	return parts[0], value, nil
}

// ParseCallback splits inline button data of the form "action:id".
func ParseCallback(data string) (action, id string, ok bool) {
	action, id, ok = strings.Cut(data, ":")
	if !ok || action == "" {
		return "", "", false
	}
	return action, id, true
}
