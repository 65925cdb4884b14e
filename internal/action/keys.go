package action

import (
	"fmt"
	"sort"
	"strings"
)

// keyCodes maps symbolic key names to Android key event codes. The model
// speaks in symbolic names; the actuator takes codes.
var keyCodes = map[string]int{
	"home":        3,
	"back":        4,
	"call":        5,
	"volume_up":   24,
	"volume_down": 25,
	"power":       26,
	"camera":      27,
	"tab":         61,
	"space":       62,
	"enter":       66,
	"delete":      67,
	"backspace":   67,
	"menu":        82,
	"search":      84,
	"escape":      111,
	"move_home":   122,
	"move_end":    123,
	"app_switch":  187,
}

// KeyCode resolves a symbolic key name (case-insensitive) to its key event
// code.
func KeyCode(name string) (int, error) {
	code, ok := keyCodes[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown key name %q", name)
	}
	return code, nil
}

// KeyNames lists the supported symbolic key names, for prompt construction.
func KeyNames() []string {
	names := make([]string, 0, len(keyCodes))
	for n := range keyCodes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
