// internal/feature/names.go
package feature

import (
	"fmt"
	"strings"
)

// CalibratedCircuit is the only analog output with factory calibration.
const CalibratedCircuit = "ao_1_01"

// CircuitID returns the id of the index-th (zero based) feature of kind in a
// major group, e.g. "ro_2_01".
func CircuitID(kind Kind, group, index int) string {
	return fmt.Sprintf("%s_%d_%02d", strings.ToLower(kind.String()), group, index+1)
}

// ExtensionCircuitID qualifies the id with the extension's unit so that
// extension features never collide with controller features.
func ExtensionCircuitID(kind Kind, unit uint8, group, index int) string {
	return fmt.Sprintf("%s_%d_%d_%02d", strings.ToLower(kind.String()), unit, group, index+1)
}

// MeterCircuitID returns e.g. "active_power_1".
func MeterCircuitID(friendlyName string, unit uint8) string {
	return fmt.Sprintf("%s_%d", Slug(friendlyName), unit)
}

// DisplayName returns e.g. "Relay 2.01".
func DisplayName(kind Kind, group, index int) string {
	return fmt.Sprintf("%s %d.%02d", kind.Name(), group, index+1)
}

// Slug lowercases s and replaces every run of characters outside [a-z0-9]
// with a single underscore.
func Slug(s string) string {
	var b strings.Builder
	pending := false

	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}

	return b.String()
}
