package settings

import (
	"fmt"
	"strconv"
)

// ManualMode is the resolution-mode decision the reconciler derives from the
// server's settings map, consumed by the Rendering Geometry Controller.
type ManualMode struct {
	Enabled bool
	Width   int
	Height  int
}

// Reconcile applies the server's settings map against the persisted store,
// enforcing range/enum/lock rules, and returns the delta that must be
// reported back to the server as a SETTINGS message plus the resolution
// mode decision.
//
// Reconciliation mutates store in place for any key whose persisted value
// needed correction or first-contact seeding.
func Reconcile(server Map, store Store) (delta Map, manual ManualMode) {
	delta = make(Map)

	for key, desc := range server {
		switch {
		case desc.Min != nil && desc.Max != nil:
			reconcileRange(key, desc, store, delta)
		case len(desc.Allowed) > 0:
			reconcileEnum(key, desc, store, delta)
		default:
			reconcileBoolean(key, desc, store, delta)
		}
	}

	manual = resolveManualMode(server)
	return delta, manual
}

func reconcileRange(key string, desc Descriptor, store Store, delta Map) {
	persisted, ok := store.Get(key)
	if !ok {
		store.Set(key, formatValue(desc.Value))
		delta[key] = desc
		return
	}
	f, err := strconv.ParseFloat(persisted, 64)
	if err != nil || f < *desc.Min || f > *desc.Max {
		store.Set(key, formatValue(desc.Default))
		out := desc
		out.Value = desc.Default
		delta[key] = out
		return
	}
}

func reconcileEnum(key string, desc Descriptor, store Store, delta Map) {
	persisted, ok := store.Get(key)
	if !ok {
		store.Set(key, formatValue(desc.Value))
		delta[key] = desc
		return
	}
	if !isAllowed(persisted, desc.Allowed) {
		store.Set(key, formatValue(desc.Value))
		delta[key] = desc
		return
	}
}

func reconcileBoolean(key string, desc Descriptor, store Store, delta Map) {
	serverValue := formatValue(desc.Value)

	if desc.IsLocked() {
		persisted, ok := store.Get(key)
		if !ok || persisted != serverValue {
			store.Set(key, serverValue)
			delta[key] = desc
		}
		return
	}

	if _, ok := store.Get(key); !ok {
		store.Set(key, serverValue)
		delta[key] = desc
	}
}

func isAllowed(value string, allowed []string) bool {
	for _, a := range allowed {
		if a == value {
			return true
		}
	}
	return false
}

// formatValue preserves the numeric-vs-string representation of a
// descriptor's value when persisting it, rather than normalising
// everything to its string form.
func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func resolveManualMode(server Map) ManualMode {
	modeDesc, ok := server[KeyIsManualResolutionMode]
	if !ok {
		return ManualMode{}
	}
	enabled, _ := modeDesc.Value.(bool)
	if !enabled {
		return ManualMode{}
	}

	widthDesc, wok := server[KeyManualWidth]
	heightDesc, hok := server[KeyManualHeight]
	if !wok || !hok {
		return ManualMode{}
	}
	w, wErr := toInt(widthDesc.Value)
	h, hErr := toInt(heightDesc.Value)
	if wErr != nil || hErr != nil || w <= 0 || h <= 0 {
		return ManualMode{}
	}
	return ManualMode{Enabled: true, Width: w, Height: h}
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case float64:
		return int(t), nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, err
		}
		return int(f), nil
	default:
		return 0, fmt.Errorf("settings: unsupported numeric value %v (%T)", v, v)
	}
}
