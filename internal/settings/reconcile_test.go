package settings

import "testing"

func float64p(f float64) *float64 { return &f }
func boolp(b bool) *bool          { return &b }

func TestReconcileRangeResetsOutOfBoundsValue(t *testing.T) {
	store := NewMemoryStore()
	store.Set(KeyVideoBitrate, "999999999")

	server := Map{
		KeyVideoBitrate: {Value: 4000.0, Default: 4000.0, Min: float64p(500), Max: float64p(8000)},
	}

	delta, _ := Reconcile(server, store)
	if _, ok := delta[KeyVideoBitrate]; !ok {
		t.Fatal("expected out-of-bounds value to produce a delta entry")
	}
	got, _ := store.Get(KeyVideoBitrate)
	if got != "4000" {
		t.Fatalf("expected persisted value reset to default 4000, got %q", got)
	}
}

func TestReconcileRangeLeavesInBoundsValueAlone(t *testing.T) {
	store := NewMemoryStore()
	store.Set(KeyVideoBitrate, "3000")

	server := Map{
		KeyVideoBitrate: {Value: 4000.0, Default: 4000.0, Min: float64p(500), Max: float64p(8000)},
	}

	delta, _ := Reconcile(server, store)
	if _, ok := delta[KeyVideoBitrate]; ok {
		t.Fatal("expected in-bounds value to not produce a delta")
	}
	got, _ := store.Get(KeyVideoBitrate)
	if got != "3000" {
		t.Fatalf("expected persisted value unchanged, got %q", got)
	}
}

func TestReconcileEnumRejectsUnknownMember(t *testing.T) {
	store := NewMemoryStore()
	store.Set(KeyEncoderRTC, "av1")

	server := Map{
		KeyEncoderRTC: {Value: "h264", Allowed: []string{"h264", "vp8", "vp9"}},
	}

	delta, _ := Reconcile(server, store)
	if _, ok := delta[KeyEncoderRTC]; !ok {
		t.Fatal("expected unknown enum member to produce a delta")
	}
	got, _ := store.Get(KeyEncoderRTC)
	if got != "h264" {
		t.Fatalf("expected reset to server value h264, got %q", got)
	}
}

func TestReconcileEnumAcceptsKnownMember(t *testing.T) {
	store := NewMemoryStore()
	store.Set(KeyEncoderRTC, "vp9")

	server := Map{
		KeyEncoderRTC: {Value: "h264", Allowed: []string{"h264", "vp8", "vp9"}},
	}

	delta, _ := Reconcile(server, store)
	if _, ok := delta[KeyEncoderRTC]; ok {
		t.Fatal("expected known enum member to not produce a delta")
	}
}

func TestReconcileBooleanLockedOverwritesClient(t *testing.T) {
	store := NewMemoryStore()
	store.Set(KeyTurnSwitch, "false")

	server := Map{
		KeyTurnSwitch: {Value: true, Locked: boolp(true)},
	}

	delta, _ := Reconcile(server, store)
	if _, ok := delta[KeyTurnSwitch]; !ok {
		t.Fatal("expected locked mismatch to produce a delta")
	}
	got, _ := store.Get(KeyTurnSwitch)
	if got != "true" {
		t.Fatalf("expected locked server value to win, got %q", got)
	}
}

func TestReconcileBooleanUnlockedFirstContactSeeds(t *testing.T) {
	store := NewMemoryStore()

	server := Map{
		KeyGamepadEnabled: {Value: true},
	}

	delta, _ := Reconcile(server, store)
	if _, ok := delta[KeyGamepadEnabled]; !ok {
		t.Fatal("expected first-contact seeding to produce a delta")
	}
	got, ok := store.Get(KeyGamepadEnabled)
	if !ok || got != "true" {
		t.Fatalf("expected key seeded with true, got %q ok=%v", got, ok)
	}
}

func TestReconcileBooleanUnlockedExistingValueUntouched(t *testing.T) {
	store := NewMemoryStore()
	store.Set(KeyGamepadEnabled, "false")

	server := Map{
		KeyGamepadEnabled: {Value: true},
	}

	delta, _ := Reconcile(server, store)
	if _, ok := delta[KeyGamepadEnabled]; ok {
		t.Fatal("expected unlocked pre-existing value to be left alone")
	}
	got, _ := store.Get(KeyGamepadEnabled)
	if got != "false" {
		t.Fatalf("expected persisted client value preserved, got %q", got)
	}
}

func TestResolveManualModeEnabledWithValidDimensions(t *testing.T) {
	store := NewMemoryStore()
	server := Map{
		KeyIsManualResolutionMode: {Value: true},
		KeyManualWidth:            {Value: 1920.0},
		KeyManualHeight:           {Value: 1080.0},
	}
	_, manual := Reconcile(server, store)
	if !manual.Enabled || manual.Width != 1920 || manual.Height != 1080 {
		t.Fatalf("unexpected manual mode result: %+v", manual)
	}
}

func TestResolveManualModeDisabledByDefault(t *testing.T) {
	store := NewMemoryStore()
	server := Map{
		KeyIsManualResolutionMode: {Value: false},
	}
	_, manual := Reconcile(server, store)
	if manual.Enabled {
		t.Fatal("expected manual mode disabled")
	}
}

func TestResolveManualModeDisabledWithoutDimensions(t *testing.T) {
	store := NewMemoryStore()
	server := Map{
		KeyIsManualResolutionMode: {Value: true},
	}
	_, manual := Reconcile(server, store)
	if manual.Enabled {
		t.Fatal("expected manual mode disabled without dimensions present")
	}
}
