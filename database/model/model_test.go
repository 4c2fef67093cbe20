package model

import (
	"testing"
)

func TestMarkers(t *testing.T) {
	k := &Key{}

	if k.HasMarker("30") {
		t.Error("empty key should have no markers")
	}
	if !k.AddMarker("30") {
		t.Error("first AddMarker should report a change")
	}
	if k.AddMarker("30") {
		t.Error("repeated AddMarker should be a no-op")
	}
	if !k.AddMarker("65") {
		t.Error("second marker should report a change")
	}

	if !k.HasMarker("30") || !k.HasMarker("65") {
		t.Errorf("expected markers 30 and 65, got %q", k.WarningsSent)
	}
	if k.HasMarker("6") {
		t.Error("marker matching must be exact, not substring")
	}
	if k.HasMarker("95") {
		t.Error("marker 95 was never recorded")
	}
}

func TestProtocolAccounted(t *testing.T) {
	for _, p := range []Protocol{RealityTCP, Shadowsocks, Tuic, TLSTCP} {
		if !p.Accounted() {
			t.Errorf("protocol %s should be accounted", p)
		}
	}
	if LegacyShared.Accounted() {
		t.Error("legacy shared access has no per-key counters")
	}
}
