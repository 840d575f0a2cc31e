package http2

import (
	"testing"

	"github.com/nodecore/triproto/pkg/constants"
)

func TestSettingsApplyUpdatesKnownParameters(t *testing.T) {
	s := defaultPeerSettings()
	if err := s.apply(constants.SettingInitialWindowSize, 1000); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if s.InitialWindowSize != 1000 {
		t.Errorf("expected InitialWindowSize 1000, got %d", s.InitialWindowSize)
	}
}

func TestSettingsApplyRejectsOutOfRangeEnablePush(t *testing.T) {
	s := defaultPeerSettings()
	if err := s.apply(constants.SettingEnablePush, 2); err == nil {
		t.Fatalf("expected error for SETTINGS_ENABLE_PUSH=2")
	}
}

func TestSettingsApplyRejectsOversizedInitialWindow(t *testing.T) {
	s := defaultPeerSettings()
	if err := s.apply(constants.SettingInitialWindowSize, 0x80000000); err == nil {
		t.Fatalf("expected error for window size exceeding 2^31-1")
	}
}

func TestSettingsApplyRejectsOutOfRangeMaxFrameSize(t *testing.T) {
	s := defaultPeerSettings()
	if err := s.apply(constants.SettingMaxFrameSize, 1); err == nil {
		t.Fatalf("expected error for a max frame size below the floor")
	}
	if err := s.apply(constants.SettingMaxFrameSize, 1<<30); err == nil {
		t.Fatalf("expected error for a max frame size above the ceiling")
	}
}

func TestSettingsApplyIgnoresUnknownIdentifier(t *testing.T) {
	s := defaultPeerSettings()
	before := s
	if err := s.apply(0xffff, 123); err != nil {
		t.Fatalf("unexpected error for unknown setting: %v", err)
	}
	if s != before {
		t.Errorf("expected unknown settings identifier to leave state unchanged")
	}
}

func TestLocalSettingsListReflectsOptions(t *testing.T) {
	opts := DefaultOptions()
	list := localSettingsList(opts)
	found := map[uint16]uint32{}
	for _, s := range list {
		found[s.ID] = s.Value
	}
	if found[constants.SettingMaxFrameSize] != opts.MaxFrameSize {
		t.Errorf("expected MaxFrameSize %d in settings list, got %d", opts.MaxFrameSize, found[constants.SettingMaxFrameSize])
	}
	if found[constants.SettingEnablePush] != 0 {
		t.Errorf("expected push disabled, got %d", found[constants.SettingEnablePush])
	}
}
