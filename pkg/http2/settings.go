package http2

import "github.com/nodecore/triproto/pkg/constants"

// Settings is the peer's advertised SETTINGS state, updated as SETTINGS
// frames arrive (RFC 9113 §6.5.2).
type Settings struct {
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32
}

// defaultPeerSettings is what RFC 9113 mandates as the peer's initial
// values before any SETTINGS frame has been received from them.
func defaultPeerSettings() Settings {
	return Settings{
		HeaderTableSize:      4096,
		EnablePush:           true,
		MaxConcurrentStreams: 1 << 31, // unbounded until told otherwise
		InitialWindowSize:    65535,
		MaxFrameSize:         16384,
		MaxHeaderListSize:    0,
	}
}

// apply folds one SETTINGS parameter into s, returning a ConnError for an
// out-of-range value (RFC 9113 §6.5.2).
func (s *Settings) apply(id uint16, value uint32) error {
	switch id {
	case constants.SettingHeaderTableSize:
		s.HeaderTableSize = value
	case constants.SettingEnablePush:
		if value > 1 {
			return NewConnError(constants.H2ProtocolError, "SETTINGS_ENABLE_PUSH must be 0 or 1")
		}
		s.EnablePush = value == 1
	case constants.SettingMaxConcurrentStreams:
		s.MaxConcurrentStreams = value
	case constants.SettingInitialWindowSize:
		if value > 0x7fffffff {
			return NewConnError(constants.H2FlowControlError, "SETTINGS_INITIAL_WINDOW_SIZE exceeds 2^31-1")
		}
		s.InitialWindowSize = value
	case constants.SettingMaxFrameSize:
		if value < constants.MaxFrameSizeFloor || value > constants.MaxFrameSizeCeil {
			return NewConnError(constants.H2ProtocolError, "SETTINGS_MAX_FRAME_SIZE out of range")
		}
		s.MaxFrameSize = value
	case constants.SettingMaxHeaderListSize:
		s.MaxHeaderListSize = value
	default:
		// Unknown settings identifiers are ignored (RFC 9113 §6.5.2).
	}
	return nil
}

// localSettingsList renders our Options as the (id, value) list advertised
// in our initial SETTINGS frame.
func localSettingsList(opts Options) []Setting {
	list := []Setting{
		{ID: constants.SettingHeaderTableSize, Value: opts.HeaderTableSize},
		{ID: constants.SettingEnablePush, Value: 0},
		{ID: constants.SettingMaxConcurrentStreams, Value: opts.MaxConcurrentStreams},
		{ID: constants.SettingInitialWindowSize, Value: opts.InitialWindowSize},
		{ID: constants.SettingMaxFrameSize, Value: opts.MaxFrameSize},
	}
	// A MaxHeaderListSize of 0 means unbounded, which is expressed by not
	// advertising the setting at all.
	if opts.MaxHeaderListSize != 0 {
		list = append(list, Setting{ID: constants.SettingMaxHeaderListSize, Value: opts.MaxHeaderListSize})
	}
	return list
}
