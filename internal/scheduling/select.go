package scheduling

import "remindd/internal/capability"

// Factories build the backends Select can choose from. Unused factories are
// never called, so a runtime-only host never dials Redis.
type Factories struct {
	Native  func() Backend
	Runtime func() Backend
}

// Select picks the backend that matches the probe result.
func Select(res capability.Result, f Factories) Backend {
	if !res.Capable {
		return Noop{}
	}
	switch res.Mode {
	case capability.ModeNative:
		if f.Native != nil {
			return f.Native()
		}
	case capability.ModeRuntime:
		if f.Runtime != nil {
			return f.Runtime()
		}
	}
	return Noop{}
}
