package config

// Snapshot is the merged, immutable configuration view taken at the start
// of a request. Settings written mid-turn affect the next turn, never the
// one in flight.
type Snapshot struct {
	ProviderKind string
	LocalBaseURL string
	CloudBaseURL string
	CloudModel   string
	CloudAPIKey  string

	MaxTokens   int
	Temperature float32

	TopK int

	// Connectors maps connector name to enablement override from user
	// settings. Names absent from the map keep their default enablement.
	Connectors map[string]bool
}

// Snapshot merges the base configuration with the user settings overlay.
// Environment-derived Config values win except where the overlay field is
// explicitly designed to override (provider kind, cloud model), which the
// environment can still pin via CONSOLE_PROVIDER / CONSOLE_CLOUD_MODEL
// because those land in Config before the overlay is consulted only for
// empty values.
func (c *Config) Snapshot(s Settings) Snapshot {
	snap := Snapshot{
		ProviderKind: c.ProviderKind,
		LocalBaseURL: c.LocalBaseURL,
		CloudBaseURL: c.CloudBaseURL,
		CloudModel:   c.CloudModel,
		CloudAPIKey:  c.CloudAPIKey,
		MaxTokens:    c.MaxTokens,
		Temperature:  c.Temperature,
		TopK:         c.TopK,
	}

	if s.ProviderKind != "" && snap.ProviderKind == ProviderAuto {
		snap.ProviderKind = s.ProviderKind
	}
	if s.CloudModel != "" && snap.CloudModel == "" {
		snap.CloudModel = s.CloudModel
	}
	if len(s.Connectors) > 0 {
		snap.Connectors = make(map[string]bool, len(s.Connectors))
		for name, enabled := range s.Connectors {
			snap.Connectors[name] = enabled
		}
	}
	return snap
}
