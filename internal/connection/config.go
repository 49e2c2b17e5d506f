package connection

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/ShirasawaTopaz/order/internal/capability"
)

// connectionTOML is the on-disk shape of .order/connection.toml: a partial
// capability overlay, each field independently present or absent.
type connectionTOML struct {
	SupportsTools          *bool `toml:"supports_tools"`
	SupportsSystemPreamble *bool `toml:"supports_system_preamble"`
	SupportsResponsesAPI   *bool `toml:"supports_responses_api"`
	SupportsStream         *bool `toml:"supports_stream"`
}

// LoadConfigOverride reads the optional per-workspace capability override
// file. A missing file returns (nil, nil): no override configured.
func LoadConfigOverride(workspaceRoot string) (*capability.Overlay, error) {
	path := filepath.Join(workspaceRoot, ".order", "connection.toml")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var decoded connectionTOML
	if err := toml.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	if decoded.SupportsTools == nil && decoded.SupportsSystemPreamble == nil &&
		decoded.SupportsResponsesAPI == nil && decoded.SupportsStream == nil {
		return nil, nil
	}
	return &capability.Overlay{
		Tools:          decoded.SupportsTools,
		SystemPreamble: decoded.SupportsSystemPreamble,
		ResponsesAPI:   decoded.SupportsResponsesAPI,
		Stream:         decoded.SupportsStream,
	}, nil
}
