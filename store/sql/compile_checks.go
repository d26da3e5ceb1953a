package sqlstore

import "github.com/goliatone/go-connectors/core"

var (
	_ core.IdentifierStore    = (*ConfigurationStore)(nil)
	_ core.ConfigStore        = (*ConfigurationStore)(nil)
	_ core.IdentifierStore    = (*CachedConfigurationStore)(nil)
	_ core.ConfigStore        = (*CachedConfigurationStore)(nil)
	_ ConfigurationRepository = (*ConfigurationStore)(nil)
	_ ConfigurationRepository = (*CachedConfigurationStore)(nil)
)
