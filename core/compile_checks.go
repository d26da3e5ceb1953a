package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ Instance           = (*Runtime)(nil)
	_ ContainerRegistrar = (*ServiceContainer)(nil)
	_ ConfigBinder       = (*ShapeBinder)(nil)
	_ Factory            = FactoryFunc(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
