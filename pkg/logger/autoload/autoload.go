// Package autoload configures the global logger from the environment as a
// side effect of being imported.
package autoload

import (
	configx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/pkg/config"
	logx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/pkg/logger"
)

func init() {
	logx.Init(*configx.MustNew[logx.Config]("LOG"))
}
