package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/orderpipe/internal/cache"
	"github.com/Additional-Code/orderpipe/internal/config"
	"github.com/Additional-Code/orderpipe/internal/logger"
	"github.com/Additional-Code/orderpipe/internal/messaging"
	"github.com/Additional-Code/orderpipe/internal/metrics"
	"github.com/Additional-Code/orderpipe/internal/observability"
)

// Core provides the foundational modules shared by every command.
var Core = fx.Options(
	config.Module,
	cache.Module,
	logger.Module,
	messaging.Module,
	metrics.Module,
	observability.Module,
	// Tracing is a side effect; nothing depends on the manager directly.
	fx.Invoke(func(*observability.Manager) {}),
)
