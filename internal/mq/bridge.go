package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bizzylink/apiserver/config"
	"github.com/bizzylink/apiserver/internal/metrics"
	"github.com/bizzylink/apiserver/types"
	"go.uber.org/zap"
)

// StatsHandler processes a player stats message pushed by the plugin.
type StatsHandler func(ctx context.Context, msg types.PlayerStatsMessage) error

// PluginBridge carries events between the website and the Minecraft plugin.
// A bridge without a broker drops outbound events.
type PluginBridge struct {
	backend       Backend
	pluginChannel string
	statsChannel  string
	logger        *zap.Logger
}

func NewPluginBridge(backend Backend, cfg config.MQConfig, logger *zap.Logger) *PluginBridge {
	return &PluginBridge{
		backend:       backend,
		pluginChannel: cfg.PluginChannel,
		statsChannel:  cfg.StatsChannel,
		logger:        logger,
	}
}

// Enabled reports whether a broker is attached.
func (b *PluginBridge) Enabled() bool {
	return b.backend != nil
}

// Publish sends {event, data, timestamp} to the plugin channel with the
// event name as the "event" attribute.
func (b *PluginBridge) Publish(ctx context.Context, event string, data any) error {
	if b.backend == nil {
		b.logger.Debug("no broker configured, dropping plugin event", zap.String("event", event))
		metrics.PluginEvents.WithLabelValues(event, "dropped").Inc()
		return nil
	}

	payload, err := json.Marshal(types.PluginEvent{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	id, err := b.backend.Publish(ctx, b.pluginChannel, payload, map[string]string{"event": event})
	if err != nil {
		metrics.PluginEvents.WithLabelValues(event, "failed").Inc()
		return fmt.Errorf("publish %s: %w", event, err)
	}
	metrics.PluginEvents.WithLabelValues(event, "published").Inc()
	b.logger.Debug("plugin event published", zap.String("event", event), zap.String("message_id", id))
	return nil
}

// ConsumeStats blocks consuming the stats channel until ctx is done. Without
// a broker it waits for ctx and returns nil.
func (b *PluginBridge) ConsumeStats(ctx context.Context, handle StatsHandler) error {
	if b.backend == nil {
		<-ctx.Done()
		return nil
	}

	err := b.backend.Subscribe(ctx, b.statsChannel, func(ctx context.Context, msg Message) error {
		var stats types.PlayerStatsMessage
		if err := json.Unmarshal(msg.Data, &stats); err != nil {
			// Malformed payloads are acknowledged so they are not redelivered.
			b.logger.Warn("discarding malformed stats message", zap.String("message_id", msg.ID), zap.Error(err))
			return nil
		}
		return handle(ctx, stats)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close releases the broker connection.
func (b *PluginBridge) Close() error {
	if b.backend == nil {
		return nil
	}
	return b.backend.Close()
}
