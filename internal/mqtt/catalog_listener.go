package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	commonmqtt "sta-timeseries/common/mqtt"

	"go.uber.org/zap"
)

// CacheInvalidator is the invalidation hook of the datastream cache.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, id int64) error
	InvalidateAll(ctx context.Context) error
}

// Subscriber is the part of the MQTT client the listener needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler commonmqtt.MessageHandler) error
}

// catalogChange is the payload published when datastream metadata changes.
// An empty payload, or one without datastream_id, invalidates everything.
type catalogChange struct {
	DatastreamID *int64 `json:"datastream_id"`
}

// CatalogListener invalidates cached datastream properties when the
// catalog announces a change.
type CatalogListener struct {
	cache   CacheInvalidator
	timeout time.Duration
	logger  *zap.Logger
}

func NewCatalogListener(cache CacheInvalidator, logger *zap.Logger) *CatalogListener {
	return &CatalogListener{
		cache:   cache,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// Start subscribes to topic.
func (l *CatalogListener) Start(sub Subscriber, topic string, qos byte) error {
	if err := sub.Subscribe(topic, qos, l.HandleMessage); err != nil {
		return err
	}
	l.logger.Info("Listening for catalog changes", zap.String("topic", topic))
	return nil
}

// HandleMessage processes one catalog change message.
func (l *CatalogListener) HandleMessage(topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	payload = bytes.TrimSpace(payload)
	var change catalogChange
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &change); err != nil {
			return fmt.Errorf("failed to unmarshal catalog change: %w", err)
		}
	}

	if change.DatastreamID == nil {
		l.logger.Info("Catalog changed, invalidating all datastreams", zap.String("topic", topic))
		return l.cache.InvalidateAll(ctx)
	}
	l.logger.Info("Catalog changed",
		zap.String("topic", topic),
		zap.Int64("datastream_id", *change.DatastreamID),
	)
	return l.cache.Invalidate(ctx, *change.DatastreamID)
}
