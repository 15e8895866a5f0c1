// Package progress carries deployment status changes from the worker to the
// API process over Redis pub/sub.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/deployflow/engine/internal/flow"
	"github.com/deployflow/engine/pkg/logger"
)

const (
	channelPrefix  = "flow:"
	channelSuffix  = ":status"
	channelPattern = channelPrefix + "*" + channelSuffix
)

// Update is one status change of a deployment. NodeID and Status are empty
// when only the deployment status changed.
type Update struct {
	FlowID           string      `json:"flow_id"`
	DeploymentID     string      `json:"deployment_id"`
	NodeID           string      `json:"node_id,omitempty"`
	Status           flow.Status `json:"status,omitempty"`
	DeploymentStatus string      `json:"deployment_status"`
	At               time.Time   `json:"at"`
}

// Channel is the pub/sub channel updates of flowID are published on.
func Channel(flowID string) string {
	return channelPrefix + flowID + channelSuffix
}

// FlowIDFromChannel is the inverse of Channel.
func FlowIDFromChannel(channel string) (string, bool) {
	rest, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, channelSuffix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Publisher sends updates to whoever follows the flow.
type Publisher interface {
	Publish(ctx context.Context, u Update) error
}

// RedisPublisher publishes updates as JSON on the flow's channel.
type RedisPublisher struct {
	rdb redis.UniversalClient
}

func NewRedisPublisher(rdb redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, u Update) error {
	b, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal progress update: %w", err)
	}
	if err := p.rdb.Publish(ctx, Channel(u.FlowID), b).Err(); err != nil {
		return fmt.Errorf("publish progress update: %w", err)
	}
	return nil
}

// Handler consumes decoded updates.
type Handler func(Update)

// Subscriber follows the status channels of every flow.
type Subscriber struct {
	rdb redis.UniversalClient
}

func NewSubscriber(rdb redis.UniversalClient) *Subscriber {
	return &Subscriber{rdb: rdb}
}

// Run delivers updates to h until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context, h Handler) error {
	ps := s.rdb.PSubscribe(ctx, channelPattern)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channelPattern, err)
	}
	logger.L().Info("progress subscriber started", zap.String("pattern", channelPattern))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := dispatch(msg.Channel, msg.Payload, h); err != nil {
				logger.L().Warn("dropping progress update", zap.String("channel", msg.Channel), zap.Error(err))
			}
		}
	}
}

func dispatch(channel, payload string, h Handler) error {
	flowID, ok := FlowIDFromChannel(channel)
	if !ok {
		return fmt.Errorf("unexpected channel %q", channel)
	}
	var u Update
	if err := json.Unmarshal([]byte(payload), &u); err != nil {
		return fmt.Errorf("decode update: %w", err)
	}
	if u.FlowID != flowID {
		return fmt.Errorf("update for flow %q on channel of %q", u.FlowID, flowID)
	}
	h(u)
	return nil
}
