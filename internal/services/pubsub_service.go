package services

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"aiconsole/internal/models"
)

const (
	relayChannelPrefix = "aiconsole:broadcast:"
	relayChannelRef    = relayChannelPrefix + "ref"
	relayChannelAll    = relayChannelPrefix + "all"
)

// PubSubMessage is the envelope relayed between instances. Ref travels as
// its segment list; the embedded server message is sent without it.
type PubSubMessage struct {
	InstanceID string               `json:"instanceId"` // Source instance ID
	Ref        []string             `json:"ref,omitempty"`
	Except     string               `json:"except,omitempty"`
	Message    models.ServerMessage `json:"message"`
}

// Deliverer hands relayed messages to local connections.
type Deliverer interface {
	DeliverToRef(msg models.ServerMessage, ref models.AnyRef, exceptConnID string) int
	DeliverToAll(msg models.ServerMessage) int
}

// PubSubService relays broadcasts to the other server instances sharing a
// Redis, and delivers theirs to local connections. It implements Relay.
type PubSubService struct {
	redis      *RedisService
	pubsub     *redis.PubSub
	local      Deliverer
	instanceID string
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewPubSubService creates a relay for instanceID delivering to local.
func NewPubSubService(redisService *RedisService, local Deliverer, instanceID string) *PubSubService {
	ctx, cancel := context.WithCancel(context.Background())
	return &PubSubService{
		redis:      redisService,
		local:      local,
		instanceID: instanceID,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins listening for relayed broadcasts
func (s *PubSubService) Start() error {
	s.pubsub = s.redis.Client().PSubscribe(s.ctx, relayChannelPrefix+"*")

	// Wait for subscription confirmation
	if _, err := s.pubsub.Receive(s.ctx); err != nil {
		return err
	}

	go s.processMessages()

	log.Printf("✅ [PUBSUB] Started listening for messages (instance: %s)", s.instanceID)
	return nil
}

func (s *PubSubService) processMessages() {
	ch := s.pubsub.Channel()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handleMessage(msg.Channel, []byte(msg.Payload))
		}
	}
}

// handleMessage delivers one relayed message and returns how many local
// connections received it.
func (s *PubSubService) handleMessage(channel string, payload []byte) int {
	var message PubSubMessage
	if err := json.Unmarshal(payload, &message); err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to unmarshal message: %v", err)
		return 0
	}

	// Skip messages from this instance (avoid loops)
	if message.InstanceID == s.instanceID {
		return 0
	}

	switch strings.TrimPrefix(channel, relayChannelPrefix) {
	case "ref":
		ref := models.RefFromSegments(message.Ref)
		if ref == nil || message.Ref[0] != models.AssetsCollection {
			log.Printf("⚠️ [PUBSUB] Dropping message with malformed ref %v", message.Ref)
			return 0
		}
		message.Message.Ref = ref
		return s.local.DeliverToRef(message.Message, ref, message.Except)
	case "all":
		return s.local.DeliverToAll(message.Message)
	}
	return 0
}

// PublishToRef implements Relay.
func (s *PubSubService) PublishToRef(msg models.ServerMessage, ref models.AnyRef, exceptConnID string) {
	s.publish(relayChannelRef, ref.Segments(), exceptConnID, msg)
}

// PublishToAll implements Relay.
func (s *PubSubService) PublishToAll(msg models.ServerMessage) {
	s.publish(relayChannelAll, nil, "", msg)
}

func (s *PubSubService) publish(channel string, segments []string, except string, msg models.ServerMessage) {
	msg.Ref = nil
	data, err := json.Marshal(PubSubMessage{
		InstanceID: s.instanceID,
		Ref:        segments,
		Except:     except,
		Message:    msg,
	})
	if err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to marshal %s: %v", msg.Type, err)
		return
	}

	// Broadcasts run inside the mutation critical section; keep the publish short.
	ctx, cancel := context.WithTimeout(s.ctx, time.Second)
	defer cancel()
	if err := s.redis.Publish(ctx, channel, data); err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to publish %s: %v", msg.Type, err)
	}
}

// Stop stops the pub/sub service
func (s *PubSubService) Stop() error {
	s.cancel()
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}
