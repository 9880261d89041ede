package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"chatrelay/internal/models"
)

var (
	ErrHubStopped       = errors.New("hub stopped")
	ErrRecipientOffline = errors.New("recipient offline")
)

// MessageStore is the durable message log the hub writes through.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
	QueryMessages(ctx context.Context, filter models.MessageFilter) ([]models.Message, error)
}

// Options tune a Hub. Zero values fall back to defaults.
type Options struct {
	Logger         *zap.Logger
	Registerer     prometheus.Registerer
	DefaultChannel string
	HistoryLimit   int
	SendBuffer     int
	StoreTimeout   time.Duration
}

const (
	defaultChannel      = "general"
	defaultHistoryLimit = 50
	defaultSendBuffer   = 256
	defaultStoreTimeout = 5 * time.Second
)

// command is executed on the hub goroutine. Implementations live next to
// the feature they serve.
type command interface {
	execute(h *Hub)
}

// Hub owns every piece of shared chat state: registered clients, presence,
// channel membership and typing. All of it is mutated only inside Run.
type Hub struct {
	commands chan command
	done     chan struct{}

	clients  map[string]*Client
	presence *presenceRegistry
	channels *channelMembership
	typing   *typingTracker
	// slow holds clients whose queue overflowed during the current command.
	slow []*Client

	store   MessageStore
	logger  *zap.Logger
	metrics *hubMetrics
	opts    Options
}

func NewHub(store MessageStore, opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DefaultChannel == "" {
		opts.DefaultChannel = defaultChannel
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}

	return &Hub{
		commands: make(chan command),
		done:     make(chan struct{}),
		clients:  make(map[string]*Client),
		presence: newPresenceRegistry(),
		channels: newChannelMembership(),
		typing:   newTypingTracker(),
		store:    store,
		logger:   opts.Logger.Named("hub"),
		metrics:  newHubMetrics(opts.Registerer),
		opts:     opts,
	}
}

// Run processes commands until ctx is cancelled, then closes every client
// queue.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("hub started", zap.String("default_channel", h.opts.DefaultChannel))
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case cmd := <-h.commands:
			cmd.execute(h)
			h.dropSlowClients()
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// submit hands cmd to the hub goroutine. It returns false once the hub has
// stopped.
func (h *Hub) submit(cmd command) bool {
	select {
	case h.commands <- cmd:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) shutdown() {
	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
	}
	h.logger.Info("hub stopped")
}

func (h *Hub) dropSlowClients() {
	for len(h.slow) > 0 {
		client := h.slow[0]
		h.slow = h.slow[1:]
		h.logger.Warn("dropping slow client",
			zap.String("conn_id", client.id),
			zap.String("username", client.user.Username))
		h.metrics.recordSlowClient()
		h.disconnect(client)
	}
	h.slow = nil
}

func encodeEvent(eventType models.EventType, payload any) ([]byte, error) {
	return json.Marshal(models.WebSocketMessage{Type: eventType, Payload: payload})
}

// deliver queues data for client without blocking. A full queue marks the
// client slow; it is disconnected after the current command.
func (h *Hub) deliver(client *Client, data []byte) {
	if client == nil || client.slow || h.clients[client.id] != client {
		return
	}
	select {
	case client.send <- data:
	default:
		client.slow = true
		h.slow = append(h.slow, client)
	}
}

// sendTo encodes one event for a single client.
func (h *Hub) sendTo(client *Client, eventType models.EventType, payload any) {
	data, err := encodeEvent(eventType, payload)
	if err != nil {
		h.logger.Error("failed to encode event", zap.String("type", string(eventType)), zap.Error(err))
		return
	}
	h.deliver(client, data)
}

// broadcast sends one event to every registered client except skip.
func (h *Hub) broadcast(eventType models.EventType, payload any, skip *Client) {
	data, err := encodeEvent(eventType, payload)
	if err != nil {
		h.logger.Error("failed to encode event", zap.String("type", string(eventType)), zap.Error(err))
		return
	}
	for _, client := range h.clients {
		if client == skip {
			continue
		}
		h.deliver(client, data)
	}
}

func (h *Hub) broadcastUserList() {
	h.broadcast(models.EventUserList, h.presence.snapshot(), nil)
}

func (h *Hub) broadcastTyping() {
	h.broadcast(models.EventTypingUsers, h.typing.snapshot(), nil)
}

// notifyCmd sends a single event to one client, typically an error.
type notifyCmd struct {
	client    *Client
	eventType models.EventType
	payload   any
}

func (c notifyCmd) execute(h *Hub) {
	h.sendTo(c.client, c.eventType, c.payload)
}

type snapshotCmd struct {
	reply chan []models.OnlineUser
}

func (c snapshotCmd) execute(h *Hub) {
	c.reply <- h.presence.snapshot()
}

// OnlineUsers returns the current presence list sorted by username.
func (h *Hub) OnlineUsers(ctx context.Context) ([]models.OnlineUser, error) {
	reply := make(chan []models.OnlineUser, 1)
	if !h.submit(snapshotCmd{reply: reply}) {
		return nil, ErrHubStopped
	}
	select {
	case users := <-reply:
		return users, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
