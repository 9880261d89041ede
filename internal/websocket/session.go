package websocket

import (
	"go.uber.org/zap"

	"chatrelay/internal/models"
)

type registerCmd struct {
	client *Client
}

// execute binds a verified connection: it becomes the user's presence entry,
// joins the default channel and everyone learns about it.
func (c registerCmd) execute(h *Hub) {
	client := c.client
	h.clients[client.id] = client
	h.presence.upsert(client.user.ID, client.user.Username, client.id)
	h.channels.join(client.id, h.opts.DefaultChannel)
	h.metrics.connected()

	h.logger.Info("client connected",
		zap.String("conn_id", client.id),
		zap.String("user_id", client.user.ID),
		zap.String("username", client.user.Username),
		zap.Int("clients", len(h.clients)))

	h.sendTo(client, models.EventMe, models.MePayload{UserID: client.user.ID})
	h.broadcastUserList()
	h.broadcast(models.EventUserJoined, models.UserEventPayload{Username: client.user.Username}, client)
}

type unregisterCmd struct {
	client *Client
}

func (c unregisterCmd) execute(h *Hub) {
	h.disconnect(c.client)
}

// disconnect tears down everything owned by client. Calling it for a client
// that is no longer registered does nothing.
func (h *Hub) disconnect(client *Client) {
	if h.clients[client.id] != client {
		return
	}
	delete(h.clients, client.id)
	close(client.send)
	h.metrics.disconnected()

	h.channels.removeAll(client.id)
	typingRemoved := h.typing.remove(client.id)
	h.presence.removeIfOwned(client.user.ID, client.id)

	h.logger.Info("client disconnected",
		zap.String("conn_id", client.id),
		zap.String("username", client.user.Username),
		zap.Int("clients", len(h.clients)))

	h.broadcastUserList()
	h.broadcast(models.EventUserLeft, models.UserEventPayload{Username: client.user.Username}, nil)
	if typingRemoved {
		h.broadcastTyping()
	}
}

// register adds client to the hub. It returns false if the hub has stopped.
func (h *Hub) register(client *Client) bool {
	return h.submit(registerCmd{client: client})
}

func (h *Hub) unregister(client *Client) {
	h.submit(unregisterCmd{client: client})
}
