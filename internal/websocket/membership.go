package websocket

// channelMembership is the many-to-many relation between connections and
// channel names. Channels exist only while they have members.
type channelMembership struct {
	byConn    map[string]map[string]struct{}
	byChannel map[string]map[string]struct{}
}

func newChannelMembership() *channelMembership {
	return &channelMembership{
		byConn:    make(map[string]map[string]struct{}),
		byChannel: make(map[string]map[string]struct{}),
	}
}

func (m *channelMembership) join(connID, channel string) {
	addTo(m.byConn, connID, channel)
	addTo(m.byChannel, channel, connID)
}

func (m *channelMembership) leave(connID, channel string) {
	removeFrom(m.byConn, connID, channel)
	removeFrom(m.byChannel, channel, connID)
}

// removeAll drops every membership of connID.
func (m *channelMembership) removeAll(connID string) {
	for channel := range m.byConn[connID] {
		removeFrom(m.byChannel, channel, connID)
	}
	delete(m.byConn, connID)
}

func (m *channelMembership) isMember(connID, channel string) bool {
	_, ok := m.byChannel[channel][connID]
	return ok
}

// members returns the connection ids joined to channel. The set must not be
// modified by the caller.
func (m *channelMembership) members(channel string) map[string]struct{} {
	return m.byChannel[channel]
}

func addTo(index map[string]map[string]struct{}, key, value string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[value] = struct{}{}
}

func removeFrom(index map[string]map[string]struct{}, key, value string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, value)
	if len(set) == 0 {
		delete(index, key)
	}
}
