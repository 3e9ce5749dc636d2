package chathub

import (
	"context"
	"log"
	"sync"
	"time"

	"relaychat/backend/internal/auth"
	"relaychat/backend/internal/chat"
	"relaychat/backend/internal/config"
	"relaychat/backend/internal/events"
	"relaychat/backend/internal/metrics"
	"relaychat/backend/internal/models"
	"relaychat/backend/internal/ratelimit"
)

// ChatService is the business layer the gateway delegates writes to.
type ChatService interface {
	IsActiveParticipant(ctx context.Context, chatID, userID string) (bool, error)
	SendMessage(ctx context.Context, senderID string, req models.SendMessageRequest) (*models.Message, error)
	EditMessage(ctx context.Context, messageID, userID, content string) (*models.Message, error)
	DeleteMessage(ctx context.Context, messageID, userID string) (*models.Message, error)
	MarkMessageAsRead(ctx context.Context, messageID, userID string) (chat.ReadReceipt, error)
}

// LiveState is the ephemeral room, typing and presence store. Every method
// absorbs backend failures.
type LiveState interface {
	AddUserToRoom(ctx context.Context, chatID, userID string)
	RemoveUserFromRoom(ctx context.Context, chatID, userID string)
	GetRoomParticipants(ctx context.Context, chatID string) []string
	SetTyping(ctx context.Context, chatID, userID string)
	GetTypingUsers(ctx context.Context, chatID string) []string
	ClearTyping(ctx context.Context, chatID, userID string)
	SetConnection(ctx context.Context, state models.ConnectionState)
	RefreshConnection(ctx context.Context, userID, connID string)
	GetConnection(ctx context.Context, userID string) *models.ConnectionState
	RemoveConnection(ctx context.Context, userID, connID string)
}

// SendLimiter throttles message sends per user.
type SendLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) bool
}

type Options struct {
	AuthTimeout time.Duration
	// Publisher mirrors room fan-out. Defaults to events.NopPublisher.
	Publisher events.Publisher
	// Limiter is optional; nil disables send throttling.
	Limiter  SendLimiter
	SendRule ratelimit.Rule
	Now      func() time.Time
}

// ManagerService is the socket gateway: it tracks live connections and the
// rooms they joined, dispatches intents and fans out events.
//
// mu guards the three maps only. It is never held across a call into the
// chat service, the live-state store or the event bus.
type ManagerService struct {
	Chats ChatService
	State LiveState
	Auth  auth.Authenticator

	opts Options

	mu      sync.RWMutex
	clients map[string]Client            // connID -> client
	rooms   map[string]map[string]Client // chatID -> connID -> client
	joined  map[string]map[string]bool   // connID -> chatIDs
}

func NewManagerService(chats ChatService, state LiveState, authn auth.Authenticator, opts Options) *ManagerService {
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = config.DefaultAuthTimeout
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NopPublisher{}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &ManagerService{
		Chats:   chats,
		State:   state,
		Auth:    authn,
		opts:    opts,
		clients: make(map[string]Client),
		rooms:   make(map[string]map[string]Client),
		joined:  make(map[string]map[string]bool),
	}
}

func (m *ManagerService) now() time.Time { return m.opts.Now() }

// Authenticate verifies a handshake credential under the configured timeout.
// It must succeed before Register.
func (m *ManagerService) Authenticate(ctx context.Context, credential string) (*auth.Identity, error) {
	return auth.VerifyWithTimeout(ctx, m.Auth, credential, m.opts.AuthTimeout)
}

// Register adds an authenticated connection and records it as the user's
// latest presence.
func (m *ManagerService) Register(ctx context.Context, client Client, meta map[string]string) {
	m.mu.Lock()
	m.clients[client.GetConnID()] = client
	m.joined[client.GetConnID()] = make(map[string]bool)
	m.mu.Unlock()

	m.State.SetConnection(ctx, models.ConnectionState{
		UserID:      client.GetUserID(),
		ConnID:      client.GetConnID(),
		Status:      StatusOnline,
		Metadata:    meta,
		ConnectedAt: m.now(),
	})
	metrics.ConnectionsTotal.Inc()
	log.Printf("INFO: [chathub] Connection %s registered for user %s", client.GetConnID(), client.GetUserID())
}

// IsRegistered reports whether the connection is live.
func (m *ManagerService) IsRegistered(connID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.clients[connID]
	return ok
}

// JoinedRooms returns the chat ids the connection has joined.
func (m *ManagerService) JoinedRooms(connID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.joined[connID]))
	for chatID := range m.joined[connID] {
		out = append(out, chatID)
	}
	return out
}

// deliver queues an event without blocking. A full buffer drops the event for
// this connection only. Callers hold mu (read or write) so the channel cannot
// be closed concurrently.
func deliver(client Client, event models.ServerEvent) {
	select {
	case client.GetSendChannel() <- event:
		metrics.EventsTotal.WithLabelValues(event.Event).Inc()
	default:
		metrics.FanoutDropsTotal.WithLabelValues(event.Event).Inc()
		log.Printf("WARNING: [chathub] Send buffer full, dropping %s for connection %s (user %s)",
			event.Event, client.GetConnID(), client.GetUserID())
	}
}

// reply sends a private event to one connection if it is still registered.
func (m *ManagerService) reply(client Client, event models.ServerEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.clients[client.GetConnID()] != client {
		return
	}
	deliver(client, event)
}

// broadcast fans an event out to every connection in the room except those
// of excludeUserID (empty excludes nobody), then mirrors it to the bus.
// Every recipient user is checked against the chat's participants first: a
// user blocked since joining gets nothing and is evicted from the room.
func (m *ManagerService) broadcast(ctx context.Context, chatID string, event models.ServerEvent, excludeUserID string) {
	allowed := make(map[string]bool)
	var revoked []Client
	for userID, clients := range m.roomUsers(chatID, excludeUserID) {
		ok, err := m.Chats.IsActiveParticipant(ctx, chatID, userID)
		if err != nil {
			log.Printf("ERROR: [chathub] Participant check for %s in chat %s failed, withholding %s: %v", userID, chatID, event.Event, err)
			continue
		}
		if !ok {
			revoked = append(revoked, clients...)
			continue
		}
		allowed[userID] = true
	}

	m.mu.RLock()
	for _, client := range m.rooms[chatID] {
		if allowed[client.GetUserID()] {
			deliver(client, event)
		}
	}
	m.mu.RUnlock()

	for _, client := range revoked {
		m.evict(ctx, client, chatID)
	}

	if err := m.opts.Publisher.Publish(ctx, chatID, event); err != nil {
		log.Printf("WARNING: [chathub] Failed to publish %s for chat %s: %v", event.Event, chatID, err)
	}
}

// roomUsers groups the room's connections by user, leaving out excludeUserID.
func (m *ManagerService) roomUsers(chatID, excludeUserID string) map[string][]Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]Client)
	for _, client := range m.rooms[chatID] {
		userID := client.GetUserID()
		if excludeUserID != "" && userID == excludeUserID {
			continue
		}
		out[userID] = append(out[userID], client)
	}
	return out
}

// evict takes a connection out of a room its user may no longer read and
// tells the connection it left.
func (m *ManagerService) evict(ctx context.Context, client Client, chatID string) {
	was, last := m.removeFromRoom(client, chatID)
	if !was {
		return
	}
	log.Printf("WARNING: [chathub] Evicting connection %s of user %s from chat %s: no longer an active participant",
		client.GetConnID(), client.GetUserID(), chatID)
	m.releaseRoom(ctx, chatID, client.GetUserID(), last)
	m.reply(client, models.ServerEvent{
		Event: models.EventLeftChat,
		Data:  models.LeftChatPayload{ChatID: chatID, Success: true},
	})
}

// userInRoom reports whether any connection of userID is in the room.
func (m *ManagerService) userInRoom(chatID, userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userInRoomLocked(chatID, userID, "")
}

// userInRoomLocked reports whether any connection of userID other than
// exceptConnID is in the room. Callers hold mu.
func (m *ManagerService) userInRoomLocked(chatID, userID, exceptConnID string) bool {
	for connID, client := range m.rooms[chatID] {
		if connID != exceptConnID && client.GetUserID() == userID {
			return true
		}
	}
	return false
}

// addToRoom joins the connection to the room. It reports whether the
// connection was already in it and whether another connection of the same
// user already was.
func (m *ManagerService) addToRoom(client Client, chatID string) (already, userPresent bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	connID := client.GetConnID()
	if m.joined[connID] == nil {
		// Disconnected while the join was being authorized.
		return true, true
	}
	if m.joined[connID][chatID] {
		return true, true
	}
	userPresent = m.userInRoomLocked(chatID, client.GetUserID(), connID)

	room, ok := m.rooms[chatID]
	if !ok {
		room = make(map[string]Client)
		m.rooms[chatID] = room
		metrics.RoomsActive.Inc()
	}
	room[connID] = client
	m.joined[connID][chatID] = true
	return false, userPresent
}

// removeFromRoom takes the connection out of the room. It reports whether the
// connection was in it and whether it was the user's last one there.
func (m *ManagerService) removeFromRoom(client Client, chatID string) (was, last bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeFromRoomLocked(client, chatID)
}

func (m *ManagerService) removeFromRoomLocked(client Client, chatID string) (was, last bool) {
	connID := client.GetConnID()
	if !m.joined[connID][chatID] {
		return false, false
	}
	delete(m.joined[connID], chatID)
	if room, ok := m.rooms[chatID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(m.rooms, chatID)
			metrics.RoomsActive.Dec()
		}
	}
	return true, !m.userInRoomLocked(chatID, client.GetUserID(), connID)
}

// Disconnect is the cleanup path of a closed connection. Every room the
// connection had joined is released and, when it was the user's last
// connection there, told that the user left. Cleanup of one room never
// prevents cleanup of the others. Safe to call more than once.
func (m *ManagerService) Disconnect(client Client) {
	connID := client.GetConnID()
	userID := client.GetUserID()

	type released struct {
		chatID string
		last   bool
	}

	m.mu.Lock()
	if m.clients[connID] != client {
		m.mu.Unlock()
		return
	}
	var rooms []released
	for chatID := range m.joined[connID] {
		_, last := m.removeFromRoomLocked(client, chatID)
		rooms = append(rooms, released{chatID: chatID, last: last})
	}
	delete(m.joined, connID)
	delete(m.clients, connID)
	client.Close()
	m.mu.Unlock()

	metrics.ConnectionsTotal.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), config.CleanupTimeout)
	defer cancel()

	for _, r := range rooms {
		m.releaseRoom(ctx, r.chatID, userID, r.last)
	}
	m.State.RemoveConnection(ctx, userID, connID)
	log.Printf("INFO: [chathub] Connection %s of user %s closed, released %d rooms", connID, userID, len(rooms))
}

func (m *ManagerService) releaseRoom(ctx context.Context, chatID, userID string, last bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: [chathub] Cleanup of room %s for user %s panicked: %v", chatID, userID, r)
		}
	}()

	m.State.ClearTyping(ctx, chatID, userID)
	if !last {
		return
	}
	m.State.RemoveUserFromRoom(ctx, chatID, userID)
	m.broadcast(ctx, chatID, models.ServerEvent{
		Event: models.EventUserLeft,
		Data:  models.MembershipPayload{UserID: userID, ChatID: chatID, Timestamp: m.now()},
	}, userID)
}

// Run refreshes room membership and presence for every live connection
// until ctx is done, then closes all connections.
func (m *ManagerService) Run(ctx context.Context) {
	log.Println("INFO: [chathub] Gateway started.")
	ticker := time.NewTicker(config.RoomRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Refresh(ctx)
		case <-ctx.Done():
			m.CloseAll()
			log.Println("INFO: [chathub] Gateway stopped.")
			return
		}
	}
}

type liveConn struct {
	client Client
	rooms  []string
}

func (m *ManagerService) snapshot() []liveConn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]liveConn, 0, len(m.clients))
	for connID, client := range m.clients {
		c := liveConn{client: client}
		for chatID := range m.joined[connID] {
			c.rooms = append(c.rooms, chatID)
		}
		out = append(out, c)
	}
	return out
}

// Refresh re-checks every joined room against the chat's participants,
// evicting connections whose user was blocked or removed, and extends the
// TTLs of the remaining room memberships and presence records. Blocks are
// written by other processes, so this is how the gateway learns of them
// when nothing is being sent.
func (m *ManagerService) Refresh(ctx context.Context) {
	type member struct{ chatID, userID string }
	active := make(map[member]bool)

	for _, c := range m.snapshot() {
		userID := c.client.GetUserID()
		for _, chatID := range c.rooms {
			key := member{chatID, userID}
			ok, checked := active[key]
			if !checked {
				var err error
				ok, err = m.Chats.IsActiveParticipant(ctx, chatID, userID)
				if err != nil {
					// Keep the membership; the next refresh retries.
					log.Printf("ERROR: [chathub] Participant check for %s in chat %s failed: %v", userID, chatID, err)
					ok = true
				} else {
					active[key] = ok
				}
			}
			if !ok {
				m.evict(ctx, c.client, chatID)
				continue
			}
			m.State.AddUserToRoom(ctx, chatID, userID)
		}
		m.State.RefreshConnection(ctx, userID, c.client.GetConnID())
	}
}

// CloseAll disconnects every live connection.
func (m *ManagerService) CloseAll() {
	m.mu.RLock()
	clients := make([]Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	for _, c := range clients {
		m.Disconnect(c)
	}
}
