package server

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/topicchat/server/internal/events"
	"github.com/topicchat/server/internal/stats"
	"github.com/topicchat/server/internal/store"
)

const storeOpTimeout = 5 * time.Second

const (
	statNumConnections   = "NumConnections"
	statNumRoomBridges   = "NumRoomBridges"
	statEventsForwarded  = "EventsForwarded"
	statMessagesReplayed = "MessagesReplayed"
)

// ChatServer fans published events out to websocket clients. Room
// events flow through per-room bridges; room lifecycle events and
// per-user notifications flow through a single global subscription
// shared by every connection.
type ChatServer struct {
	log              *log.Logger
	stats            stats.StatsProvider
	roomRepo         store.RoomRepository
	messageRepo      store.MessageRepository
	subscriber       events.Subscriber
	clients          map[*Client]struct{}
	userClients      map[string]map[*Client]struct{}
	clientsLock      sync.Mutex
	subscribeChan    chan *ClientMessage
	RegisterChan     chan *Client
	deRegisterChan   chan *Client
	unloadBridgeChan chan string
	bridges          map[string]*roomBridge
	globalSub        events.Subscription
	stop             chan struct{}
	done             chan struct{}
	shutdownOnce     sync.Once
}

func NewChatServer(logger *log.Logger, roomRepo store.RoomRepository, messageRepo store.MessageRepository,
	subscriber events.Subscriber, statsProvider stats.StatsProvider) (*ChatServer, error) {
	globalSub, err := subscriber.Subscribe(context.Background(), events.DiscoveryChannel)
	if err != nil {
		return nil, err
	}

	cs := &ChatServer{
		log:              logger,
		stats:            statsProvider,
		roomRepo:         roomRepo,
		messageRepo:      messageRepo,
		subscriber:       subscriber,
		clients:          make(map[*Client]struct{}),
		userClients:      make(map[string]map[*Client]struct{}),
		subscribeChan:    make(chan *ClientMessage, 256),
		RegisterChan:     make(chan *Client),
		deRegisterChan:   make(chan *Client),
		unloadBridgeChan: make(chan string),
		bridges:          make(map[string]*roomBridge),
		globalSub:        globalSub,
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}

	for _, name := range []string{statNumConnections, statNumRoomBridges, statEventsForwarded, statMessagesReplayed} {
		cs.stats.RegisterMetric(name)
	}

	return cs, nil
}

func (cs *ChatServer) Run() {
	globalEvents := cs.globalSub.Events()

	for {
		select {
		case msg := <-cs.subscribeChan:
			cs.handleSubscribe(msg)
		case client := <-cs.RegisterChan:
			cs.log.Printf("adding connection from %q", client.username)
			cs.addClient(client)
		case client := <-cs.deRegisterChan:
			cs.log.Printf("removing connection from %q", client.username)
			cs.removeClient(client)
		case roomId := <-cs.unloadBridgeChan:
			cs.unloadBridge(roomId)
		case ce, ok := <-globalEvents:
			if !ok {
				cs.log.Println("global subscription closed")
				globalEvents = nil
				continue
			}
			cs.routeGlobalEvent(ce)
		case <-cs.stop:
			cs.log.Println("shutting down bridges")
			for _, b := range cs.bridges {
				close(b.exit)
				<-b.done
			}

			cs.globalSub.Close()
			close(cs.done)
			return
		}
	}
}

func (cs *ChatServer) handleSubscribe(msg *ClientMessage) {
	roomId := msg.Subscribe.RoomId
	if b, ok := cs.bridges[roomId]; ok {
		select {
		case b.attachChan <- msg:
		default:
			cs.log.Printf("attach channel full on bridge %q", roomId)
			msg.client.queueMessage(ErrServiceUnavailable(msg.Id))
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	if _, err := cs.roomRepo.GetRoom(ctx, roomId); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			msg.client.queueMessage(ErrRoomNotFound(msg.Id))
		} else {
			cs.log.Println("GetRoom:", err)
			msg.client.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	// only participants receive the room's live stream
	isMember, err := cs.roomRepo.IsParticipant(ctx, roomId, msg.client.userId)
	if err != nil {
		cs.log.Println("IsParticipant:", err)
		msg.client.queueMessage(ErrInternalError(msg.Id))
		return
	}
	if !isMember {
		msg.client.queueMessage(ErrNotAllowed(msg.Id))
		return
	}

	sub, err := cs.subscriber.Subscribe(ctx, events.RoomChannel(roomId))
	if err != nil {
		cs.log.Printf("subscribe to room %q: %v", roomId, err)
		msg.client.queueMessage(ErrServiceUnavailable(msg.Id))
		return
	}

	b := newRoomBridge(roomId, sub, cs)
	cs.bridges[roomId] = b
	cs.stats.Incr(statNumRoomBridges)

	go b.start()
	b.attachChan <- msg
}

func (cs *ChatServer) unloadBridge(roomId string) {
	b, ok := cs.bridges[roomId]
	if !ok {
		return
	}

	cs.log.Printf("unloading bridge for room %q", roomId)
	delete(cs.bridges, roomId)
	cs.stats.Decr(statNumRoomBridges)

	close(b.exit)
	<-b.done
}

// routeGlobalEvent delivers discovery events to every client and
// user-channel events to that user's connections.
func (cs *ChatServer) routeGlobalEvent(ce events.ChannelEvent) {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: ce.Event.Timestamp},
		Event:       &ce.Event,
	}

	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if ce.Channel == events.DiscoveryChannel {
		for c := range cs.clients {
			if c.queueMessage(msg) {
				cs.stats.Incr(statEventsForwarded)
			}
		}
		return
	}

	userId := strings.TrimPrefix(ce.Channel, "user:")
	for c := range cs.userClients[userId] {
		if c.queueMessage(msg) {
			cs.stats.Incr(statEventsForwarded)
		}
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	if cs.userClients[c.userId] == nil {
		cs.userClients[c.userId] = make(map[*Client]struct{})

		ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
		if err := cs.globalSub.Add(ctx, events.UserChannel(c.userId)); err != nil {
			cs.log.Printf("subscribe user channel for %q: %v", c.userId, err)
		}
		cancel()
	}
	cs.userClients[c.userId][c] = struct{}{}

	cs.stats.Incr(statNumConnections)
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return
	}

	delete(cs.clients, c)
	if userClients, ok := cs.userClients[c.userId]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(cs.userClients, c.userId)

			ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
			if err := cs.globalSub.Remove(ctx, events.UserChannel(c.userId)); err != nil {
				cs.log.Printf("unsubscribe user channel for %q: %v", c.userId, err)
			}
			cancel()
		}
	}

	cs.stats.Decr(statNumConnections)
}

func (cs *ChatServer) Shutdown() {
	cs.shutdownOnce.Do(func() {
		cs.log.Println("received shutdown signal")
		cs.clientsLock.Lock()
		for c := range cs.clients {
			c.stopClient()
		}
		cs.clientsLock.Unlock()

		close(cs.stop)
	})

	<-cs.done
}
