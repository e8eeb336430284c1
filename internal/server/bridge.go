package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/topicchat/server/internal/events"
)

const idleBridgeTimeout = time.Second * 30

// roomBridge connects the pub/sub channel of a single room to the
// websocket clients on this process that subscribed to it. It is
// created on first subscribe and unloads once the last client detaches
// and the idle timer fires.
type roomBridge struct {
	roomId     string
	cs         *ChatServer
	sub        events.Subscription
	attachChan chan *ClientMessage
	detachChan chan *ClientMessage
	clients    map[*Client]struct{}
	clientLock sync.RWMutex
	log        *log.Logger
	killTimer  *time.Timer
	exit       chan struct{}
	done       chan struct{}
}

func newRoomBridge(roomId string, sub events.Subscription, cs *ChatServer) *roomBridge {
	return &roomBridge{
		roomId:     roomId,
		cs:         cs,
		sub:        sub,
		attachChan: make(chan *ClientMessage, 256),
		detachChan: make(chan *ClientMessage, 256),
		clients:    make(map[*Client]struct{}),
		log:        cs.log,
		exit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (b *roomBridge) start() {
	b.log.Printf("starting bridge for room %q", b.roomId)
	b.killTimer = time.NewTimer(idleBridgeTimeout)
	b.killTimer.Stop()

	defer func() {
		b.sub.Close()
		close(b.done)
	}()

	for {
		select {
		case msg := <-b.attachChan:
			b.handleAttach(msg)
		case msg := <-b.detachChan:
			b.handleDetach(msg)
		case ce, ok := <-b.sub.Events():
			if !ok {
				b.log.Printf("subscription closed for room %q", b.roomId)
				b.requestUnload()
				continue
			}
			b.handleEvent(ce.Event)
		case <-b.killTimer.C:
			b.log.Printf("bridge for room %q timed out", b.roomId)
			b.requestUnload()
		case <-b.exit:
			b.detachAll()
			return
		}
	}
}

func (b *roomBridge) requestUnload() {
	select {
	case b.cs.unloadBridgeChan <- b.roomId:
	case <-b.exit:
	}
}

func (b *roomBridge) handleAttach(msg *ClientMessage) {
	b.killTimer.Stop()

	c := msg.client
	b.addClient(c)

	// resynchronize before live events: replay everything the client
	// missed since it last saw the room
	if msg.Subscribe.LastSeen > 0 {
		b.replay(c, msg)
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{"room_id": b.roomId}))
}

func (b *roomBridge) replay(c *Client, msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	after := time.UnixMilli(msg.Subscribe.LastSeen).UTC()
	missed, err := b.cs.messageRepo.GetMessagesAfter(ctx, b.roomId, after)
	if err != nil {
		b.log.Printf("replay messages for room %q: %v", b.roomId, err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	for _, m := range missed {
		c.queueMessage(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: m.Timestamp},
			Event: &events.Event{
				Type:      events.EventMessage,
				RoomId:    m.ChatRoomId,
				UserId:    m.UserId,
				Username:  m.Username,
				Content:   m.Content,
				Timestamp: m.Timestamp,
			},
		})
	}

	if len(missed) > 0 {
		b.cs.stats.Add(statMessagesReplayed, len(missed))
	}
}

func (b *roomBridge) handleDetach(msg *ClientMessage) {
	c := msg.client
	b.removeClient(c)

	if msg.Id > 0 {
		c.queueMessage(NoErrOK(msg.Id, nil))
	}
}

func (b *roomBridge) handleEvent(event events.Event) {
	b.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: event.Timestamp},
		Event:       &event,
	})

	if event.Type == events.EventRoomDeleted {
		b.requestUnload()
	}
}

func (b *roomBridge) broadcast(msg *ServerMessage) {
	b.clientLock.RLock()
	defer b.clientLock.RUnlock()

	for client := range b.clients {
		if client == msg.SkipClient {
			continue
		}

		if client.queueMessage(msg) {
			b.cs.stats.Incr(statEventsForwarded)
		}
	}
}

func (b *roomBridge) addClient(c *Client) {
	b.clientLock.Lock()
	defer b.clientLock.Unlock()

	b.clients[c] = struct{}{}
	c.addBridge(b)
}

func (b *roomBridge) removeClient(c *Client) {
	b.clientLock.Lock()
	defer b.clientLock.Unlock()

	if _, ok := b.clients[c]; !ok {
		return
	}

	delete(b.clients, c)
	c.delBridge(b.roomId)

	if len(b.clients) == 0 {
		b.log.Printf("no clients on bridge %q, starting kill timer", b.roomId)
		b.killTimer.Reset(idleBridgeTimeout)
	}
}

func (b *roomBridge) detachAll() {
	b.clientLock.Lock()
	defer b.clientLock.Unlock()

	for c := range b.clients {
		c.delBridge(b.roomId)
	}
	b.clients = make(map[*Client]struct{})
}
