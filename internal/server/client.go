package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024
)

type Client struct {
	conn        *websocket.Conn
	chatServer  *ChatServer
	log         *log.Logger
	userId      string
	username    string
	send        chan *ServerMessage
	bridges     map[string]*roomBridge
	bridgesLock sync.RWMutex
	stop        chan struct{}
	stopOnce    sync.Once
}

func NewClient(userId, username string, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		userId:     userId,
		username:   username,
		send:       make(chan *ServerMessage, 256),
		bridges:    make(map[string]*roomBridge),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.Timestamp = Now()

		switch {
		case msg.Subscribe != nil:
			c.subscribe(&msg)
		case msg.Unsubscribe != nil:
			c.unsubscribe(&msg)
		default:
			c.queueMessage(ErrInvalidMessage(msg.Id))
		}
	}
}

func (c *Client) subscribe(msg *ClientMessage) {
	select {
	case c.chatServer.subscribeChan <- msg:
	default:
		c.log.Printf("subscribeChan full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) unsubscribe(msg *ClientMessage) {
	b := c.getBridge(msg.Unsubscribe.RoomId)
	if b == nil {
		c.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	select {
	case b.detachChan <- msg:
	default:
		c.log.Printf("detachChan full for room %q", b.roomId)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// cleanup detaches the client from its room bridges and deregisters it.
// It only tears down this connection's fan-out state; the user's room
// membership in the store is untouched. The run loop may already be
// gone when a connection drops during shutdown, so the deregister send
// must not block on it.
func (c *Client) cleanup() {
	select {
	case c.chatServer.deRegisterChan <- c:
	case <-c.chatServer.done:
	}
	c.detachAllBridges()
	c.stopClient()
}

func (c *Client) detachAllBridges() {
	c.bridgesLock.RLock()
	defer c.bridgesLock.RUnlock()

	for _, b := range c.bridges {
		b.detachChan <- &ClientMessage{
			Unsubscribe: &Unsubscribe{RoomId: b.roomId},
			client:      c,
		}
	}
}

func (c *Client) addBridge(b *roomBridge) {
	c.bridgesLock.Lock()
	defer c.bridgesLock.Unlock()

	c.bridges[b.roomId] = b
}

func (c *Client) delBridge(roomId string) {
	c.bridgesLock.Lock()
	defer c.bridgesLock.Unlock()

	delete(c.bridges, roomId)
}

func (c *Client) getBridge(roomId string) *roomBridge {
	c.bridgesLock.RLock()
	defer c.bridgesLock.RUnlock()

	return c.bridges[roomId]
}
