package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Agents connect from desktop apps on arbitrary hosts
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is a middleman between one agent's websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Never closed: senders race the
	// done channel instead, so a disconnect cannot panic an in-flight send.
	send chan []byte

	// done is closed when the hub drops this connection
	done      chan struct{}
	closeOnce sync.Once

	// Set after a successful printer_identify handshake
	PrinterID uint
	DeviceID  string
	UserID    string
}

// shutdown signals the write pump and any pending senders that this
// connection is gone. Safe to call more than once.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// AgentMessage covers every inbound message an agent can send
type AgentMessage struct {
	Type     string `json:"type"`
	MsgID    string `json:"msgId,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
	Token    string `json:"token,omitempty"`
	JobCount int    `json:"jobCount,omitempty"`
	JobID    uint   `json:"jobId,omitempty"`
	Success  bool   `json:"success,omitempty"`
	Error    string `json:"error,omitempty"`
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WS error: %v", err)
			}
			break
		}

		var msg AgentMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError(msg.MsgID, "malformed message")
			continue
		}
		c.handle(msg)
	}
}

// handle dispatches one inbound agent message. Everything except the
// identify handshake requires an identified connection.
func (c *Client) handle(msg AgentMessage) {
	ctx := context.Background()

	if msg.Type == "printer_identify" {
		printer, err := c.hub.identifier.IdentifyAgent(ctx, msg.Token, msg.DeviceID)
		if err != nil {
			log.Printf("⚠️ WS: identify failed for device %s: %v", msg.DeviceID, err)
			c.sendError(msg.MsgID, "identify failed")
			return
		}
		c.PrinterID = printer.ID
		c.DeviceID = printer.DeviceID
		c.UserID = printer.UserID
		c.hub.register <- c

		if err := c.hub.liveness.Heartbeat(ctx, printer.ID, 0); err != nil {
			log.Printf("⚠️ WS: heartbeat on identify: %v", err)
		}
		c.SendJSON(map[string]interface{}{
			"type":      "identify_ack",
			"msgId":     msg.MsgID,
			"status":    "connected",
			"printerId": printer.ID,
		})
		return
	}

	if c.PrinterID == 0 {
		c.sendError(msg.MsgID, "not identified")
		return
	}

	switch msg.Type {
	case "heartbeat":
		if err := c.hub.liveness.Heartbeat(ctx, c.PrinterID, msg.JobCount); err != nil {
			log.Printf("⚠️ WS: heartbeat from printer %d: %v", c.PrinterID, err)
		}

	case "job_result":
		if msg.JobID == 0 {
			c.sendError(msg.MsgID, "job_result requires jobId")
			return
		}
		if _, err := c.hub.completer.Complete(ctx, msg.JobID, msg.Success, msg.Error); err != nil {
			// Duplicate or stale results are routine, the agent does not care
			log.Printf("⚠️ WS: result for job %d from printer %d: %v", msg.JobID, c.PrinterID, err)
		}
		c.SendJSON(map[string]string{"type": "ack", "msgId": msg.MsgID})

	default:
		c.sendError(msg.MsgID, "unknown message type")
	}
}

func (c *Client) sendError(msgID, detail string) {
	c.SendJSON(map[string]string{
		"type":    "error",
		"msgId":   msgID,
		"message": detail,
	})
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(v interface{}) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	case c.send <- msg:
		return nil
	default:
		return websocket.ErrCloseSent
	}
}

// ServeWs upgrades an agent HTTP request. The connection stays anonymous
// until the agent completes the printer_identify handshake.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256), done: make(chan struct{})}

	go client.writePump()
	go client.readPump()
}
