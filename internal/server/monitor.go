package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/farmrobo-dev/fruploader/internal/serial"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sinkBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type monitorMessage struct {
	Kind   string    `json:"kind"`
	Device string    `json:"device"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
}

// monitor streams one serial session over a websocket. Text frames from the
// client are sent to the device. The session lives as long as the
// connection.
func (s *Server) monitor(c *gin.Context) {
	port := c.Query("port")
	if port == "" {
		errorJSON(c, http.StatusBadRequest, serial.ErrNoDeviceSelected)
		return
	}
	baud := s.opts.BaudRate
	if v := c.Query("baud"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errorJSON(c, http.StatusBadRequest, errors.New("invalid baud rate"))
			return
		}
		baud = n
	}
	display := serial.DefaultDisplay()
	if v := c.Query("view"); v != "" {
		mode, err := serial.ParseViewMode(v)
		if err != nil {
			errorJSON(c, http.StatusBadRequest, err)
			return
		}
		display.View = mode
	}
	display.Timestamp = c.Query("timestamp") == "true" || c.Query("timestamp") == "1"
	if v := c.Query("line_ending"); v != "" {
		le, err := serial.ParseLineEnding(v)
		if err != nil {
			errorJSON(c, http.StatusBadRequest, err)
			return
		}
		display.LineEnding = le
	}

	sess := serial.NewSession("ws "+c.ClientIP(),
		serial.WithRegistry(s.opts.Registry),
		serial.WithLogger(s.log),
		serial.WithPollInterval(s.opts.PollInterval),
	)
	sess.Reconfigure(display)

	if err := sess.Start(port, baud); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, serial.ErrPortBusy) {
			status = http.StatusConflict
		}
		errorJSON(c, status, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sess.Stop()
		s.log.Warn("websocket upgrade", zap.Error(err))
		return
	}

	sink := serial.NewChanSink(sinkBuffer)
	remove := sess.AddSink(sink)
	done := make(chan struct{})

	go s.writePump(conn, sink, done)
	s.readPump(conn, sess)

	remove()
	sess.Stop()
	close(done)
	s.log.Info("monitor client disconnected", zap.String("port", port), zap.Int64("dropped", sink.Dropped()))
}

func (s *Server) readPump(conn *websocket.Conn, sess *serial.Session) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("websocket read", zap.Error(err))
			}
			return
		}
		if err := sess.Send(string(msg)); err != nil {
			s.log.Warn("send to device", zap.String("device", sess.Device()), zap.Error(err))
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, sink *serial.ChanSink, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case e := <-sink.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			msg := monitorMessage{Kind: e.Kind.String(), Device: e.Device, Text: e.Text, Time: e.Time}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
