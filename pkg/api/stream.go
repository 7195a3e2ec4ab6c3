package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/luxfi/log"

	"github.com/luxfi/lending/pkg/lending"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventStream fans committed ledger events out to websocket clients.
type EventStream struct {
	events <-chan lending.Event
	logger log.Logger

	clients  map[*websocket.Conn]chan lending.Event
	clientMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEventStream creates a stream reading from events. A nil channel is
// allowed; callers then feed the stream through Publish.
func NewEventStream(events <-chan lending.Event, logger log.Logger) *EventStream {
	if logger == nil {
		logger = log.Root().New("module", "api")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EventStream{
		events:  events,
		logger:  logger,
		clients: make(map[*websocket.Conn]chan lending.Event),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the fan-out loop.
func (s *EventStream) Start() {
	if s.events == nil {
		return
	}
	s.wg.Add(1)
	go s.run()
}

// Publish broadcasts one event to every connected client.
func (s *EventStream) Publish(ev lending.Event) {
	s.broadcast(ev)
}

// Stop disconnects every client and stops the loop.
func (s *EventStream) Stop() {
	s.cancel()
	s.wg.Wait()

	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	for conn, ch := range s.clients {
		close(ch)
		conn.Close()
		delete(s.clients, conn)
	}
}

func (s *EventStream) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-s.events:
			if !ok {
				return
			}
			s.broadcast(ev)
		}
	}
}

func (s *EventStream) broadcast(ev lending.Event) {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	for _, ch := range s.clients {
		select {
		case ch <- ev:
		default:
			// Slow client, drop.
		}
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects.
func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	ch := make(chan lending.Event, 256)
	s.clientMu.Lock()
	s.clients[conn] = ch
	s.clientMu.Unlock()
	s.logger.Debug("event stream client connected", "remote", r.RemoteAddr)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.clientMu.Lock()
			if _, ok := s.clients[conn]; ok {
				delete(s.clients, conn)
				close(ch)
			}
			s.clientMu.Unlock()
			conn.Close()
		}()
		for {
			select {
			case <-s.ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			}
		}
	}()
}
