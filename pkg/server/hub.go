package server

import (
	"sync"

	"github.com/argus-labs/gemrush/pkg/protocol"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

var ErrAlreadyConnected = eris.New("participant already has an open connection")

type peer struct {
	send chan []byte
}

// Hub maps participants to their connection's outbound queue. Send never blocks: a connection whose
// queue is full is cut off.
type Hub struct {
	mu     sync.Mutex
	peers  map[string]*peer
	buffer int
	log    zerolog.Logger
}

var _ protocol.Notifier = (*Hub)(nil)

func NewHub(buffer int, log zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	return &Hub{
		peers:  make(map[string]*peer),
		buffer: buffer,
		log:    log,
	}
}

// register opens an outbound queue for participantID. The returned channel is closed when the
// participant is kicked, cut off, or unregistered.
func (h *Hub) register(participantID string) (*peer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.peers[participantID]; ok {
		return nil, eris.Wrapf(ErrAlreadyConnected, "participant %s", participantID)
	}
	p := &peer{send: make(chan []byte, h.buffer)}
	h.peers[participantID] = p
	return p, nil
}

func (h *Hub) unregister(participantID string, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeLocked(participantID, p)
}

func (h *Hub) closeLocked(participantID string, p *peer) {
	if h.peers[participantID] != p {
		return
	}
	delete(h.peers, participantID)
	close(p.send)
}

func (h *Hub) Send(participantID string, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		h.log.Error().Err(err).Str("op", msg.OpCode().String()).Msg("failed to encode message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.peers[participantID]
	if !ok {
		return
	}
	select {
	case p.send <- data:
	default:
		h.log.Warn().Str("participant_id", participantID).Msg("send buffer full, closing connection")
		h.closeLocked(participantID, p)
		return
	}
	if msg.OpCode() == protocol.OpKicked {
		h.closeLocked(participantID, p)
	}
}

// Connected returns the number of open connections.
func (h *Hub) Connected() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}
