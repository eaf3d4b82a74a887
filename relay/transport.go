package relay

import (
	"context"
	"fmt"
	"net"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// socket is the raw framing layer the engine drives its read/write pumps
// over. It is a thin wrapper around github.com/gobwas/ws (a transitive
// dependency of github.com/nbd-wtf/go-nostr, which uses it for exactly
// this purpose) so the state machine, backoff and auth interleaving in
// this package stay in full control of frame-level behaviour instead of
// being implicit in a higher-level client.
type socket struct {
	conn net.Conn
}

func dialSocket(ctx context.Context, url string) (*socket, error) {
	conn, _, _, err := ws.DefaultDialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", url, err)
	}
	return &socket{conn: conn}, nil
}

func (s *socket) writeText(data []byte) error {
	return wsutil.WriteClientMessage(s.conn, ws.OpText, data)
}

func (s *socket) writePing() error {
	return wsutil.WriteClientMessage(s.conn, ws.OpPing, nil)
}

// readText blocks for the next text frame, discarding control frames
// (ping/pong/close) by replying as appropriate, matching the contract
// wsutil.ReadServerMessage expects callers to honour.
func (s *socket) readText() ([]byte, error) {
	for {
		msgs, err := wsutil.ReadServerMessage(s.conn, nil)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			switch m.OpCode {
			case ws.OpText:
				return m.Payload, nil
			case ws.OpClose:
				return nil, fmt.Errorf("relay: connection closed by peer")
			}
		}
	}
}

func (s *socket) close() error {
	return s.conn.Close()
}
