package relay

import (
	"context"

	"github.com/asmogo/gonostrpool/nostr"
)

// NegOpen sends NEG-OPEN for filter under subID with the sealed initial
// storage-vector message and registers the channel that subsequent
// NEG-MSG/NEG-ERR frames for subID are delivered on (spec §4.4 "Setup").
// The channel is owned by the caller; NegClose removes it.
func (r *Relay) NegOpen(ctx context.Context, subID string, filter nostr.Filter, initMsgHex string) (<-chan NegMessage, error) {
	if r.status.load() != StatusConnected {
		return nil, ErrNotConnected
	}
	ch := make(chan negResult, 8)
	r.negWaiters.Store(subID, ch)

	frame, err := nostr.ClientNegOpen(subID, filter, initMsgHex)
	if err != nil {
		r.negWaiters.Delete(subID)
		return nil, err
	}
	if err := r.enqueue(frame); err != nil {
		r.negWaiters.Delete(subID)
		return nil, err
	}

	out := make(chan NegMessage, 8)
	go r.pumpNeg(ctx, subID, ch, out)
	return out, nil
}

// NegMessage is one inbound NEG-MSG or NEG-ERR for a subscription.
type NegMessage struct {
	MsgHex string
	Err    bool
	Reason string
}

func (r *Relay) pumpNeg(ctx context.Context, subID string, in chan negResult, out chan NegMessage) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-in:
			if !ok {
				out <- NegMessage{Err: true, Reason: "relay: not connected"}
				return
			}
			if res.closed {
				out <- NegMessage{Err: true, Reason: res.errMsg}
				return
			}
			select {
			case out <- NegMessage{MsgHex: res.msgHex}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// NegMsg sends a follow-up NEG-MSG frame for an already-open subID.
func (r *Relay) NegMsg(subID, msgHex string) error {
	frame, err := nostr.ClientNegMsg(subID, msgHex)
	if err != nil {
		return err
	}
	return r.enqueue(frame)
}

// NegClose sends NEG-CLOSE and releases the subID's waiter registration.
func (r *Relay) NegClose(subID string) error {
	r.negWaiters.Delete(subID)
	frame, err := nostr.ClientNegClose(subID)
	if err != nil {
		return err
	}
	return r.enqueue(frame)
}
