package heartbeat

import (
	"time"

	"github.com/cgts/mtce/pkg/cluster"
	"github.com/cgts/mtce/pkg/constants"
)

// peerView is the cached copy of a peer controller's cluster history,
// along with the last time a request was received from that peer —
// used to bound staleness before it is re-embedded in a reply.
type peerView struct {
	histories []cluster.HistorySnapshot
	lastSeen  time.Time
}

// Client is the per-client side of the pulse protocol: it listens on
// each network, replies with the request's header replaced by the
// response tag plus its own hostname, echoes the request's sequence
// number, and copies a peer controller's cached cluster view into its
// own replies.
type Client struct {
	Hostname string
	Period   time.Duration

	rri map[int]*RRICache // per-controller RRI cache

	peers map[int]*peerView // peer controller index -> cached view
}

// NewClient creates a Client for hostname.
func NewClient(hostname string, period time.Duration) *Client {
	return &Client{Hostname: hostname, Period: period, rri: make(map[int]*RRICache), peers: make(map[int]*peerView)}
}

func (c *Client) rriFor(controller int) *RRICache {
	cache, ok := c.rri[controller]
	if !ok {
		cache = NewRRICache()
		c.rri[controller] = cache
	}
	return cache
}

// OnRequest processes an inbound pulse request from controller and
// returns the reply to send back: the header is the response tag, the
// hostname is echoed as this client's own, the sequence number is
// echoed, and the controller attribution bit is preserved from req so
// the agent's attribution of the reply matches the controller bits of
// the reply flags.
func (c *Client) OnRequest(req Message, localFlags uint32) Message {
	controller := ControllerOf(req.Flags)

	if req.Hostname == c.Hostname {
		c.rriFor(controller).Learn(controller, req.RRI)
	}

	if req.Version >= 1 && len(req.ClusterView) > 0 {
		c.cachePeerView(controller, req.ClusterView)
	}

	reply := Message{
		IsReply:  true,
		Hostname: c.Hostname,
		Seq:      req.Seq,
		RRI:      c.rriFor(controller).Echo(controller),
		Flags:    WithController(localFlags, controller),
		Version:  req.Version,
	}

	if peer := c.peerViewToEmbed(controller); peer != nil {
		reply.ClusterView = peer
	}

	return reply
}

// cachePeerView stores views embedded in a request, keyed by the
// *other* controller when this request's payload carries a peer's
// history, along with the current time for staleness tracking. In
// practice a request from controller C can itself carry C's peer's
// cached view (propagated agent-side); here we simply cache whatever
// we are handed under the sending controller so it can be echoed back
// symmetrically.
func (c *Client) cachePeerView(controller int, views []cluster.HistorySnapshot) {
	pv, ok := c.peers[controller]
	if !ok {
		pv = &peerView{}
		c.peers[controller] = pv
	}
	pv.histories = views
	pv.lastSeen = time.Now()
}

// peerViewToEmbed returns the cached peer view for the controller
// other than the one that just sent a request, provided it has not
// gone stale. Staleness is bounded by clearing the peer cache after 2×
// network-history periods with no receipt.
func (c *Client) peerViewToEmbed(requestingController int) []cluster.HistorySnapshot {
	for controller, pv := range c.peers {
		if controller == requestingController {
			continue
		}
		staleAfter := 2 * c.Period * time.Duration(constants.HistoryRingSize)
		if time.Since(pv.lastSeen) > staleAfter {
			delete(c.peers, controller)
			continue
		}
		return pv.histories
	}
	return nil
}
