// Package discovery announces waiting Receivers on the LAN over mDNS so a
// Caller can pick one instead of typing an address.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service receivers register.
const ServiceType = "_p2pcall._tcp"

const domain = "local."

// Peer is a receiver found on the network.
type Peer struct {
	Name       string
	Host       string
	OfferPort  int
	AnswerPort int
}

func (p Peer) String() string {
	return fmt.Sprintf("%s (%s:%d)", p.Name, p.Host, p.OfferPort)
}

// Advertise registers a receiver named name listening for offers on
// offerPort. It returns a function that withdraws the announcement.
func Advertise(name string, offerPort, answerPort int) (func(), error) {
	txt := []string{"answer=" + strconv.Itoa(answerPort)}

	server, err := zeroconf.Register(name, ServiceType, domain, offerPort, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	return server.Shutdown, nil
}

// Browse collects receivers that answer within timeout, sorted by name.
func Browse(ctx context.Context, timeout time.Duration) ([]Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, domain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	seen := make(map[string]Peer)
	for {
		select {
		case <-ctx.Done():
			return sortedPeers(seen), nil
		case entry, ok := <-entries:
			if !ok {
				return sortedPeers(seen), nil
			}
			if p, ok := peerFromEntry(entry); ok {
				seen[p.Name] = p
			}
		}
	}
}

// peerFromEntry keeps entries with an IPv4 address; the answer port falls
// back to offer port + 1 when the TXT record lacks it.
func peerFromEntry(entry *zeroconf.ServiceEntry) (Peer, bool) {
	if entry == nil || len(entry.AddrIPv4) == 0 {
		return Peer{}, false
	}

	p := Peer{
		Name:       entry.Instance,
		Host:       entry.AddrIPv4[0].String(),
		OfferPort:  entry.Port,
		AnswerPort: entry.Port + 1,
	}
	for _, txt := range entry.Text {
		if v, ok := strings.CutPrefix(txt, "answer="); ok {
			if port, err := strconv.Atoi(v); err == nil {
				p.AnswerPort = port
			}
		}
	}
	return p, true
}

func sortedPeers(m map[string]Peer) []Peer {
	peers := make([]Peer, 0, len(m))
	for _, p := range m {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Name < peers[j].Name })
	return peers
}
