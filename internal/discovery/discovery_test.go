package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestPeerFromEntry(t *testing.T) {
	tests := []struct {
		name  string
		entry *zeroconf.ServiceEntry
		want  Peer
		ok    bool
	}{
		{
			name:  "nil",
			entry: nil,
		},
		{
			name:  "no ipv4",
			entry: entry("kitchen", 10001, nil),
		},
		{
			name:  "answer port from txt",
			entry: entry("kitchen", 10001, net.ParseIP("192.168.1.9"), "answer=10002"),
			want:  Peer{Name: "kitchen", Host: "192.168.1.9", OfferPort: 10001, AnswerPort: 10002},
			ok:    true,
		},
		{
			name:  "answer port fallback",
			entry: entry("study", 20001, net.ParseIP("10.0.0.9"), "answer=oops"),
			want:  Peer{Name: "study", Host: "10.0.0.9", OfferPort: 20001, AnswerPort: 20002},
			ok:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := peerFromEntry(tt.entry)
			if ok != tt.ok || got != tt.want {
				t.Errorf("got %+v, %v; want %+v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestSortedPeers(t *testing.T) {
	got := sortedPeers(map[string]Peer{
		"b": {Name: "b"},
		"a": {Name: "a"},
		"c": {Name: "c"},
	})
	if len(got) != 3 || got[0].Name != "a" || got[2].Name != "c" {
		t.Errorf("got %v", got)
	}
}

// TestAdvertiseAndBrowse needs multicast, which many containers lack.
func TestAdvertiseAndBrowse(t *testing.T) {
	if testing.Short() {
		t.Skip("needs multicast")
	}

	stop, err := Advertise("p2pcall-test-receiver", 19001, 19002)
	if err != nil {
		t.Skipf("mDNS unavailable: %v", err)
	}
	defer stop()

	time.Sleep(500 * time.Millisecond)

	peers, err := Browse(context.Background(), 2*time.Second)
	if err != nil {
		t.Skipf("mDNS unavailable: %v", err)
	}
	for _, p := range peers {
		if p.Name == "p2pcall-test-receiver" {
			if p.OfferPort != 19001 || p.AnswerPort != 19002 {
				t.Errorf("ports: got %d/%d", p.OfferPort, p.AnswerPort)
			}
			return
		}
	}
	t.Skip("own announcement not seen; multicast likely filtered")
}

func TestBrowseHonoursTimeout(t *testing.T) {
	start := time.Now()
	if _, err := Browse(context.Background(), 300*time.Millisecond); err != nil {
		t.Skipf("mDNS unavailable: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Browse took %s", elapsed)
	}
}

func entry(instance string, port int, ip net.IP, txt ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, ServiceType, domain)
	e.Port = port
	e.Text = txt
	if ip != nil {
		e.AddrIPv4 = []net.IP{ip}
	}
	return e
}
