package main

import (
	"testing"

	"github.com/1ureka/p2pcall/internal/config"
	"github.com/1ureka/p2pcall/internal/discovery"
	"github.com/1ureka/p2pcall/internal/negotiation"
	"github.com/1ureka/p2pcall/internal/signaling"
)

func TestNewChannel(t *testing.T) {
	tests := []struct {
		backend config.Backend
		check   func(signaling.Channel) bool
	}{
		{config.BackendTCP, func(c signaling.Channel) bool { _, ok := c.(*signaling.TCPChannel); return ok }},
		{config.BackendWS, func(c signaling.Channel) bool { _, ok := c.(*signaling.WSChannel); return ok }},
		{config.BackendMQTT, func(c signaling.Channel) bool { _, ok := c.(*signaling.MQTTChannel); return ok }},
	}

	for _, tt := range tests {
		cfg := config.Default(negotiation.RoleReceiver)
		cfg.Backend = tt.backend
		ch, err := newChannel(cfg)
		if err != nil {
			t.Fatalf("%s: %v", tt.backend, err)
		}
		if !tt.check(ch) {
			t.Errorf("%s: got %T", tt.backend, ch)
		}
	}

	cfg := config.Default(negotiation.RoleReceiver)
	cfg.Backend = "carrier-pigeon"
	if _, err := newChannel(cfg); err == nil {
		t.Error("unknown backend accepted")
	}
}

func TestOptionsConfig(t *testing.T) {
	opts := &options{
		backend:    "ws",
		offerPort:  20001,
		answerPort: 20002,
		stun:       []string{"stun:stun.l.google.com:19302"},
		loopback:   true,
		name:       "brave-otter",
	}

	cfg := opts.config(negotiation.RoleCaller)
	if cfg.Role != negotiation.RoleCaller || cfg.Backend != config.BackendWS {
		t.Errorf("role/backend: %+v", cfg)
	}
	if cfg.ListenPort() != 20002 || cfg.SendPort() != 20001 {
		t.Errorf("ports: listen %d send %d", cfg.ListenPort(), cfg.SendPort())
	}
	if cfg.ConnectTimeout != config.ConnectTimeout {
		t.Errorf("connect timeout: %s", cfg.ConnectTimeout)
	}
	if !cfg.Loopback || cfg.SessionName != "brave-otter" || len(cfg.ICEServers) != 1 {
		t.Errorf("media options: %+v", cfg)
	}
}

func TestIsIPv4(t *testing.T) {
	for in, want := range map[string]bool{
		"192.168.1.20":   true,
		"10.0.0.9":       true,
		"::1":            false,
		"::ffff:1.2.3.4": false,
		"receiver":       false,
		"":               false,
	} {
		if got := isIPv4(in); got != want {
			t.Errorf("isIPv4(%q) = %v, want %v", in, got, want)
		}
	}
}

// TestApplyPeer verifies a receiver chosen from discovery is dialed on the
// ports it advertised rather than the local defaults.
func TestApplyPeer(t *testing.T) {
	cfg := config.Default(negotiation.RoleCaller)
	applyPeer(&cfg, discovery.Peer{Name: "brave-otter", Host: "192.168.1.20", OfferPort: 20001, AnswerPort: 20002})

	if cfg.PeerHost != "192.168.1.20" {
		t.Errorf("PeerHost: got %q", cfg.PeerHost)
	}
	if cfg.OfferPort != 20001 || cfg.AnswerPort != 20002 {
		t.Errorf("ports: got %d/%d, want 20001/20002", cfg.OfferPort, cfg.AnswerPort)
	}
	if cfg.SendPort() != 20001 || cfg.ListenPort() != 20002 {
		t.Errorf("caller ports: send %d listen %d", cfg.SendPort(), cfg.ListenPort())
	}

	cfg = config.Default(negotiation.RoleCaller)
	applyPeer(&cfg, discovery.Peer{Host: "192.168.1.21", OfferPort: 20003})
	if cfg.OfferPort != 20003 || cfg.AnswerPort != config.DefaultAnswerPort {
		t.Errorf("partial ports: got %d/%d", cfg.OfferPort, cfg.AnswerPort)
	}
}
