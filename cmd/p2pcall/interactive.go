package main

import (
	"context"
	"net"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/p2pcall/internal/config"
	"github.com/1ureka/p2pcall/internal/discovery"
	"github.com/1ureka/p2pcall/internal/negotiation"
	"github.com/1ureka/p2pcall/internal/util"
)

const manualEntry = "Enter an address"

// runInteractive asks for the role, and for a Caller the receiver to dial.
func runInteractive(ctx context.Context, opts *options) error {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Receive — Wait for a call", "Call    — Call a receiver"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Receive") {
		return runCall(ctx, opts.config(negotiation.RoleReceiver))
	}

	cfg := opts.config(negotiation.RoleCaller)
	if peer, ok := pickReceiver(ctx); ok {
		applyPeer(&cfg, peer)
	} else {
		cfg.PeerHost = askHost()
	}
	return runCall(ctx, cfg)
}

// applyPeer points cfg at a discovered receiver, including the ports it
// advertised. Ports it did not advertise keep their configured values.
func applyPeer(cfg *config.Config, p discovery.Peer) {
	cfg.PeerHost = p.Host
	if p.OfferPort > 0 {
		cfg.OfferPort = p.OfferPort
	}
	if p.AnswerPort > 0 {
		cfg.AnswerPort = p.AnswerPort
	}
}

// pickReceiver offers receivers found over mDNS. It reports false when none
// was chosen and the address has to be typed.
func pickReceiver(ctx context.Context) (discovery.Peer, bool) {
	spinner, _ := pterm.DefaultSpinner.Start("Looking for receivers on the LAN...")
	peers, err := discovery.Browse(ctx, browseTimeout)
	if err != nil {
		spinner.Warning("mDNS unavailable")
		util.LogDebug("browse failed: %v", err)
	} else {
		spinner.Success(pterm.Sprintf("%d receiver(s) found", len(peers)))
	}

	if len(peers) > 0 {
		options := make([]string, 0, len(peers)+1)
		byLabel := make(map[string]discovery.Peer, len(peers))
		for _, p := range peers {
			options = append(options, p.String())
			byLabel[p.String()] = p
		}
		options = append(options, manualEntry)

		choice, _ := pterm.DefaultInteractiveSelect.
			WithOptions(options).
			WithDefaultText("Select a receiver").
			Show()
		pterm.Println()

		if p, ok := byLabel[choice]; ok {
			return p, true
		}
	}

	return discovery.Peer{}, false
}

// askHost prompts until a valid IPv4 address is entered.
func askHost() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Receiver IP address (e.g. 192.168.1.20)").
			Show()

		host := strings.TrimSpace(raw)
		if isIPv4(host) {
			pterm.Println()
			return host
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter an IPv4 address")
	}
}

func isIPv4(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil && !strings.Contains(s, ":")
}
