// p2pcall: CLI entry point.
//
// Places a direct audio/video call between two machines on the same LAN. The
// two sides swap one offer and one answer over connections they open to each
// other on fixed ports; no rendezvous server is involved.
//
// Run without a subcommand for interactive prompts, or use `call <ip>` and
// `receive` directly.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/atotto/clipboard"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/p2pcall/internal/call"
	"github.com/1ureka/p2pcall/internal/config"
	"github.com/1ureka/p2pcall/internal/discovery"
	"github.com/1ureka/p2pcall/internal/media"
	"github.com/1ureka/p2pcall/internal/negotiation"
	"github.com/1ureka/p2pcall/internal/signaling"
	"github.com/1ureka/p2pcall/internal/util"
)

var version = "dev"

// browseTimeout bounds the mDNS scan offered to an interactive Caller.
const browseTimeout = 3 * time.Second

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// options holds the flags shared by every subcommand.
type options struct {
	debug         bool
	backend       string
	offerPort     int
	answerPort    int
	acceptTimeout time.Duration
	mqttBroker    string
	mqttSelf      string
	stun          []string
	loopback      bool
	lockDir       string
	name          string
}

func (o *options) config(role negotiation.Role) config.Config {
	cfg := config.Default(role)
	cfg.Backend = config.Backend(o.backend)
	cfg.OfferPort = o.offerPort
	cfg.AnswerPort = o.answerPort
	cfg.AcceptTimeout = o.acceptTimeout
	cfg.MQTTBroker = o.mqttBroker
	cfg.MQTTSelf = o.mqttSelf
	cfg.ICEServers = o.stun
	cfg.Loopback = o.loopback
	cfg.LockDir = o.lockDir
	cfg.SessionName = o.name
	cfg.Debug = o.debug
	return cfg
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "p2pcall",
		Short:         "Serverless LAN audio/video calls",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.debug {
				util.EnableDebug()
			}
			pterm.Info.Println(fmt.Sprintf("p2pcall — v%s", version))
			pterm.Println()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd.Context(), opts)
		},
	}

	f := root.PersistentFlags()
	f.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	f.StringVar(&opts.backend, "backend", string(config.BackendTCP), "Signaling backend: tcp, ws or mqtt")
	f.IntVar(&opts.offerPort, "offer-port", config.DefaultOfferPort, "Port the offer is sent to")
	f.IntVar(&opts.answerPort, "answer-port", config.DefaultAnswerPort, "Port the answer is sent to")
	f.DurationVar(&opts.acceptTimeout, "accept-timeout", 0, "Give up waiting for the peer after this long (0 waits forever)")
	f.StringVar(&opts.mqttBroker, "mqtt-broker", "", "MQTT broker URL for the mqtt backend (e.g. tcp://192.168.1.2:1883)")
	f.StringVar(&opts.mqttSelf, "mqtt-self", "", "This host's LAN address for the mqtt backend (default: detected)")
	f.StringSliceVar(&opts.stun, "stun", nil, "STUN server URLs (default: none, LAN host candidates only)")
	f.BoolVar(&opts.loopback, "loopback", false, "Include loopback ICE candidates (both ends on one machine)")
	f.StringVar(&opts.lockDir, "lock-dir", "", "Directory for the port lock file (default: system temp)")
	f.StringVar(&opts.name, "name", "", "Session name shown in logs and mDNS (default: random)")

	root.AddCommand(newCallCmd(opts), newReceiveCmd(opts), newDiscoverCmd())
	return root
}

func newCallCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "call <receiver-ip>",
		Short: "Call a receiver waiting on the LAN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.config(negotiation.RoleCaller)
			cfg.PeerHost = args[0]
			return runCall(cmd.Context(), cfg)
		},
	}
}

func newReceiveCmd(opts *options) *cobra.Command {
	var advertise bool

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Wait for an incoming call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.config(negotiation.RoleReceiver)
			cfg.Advertise = advertise
			return runCall(cmd.Context(), cfg)
		},
	}
	cmd.Flags().BoolVar(&advertise, "advertise", true, "Announce this receiver over mDNS")
	return cmd
}

func newDiscoverCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List receivers announced on the LAN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			peers, err := discovery.Browse(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			if len(peers) == 0 {
				util.LogInfo("no receivers found")
				return nil
			}
			for _, p := range peers {
				pterm.Println(p.String())
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", browseTimeout, "How long to listen for announcements")
	return cmd
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

// runCall performs one call attempt for cfg.Role and holds the call until it
// drops or the user presses Ctrl+C.
func runCall(ctx context.Context, cfg config.Config) error {
	if cfg.Backend == config.BackendMQTT && cfg.MQTTSelf == "" {
		if ip, err := util.LocalIPv4(); err == nil {
			cfg.MQTTSelf = ip.String()
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Role == negotiation.RoleCaller && !cfg.PeerIsIPv4() {
		util.LogWarning("%q is not an IPv4 address; trying it anyway", cfg.PeerHost)
	}

	unlock, err := config.LockListenPort(cfg.LockDir, cfg.ListenPort())
	if err != nil {
		return err
	}
	defer unlock()

	ch, err := newChannel(cfg)
	if err != nil {
		return err
	}

	factory := media.NewPionFactory(media.Options{
		ICEServers: cfg.ICEServers,
		Loopback:   cfg.Loopback,
	})

	session, err := call.NewSession(cfg, ch, factory)
	if err != nil {
		return err
	}
	defer session.Close()

	if cfg.Role == negotiation.RoleReceiver {
		announce(session, cfg)
		if cfg.Advertise {
			stop, err := discovery.Advertise(session.Name(), cfg.OfferPort, cfg.AnswerPort)
			if err != nil {
				util.LogWarning("mDNS announcement failed: %v", err)
			} else {
				defer stop()
			}
		}
	}

	if err := session.Run(ctx); err != nil {
		if errors.Is(err, negotiation.ErrSignalingTimeout) {
			return fmt.Errorf("peer did not respond in time: %w", err)
		}
		return err
	}

	pterm.Println()
	util.LogInfo("press Ctrl+C to hang up")

	phase, err := session.Hold(ctx)
	if err != nil {
		return err
	}
	util.LogInfo("call ended (%s)", phase)
	return nil
}

// newChannel builds the signaling backend selected by cfg.
func newChannel(cfg config.Config) (signaling.Channel, error) {
	switch cfg.Backend {
	case config.BackendTCP:
		return signaling.NewTCPChannel(cfg.ConnectTimeout), nil
	case config.BackendWS:
		return signaling.NewWSChannel(cfg.ConnectTimeout), nil
	case config.BackendMQTT:
		return signaling.NewMQTTChannel(cfg.MQTTBroker, cfg.MQTTPrefix, cfg.MQTTSelf, cfg.ConnectTimeout), nil
	default:
		return nil, fmt.Errorf("unknown signaling backend %q", cfg.Backend)
	}
}

// announce shows the Receiver's LAN address so it can be read out to the
// Caller, and copies it to the clipboard when possible.
func announce(session *call.Session, cfg config.Config) {
	ip, err := util.LocalIPv4()
	if err != nil {
		util.LogWarning("could not determine this machine's LAN address: %v", err)
		return
	}

	pterm.DefaultBox.WithTitle("Waiting for a call").Println(
		fmt.Sprintf("Session : %s\nAddress : %s\nPorts   : %d (offer) / %d (answer)",
			session.Name(), ip, cfg.OfferPort, cfg.AnswerPort))

	if err := clipboard.WriteAll(ip.String()); err == nil {
		util.LogInfo("address copied to clipboard")
	} else {
		util.LogDebug("clipboard unavailable: %v", err)
	}
}
