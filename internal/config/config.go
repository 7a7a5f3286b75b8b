// Package config holds the CLI configuration types.
package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/1ureka/p2pcall/internal/negotiation"
)

// Fixed signaling ports shared by convention between both roles.
const (
	DefaultOfferPort  = 10001 // Caller -> Receiver
	DefaultAnswerPort = 10002 // Receiver -> Caller
)

// ConnectTimeout bounds every signaling connect attempt.
const ConnectTimeout = 5 * time.Second

// Backend selects the signaling transport.
type Backend string

const (
	BackendTCP  Backend = "tcp"
	BackendWS   Backend = "ws"
	BackendMQTT Backend = "mqtt"
)

// Config stores all parameters gathered from CLI flags or interactive prompts.
type Config struct {
	Role     negotiation.Role
	PeerHost string // Caller: receiver address entered by the user

	OfferPort  int
	AnswerPort int

	ConnectTimeout time.Duration // always ConnectTimeout outside tests
	AcceptTimeout  time.Duration // 0 waits for the peer indefinitely

	Backend     Backend
	MQTTBroker  string // Backend mqtt: e.g. tcp://192.168.1.2:1883
	MQTTPrefix  string
	MQTTSelf    string // Backend mqtt: this host's address as the peer sees it
	ICEServers  []string
	Loopback    bool // include loopback ICE candidates (single-host testing)
	Advertise   bool // Receiver: announce on mDNS
	Debug       bool
	LockDir     string
	SessionName string
}

// Default returns a Config with the conventional ports and timeouts.
func Default(role negotiation.Role) Config {
	return Config{
		Role:           role,
		OfferPort:      DefaultOfferPort,
		AnswerPort:     DefaultAnswerPort,
		ConnectTimeout: ConnectTimeout,
		Backend:        BackendTCP,
		MQTTPrefix:     "p2pcall",
	}
}

// ListenPort is the port this role accepts its single inbound record on.
func (c Config) ListenPort() int {
	if c.Role == negotiation.RoleCaller {
		return c.AnswerPort
	}
	return c.OfferPort
}

// SendPort is the port this role delivers its record to.
func (c Config) SendPort() int {
	if c.Role == negotiation.RoleCaller {
		return c.OfferPort
	}
	return c.AnswerPort
}

// Validate checks the configuration for the chosen role. The peer address is
// only checked for presence; the transport rejects anything unreachable.
func (c Config) Validate() error {
	var errs []error

	if c.Role != negotiation.RoleCaller && c.Role != negotiation.RoleReceiver {
		errs = append(errs, fmt.Errorf("invalid role %s", c.Role))
	}
	if c.Role == negotiation.RoleCaller && c.PeerHost == "" {
		errs = append(errs, errors.New("caller needs a destination address"))
	}
	if !validPort(c.OfferPort) {
		errs = append(errs, fmt.Errorf("invalid offer port %d (must be 1~65535)", c.OfferPort))
	}
	if !validPort(c.AnswerPort) {
		errs = append(errs, fmt.Errorf("invalid answer port %d (must be 1~65535)", c.AnswerPort))
	}
	if c.OfferPort == c.AnswerPort {
		errs = append(errs, fmt.Errorf("offer and answer ports must differ (both %d)", c.OfferPort))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("connect timeout must be positive"))
	}
	if c.AcceptTimeout < 0 {
		errs = append(errs, errors.New("accept timeout must not be negative"))
	}

	switch c.Backend {
	case BackendTCP, BackendWS:
	case BackendMQTT:
		if c.MQTTBroker == "" {
			errs = append(errs, errors.New("mqtt backend needs a broker URL"))
		}
		if c.MQTTSelf == "" {
			errs = append(errs, errors.New("mqtt backend needs this host's address"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown signaling backend %q", c.Backend))
	}

	return errors.Join(errs...)
}

// PeerIsIPv4 reports whether PeerHost parses as dotted-decimal IPv4.
func (c Config) PeerIsIPv4() bool {
	ip := net.ParseIP(c.PeerHost)
	return ip != nil && ip.To4() != nil
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }
