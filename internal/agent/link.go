package agent

import (
	"fmt"

	"github.com/rmacdonaldsmith/pldm-agent-go/internal/bridge"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/config"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/link/mem"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/link/serial"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/logging"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
)

// NewLink builds the link selected by cfg.Link.Kind. The link is not opened.
//
// A loopback link answers as the first configured peer.
func NewLink(cfg *config.Config, logger *logging.Logger) (link.Link, error) {
	switch cfg.Link.Kind {
	case config.LinkSerial:
		return serial.NewLink(cfg.SerialConfig(), serial.WithLogger(logger)), nil
	case config.LinkLoopback:
		var far link.EID
		if len(cfg.Peers) > 0 {
			far = link.EID(cfg.Peers[0])
		}
		return mem.NewLoopback(far, mem.WithResponderLogger(logger)), nil
	case config.LinkBridge:
		return bridge.NewRemoteLink(cfg.Link.BridgeAddress, bridge.WithRemoteLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown link kind %q", cfg.Link.Kind)
	}
}

// LinkConfig is the configuration a standalone user of NewLink, such as
// the bridge server, passes to Open.
func LinkConfig(cfg *config.Config) link.Config {
	return link.Config{
		Interface: cfg.LinkInterface(),
		LocalEID:  link.EID(cfg.LocalEID),
		Peers:     cfg.PeerEIDs(),
	}
}
