// Package webrtc implements the SFU core (Component C): room registry,
// publish/subscribe signalling, and RTP fan-out from each publisher's
// inbound track to every subscriber's bounded per-track channel.
package webrtc

import (
	"time"

	pion "github.com/pion/webrtc/v3"
)

// Config carries the ICE/TURN/port-range settings the deployment passes
// down from pkg/config.
type Config struct {
	STUNURLs    []string
	TURNURL     string
	TURNUser    string
	TURNPass    string
	PortMin     uint16
	PortMax     uint16
	SubscribeWaitTimeout time.Duration // how long Subscribe polls for a publisher to appear
	SubscribePollInterval time.Duration
	PLIInterval time.Duration
}

// DefaultConfig matches the defaults carried in pkg/config.DefaultConfig.
func DefaultConfig() Config {
	return Config{
		STUNURLs:              []string{"stun:stun.l.google.com:19302"},
		SubscribeWaitTimeout:  10 * time.Second,
		SubscribePollInterval: 100 * time.Millisecond,
		PLIInterval:           3 * time.Second,
	}
}

func (c Config) iceServers() []pion.ICEServer {
	servers := make([]pion.ICEServer, 0, len(c.STUNURLs)+1)
	for _, url := range c.STUNURLs {
		servers = append(servers, pion.ICEServer{URLs: []string{url}})
	}
	if c.TURNURL != "" {
		servers = append(servers, pion.ICEServer{
			URLs:       []string{c.TURNURL},
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}
	if len(servers) == 0 {
		servers = append(servers, pion.ICEServer{URLs: []string{"stun:stun.l.google.com:19302"}})
	}
	return servers
}
