// Package turnrelay wraps an embedded TURN server (Component B) using
// static long-term credentials, for deployments that don't front the SFU
// with an external coturn instance.
package turnrelay

import (
	"fmt"
	"net"

	"github.com/pion/turn/v2"
	"go.uber.org/zap"
)

// Config mirrors the webrtc.turn section of pkg/config.
type Config struct {
	Port     int
	Realm    string
	Username string
	Password string
	RelayIP  string
}

// Server owns the embedded TURN listener's lifecycle.
type Server struct {
	inner *turn.Server
	conn  net.PacketConn
}

// Start binds a UDP listener on cfg.Port and launches the TURN server with a
// single static long-term credential, matching the reference
// implementation's single-tenant StaticAuthHandler.
func Start(cfg Config, logger *zap.SugaredLogger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	conn, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("turnrelay: listen udp: %w", err)
	}

	relayIP := net.ParseIP(cfg.RelayIP)
	if relayIP == nil {
		relayIP = net.IPv4(127, 0, 0, 1)
	}

	key := turn.GenerateAuthKey(cfg.Username, cfg.Realm, cfg.Password)
	authHandler := func(username, realm string, srcAddr net.Addr) ([]byte, bool) {
		if username == cfg.Username && realm == cfg.Realm {
			return key, true
		}
		return nil, false
	}

	server, err := turn.NewServer(turn.ServerConfig{
		Realm:       cfg.Realm,
		AuthHandler: authHandler,
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: conn,
				RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
					RelayAddress: relayIP,
					Address:      "0.0.0.0",
				},
			},
		},
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("turnrelay: start server: %w", err)
	}

	logger.Infow("embedded TURN server started", "port", cfg.Port, "realm", cfg.Realm)
	return &Server{inner: server, conn: conn}, nil
}

// Close shuts down the TURN server and releases its UDP listener.
func (s *Server) Close() error {
	if s.inner != nil {
		return s.inner.Close()
	}
	return nil
}
