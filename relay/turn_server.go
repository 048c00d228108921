// Package relay runs an optional in-process TURN/STUN server so sessions can
// gather relay candidates without an external deployment.
package relay

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/turn/v4"
	"github.com/pion/webrtc/v3"
	log "github.com/sirupsen/logrus"

	"github.com/po-studio/negotiator/config"
)

type Server struct {
	server   *turn.Server
	listener net.PacketConn
	realm    string
	username string
	password string
	publicIP net.IP
	log      *log.Entry

	mu      sync.Mutex
	stopped bool
}

// Start listens on cfg.Port (UDP) and serves TURN allocations from the
// configured relay port range. Long-term credentials are checked against
// the single configured user.
func Start(cfg config.TURN, loggerFactory logging.LoggerFactory) (*Server, error) {
	logger := log.WithField("src", "turn")

	publicIP, err := relayAddress(cfg.PublicIP)
	if err != nil {
		return nil, err
	}

	listener, err := net.ListenPacket("udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("failed to create TURN listener: %w", err)
	}

	s := &Server{
		listener: listener,
		realm:    cfg.Realm,
		username: cfg.Username,
		password: cfg.Password,
		publicIP: publicIP,
		log:      logger,
	}

	server, err := turn.NewServer(turn.ServerConfig{
		Realm:       cfg.Realm,
		AuthHandler: s.authenticate,
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: listener,
				RelayAddressGenerator: &turn.RelayAddressGeneratorPortRange{
					RelayAddress: publicIP,
					Address:      "0.0.0.0",
					MinPort:      cfg.RelayMinPort,
					MaxPort:      cfg.RelayMaxPort,
				},
				PermissionHandler: turn.DefaultPermissionHandler,
			},
		},
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to create TURN server: %w", err)
	}
	s.server = server

	logger.Infof("TURN server listening on %s, relaying via %s ports %d-%d",
		listener.LocalAddr(), publicIP, cfg.RelayMinPort, cfg.RelayMaxPort)
	return s, nil
}

func (s *Server) authenticate(username, realm string, srcAddr net.Addr) ([]byte, bool) {
	if username != s.username {
		s.log.Debugf("auth failed for user %s from %s", username, srcAddr)
		return nil, false
	}
	return turn.GenerateAuthKey(username, realm, s.password), true
}

// Addr is the local address of the TURN listener.
func (s *Server) Addr() net.Addr {
	return s.listener.LocalAddr()
}

// ICEServer describes this relay for a peer connection or a browser.
func (s *Server) ICEServer() webrtc.ICEServer {
	port := s.listener.LocalAddr().(*net.UDPAddr).Port
	host := net.JoinHostPort(s.publicIP.String(), strconv.Itoa(port))
	return webrtc.ICEServer{
		URLs: []string{
			"stun:" + host,
			"turn:" + host + "?transport=udp",
		},
		Username:       s.username,
		Credential:     s.password,
		CredentialType: webrtc.ICECredentialTypePassword,
	}
}

func (s *Server) IsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server != nil && !s.stopped
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	s.log.Info("stopping TURN server")
	return s.server.Close()
}

// relayAddress returns configured if set, else the first non-loopback IPv4
// address on this host.
func relayAddress(configured string) (net.IP, error) {
	if configured != "" {
		ip := net.ParseIP(configured)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("invalid TURN public IP %q", configured)
		}
		return ip.To4(), nil
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("failed to get interface addresses: %w", err)
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok {
			if ipv4 := ipnet.IP.To4(); ipv4 != nil && !ipv4.IsLoopback() && !ipv4.IsLinkLocalUnicast() {
				return ipv4, nil
			}
		}
	}
	return nil, fmt.Errorf("no suitable IPv4 address found for TURN relay")
}
