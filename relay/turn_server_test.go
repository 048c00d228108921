package relay

import (
	"testing"

	"github.com/pion/stun/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/po-studio/negotiator/config"
	"github.com/po-studio/negotiator/internal/logging"
)

func startLoopback(t *testing.T) *Server {
	t.Helper()
	s, err := Start(config.TURN{
		Port:         0,
		Realm:        "negotiator",
		PublicIP:     "127.0.0.1",
		Username:     "user",
		Password:     "secret",
		RelayMinPort: 49152,
		RelayMaxPort: 49252,
	}, logging.NewLoggerFactory(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestServerAnswersBindingRequests(t *testing.T) {
	s := startLoopback(t)

	client, err := stun.Dial("udp4", s.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	var (
		mapped stun.XORMappedAddress
		resErr error
	)
	err = client.Do(stun.MustBuild(stun.TransactionID, stun.BindingRequest), func(res stun.Event) {
		if res.Error != nil {
			resErr = res.Error
			return
		}
		resErr = mapped.GetFrom(res.Message)
	})
	require.NoError(t, err)
	require.NoError(t, resErr)
	assert.Equal(t, "127.0.0.1", mapped.IP.String())
}

func TestICEServer(t *testing.T) {
	s := startLoopback(t)

	server := s.ICEServer()
	require.Len(t, server.URLs, 2)
	for _, raw := range server.URLs {
		_, err := stun.ParseURI(raw)
		assert.NoError(t, err, raw)
	}
	assert.Equal(t, "user", server.Username)
	assert.Equal(t, "secret", server.Credential)
}

func TestAuthenticate(t *testing.T) {
	s := startLoopback(t)

	key, ok := s.authenticate("user", "negotiator", s.Addr())
	assert.True(t, ok)
	assert.NotEmpty(t, key)

	_, ok = s.authenticate("mallory", "negotiator", s.Addr())
	assert.False(t, ok)
}

func TestClose(t *testing.T) {
	s := startLoopback(t)
	assert.True(t, s.IsHealthy())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.False(t, s.IsHealthy())
}

func TestRelayAddress(t *testing.T) {
	ip, err := relayAddress("203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", ip.String())

	_, err = relayAddress("::1")
	assert.Error(t, err)
	_, err = relayAddress("nope")
	assert.Error(t, err)
}
