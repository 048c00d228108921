package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/aws/aws-sdk-go/service/ssm/ssmiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, 16, cfg.Negotiation.MaxCandidates)
	assert.Equal(t, 100*time.Millisecond, cfg.Negotiation.GatherQuiescence.Duration)
	assert.Zero(t, cfg.Negotiation.BundleMLineIndex)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"LISTEN_ADDR":         "0.0.0.0:9000",
		"MAX_CANDIDATES":      "4",
		"GATHER_QUIESCENCE":   "250ms",
		"BUNDLE_MLINE_INDEX":  "1",
		"ICE_SERVERS":         "stun:stun.l.google.com:19302, turn:turn.example.com:3478?transport=udp",
		"ICE_RELAY_ONLY":      "true",
		"UDP_PORT_MIN":        "50000",
		"UDP_PORT_MAX":        "50100",
		"TURN_ENABLED":        "1",
		"TURN_USERNAME":       "user",
		"TURN_PASSWORD":       "secret",
		"TURN_RELAY_MAX_PORT": "49300",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddr)
	assert.Equal(t, 4, cfg.Negotiation.MaxCandidates)
	assert.Equal(t, 250*time.Millisecond, cfg.Negotiation.GatherQuiescence.Duration)
	assert.Equal(t, uint32(1), cfg.Negotiation.BundleMLineIndex)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302", "turn:turn.example.com:3478?transport=udp"}, cfg.ICE.Servers)
	assert.True(t, cfg.ICE.RelayOnly)
	assert.Equal(t, uint16(50000), cfg.ICE.UDPPortMin)
	assert.True(t, cfg.TURN.Enabled)
	assert.Equal(t, uint16(49300), cfg.TURN.RelayMaxPort)
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	for key, value := range map[string]string{
		"MAX_CANDIDATES":     "many",
		"GATHER_QUIESCENCE":  "soon",
		"UDP_PORT_MIN":       "70000",
		"TURN_ENABLED":       "maybe",
		"BUNDLE_MLINE_INDEX": "-1",
	} {
		err := Default().ApplyEnv(env(map[string]string{key: value}))
		assert.Error(t, err, key)
	}
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"no listen address":   func(c *Config) { c.ListenAddr = "" },
		"no candidates":       func(c *Config) { c.Negotiation.MaxCandidates = 0 },
		"zero quiescence":     func(c *Config) { c.Negotiation.GatherQuiescence = Duration{} },
		"bad ice server":      func(c *Config) { c.ICE.Servers = []string{"http://example.com"} },
		"half port range":     func(c *Config) { c.ICE.UDPPortMin = 5000 },
		"inverted port range": func(c *Config) { c.ICE.UDPPortMin, c.ICE.UDPPortMax = 6000, 5000 },
		"turn without creds":  func(c *Config) { c.TURN.Enabled = true },
		"turn bad port": func(c *Config) {
			c.TURN = TURN{Enabled: true, Port: 70000, Realm: "r", Username: "u", Password: "p", RelayMinPort: 1, RelayMaxPort: 2}
		},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "negotiator.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr = "127.0.0.1:9999"
static_dir = "/srv/static"

[negotiation]
max_candidates = 8
local_description_timeout = "2s"

[ice]
servers = ["stun:stun.example.com:3478"]
username = "alice"
`), 0o600))

	t.Setenv("MAX_CANDIDATES", "3")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.ListenAddr)
	assert.Equal(t, "/srv/static", cfg.StaticDir)
	assert.Equal(t, 3, cfg.Negotiation.MaxCandidates)
	assert.Equal(t, 2*time.Second, cfg.Negotiation.LocalDescriptionTimeout.Duration)
	assert.Equal(t, 100*time.Millisecond, cfg.Negotiation.GatherQuiescence.Duration)
	assert.Equal(t, []string{"stun:stun.example.com:3478"}, cfg.ICE.Servers)
	assert.Equal(t, "alice", cfg.ICE.Username)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

type fakeSSM struct {
	ssmiface.SSMAPI
	values map[string]string
	asked  []string
}

func (f *fakeSSM) GetParameterWithContext(_ aws.Context, in *ssm.GetParameterInput, _ ...request.Option) (*ssm.GetParameterOutput, error) {
	name := aws.StringValue(in.Name)
	f.asked = append(f.asked, name)
	if !aws.BoolValue(in.WithDecryption) {
		return nil, errors.New("decryption not requested")
	}
	v, ok := f.values[name]
	if !ok {
		return nil, errors.New("ParameterNotFound")
	}
	return &ssm.GetParameterOutput{Parameter: &ssm.Parameter{Name: in.Name, Value: aws.String(v)}}, nil
}

func TestResolveICECredential(t *testing.T) {
	client := &fakeSSM{values: map[string]string{"/negotiator/ice": "from-ssm"}}
	store := NewParameterStoreWithClient(client)

	cfg := Default()
	cfg.ICE.CredentialSSMParam = "/negotiator/ice"
	assert.True(t, cfg.NeedsParameterStore())
	require.NoError(t, cfg.ResolveICECredential(context.Background(), store))
	assert.Equal(t, "from-ssm", cfg.ICE.Credential)
	assert.False(t, cfg.NeedsParameterStore())

	// a credential set directly wins
	cfg.ICE.Credential = "from-env"
	require.NoError(t, cfg.ResolveICECredential(context.Background(), store))
	assert.Equal(t, "from-env", cfg.ICE.Credential)
	assert.Equal(t, []string{"/negotiator/ice"}, client.asked)
}

func TestResolveICECredentialMissing(t *testing.T) {
	store := NewParameterStoreWithClient(&fakeSSM{})
	cfg := Default()
	cfg.ICE.CredentialSSMParam = "/missing"

	assert.Error(t, cfg.ResolveICECredential(context.Background(), store))
	assert.Empty(t, cfg.ICE.Credential)
}
