package logging

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)
	defer log.SetFormatter(&log.TextFormatter{})

	logger, err := Setup("debug", "json")
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, logger.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, logger.Formatter)

	_, err = Setup("loud", "text")
	assert.Error(t, err)

	_, err = Setup("info", "xml")
	assert.Error(t, err)
}

func TestLoggerFactoryScopes(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(log.TraceLevel)

	ice := NewLoggerFactory(base).NewLogger("ice")
	ice.Infof("gathered %d candidates", 3)
	ice.Warn("slow")

	require.Len(t, hook.Entries, 2)
	first := hook.Entries[0]
	assert.Equal(t, "gathered 3 candidates", first.Message)
	assert.Equal(t, log.InfoLevel, first.Level)
	assert.Equal(t, "ice", first.Data["scope"])
	assert.Equal(t, "pion", first.Data["src"])
	assert.Equal(t, log.WarnLevel, hook.LastEntry().Level)
}

func TestLoggerFactoryRespectsLevel(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(log.WarnLevel)

	l := NewLoggerFactory(base).NewLogger("dtls")
	l.Debug("hidden")
	l.Tracef("hidden %d", 1)
	l.Errorf("shown %d", 2)

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "shown 2", hook.LastEntry().Message)
}
