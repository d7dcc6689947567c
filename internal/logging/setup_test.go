package logging

import (
	"os"
	"path/filepath"
	"testing"

	"agentauth-go/internal/config"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesToLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "agentauth.log")
	require.NoError(t, Setup(&config.Config{LogFile: path}))
	defer func() { require.NoError(t, Setup(nil)) }()

	log.Info("logging setup check")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "logging setup check")
}

func TestSetupDebugLevel(t *testing.T) {
	require.NoError(t, Setup(&config.Config{Debug: true}))
	defer func() { require.NoError(t, Setup(nil)) }()
	require.Equal(t, log.DebugLevel, log.GetLevel())
}
