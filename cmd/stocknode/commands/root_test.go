package commands

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efreitasn/stockshares/internal/config"
)

// clearEnvironment unsets every STOCKS_* variable for the test.
func clearEnvironment(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key := strings.SplitN(kv, "=", 2)[0]
		if strings.HasPrefix(key, config.EnvPrefix+"_") {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

// testRootCmd returns a fresh root command with a no-op subcommand that
// records the loaded config.
func testRootCmd(t *testing.T) (*cobra.Command, **config.Config) {
	t.Helper()
	v = config.NewViper()
	cfg = nil

	var loaded *config.Config
	root := NewRootCmd()
	serve := NewServeCmd()
	serve.RunE = func(cmd *cobra.Command, args []string) error {
		loaded = cfg
		return nil
	}
	root.AddCommand(serve, VersionCmd)
	return root, &loaded
}

func TestRootCmd_FlagsOverrideEnvironment(t *testing.T) {
	clearEnvironment(t)
	t.Setenv("STOCKS_PORT", "9000")
	t.Setenv("STOCKS_PARTIES", "Alice,StocksManager")

	root, loaded := testRootCmd(t)
	root.SetArgs([]string{"serve", "--port", "9191", "--log-level", "debug"})
	require.NoError(t, root.Execute())

	require.NotNil(t, *loaded)
	assert.Equal(t, 9191, (*loaded).Port)
	assert.Equal(t, "debug", (*loaded).LogLevel)
	assert.Equal(t, []string{"Alice", "StocksManager"}, (*loaded).Parties)
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	clearEnvironment(t)
	t.Setenv("STOCKS_VAULT_BACKEND", "postgres")

	root, loaded := testRootCmd(t)
	root.SetArgs([]string{"serve"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database_url")
	assert.Nil(t, *loaded)
}

func TestVersionCmd(t *testing.T) {
	clearEnvironment(t)
	// Version needs no valid configuration.
	t.Setenv("STOCKS_PORT", "not-a-port")

	root, _ := testRootCmd(t)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, Version+"\n", out.String())
}
