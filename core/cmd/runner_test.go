package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/relaybot/core/config"
	coretelegram "github.com/m3rciful/relaybot/core/telegram"
)

type carrier struct{ cfg *coreconfig.Config }

func (c carrier) CoreConfig() *coreconfig.Config { return c.cfg }

type fakeApp struct {
	closed int
	opts   coretelegram.RunOptions
}

func (a *fakeApp) TelegramRunOptions() (coretelegram.RunOptions, error) { return a.opts, nil }
func (a *fakeApp) Close() error                                         { a.closed++; return nil }

func baseOptions(app *fakeApp, loaded *string) Options {
	return Options{
		ConfigEnvVar: "RELAYBOT_TEST_CONFIG",
		LoadConfig: func(path string) (ConfigCarrier, error) {
			*loaded = path
			return carrier{cfg: &coreconfig.Config{}}, nil
		},
		Bootstrap: func(context.Context, ConfigCarrier) (TelegramApp, error) {
			return app, nil
		},
		ShutdownLogger: func() error { return nil },
	}
}

func TestRunVersionFlag(t *testing.T) {
	var out bytes.Buffer
	var loaded string
	opts := baseOptions(&fakeApp{}, &loaded)
	opts.Args = []string{"-version"}
	opts.Stdout = &out

	require.NoError(t, Run(opts))
	assert.Contains(t, out.String(), "relaybot")
	assert.Empty(t, loaded)
}

func TestRunHooksAndClose(t *testing.T) {
	app := &fakeApp{}
	var loaded string
	opts := baseOptions(app, &loaded)
	opts.Args = []string{"-config", "bot.yaml"}

	var started, stopped bool
	opts.RunTelegram = func(ctx context.Context, ro coretelegram.RunOptions) error {
		require.NoError(t, ro.OnStart(ctx, coretelegram.Runtime{}))
		started = true
		require.NoError(t, ro.OnStop(ctx, coretelegram.Runtime{}))
		stopped = true
		return nil
	}

	require.NoError(t, Run(opts))
	assert.Equal(t, "bot.yaml", loaded)
	assert.True(t, started)
	assert.True(t, stopped)
	assert.Equal(t, 1, app.closed)
}

func TestRunConfigPathFromEnv(t *testing.T) {
	t.Setenv("RELAYBOT_TEST_CONFIG", "/etc/relaybot.yaml")
	var loaded string
	opts := baseOptions(&fakeApp{}, &loaded)
	opts.RunTelegram = func(context.Context, coretelegram.RunOptions) error { return nil }

	require.NoError(t, Run(opts))
	assert.Equal(t, "/etc/relaybot.yaml", loaded)
}

func TestRunBootstrapError(t *testing.T) {
	boom := errors.New("db down")
	var loaded string
	opts := baseOptions(&fakeApp{}, &loaded)
	opts.DefaultConfigPath = "config.yaml"
	opts.Bootstrap = func(context.Context, ConfigCarrier) (TelegramApp, error) { return nil, boom }

	require.ErrorIs(t, Run(opts), boom)
}
