package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"guesthouse-sms-agent/internal/integrations/paramstore"
)

type fakeLister struct {
	params map[string]string
	path   string
}

func (f *fakeLister) GetParametersByPath(_ context.Context, path string) (map[string]string, error) {
	f.path = path
	return f.params, nil
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "sk-test"
	require.NoError(t, cfg.Validate())
	require.True(t, cfg.Pipeline.SerializePerSender)
	require.Equal(t, "0 10 * * *", cfg.Digest.Schedule)

	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, "Asia/Seoul", loc.String())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
http:
  addr: ":9090"
  read_timeout: 3s
store:
  backend: dynamodb
  dynamo_table: guesthouse
llm:
  model: gpt-4o
pipeline:
  serialize_per_sender: false
digest:
  staff_phone: "01099998888"
`)
	t.Setenv("GSMS_LLM__MODEL", "gpt-4.1-mini")
	t.Setenv("GSMS_LOG__LEVEL", "debug")
	t.Setenv("GSMS_TRACING__ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTP.Addr)
	require.Equal(t, 3*time.Second, cfg.HTTP.ReadTimeout)
	require.Equal(t, 40*time.Second, cfg.HTTP.WriteTimeout)
	require.Equal(t, BackendDynamoDB, cfg.Store.Backend)
	require.Equal(t, "guesthouse", cfg.Store.DynamoTable)
	require.Equal(t, "gpt-4.1-mini", cfg.LLM.Model)
	require.False(t, cfg.Pipeline.SerializePerSender)
	require.Equal(t, "01099998888", cfg.Digest.StaffPhone)
	require.True(t, cfg.Tracing.Enabled)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)
}

func TestLoad_ParameterOverlaySitsBelowEnv(t *testing.T) {
	lister := &fakeLister{params: map[string]string{
		"/guesthouse/config/llm/model":           "from-ssm",
		"/guesthouse/config/digest/staff_phone":  "01012345678",
		"/guesthouse/config/guesthouse/Timezone": "UTC",
	}}
	cfg := Default()
	cfg.Params.Prefix = "/guesthouse/"
	provider := paramstore.NewProvider(context.Background(), lister, cfg.OverlayPath())

	t.Setenv("GSMS_LLM__MODEL", "from-env")
	loaded, err := Load("", provider)
	require.NoError(t, err)
	require.Equal(t, "/guesthouse/config", lister.path)
	require.Equal(t, "from-env", loaded.LLM.Model)
	require.Equal(t, "01012345678", loaded.Digest.StaffPhone)
	require.Equal(t, "UTC", loaded.Guesthouse.Timezone)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, "http: [unclosed")
	_, err := Load(path)
	require.ErrorContains(t, err, "config: read")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "postgres" }, wantErr: "store.backend"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Store.SQLitePath = " " }, wantErr: "store.sqlite_path"},
		{name: "dynamo without table", mutate: func(c *Config) { c.Store.Backend = BackendDynamoDB }, wantErr: "store.dynamo_table"},
		{name: "bad timezone", mutate: func(c *Config) { c.Guesthouse.Timezone = "Mars/Olympus" }, wantErr: "guesthouse.timezone"},
		{name: "no key source", mutate: func(c *Config) { c.LLM.APIKey = "" }, wantErr: "llm.api_key"},
		{name: "overlay without prefix", mutate: func(c *Config) { c.Params.Overlay = true }, wantErr: "params.prefix"},
		{name: "digest without schedule", mutate: func(c *Config) { c.Digest.Schedule = "" }, wantErr: "digest.schedule"},
		{name: "bad level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: "log.level"},
		{name: "bad format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "log.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.LLM.APIKey = "sk-test"
			tc.mutate(cfg)
			require.ErrorContains(t, cfg.Validate(), tc.wantErr)
		})
	}
}

func TestValidate_ModelDisabledNeedsNoKey(t *testing.T) {
	cfg := Default()
	cfg.LLM.Model = ""
	require.NoError(t, cfg.Validate())
}
