package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type settings struct {
	Browser   string            `json:"browser" yaml:"browser"`
	Timeout   int               `json:"timeout" yaml:"timeout"`
	Arguments map[string]string `json:"arguments" yaml:"arguments"`
}

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadConfig(t *testing.T) {
	testCases := []struct {
		name     string
		files    map[string]string
		read     string
		expected settings
	}{
		{
			name: "json5 with comments",
			files: map[string]string{
				"config.json5": `{
					// the browser
					browser: "edge",
					timeout: 30,
				}`,
			},
			read:     "config.json5",
			expected: settings{Browser: "edge", Timeout: 30},
		},
		{
			name: "yaml",
			files: map[string]string{
				"config.yaml": "browser: chromium\narguments:\n  mode: browser\n",
			},
			read:     "config.yaml",
			expected: settings{Browser: "chromium", Arguments: map[string]string{"mode": "browser"}},
		},
		{
			name: "local override",
			files: map[string]string{
				"config.json5":       `{browser: "chrome", timeout: 15}`,
				"config.local.json5": `{timeout: 60}`,
			},
			read:     "config.json5",
			expected: settings{Browser: "chrome", Timeout: 60},
		},
		{
			name: "only local",
			files: map[string]string{
				"config.local.yml": "timeout: 5\n",
			},
			read:     "config.yml",
			expected: settings{Timeout: 5},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tc.files {
				write(t, dir, name, content)
			}
			cfg, err := ReadConfig[settings](filepath.Join(dir, tc.read))
			require.NoError(t, err)

			diff := cmp.Diff(tc.expected, cfg)
			if diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[settings](filepath.Join(t.TempDir(), "config.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadConfigUnsupported(t *testing.T) {
	path := write(t, t.TempDir(), "config.toml", `browser = "edge"`)
	_, err := ReadConfig[settings](path)
	require.Error(t, err)
	require.NotErrorIs(t, err, os.ErrNotExist)
}

func TestReadRecursively(t *testing.T) {
	root := t.TempDir()
	write(t, root, "telemetry.json5", `{browser: "remote"}`)
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	t.Chdir(nested)

	cfg, err := ReadRecursively[settings]("telemetry.json5")
	require.NoError(t, err)
	require.Equal(t, "remote", cfg.Browser)
}
