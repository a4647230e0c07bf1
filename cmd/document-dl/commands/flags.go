package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/heeplr/document-dl/internal/config"
	"github.com/heeplr/document-dl/internal/document"
	"github.com/heeplr/document-dl/lib/configutil"
)

// sessionFlags are shared by every command that talks to a portal.
type sessionFlags struct {
	username    string
	password    string
	plugin      string
	configFile  string
	browser     string
	headless    bool
	timeout     int
	loadImages  bool
	downloadDir string
	rateLimit   float64
	dumpHTTP    string
	arguments   map[string]string

	substrings []string
	regexes    []string
	queries    []string

	verbose bool
}

var flags sessionFlags

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Log debug output.")
}

func addSessionFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&flags.username, "username", "u", "", "Login id for the portal.")
	fs.StringVarP(&flags.password, "password", "p", "", "Password for the portal.")
	fs.StringVarP(&flags.plugin, "plugin", "P", "", "Portal plugin to use, see the plugins command.")
	fs.StringVarP(&flags.configFile, "config", "c", "", "Configuration file (json, json5 or yaml), <name>.local.<ext> overrides it.")
	fs.StringVar(&flags.browser, "browser", config.BrowserChrome, "Browser engine: chrome, chromium, edge or remote.")
	fs.BoolVar(&flags.headless, "headless", true, "Hide the browser window.")
	fs.IntVar(&flags.timeout, "timeout", 15, "Timeout in seconds for requests and browser waits.")
	fs.BoolVar(&flags.loadImages, "load-images", false, "Let the browser load images.")
	fs.StringVarP(&flags.downloadDir, "download-dir", "d", ".", "Directory downloads are written to.")
	fs.Float64Var(&flags.rateLimit, "rate-limit", 2, "Maximum HTTP requests per second, 0 disables the limit.")
	fs.StringVar(&flags.dumpHTTP, "dump-http", "", "Directory that receives every HTTP exchange as text.")
	fs.StringToStringVarP(&flags.arguments, "arg", "a", nil, "Plugin argument as key=value, may be repeated.")

	fs.StringArrayVarP(&flags.substrings, "filter", "m", nil, "Only documents whose <attribute> contains <pattern>, as attribute=pattern.")
	fs.StringArrayVarP(&flags.regexes, "regex", "r", nil, "Only documents whose <attribute> matches the regex <pattern>, as attribute=pattern.")
	fs.StringArrayVarP(&flags.queries, "jq", "j", nil, "Only documents for which the jq expression yields a truthy value.")
}

// loadConfig merges the config file with the flags given explicitly, flags win.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if flags.configFile != "" {
		var err error
		cfg, err = configutil.ReadConfig[config.Config](flags.configFile)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", flags.configFile, err)
		}
	}

	fs := cmd.Flags()
	if fs.Changed("browser") || cfg.Browser == "" {
		cfg.Browser = flags.browser
	}
	if fs.Changed("headless") || cfg.Headless == nil {
		headless := flags.headless
		cfg.Headless = &headless
	}
	if fs.Changed("timeout") || cfg.Timeout == 0 {
		cfg.Timeout = flags.timeout
	}
	if fs.Changed("load-images") {
		cfg.LoadImages = flags.loadImages
	}
	if fs.Changed("download-dir") || cfg.DownloadDir == "" {
		cfg.DownloadDir = flags.downloadDir
	}
	if fs.Changed("rate-limit") || cfg.RateLimit == 0 {
		cfg.RateLimit = flags.rateLimit
	}
	if fs.Changed("dump-http") {
		cfg.DumpHTTP = flags.dumpHTTP
	}
	if cfg.Arguments == nil {
		cfg.Arguments = map[string]string{}
	}
	for key, value := range flags.arguments {
		cfg.Arguments[key] = value
	}

	cfg = cfg.WithDefaults()
	return cfg, cfg.Validate()
}

func buildFilter() (*document.Matcher, error) {
	var filter document.Filter
	for _, text := range flags.substrings {
		pair, err := document.ParsePair(text)
		if err != nil {
			return nil, err
		}
		filter.Substrings = append(filter.Substrings, pair)
	}
	for _, text := range flags.regexes {
		pair, err := document.ParsePair(text)
		if err != nil {
			return nil, err
		}
		filter.Regexes = append(filter.Regexes, pair)
	}
	filter.Queries = flags.queries
	if filter.Empty() {
		return nil, nil
	}
	return filter.Compile()
}
