package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"handoff/internal/config"
	"handoff/pkg/client"
)

var (
	cfgPath   string
	serverURL string
	asJSON    bool

	cfg config.Config
)

// Execute runs the handoff command tree.
func Execute() error {
	return newRoot().Execute()
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:          "handoff",
		Short:        "Ephemeral single-use upload links and expiring download sessions",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "path to a JSON config file")
	pf.StringVar(&serverURL, "server", "", "server base URL for client commands (default http://<addr>)")
	pf.BoolVar(&asJSON, "json", false, "print raw JSON responses")
	pf.String("addr", "", "listen address")
	pf.String("state-dir", "", "state directory")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.String("log-format", "", "text or json")

	root.AddCommand(serveCmd(), tokenCmd(), uploadCmd(), shareCmd(), sessionCmd(), shareDirCmd(), sweepCmd(), uploadsCmd())
	return root
}

// loadConfig resolves defaults < config file < HANDOFF_* env < flags.
func loadConfig(cmd *cobra.Command) error {
	cfg = config.Default()
	if cfgPath != "" {
		if err := config.LoadFile(&cfg, cfgPath); err != nil {
			return err
		}
	}
	config.ApplyEnv(&cfg)

	flags := cmd.Flags()
	set := func(name string, dst *string) {
		if flags.Changed(name) {
			v, _ := flags.GetString(name)
			*dst = v
		}
	}
	set("addr", &cfg.Addr)
	set("state-dir", &cfg.StateDir)
	set("log-level", &cfg.LogLevel)
	set("log-format", &cfg.LogFormat)
	return nil
}

func newClient() *client.Client {
	base := serverURL
	if base == "" {
		host := cfg.Addr
		if strings.HasPrefix(host, ":") || strings.HasPrefix(host, "0.0.0.0:") {
			host = "127.0.0.1" + host[strings.Index(host, ":"):]
		}
		base = "http://" + host
	}
	return client.New(base)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// emit prints v as JSON when --json is set, otherwise runs human.
func emit(cmd *cobra.Command, v any, human func(w io.Writer)) error {
	if asJSON {
		return printJSON(cmd.OutOrStdout(), v)
	}
	human(cmd.OutOrStdout())
	return nil
}

func line(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format+"\n", args...)
}
