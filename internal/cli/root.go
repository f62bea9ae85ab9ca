// Package cli provides the command-line interface for stunnel-pool.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/pmoss/stunnel-pool/internal/appconfig"
	"github.com/pmoss/stunnel-pool/internal/bundle"
	"github.com/pmoss/stunnel-pool/internal/config"
	"github.com/pmoss/stunnel-pool/internal/doctor"
	"github.com/pmoss/stunnel-pool/internal/events"
	"github.com/pmoss/stunnel-pool/internal/history"
	"github.com/pmoss/stunnel-pool/internal/model"
	"github.com/pmoss/stunnel-pool/internal/pool"
	"github.com/pmoss/stunnel-pool/internal/security"
	"github.com/pmoss/stunnel-pool/internal/stunnel"
	"github.com/pmoss/stunnel-pool/internal/ui"
	"github.com/pmoss/stunnel-pool/internal/util"
)

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "stunnel-pool",
		Short: "Pooled TLS tunnel manager built on the stunnel binary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ui.Run()
		},
	}

	root.AddCommand(newTargetsCmd())
	root.AddCommand(newProbeCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newPoolCmd())
	root.AddCommand(newWarmCmd())
	root.AddCommand(newBundlesCmd())
	root.AddCommand(newEventsCmd())
	root.AddCommand(newDoctorCmd())
	return root
}

// loadConfig reads application config and pushes the stunnel-level
// settings down into the process layer.
func loadConfig() (appconfig.Config, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return appconfig.Config{}, err
	}
	if cfg.StunnelPath != "" {
		stunnel.SetBinaryPath(cfg.StunnelPath)
	}
	if cfg.VerifySentinel != "" {
		stunnel.SetVerifySentinel(cfg.VerifySentinel)
	}
	stunnel.SetJournal(events.NewStore())
	return cfg, nil
}

func newTargetsCmd() *cobra.Command {
	root := &cobra.Command{Use: "targets", Short: "Manage the target registry"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List targets from targets.conf",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			res, err := config.ParseDefault()
			if err != nil {
				return err
			}
			last, _ := history.LastConnect()
			targets := history.SortTargetsRecent(res.Targets, last)
			fmt.Printf("%-24s %-32s %-8s %-10s %s\n", "ALIAS", "ENDPOINT", "VERIFY", "DIAGNOSIS", "LAST CONNECT")
			for _, t := range targets {
				fmt.Printf("%-24s %-32s %-8s %-10v %s\n",
					t.Alias, t.DisplayTarget(), util.EmptyDash(string(t.Verify)), t.Diagnosis, lastConnectString(last, t))
			}
			if len(res.Warnings) > 0 {
				fmt.Fprintln(os.Stderr, "warnings:")
				for _, w := range res.Warnings {
					fmt.Fprintf(os.Stderr, "  - %s\n", w)
				}
			}
			return nil
		},
	}

	var verifyFlag string
	var diagnosisFlag bool
	add := &cobra.Command{
		Use:   "add <alias> <host> <port>",
		Short: "Add a target to targets.conf",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			port, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid port: %w", err)
			}
			if err := util.ValidatePort(port); err != nil {
				return err
			}
			if err := config.ValidateAlias(args[0]); err != nil {
				return err
			}
			verify := model.VerifyDefault
			switch strings.ToLower(verifyFlag) {
			case "":
			case "yes":
				verify = model.VerifyAlways
			case "no":
				verify = model.VerifyNever
			default:
				return fmt.Errorf("--verify must be yes or no")
			}
			entry := model.TargetEntry{Alias: args[0], Host: args[1], Port: port, Verify: verify, Diagnosis: diagnosisFlag}
			if err := config.AppendTarget(entry); err != nil {
				return err
			}
			fmt.Printf("added %s -> %s\n", entry.Alias, entry.DisplayTarget())
			return nil
		},
	}
	add.Flags().StringVar(&verifyFlag, "verify", "", "certificate verification: yes or no (default: sentinel file)")
	add.Flags().BoolVar(&diagnosisFlag, "diagnosis", false, "preserve stunnel logs for post-failure diagnosis")

	remove := &cobra.Command{
		Use:   "remove <alias>",
		Short: "Remove a target from targets.conf",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			if err := config.RemoveTarget(args[0]); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", args[0])
			return nil
		},
	}

	root.AddCommand(list, add, remove)
	return root
}

func newProbeCmd() *cobra.Command {
	var useHelper, legacy bool
	cmd := &cobra.Command{
		Use:   "probe <target|host:port>",
		Short: "Spawn a tunnel, check it survives startup, tear it down",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			target, err := resolveTarget(args[0])
			if err != nil {
				return err
			}
			opts := stunnel.Options{
				Verify:            target.Verify,
				ExtendedDiagnosis: true,
				UseHelper:         useHelper,
				LegacyArgs:        legacy,
				Logger:            func(line string) { fmt.Fprintln(os.Stderr, line) },
				Attempts:          cfg.Connect.Attempts,
				Backoff:           time.Duration(cfg.Connect.BackoffSeconds) * time.Second,
			}
			t, err := stunnel.Connect(target.Host, target.Port, opts)
			if err != nil {
				return security.NewClassifiedError(
					fmt.Sprintf("probe failed for %s", target.DisplayTarget()),
					err.Error())
			}

			// A tunnel that cannot reach its endpoint tends to die within
			// the first moments; give it that window, then look.
			time.Sleep(500 * time.Millisecond)
			_, running, _ := t.Proc.TryWait()
			if !running {
				derr := stunnel.Diagnose(t)
				_ = stunnel.Disconnect(t, true, false)
				if derr != nil {
					return derr
				}
				return fmt.Errorf("tunnel process exited during probe of %s", target.DisplayTarget())
			}

			fmt.Printf("ok %s pid=%d tunnel=%s verify=%v\n", target.DisplayTarget(), t.Pid(), t.UniqueID, t.Verified)
			if err := history.Touch(t.Endpoint()); err != nil {
				slog.Warn("failed to record history", "error", err)
			}
			if err := events.NewStore().Append(events.Event{Endpoint: t.Endpoint().String(), TunnelID: t.UniqueID, EventType: events.TypeProbe, PID: t.Pid()}); err != nil {
				slog.Warn("failed to journal probe", "error", err)
			}
			return stunnel.Disconnect(t, true, false)
		},
	}
	cmd.Flags().BoolVar(&useHelper, "helper", false, "spawn through the privileged process helper")
	cmd.Flags().BoolVar(&legacy, "legacy", false, "use the argument-driven binary variant")
	return cmd
}

func newServeCmd() *cobra.Command {
	var bundleNames []string
	var metricsListen string
	var sweepSeconds int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a long-lived tunnel pool with optional bundle pre-warm and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			p := pool.New(pool.LimitsFromConfig(cfg.Pool), nil)
			p.SetJournal(events.NewStore())

			for _, name := range bundleNames {
				if err := warmBundle(p, cfg, stunnel.Connect, name); err != nil {
					slog.Warn("bundle warm failed", "bundle", name, "error", err)
				}
			}

			listen := metricsListen
			if listen == "" {
				listen = cfg.MetricsListen
			}
			if listen != "" {
				mux := newAdminMux(p, cfg, stunnel.Connect)
				go func() {
					slog.Info("admin listening", "addr", listen)
					if err := http.ListenAndServe(listen, mux); err != nil {
						slog.Error("admin server stopped", "error", err)
					}
				}()
			}

			if sweepSeconds <= 0 {
				sweepSeconds = 30
			}
			ticker := time.NewTicker(time.Duration(sweepSeconds) * time.Second)
			defer ticker.Stop()
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			slog.Info("tunnel pool serving", "cached", p.Len(), "sweep_seconds", sweepSeconds)

			for {
				select {
				case <-ticker.C:
					p.Sweep()
				case sig := <-sigs:
					slog.Info("shutting down", "signal", sig.String())
					done := make(chan struct{})
					go func() {
						p.Flush()
						close(done)
					}()
					select {
					case <-done:
					case <-time.After(util.FlushTimeout):
						slog.Warn("flush timed out, exiting anyway")
					}
					return nil
				}
			}
		},
	}
	cmd.Flags().StringSliceVar(&bundleNames, "bundle", nil, "bundle name(s) to pre-warm")
	cmd.Flags().StringVar(&metricsListen, "metrics", "", "address for the prometheus /metrics endpoint")
	cmd.Flags().IntVar(&sweepSeconds, "sweep-seconds", 30, "interval between idle/age sweeps")
	return cmd
}

// newAdminMux builds the serve daemon's HTTP surface: prometheus
// metrics plus the endpoints backing the pool and warm subcommands.
func newAdminMux(p *pool.Pool, cfg appconfig.Config, connect pool.ConnectFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/pool", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(p.Snapshot()); err != nil {
			slog.Warn("failed to encode pool snapshot", "error", err)
		}
	})
	mux.HandleFunc("/pool/flush", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		n := p.Len()
		p.Flush()
		fmt.Fprintf(w, "flushed %d tunnels\n", n)
	})
	mux.HandleFunc("/warm", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		name := r.URL.Query().Get("bundle")
		if name == "" {
			http.Error(w, "bundle parameter required", http.StatusBadRequest)
			return
		}
		if err := warmBundle(p, cfg, connect, name); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "bundle %s warmed, %d tunnels cached\n", name, p.Len())
	})
	return mux
}

// warmBundle connects every entry of a bundle and donates the tunnels.
func warmBundle(p *pool.Pool, cfg appconfig.Config, connect pool.ConnectFunc, name string) error {
	def, err := bundle.Get(name)
	if err != nil {
		return err
	}
	for _, entry := range def.Entries {
		target, err := config.FindTarget(entry.TargetAlias)
		if err != nil {
			slog.Warn("skipping bundle entry", "bundle", name, "target", entry.TargetAlias, "error", err)
			continue
		}
		count := entry.Count
		if count <= 0 {
			count = 1
		}
		for i := 0; i < count; i++ {
			t, err := connect(target.Host, target.Port, stunnel.Options{
				Verify:            target.Verify,
				ExtendedDiagnosis: target.Diagnosis,
				Attempts:          cfg.Connect.Attempts,
				Backoff:           time.Duration(cfg.Connect.BackoffSeconds) * time.Second,
			})
			if err != nil {
				slog.Warn("bundle warm connect failed", "bundle", name, "target", target.Alias, "error", err)
				continue
			}
			p.Donate(t)
			if err := history.Touch(t.Endpoint()); err != nil {
				slog.Warn("failed to record history", "error", err)
			}
		}
	}
	slog.Info("bundle warmed", "bundle", name, "cached", p.Len())
	return nil
}

func newBundlesCmd() *cobra.Command {
	root := &cobra.Command{Use: "bundles", Short: "Manage pre-warm bundles"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List bundles",
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := bundle.LoadAll()
			if err != nil {
				return err
			}
			fmt.Printf("%-24s %s\n", "NAME", "TARGETS")
			for _, d := range defs {
				names := make([]string, 0, len(d.Entries))
				for _, e := range d.Entries {
					if e.Count > 1 {
						names = append(names, fmt.Sprintf("%s x%d", e.TargetAlias, e.Count))
					} else {
						names = append(names, e.TargetAlias)
					}
				}
				fmt.Printf("%-24s %s\n", d.Name, strings.Join(names, ", "))
			}
			return nil
		},
	}

	var targetFlags []string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Create or replace a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := make([]bundle.Entry, 0, len(targetFlags))
			for _, tf := range targetFlags {
				alias, count := tf, 1
				if i := strings.LastIndex(tf, ":"); i > 0 {
					if n, err := strconv.Atoi(tf[i+1:]); err == nil {
						alias, count = tf[:i], n
					}
				}
				entries = append(entries, bundle.Entry{TargetAlias: alias, Count: count})
			}
			if err := bundle.Create(args[0], entries); err != nil {
				return err
			}
			fmt.Printf("bundle %s saved with %d entries\n", args[0], len(entries))
			return nil
		},
	}
	add.Flags().StringSliceVar(&targetFlags, "target", nil, "target alias, optionally alias:count")

	remove := &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bundle.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("bundle %s removed\n", args[0])
			return nil
		},
	}

	root.AddCommand(list, add, remove)
	return root
}

// newPoolCmd talks to a running serve daemon over its admin listener.
func newPoolCmd() *cobra.Command {
	var addr string
	root := &cobra.Command{Use: "pool", Short: "Inspect or flush a running pool daemon"}
	root.PersistentFlags().StringVar(&addr, "addr", "", "admin address of the serve daemon (default: metrics_listen from config)")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's cached tunnels",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			u, err := adminURL(cfg, addr, "/pool")
			if err != nil {
				return err
			}
			resp, err := http.Get(u)
			if err != nil {
				return fmt.Errorf("pool daemon unreachable: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("pool daemon: %s", resp.Status)
			}
			var entries []model.PoolEntry
			if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
				return fmt.Errorf("decode pool snapshot: %w", err)
			}
			fmt.Printf("%-28s %-8s %-10s %-10s %-10s %s\n", "ENDPOINT", "PID", "TUNNEL", "AGE", "IDLE", "VERIFIED")
			for _, e := range entries {
				fmt.Printf("%-28s %-8d %-10s %-10s %-10s %v\n",
					e.Endpoint.String(), e.PID, shortTunnelID(e.UniqueID),
					(time.Duration(e.AgeSec) * time.Second).String(),
					(time.Duration(e.IdleSec) * time.Second).String(),
					e.Verified)
			}
			fmt.Printf("%d cached\n", len(entries))
			return nil
		},
	}

	flush := &cobra.Command{
		Use:   "flush",
		Short: "Disconnect every tunnel the daemon holds",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			u, err := adminURL(cfg, addr, "/pool/flush")
			if err != nil {
				return err
			}
			body, err := adminPost(u)
			if err != nil {
				return err
			}
			fmt.Print(body)
			return nil
		},
	}

	root.AddCommand(status, flush)
	return root
}

func newWarmCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "warm <bundle>...",
		Short: "Connect a bundle's targets and donate the tunnels to a running pool daemon",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			for _, name := range args {
				u, err := adminURL(cfg, addr, "/warm?bundle="+url.QueryEscape(name))
				if err != nil {
					return err
				}
				body, err := adminPost(u)
				if err != nil {
					return fmt.Errorf("warm %s: %w", name, err)
				}
				fmt.Print(body)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "admin address of the serve daemon (default: metrics_listen from config)")
	return cmd
}

// adminURL resolves the daemon admin address. The flag wins over the
// configured metrics listener; bare host:port values get an http scheme.
func adminURL(cfg appconfig.Config, addr, path string) (string, error) {
	if addr == "" {
		addr = cfg.MetricsListen
	}
	if addr == "" {
		return "", fmt.Errorf("no admin address: pass --addr or set metrics_listen in config")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return addr + path, nil
}

func adminPost(u string) (string, error) {
	resp, err := http.Post(u, "text/plain", nil)
	if err != nil {
		return "", fmt.Errorf("pool daemon unreachable: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pool daemon: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

func shortTunnelID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return util.EmptyDash(id)
}

func newEventsCmd() *cobra.Command {
	var endpoint, eventType string
	var limit int
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the tunnel lifecycle journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			evts, err := events.NewStore().Read(events.Query{Endpoint: endpoint, EventType: eventType, Limit: limit})
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(evts)
			}
			fmt.Printf("%-28s %-14s %-28s %-8s %s\n", "TIMESTAMP", "TYPE", "ENDPOINT", "PID", "MESSAGE")
			for _, e := range evts {
				fmt.Printf("%-28s %-14s %-28s %-8d %s\n",
					e.Timestamp.Format(time.RFC3339), e.EventType, util.EmptyDash(e.Endpoint), e.PID, e.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "filter by host:port")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	cmd.Flags().IntVar(&limit, "limit", util.JournalReadLimit, "most recent events to show")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newDoctorCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose the local stunnel environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			report, err := doctor.Run()
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			if len(report.Issues) == 0 {
				fmt.Println("no issues found")
				return nil
			}
			fmt.Printf("%-8s %-20s %-32s %s\n", "SEV", "CHECK", "TARGET", "MESSAGE")
			for _, issue := range report.Issues {
				fmt.Printf("%-8s %-20s %-32s %s\n", issue.Severity, issue.Check, issue.Target, issue.Message)
				fmt.Printf("         fix: %s\n", issue.Recommendation)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

// resolveTarget accepts a registry alias or a literal host:port.
func resolveTarget(s string) (model.TargetEntry, error) {
	if strings.Contains(s, ":") {
		i := strings.LastIndex(s, ":")
		port, err := strconv.Atoi(s[i+1:])
		if err != nil {
			return model.TargetEntry{}, fmt.Errorf("invalid port in %q: %w", s, err)
		}
		if err := util.ValidatePort(port); err != nil {
			return model.TargetEntry{}, err
		}
		host := s[:i]
		if host == "" {
			return model.TargetEntry{}, fmt.Errorf("missing host in %q", s)
		}
		return model.TargetEntry{Alias: s, Host: host, Port: port}, nil
	}
	return config.FindTarget(s)
}

func lastConnectString(last map[string]int64, t model.TargetEntry) string {
	ts, ok := last[t.Endpoint().String()]
	if !ok || ts == 0 {
		return "-"
	}
	return time.Unix(ts, 0).Format(time.RFC3339)
}
