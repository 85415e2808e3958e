package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/versalogiq/logiq/internal/hostsession"
	"github.com/versalogiq/logiq/internal/output"
)

// classifyCmd runs one interactive session against a single host
var classifyCmd = &cobra.Command{
	Use:   "classify <host>",
	Short: "Connect to one host and detect its flavor",
	Long: `Connect to a single host, elevate to root and detect its flavor.
Optionally list its log files or tail one of them.

The login password is read from LOGIQ_SSH_PASSWORD when -p is not given.

Examples:
  logiq classify 10.0.0.5 -u admin
  logiq classify 10.0.0.5 -u admin --scan
  logiq classify 10.0.0.5 -u admin --tail /var/log/messages --lines 200 --filter errors`,
	Args: cobra.ExactArgs(1),
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().StringP("user", "u", "", "SSH username")
	classifyCmd.Flags().StringP("password", "p", "", "SSH password (default from LOGIQ_SSH_PASSWORD)")
	classifyCmd.Flags().String("admin-password", "", "sudo password if different from the SSH password")
	classifyCmd.Flags().Bool("scan", false, "List log files after classification")
	classifyCmd.Flags().String("tail", "", "Tail this log file after classification")
	classifyCmd.Flags().Int("lines", 0, "Lines to tail (default from LOGIQ_DEFAULT_TAIL_LINES)")
	classifyCmd.Flags().String("filter", "raw", "Tail filter: raw, errors or highlight")
	_ = classifyCmd.MarkFlagRequired("user")
}

func runClassify(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	user, _ := flags.GetString("user")
	password, _ := flags.GetString("password")
	if password == "" {
		password = os.Getenv("LOGIQ_SSH_PASSWORD")
	}
	adminPassword, _ := flags.GetString("admin-password")
	scan, _ := flags.GetBool("scan")
	tailPath, _ := flags.GetString("tail")
	lines, _ := flags.GetInt("lines")
	if lines <= 0 {
		lines = s.DefaultTailLines
	}
	filterName, _ := flags.GetString("filter")
	filter, err := hostsession.ParseFilter(filterName)
	if err != nil {
		return err
	}

	log, err := newLogger(s, false)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	out := newOutput()
	opts := s.SessionOptions()
	opts.SkipDiscovery = true

	sess := hostsession.New("cli",
		hostsession.WithOptions(opts),
		hostsession.WithCatalog(loadCatalog(s.CatalogPath, log)),
		hostsession.WithSink(output.NewConsole(out)),
		hostsession.WithLogger(log),
	)
	defer func() { _ = sess.Disconnect() }()

	ctx, cancel := signalContext()
	defer cancel()

	start := time.Now()
	out.Section(fmt.Sprintf("%s@%s", user, args[0]))
	if err := sess.Connect(ctx, hostsession.Credential{
		Address:     args[0],
		Username:    user,
		Secret:      password,
		AdminSecret: adminPassword,
	}); err != nil {
		return err
	}

	if res, ok := sess.Flavor(); ok {
		out.Success("%s (%s) in %s", res.Name, res.Key, time.Since(start).Round(time.Millisecond))
	}

	if scan {
		listing, err := sess.DiscoverLogFiles(ctx)
		if err != nil {
			return err
		}
		printListing(out, listing)
	}

	if tailPath != "" {
		res, err := sess.TailLogFile(ctx, tailPath, lines, filter)
		if err != nil {
			return err
		}
		out.Section(fmt.Sprintf("%s (%d/%d lines)", res.Path, res.LinesRetrieved, res.LinesRequested))
		fmt.Fprint(os.Stdout, res.Content)
		if res.Content != "" && res.Content[len(res.Content)-1] != '\n' {
			fmt.Println()
		}
	}
	return nil
}

func printListing(out *output.Output, listing hostsession.Listing) {
	dirs := make([]string, 0, len(listing))
	for d := range listing {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	out.Section(fmt.Sprintf("Log files (%d)", listing.Total()))
	for _, d := range dirs {
		out.Info("%s/", d)
		for _, f := range listing[d] {
			fmt.Printf("    %s\n", f.Path)
		}
	}
}
