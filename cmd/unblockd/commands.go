package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/unblockd/unblockd/internal/check"
	"github.com/unblockd/unblockd/internal/firewall"
	"github.com/unblockd/unblockd/internal/guard"
	"github.com/unblockd/unblockd/internal/model"
	"github.com/unblockd/unblockd/internal/parser"
	"github.com/unblockd/unblockd/internal/sshx"
	"github.com/unblockd/unblockd/internal/store"
)

var checkFlags struct {
	ip      string
	host    string
	user    string
	copyTo  string
	email   string
	develop bool
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "check runs a single firewall check and prints the report",
	RunE:  doCheck,
}

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "host manages the servers checks run against",
}

var hostAddFlags struct {
	fqdn  string
	addr  string
	port  int
	user  string
	panel string
}

var hostAddCmd = &cobra.Command{
	Use:   "add",
	Short: "add registers a managed host",
	RunE:  doHostAdd,
}

var hostListCmd = &cobra.Command{
	Use:   "list",
	Short: "list prints the registered hosts",
	RunE:  doHostList,
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "user manages acting accounts and their host grants",
}

var userAddFlags struct {
	email string
	admin bool
}

var userAddCmd = &cobra.Command{
	Use:   "add [id]",
	Short: "add creates or updates an acting account",
	Args:  cobra.ExactArgs(1),
	RunE:  doUserAdd,
}

var userGrantCmd = &cobra.Command{
	Use:   "grant [id] [host-fqdn]",
	Short: "grant allows an account to run checks against a host",
	Args:  cobra.ExactArgs(2),
	RunE:  doUserGrant,
}

var userRevokeCmd = &cobra.Command{
	Use:   "revoke [id] [host-fqdn]",
	Short: "revoke withdraws a host grant",
	Args:  cobra.ExactArgs(2),
	RunE:  doUserRevoke,
}

var tokenCmd = &cobra.Command{
	Use:   "token [email]",
	Short: "token derives the contact verification token for an email",
	Args:  cobra.ExactArgs(1),
	RunE:  doToken,
}

func init() {
	checkCmd.Flags().StringVar(&checkFlags.ip, "ip", "", "IP address to check")
	checkCmd.Flags().StringVar(&checkFlags.host, "host", "", "FQDN of the host to check against")
	checkCmd.Flags().StringVar(&checkFlags.user, "user", "", "acting user id")
	checkCmd.Flags().StringVar(&checkFlags.copyTo, "copy", "", "user id receiving a copy of the report")
	checkCmd.Flags().StringVar(&checkFlags.email, "email", "", "extra recipient email")
	checkCmd.Flags().BoolVar(&checkFlags.develop, "develop", false, "dry run, no SSH and no persistence")
	_ = checkCmd.MarkFlagRequired("ip")
	_ = checkCmd.MarkFlagRequired("host")
	_ = checkCmd.MarkFlagRequired("user")

	hostAddCmd.Flags().StringVar(&hostAddFlags.fqdn, "fqdn", "", "host FQDN")
	hostAddCmd.Flags().StringVar(&hostAddFlags.addr, "addr", "", "address to dial, FQDN is used when empty")
	hostAddCmd.Flags().IntVar(&hostAddFlags.port, "port", 22, "sshd port")
	hostAddCmd.Flags().StringVar(&hostAddFlags.user, "user", "root", "remote user")
	hostAddCmd.Flags().StringVar(&hostAddFlags.panel, "panel", string(model.PanelNone), "control panel flavor: cpanel, directadmin or none")
	_ = hostAddCmd.MarkFlagRequired("fqdn")
	hostCmd.AddCommand(hostAddCmd)
	hostCmd.AddCommand(hostListCmd)

	userAddCmd.Flags().StringVar(&userAddFlags.email, "email", "", "account email")
	userAddCmd.Flags().BoolVar(&userAddFlags.admin, "admin", false, "administrators may check any host")
	_ = userAddCmd.MarkFlagRequired("email")
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userGrantCmd)
	userCmd.AddCommand(userRevokeCmd)
}

// syncQueue runs the job inline instead of queueing it, so the check
// subcommand can wait for the report.
type syncQueue struct {
	ctx    context.Context
	runner *check.Runner
	report model.Report
}

func (q *syncQueue) Enqueue(job check.Job) error {
	report, err := q.runner.Execute(q.ctx, job)
	if err != nil {
		return err
	}
	q.report = report
	return nil
}

func doCheck(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, config.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store %s: %w", config.Store.Path, err)
	}
	defer func() {
		_ = st.Close()
	}()

	installer := sshx.NewHookInstaller(config.Keys.InstallHook, config.Keys.RemoveHook)
	keys, err := sshx.NewKeyManager(config.Keys.Dir, installer)
	if err != nil {
		return fmt.Errorf("initializing key manager: %w", err)
	}
	notifier := check.NewNotifier(logSender{}, st, config.Checks, config.Admin.Email)
	p := parser.New(notifier.ParseError)
	runner := check.NewRunner(keys, check.SSHDialer, firewall.NewEngine(p), firewall.NewUnblocker(p), st, config.Checks)

	host, err := st.FindHostByFQDN(ctx, checkFlags.host)
	if err != nil {
		return fmt.Errorf("finding host %s: %w", checkFlags.host, err)
	}

	queue := &syncQueue{ctx: ctx, runner: runner}
	orchestrator := check.NewOrchestrator(st, queue)
	res, err := orchestrator.Run(ctx, check.RunInput{
		IP:         checkFlags.ip,
		UserID:     checkFlags.user,
		HostID:     host.ID,
		CopyUserID: checkFlags.copyTo,
		Email:      checkFlags.email,
		Develop:    checkFlags.develop,
	})
	if err != nil {
		return err
	}
	if checkFlags.develop {
		fmt.Println(res.Message)
		return nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(queue.report)
}

func doHostAdd(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	panel := model.Panel(hostAddFlags.panel)
	switch panel {
	case model.PanelCPanel, model.PanelDirectAdmin, model.PanelNone:
	default:
		return fmt.Errorf("unknown panel %q", hostAddFlags.panel)
	}
	addr := hostAddFlags.addr
	if addr == "" {
		addr = hostAddFlags.fqdn
	}

	ctx := context.Background()
	st, err := store.Open(ctx, config.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store %s: %w", config.Store.Path, err)
	}
	defer func() {
		_ = st.Close()
	}()

	id, err := st.SaveHost(ctx, model.Host{
		FQDN:  hostAddFlags.fqdn,
		Addr:  addr,
		Port:  hostAddFlags.port,
		User:  hostAddFlags.user,
		Panel: panel,
	})
	if err != nil {
		return err
	}
	fmt.Printf("host %s saved with id %d\n", hostAddFlags.fqdn, id)
	return nil
}

func doHostList(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	ctx := context.Background()
	st, err := store.Open(ctx, config.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store %s: %w", config.Store.Path, err)
	}
	defer func() {
		_ = st.Close()
	}()

	hosts, err := st.ListHosts(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFQDN\tENDPOINT\tUSER\tPANEL\tKEY")
	for _, h := range hosts {
		key := "-"
		if h.PublicKey != "" {
			key = "installed"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", h.ID, h.FQDN, h.Endpoint(), h.User, h.Panel, key)
	}
	return w.Flush()
}

func doUserAdd(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	ctx := context.Background()
	st, err := store.Open(ctx, config.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store %s: %w", config.Store.Path, err)
	}
	defer func() {
		_ = st.Close()
	}()

	if err := st.SaveUser(ctx, args[0], userAddFlags.email, userAddFlags.admin); err != nil {
		return err
	}
	fmt.Printf("user %s saved\n", args[0])
	return nil
}

func doUserGrant(cmd *cobra.Command, args []string) error {
	return withGrant(cmd, args, func(ctx context.Context, st *store.Store, userID string, hostID int64) error {
		if err := st.Grant(ctx, userID, hostID); err != nil {
			return err
		}
		fmt.Printf("user %s granted host %s\n", userID, args[1])
		return nil
	})
}

func doUserRevoke(cmd *cobra.Command, args []string) error {
	return withGrant(cmd, args, func(ctx context.Context, st *store.Store, userID string, hostID int64) error {
		if err := st.RevokeGrant(ctx, userID, hostID); err != nil {
			return err
		}
		fmt.Printf("user %s revoked from host %s\n", userID, args[1])
		return nil
	})
}

func withGrant(cmd *cobra.Command, args []string, fn func(context.Context, *store.Store, string, int64) error) error {
	config, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	ctx := context.Background()
	st, err := store.Open(ctx, config.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store %s: %w", config.Store.Path, err)
	}
	defer func() {
		_ = st.Close()
	}()

	host, err := st.FindHostByFQDN(ctx, args[1])
	if err != nil {
		return fmt.Errorf("finding host %s: %w", args[1], err)
	}
	return fn(ctx, st, args[0], host.ID)
}

func doToken(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	verifier, err := guard.NewHMACVerifier(config.Simple.Secret)
	if err != nil {
		return fmt.Errorf("simple.secret is not configured: %w", err)
	}
	fmt.Println(verifier.TokenFor(args[0]))
	return nil
}
