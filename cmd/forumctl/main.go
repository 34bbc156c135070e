// Command forumctl is a terminal front-end for the forum. It keeps one
// session store for the lifetime of the process and prints the view the
// route guard selects after every command.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"devforum/internal/authstate"
	"devforum/internal/identity"
)

type command struct {
	usage string
	admin bool
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"signup":  {usage: "signup -email E -password P [-name N] [-username U]", run: cmdSignUp},
	"signin":  {usage: "signin -email E [-password P]", run: cmdSignIn},
	"signout": {usage: "signout", run: cmdSignOut},
	"status":  {usage: "status", run: cmdStatus},
	"pending": {usage: "pending [-status pending|approved|all] [-limit N]", admin: true, run: cmdPending},
	"approve": {usage: "approve USER_ID", admin: true, run: cmdApprove},
	"reject":  {usage: "reject [-reason R] USER_ID", admin: true, run: cmdReject},
	"grant":   {usage: "grant [-role admin|moderator] USER_ID", admin: true, run: cmdGrant},
	"revoke":  {usage: "revoke [-role admin|moderator] USER_ID", admin: true, run: cmdRevoke},
}

var commandOrder = []string{"signup", "signin", "signout", "status", "pending", "approve", "reject", "grant", "revoke"}

type app struct {
	out      io.Writer
	provider *identity.HTTPProvider
	client   *authstate.Client
	nav      *authstate.Navigator
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("forumctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	apiURL := fs.String("api", envOr("FORUM_API_URL", "http://localhost:8080"), "forum API base URL")
	sessionPath := fs.String("session", os.Getenv("FORUM_SESSION_FILE"), "session file (default: user config dir)")
	keepPending := fs.Bool("keep-pending", false, "keep sessions of accounts awaiting approval")
	timeout := fs.Duration("timeout", 30*time.Second, "overall command timeout")
	verbose := fs.Bool("v", false, "log client events and navigation")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: forumctl [flags] <command> [args]")
		fmt.Fprintln(stderr, "\ncommands:")
		for _, name := range commandOrder {
			fmt.Fprintf(stderr, "  %s\n", commands[name].usage)
		}
		fmt.Fprintln(stderr, "\nflags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}
	name := rest[0]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "forumctl: unknown command %q\n", name)
		fs.Usage()
		return 2
	}

	path := *sessionPath
	if path == "" {
		var err error
		if path, err = identity.DefaultSessionPath(); err != nil {
			fmt.Fprintf(stderr, "forumctl: session path: %v\n", err)
			return 1
		}
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	provider := identity.New(*apiURL, identity.WithSessionFile(path), identity.WithLogger(logger))
	admin := authstate.NewAdminResolver(provider, 64, time.Minute, logger)
	client := authstate.New(provider, authstate.NewApprovalResolver(provider, admin, logger), admin,
		authstate.WithLogger(logger),
		authstate.WithPendingSessions(*keepPending),
	)
	defer client.Teardown()

	nav := authstate.NewNavigator(client, authstate.NewGuard(authstate.DefaultRoutes()), func(d authstate.Decision) {
		logger.Debug("navigate", "view", d.View, "redirect", d.Redirect)
	})
	if err := client.Bootstrap(ctx); err != nil {
		fmt.Fprintf(stderr, "forumctl: %v\n", err)
		return 1
	}
	nav.Start()
	defer nav.Stop()
	if _, err := client.Await(ctx, authstate.Settled); err != nil {
		fmt.Fprintf(stderr, "forumctl: waiting for session: %v\n", err)
		return 1
	}

	a := &app{out: stdout, provider: provider, client: client, nav: nav}
	if cmd.admin && !client.State().IsAdmin {
		fmt.Fprintf(stderr, "forumctl %s: admin role required\n", name)
		return 1
	}
	if err := cmd.run(ctx, a, rest[1:]); err != nil {
		fmt.Fprintf(stderr, "forumctl %s: %s\n", name, describe(err))
		return 1
	}
	return 0
}

func describe(err error) string {
	if kind, ok := authstate.KindOf(err); ok && kind == authstate.KindNetwork {
		return "cannot reach the forum service: " + err.Error()
	}
	var apiErr *identity.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

func (a *app) printView() {
	d := a.nav.Current()
	st := a.client.State()
	fmt.Fprintf(a.out, "view: %s\n", d.View)
	if d.Redirect != "" {
		fmt.Fprintf(a.out, "route: %s\n", d.Redirect)
	}
	if st.Identity != nil {
		fmt.Fprintf(a.out, "user: %s (%s)\n", st.Identity.Email, st.Identity.ID)
		fmt.Fprintf(a.out, "approved: %t admin: %t\n", st.Approved, st.IsAdmin)
	}
	if d.View == authstate.ViewPending {
		fmt.Fprintln(a.out, "Your account is awaiting approval by an administrator.")
	}
}

func cmdSignUp(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	email := fs.String("email", "", "email address")
	password := fs.String("password", os.Getenv("FORUM_PASSWORD"), "password")
	name := fs.String("name", "", "display name")
	username := fs.String("username", "", "username")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("email and password are required")
	}
	res, err := a.client.SignUp(ctx, *email, *password, authstate.SignUpMetadata{Name: *name, Username: *username})
	if res.Identity != nil {
		fmt.Fprintf(a.out, "registered: %s (%s)\n", res.Identity.Email, res.Identity.ID)
	}
	if authstate.IsConfirmationRequired(err) {
		fmt.Fprintln(a.out, err.Error())
		return nil
	}
	if err != nil {
		return err
	}
	a.printView()
	return nil
}

func cmdSignIn(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("signin", flag.ContinueOnError)
	email := fs.String("email", "", "email address")
	password := fs.String("password", os.Getenv("FORUM_PASSWORD"), "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("email and password are required")
	}
	if _, err := a.client.SignIn(ctx, *email, *password); err != nil {
		return err
	}
	a.printView()
	return nil
}

func cmdSignOut(ctx context.Context, a *app, _ []string) error {
	err := a.client.SignOut(ctx)
	a.printView()
	return err
}

func cmdStatus(_ context.Context, a *app, _ []string) error {
	a.printView()
	return nil
}

func cmdPending(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("pending", flag.ContinueOnError)
	status := fs.String("status", "pending", "pending, approved or all")
	limit := fs.Int("limit", 50, "page size")
	offset := fs.Int("offset", 0, "page offset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	page, err := a.provider.ListProfiles(ctx, *status, *limit, *offset)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEMAIL\tNAME\tAPPROVED\tCREATED")
	for _, p := range page.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", p.ID, p.Email, p.Name, p.Approved, p.CreatedAt.Format(time.DateTime))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d of %d\n", len(page.Items), page.Total)
	return nil
}

func cmdApprove(ctx context.Context, a *app, args []string) error {
	id, err := oneUserID(args)
	if err != nil {
		return err
	}
	p, err := a.provider.ApproveProfile(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "approved: %s (%s)\n", p.Email, p.ID)
	return nil
}

func cmdReject(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("reject", flag.ContinueOnError)
	reason := fs.String("reason", "", "reason recorded in the audit log")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := oneUserID(fs.Args())
	if err != nil {
		return err
	}
	if err := a.provider.RejectProfile(ctx, id, *reason); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "rejected: %s\n", id)
	return nil
}

func cmdGrant(ctx context.Context, a *app, args []string) error {
	return roleCommand(ctx, a, "grant", args, a.provider.GrantRole)
}

func cmdRevoke(ctx context.Context, a *app, args []string) error {
	return roleCommand(ctx, a, "revoke", args, a.provider.RevokeRole)
}

func roleCommand(ctx context.Context, a *app, verb string, args []string, apply func(context.Context, string, string) error) error {
	fs := flag.NewFlagSet(verb, flag.ContinueOnError)
	role := fs.String("role", authstate.RoleAdmin, "admin or moderator")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := oneUserID(fs.Args())
	if err != nil {
		return err
	}
	if err := apply(ctx, id, *role); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s: %s\n", verb, *role, id)
	return nil
}

func oneUserID(args []string) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", errors.New("expected exactly one USER_ID")
	}
	return strings.TrimSpace(args[0]), nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
