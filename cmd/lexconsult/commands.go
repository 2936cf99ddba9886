package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/lexconsult/client/internal/auth"
	"github.com/lexconsult/client/internal/consult"
	"github.com/lexconsult/client/internal/gateway"
	"github.com/lexconsult/client/internal/model"
	"github.com/lexconsult/client/internal/phone"
	"github.com/lexconsult/client/internal/session"
)

const maxCodeAttempts = 3

const usage = `usage: lexconsult <command> [flags]

commands:
  login     -phone <number>               sign in with a one-time code
  status                                  show the current session
  logout                                  sign out on this device
  submit    -category <c> -details <text> submit a consultation request
  requests  [-status <s>]                 list my requests
  articles  [-page <n>] [-page-size <n>]  list legal articles
`

// run executes one subcommand and returns the process exit code
func (a *app) run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(a.errOut, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "login":
		err = a.login(ctx, args[1:])
	case "status":
		err = a.status(args[1:])
	case "logout":
		err = a.logout(ctx, args[1:])
	case "submit":
		err = a.submit(ctx, args[1:])
	case "requests":
		err = a.requests(ctx, args[1:])
	case "articles":
		err = a.articles(ctx, args[1:])
	case "help", "-h", "--help":
		fmt.Fprint(a.out, usage)
		return 0
	default:
		fmt.Fprintf(a.errOut, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(a.errOut, "Error:", describe(err))
		}
		return 1
	}
	return 0
}

func (a *app) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := a.flagSet("login")
	number := fs.String("phone", "", "phone number, any formatting")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *number == "" {
		line, err := a.prompt("Phone number: ")
		if err != nil {
			return err
		}
		*number = line
	}

	if err := a.flow.RequestCode(ctx, *number); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Code sent to %s\n", phone.Mask(a.flow.Phone()))

	var lastErr error
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := a.prompt("Code: ")
		if err != nil {
			return err
		}
		user, err := a.flow.Verify(ctx, code)
		if err == nil {
			fmt.Fprintf(a.out, "Logged in as %s (%s)\n", user.ID, phone.Mask(user.Phone))
			return nil
		}
		if rejectedCode(err) {
			err = errors.New("wrong or expired code")
		}
		lastErr = err
		if attempt < maxCodeAttempts {
			fmt.Fprintln(a.errOut, "Error:", describe(err))
		}
	}
	return fmt.Errorf("login failed after %d attempts: %w", maxCodeAttempts, lastErr)
}

func rejectedCode(err error) bool {
	var httpErr *gateway.HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500
}

func (a *app) status(args []string) error {
	if err := a.flagSet("status").Parse(args); err != nil {
		return err
	}
	snap := a.sessions.Snapshot()
	if snap.State != session.StateAuthenticated {
		fmt.Fprintln(a.out, "Not logged in")
		return nil
	}

	fmt.Fprintf(a.out, "Logged in as %s (%s)\n", snap.User.ID, phone.Mask(snap.User.Phone))
	if exp, ok := auth.TokenExpiry(snap.Token); ok {
		if time.Now().After(exp) {
			fmt.Fprintf(a.out, "Token expired %s\n", exp.Local().Format(time.RFC1123))
		} else {
			fmt.Fprintf(a.out, "Token expires %s\n", exp.Local().Format(time.RFC1123))
		}
	}
	fmt.Fprintf(a.out, "Requests linked to %s\n", a.scope())
	return nil
}

func (a *app) logout(ctx context.Context, args []string) error {
	if err := a.flagSet("logout").Parse(args); err != nil {
		return err
	}
	if err := a.sessions.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func (a *app) submit(ctx context.Context, args []string) error {
	fs := a.flagSet("submit")
	category := fs.String("category", "", "one of "+strings.Join(consult.Categories, ", "))
	details := fs.String("details", "", fmt.Sprintf("describe the issue (at least %d characters)", consult.MinDetails))
	if err := fs.Parse(args); err != nil {
		return err
	}

	sub, err := a.consult.Submit(ctx, *category, *details)
	if errors.Is(err, consult.ErrUntracked) {
		fmt.Fprintln(a.out, "Submitted, but the server returned no request id. It will not appear under My Requests.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Submitted. Case #%s\n", sub.CaseNumber)
	return nil
}

func (a *app) requests(ctx context.Context, args []string) error {
	fs := a.flagSet("requests")
	status := fs.String("status", "", "only requests with this status")
	if err := fs.Parse(args); err != nil {
		return err
	}

	views, err := a.consult.MyRequests(ctx, *status)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "My Requests (%s)\n", a.scope())
	if len(views) == 0 {
		fmt.Fprintln(a.out, "No requests yet")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CASE\tTITLE\tSTATUS\tPROGRESS\tCREATED")
	for _, v := range views {
		fmt.Fprintf(tw, "#%s\t%s\t%s\t%s\t%s\n", v.CaseNumber, v.Title, v.Status, progress(v.Step), created(v.CreatedAt))
	}
	return tw.Flush()
}

func (a *app) articles(ctx context.Context, args []string) error {
	fs := a.flagSet("articles")
	page := fs.Int("page", 1, "page number")
	pageSize := fs.Int("page-size", 20, "articles per page")
	if err := fs.Parse(args); err != nil {
		return err
	}

	list, err := a.consult.Articles(ctx, *page, *pageSize)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No articles")
		return nil
	}
	for _, art := range list {
		printArticle(a.out, art)
	}
	return nil
}

func (a *app) scope() string {
	if p := a.index.Scope(); p != "" {
		return "phone " + phone.Mask(p)
	}
	return "this device"
}

// prompt reads one trimmed line from stdin
func (a *app) prompt(label string) (string, error) {
	fmt.Fprint(a.out, label)
	line, err := a.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func printArticle(w io.Writer, art model.Article) {
	var meta []string
	if art.Court != nil && *art.Court != "" {
		meta = append(meta, *art.Court)
	}
	if art.Year != nil {
		meta = append(meta, fmt.Sprint(*art.Year))
	}
	if len(meta) > 0 {
		fmt.Fprintf(w, "%s (%s)\n", art.Title, strings.Join(meta, ", "))
	} else {
		fmt.Fprintln(w, art.Title)
	}
	if art.Summary != nil && *art.Summary != "" {
		fmt.Fprintf(w, "  %s\n", *art.Summary)
	}
	if len(art.Tags) > 0 {
		fmt.Fprintf(w, "  tags: %s\n", strings.Join(art.Tags, ", "))
	}
}

func progress(step int) string {
	switch step {
	case model.StepCancelled:
		return "cancelled"
	case model.StepPaid:
		return "payment confirmed"
	case model.StepScheduled:
		return "appointment scheduled"
	default:
		return "pending"
	}
}

func created(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

// describe turns an error into the message shown to the user
func describe(err error) string {
	var authVal *auth.ValidationError
	var consultVal *consult.ValidationError
	var httpErr *gateway.HTTPError
	switch {
	case errors.As(err, &authVal):
		return authVal.Message
	case errors.As(err, &consultVal):
		return consultVal.Message
	case errors.Is(err, consult.ErrLoginRequired):
		return "you are not logged in; run: lexconsult login -phone <number>"
	case errors.Is(err, auth.ErrNoCodeRequested):
		return "request a code first"
	case errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized:
		return "not authorized (" + httpErr.Error() + "); the session may have expired, log in again"
	case errors.As(err, &httpErr):
		return httpErr.Error()
	default:
		return err.Error()
	}
}
