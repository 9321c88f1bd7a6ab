// Command clientctl is an operator CLI for managing client account validity
// and permissions against the accounting backend.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dkazmin/clientd/internal/api"
	"github.com/dkazmin/clientd/internal/audit"
	"github.com/dkazmin/clientd/internal/auth"
	"github.com/dkazmin/clientd/internal/db"
	"github.com/dkazmin/clientd/internal/permission"
	"github.com/dkazmin/clientd/internal/validity"
)

func usage() {
	fmt.Fprintf(os.Stderr, `clientctl
Usage:
  clientctl -api URL [-token-file path] <cmd> [args]

Commands:
  version
  login         -token <jwt>                       (saves token)
  logout
  clients                                          (list client accounts)
  validity      -client <id>
  validity-set  -client <id> [-enable|-disable] [-expires YYYY-MM-DD] [-daemon URL]
  perms         -client <id>
  perms-set     -client <id> [limit/flag options]  (see perms-set -h)
  history       -client <id> [-db path] [-limit n]
`)
	os.Exit(2)
}

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands against the backend REST API.
func main() {
	apiURL := flag.String("api", "http://localhost:8080", "backend API base URL")
	tokenFile := flag.String("token-file", "", "token file path (default: user config dir)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := auth.NewTokenStore(*tokenFile)

	switch cmd {

	case "version":
		fmt.Printf("clientctl %s (%s)\n", version, buildDate)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		token := fs.String("token", "", "bearer token (JWT)")
		_ = fs.Parse(args)
		if *token == "" {
			fmt.Fprintln(os.Stderr, "need -token")
			os.Exit(1)
		}

		if err := store.Save(strings.TrimSpace(*token)); err != nil {
			fail(err)
		}
		if exp, err := auth.TokenExpiry(*token); err == nil && !exp.IsZero() {
			fmt.Printf("saved to %s (expires %s)\n", store.Path(), exp.UTC().Format(time.RFC3339))
		} else {
			fmt.Printf("saved to %s\n", store.Path())
		}

	case "logout":
		if err := store.Clear(); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "clients":
		client := api.NewClient(*apiURL, store, 30*time.Second)
		accounts, err := client.ListAccounts(ctx)
		if err != nil {
			fail(err)
		}
		printJSON(accounts)

	case "validity":
		fs := flag.NewFlagSet("validity", flag.ExitOnError)
		clientID := fs.String("client", "", "client id")
		_ = fs.Parse(args)
		if *clientID == "" {
			fmt.Fprintln(os.Stderr, "need -client")
			os.Exit(1)
		}

		rec, err := validity.NewReconciler(api.NewClient(*apiURL, store, 30*time.Second)).Load(ctx, *clientID)
		if err != nil {
			fail(err)
		}
		printValidity(*clientID, rec)

	case "validity-set":
		cmdValiditySet(ctx, args, *apiURL, store)

	case "perms":
		fs := flag.NewFlagSet("perms", flag.ExitOnError)
		clientID := fs.String("client", "", "client id")
		_ = fs.Parse(args)
		if *clientID == "" {
			fmt.Fprintln(os.Stderr, "need -client")
			os.Exit(1)
		}

		client := api.NewClient(*apiURL, store, 30*time.Second)
		account, _ := client.GetAccount(ctx, *clientID)
		rec := permission.NewReconciler(client).Load(ctx, *clientID, permission.Defaults(account))
		printJSON(rec)

	case "perms-set":
		cmdPermsSet(ctx, args, *apiURL, store)

	case "history":
		fs := flag.NewFlagSet("history", flag.ExitOnError)
		clientID := fs.String("client", "", "client id")
		dbPath := fs.String("db", "./clientd.sqlite", "audit database path")
		limit := fs.Int("limit", 20, "max entries")
		_ = fs.Parse(args)
		if *clientID == "" {
			fmt.Fprintln(os.Stderr, "need -client")
			os.Exit(1)
		}

		database, err := db.Open(*dbPath)
		if err != nil {
			fail(err)
		}
		defer database.Close()

		entries, err := audit.New(database.DB).ByClient(*clientID, *limit)
		if err != nil {
			fail(err)
		}
		printJSON(entries)

	default:
		usage()
	}
}

// cmdValiditySet stages a validity draft, prints the plan and commits it.
func cmdValiditySet(ctx context.Context, args []string, apiURL string, store *auth.TokenStore) {
	fs := flag.NewFlagSet("validity-set", flag.ExitOnError)
	clientID := fs.String("client", "", "client id")
	enable := fs.Bool("enable", false, "enable the account")
	disable := fs.Bool("disable", false, "disable the account")
	expires := fs.String("expires", "", "expiry date (YYYY-MM-DD)")
	daemon := fs.String("daemon", "", "clientd webhook URL to report the commit to")
	_ = fs.Parse(args)

	if *clientID == "" {
		fmt.Fprintln(os.Stderr, "need -client")
		os.Exit(1)
	}
	if *enable && *disable {
		fmt.Fprintln(os.Stderr, "-enable and -disable are mutually exclusive")
		os.Exit(1)
	}

	rec := validity.NewReconciler(api.NewClient(apiURL, store, 30*time.Second))

	current, err := rec.Load(ctx, *clientID)
	if err != nil {
		fail(err)
	}

	draft := validity.DeriveDraft(current)
	if *enable {
		draft.Enabled = true
	}
	if *disable {
		draft.Enabled = false
	}
	if *expires != "" {
		expiry, err := validity.ParseExpiry(*expires)
		if err != nil {
			fail(err)
		}
		draft.ExplicitExpiry = &expiry
	}

	ops := validity.Plan(draft, current, time.Now())
	if len(ops) == 0 {
		fmt.Println("nothing to do")
		return
	}
	for _, op := range ops {
		fmt.Printf("will %s (days=%d)\n", op.Kind, op.Days)
	}

	updated, _, err := rec.Commit(ctx, *clientID, draft, current)
	reportCommit(*daemon, *clientID, "validity", err)
	if err != nil {
		fail(err)
	}
	printValidity(*clientID, updated)
}

// cmdPermsSet loads the current permissions, overlays the provided options
// and commits the full object.
func cmdPermsSet(ctx context.Context, args []string, apiURL string, store *auth.TokenStore) {
	fs := flag.NewFlagSet("perms-set", flag.ExitOnError)
	clientID := fs.String("client", "", "client id")
	daemon := fs.String("daemon", "", "clientd webhook URL to report the commit to")

	// Limits arrive as strings so blank and junk input coerce to 0
	maxCompanies := fs.String("max-companies", "", "company limit")
	maxUsers := fs.String("max-users", "", "user limit")
	maxInventories := fs.String("max-inventories", "", "inventory limit")

	invoiceEmail := fs.Bool("invoice-email", false, "allow sending invoices by email")
	invoiceWhatsapp := fs.Bool("invoice-whatsapp", false, "allow sending invoices by whatsapp")
	createUsers := fs.Bool("create-users", false, "allow creating users")
	createCustomers := fs.Bool("create-customers", false, "allow creating customers")
	createVendors := fs.Bool("create-vendors", false, "allow creating vendors")
	createProducts := fs.Bool("create-products", false, "allow creating products")
	createCompanies := fs.Bool("create-companies", false, "allow creating companies")
	updateCompanies := fs.Bool("update-companies", false, "allow updating companies")
	_ = fs.Parse(args)

	if *clientID == "" {
		fmt.Fprintln(os.Stderr, "need -client")
		os.Exit(1)
	}

	client := api.NewClient(apiURL, store, 30*time.Second)
	rec := permission.NewReconciler(client)

	account, _ := client.GetAccount(ctx, *clientID)
	current := rec.Load(ctx, *clientID, permission.Defaults(account))
	draft := permission.DeriveDraft(current)

	// Only flags the operator passed overwrite the loaded record
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "max-companies":
			draft.MaxCompanies = permission.ParseCount(*maxCompanies)
		case "max-users":
			draft.MaxUsers = permission.ParseCount(*maxUsers)
		case "max-inventories":
			draft.MaxInventories = permission.ParseCount(*maxInventories)
		case "invoice-email":
			draft.CanSendInvoiceEmail = *invoiceEmail
		case "invoice-whatsapp":
			draft.CanSendInvoiceWhatsapp = *invoiceWhatsapp
		case "create-users":
			draft.CanCreateUsers = *createUsers
		case "create-customers":
			draft.CanCreateCustomers = *createCustomers
		case "create-vendors":
			draft.CanCreateVendors = *createVendors
		case "create-products":
			draft.CanCreateProducts = *createProducts
		case "create-companies":
			draft.CanCreateCompanies = *createCompanies
		case "update-companies":
			draft.CanUpdateCompanies = *updateCompanies
		}
	})

	if !permission.IsDirty(draft, current) {
		fmt.Println("nothing to do")
		return
	}

	updated, err := rec.Commit(ctx, *clientID, draft)
	reportCommit(*daemon, *clientID, "permissions", err)
	if err != nil {
		fail(err)
	}
	printJSON(updated)
}

// reportCommit tells a running clientd about the commit outcome so its cache
// refreshes and the audit ledger records it. Best effort.
func reportCommit(daemonURL, clientID, op string, commitErr error) {
	if daemonURL == "" {
		return
	}

	payload := map[string]any{
		"clientId":       clientID,
		"op":             op,
		"ok":             commitErr == nil,
		"idempotencyKey": uuid.NewString(),
	}
	if commitErr != nil {
		payload["message"] = commitErr.Error()
	}
	body, _ := json.Marshal(payload)

	resp, err := http.Post(strings.TrimRight(daemonURL, "/")+"/hooks/commit", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not notify clientd: %v\n", err)
		return
	}
	resp.Body.Close()
}

func printValidity(clientID string, rec validity.Record) {
	out := map[string]any{
		"client":  clientID,
		"status":  rec.Status,
		"enabled": rec.Enabled(),
		"blocked": rec.Blocked(),
	}
	if rec.ExpiresAt != nil {
		out["expiresAt"] = rec.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if rec.StartAt != nil {
		out["startAt"] = rec.StartAt.UTC().Format(time.RFC3339)
	}
	printJSON(out)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
