package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/marcus/cadence/internal/api"
	"github.com/marcus/cadence/internal/serverdb"
)

func runAdmin(args []string) {
	if len(args) == 0 {
		printAdminUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "create-key":
		runAdminCreateKey(args[1:])
	case "list-keys":
		runAdminListKeys(args[1:])
	case "revoke-key":
		runAdminRevokeKey(args[1:])
	case "rate-limits":
		runAdminRateLimits(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown admin command: %s\n", args[0])
		printAdminUsage()
		os.Exit(1)
	}
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, `Usage: cadence-sync admin <command> [flags]

Commands:
  create-key   Create an API key for a sync client
  list-keys    List API keys
  revoke-key   Revoke an API key
  rate-limits  Show recent rate limit violations`)
}

const dbFlagUsage = "path to server.db (default: from CADENCE_SYNC_DB_PATH or ./data/server.db)"

func openDB(dbPath string) *serverdb.ServerDB {
	if dbPath == "" {
		dbPath = api.LoadConfig().ServerDBPath
	}
	store, err := serverdb.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open database: %v\n", err)
		os.Exit(1)
	}
	return store
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func runAdminCreateKey(args []string) {
	fs := flag.NewFlagSet("admin create-key", flag.ExitOnError)
	name := fs.String("name", "", "key name (e.g. laptop)")
	expires := fs.String("expires", "", "lifetime such as 90d or 720h (default: never)")
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	if *name == "" {
		fmt.Fprintln(os.Stderr, "error: --name is required")
		fs.Usage()
		os.Exit(1)
	}

	var expiresAt *time.Time
	if *expires != "" {
		d, err := parseLifetime(*expires)
		if err != nil {
			fatalf("%v", err)
		}
		t := time.Now().UTC().Add(d)
		expiresAt = &t
	}

	store := openDB(*dbPath)
	defer store.Close()

	plaintext, key, err := store.GenerateAPIKey(*name, expiresAt)
	if err != nil {
		fatalf("%v", err)
	}

	fmt.Printf("created key %s (%s)\n", key.ID, key.Name)
	fmt.Printf("  %s\n", plaintext)
	fmt.Println("store it now; it is not shown again")
}

func runAdminListKeys(args []string) {
	fs := flag.NewFlagSet("admin list-keys", flag.ExitOnError)
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	store := openDB(*dbPath)
	defer store.Close()

	keys, err := store.ListAPIKeys()
	if err != nil {
		fatalf("%v", err)
	}
	if len(keys) == 0 {
		fmt.Println("no keys")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPREFIX\tCREATED\tLAST USED\tEXPIRES")
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.KeyPrefix,
			k.CreatedAt.Format(time.DateOnly), formatOptional(k.LastUsedAt), formatOptional(k.ExpiresAt))
	}
	w.Flush()
}

func runAdminRevokeKey(args []string) {
	fs := flag.NewFlagSet("admin revoke-key", flag.ExitOnError)
	id := fs.String("id", "", "key id (ak_...)")
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	if *id == "" {
		fmt.Fprintln(os.Stderr, "error: --id is required")
		fs.Usage()
		os.Exit(1)
	}

	store := openDB(*dbPath)
	defer store.Close()

	if err := store.RevokeAPIKey(*id); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("revoked %s\n", *id)
}

func runAdminRateLimits(args []string) {
	fs := flag.NewFlagSet("admin rate-limits", flag.ExitOnError)
	limit := fs.Int("limit", 50, "number of events to show")
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	store := openDB(*dbPath)
	defer store.Close()

	events, err := store.RecentRateLimitEvents(*limit)
	if err != nil {
		fatalf("%v", err)
	}
	if len(events) == 0 {
		fmt.Println("no rate limit events")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tCLASS\tKEY\tIP")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339), e.EndpointClass, e.KeyID, e.IP)
	}
	w.Flush()
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.DateOnly)
}

// parseLifetime accepts Go durations plus a day suffix ("90d").
func parseLifetime(s string) (time.Duration, error) {
	var days int
	if _, err := fmt.Sscanf(s, "%dd", &days); err == nil && days > 0 {
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid lifetime %q", s)
	}
	return d, nil
}
