package main

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/MHHHH233/pfe-backend-sub001/internal/clock"
	"github.com/MHHHH233/pfe-backend-sub001/internal/config"
	"github.com/MHHHH233/pfe-backend-sub001/internal/models"
	"github.com/MHHHH233/pfe-backend-sub001/internal/quota"
	"github.com/MHHHH233/pfe-backend-sub001/internal/reservation"
	"github.com/MHHHH233/pfe-backend-sub001/internal/reservation/db"
	resKafka "github.com/MHHHH233/pfe-backend-sub001/internal/reservation/kafka"
	"github.com/MHHHH233/pfe-backend-sub001/internal/sweeper"
)

// reconcile is the manual reconciliation trigger. Destructive operations
// (hard-delete, quota eviction, clock-skew repair) always show the
// candidate set first and require an explicit yes; declining leaves state
// untouched.
func main() {
	var (
		op   = flag.String("op", "sweep", "operation: sweep | purge-stale | purge-cancelled | quota | repair-skew")
		date = flag.String("date", "", "calendar date (YYYY-MM-DD) for quota enforcement, default today")
		id   = flag.String("id", "", "restrict repair-skew to a single reservation id")
		yes  = flag.Bool("yes", false, "skip the interactive confirmation (for scripted runs)")
	)
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN))
	sqldb := sql.OpenDB(connector)
	defer sqldb.Close()

	if err := sqldb.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	ctx := context.Background()
	clk := clock.Real{}
	store := &db.DB{Bun: bunDB}
	service := reservation.NewService(store, nil, resKafka.Noop{}, clk, nil)

	sw := sweeper.New(store, clk, nil)
	sw.StaleAfter = cfg.Sweep.StaleAfter
	sw.SkewTolerance = cfg.Sweep.SkewTolerance

	enforcer := quota.New(store, service, clk, nil)
	enforcer.MaxPerDay = cfg.Quota.MaxPerClientPerDay

	reader := bufio.NewReader(os.Stdin)

	var err error
	switch *op {
	case "sweep":
		err = runSweep(ctx, sw)
	case "purge-stale":
		err = runPurgeStale(ctx, sw, reader, *yes)
	case "purge-cancelled":
		err = runPurgeCancelled(ctx, sw, reader, *yes)
	case "quota":
		err = runQuota(ctx, enforcer, *date, reader, *yes)
	case "repair-skew":
		err = runRepairSkew(ctx, sw, *id, reader, *yes)
	default:
		fmt.Fprintf(os.Stderr, "unknown operation %q\n", *op)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func confirmPrompt(reader *bufio.Reader, skip bool, prompt string) bool {
	if skip {
		return true
	}
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}

func printRows(rows []models.Reservation) {
	for _, r := range rows {
		client := "guest"
		if r.ClientID != nil {
			client = *r.ClientID
		}
		fmt.Printf("  %s  %s %s field=%s client=%s status=%s created=%s\n",
			r.ID, r.Date, r.StartTime, r.FieldID, client, r.Status,
			r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}

func runSweep(ctx context.Context, sw *sweeper.Sweeper) error {
	report, err := sw.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("sweep complete: stale cancelled=%d, skew cancelled=%d, past deleted=%d\n",
		report.StaleCancelled, report.SkewCancelled, report.PastDeleted)
	return nil
}

func runPurgeStale(ctx context.Context, sw *sweeper.Sweeper, reader *bufio.Reader, yes bool) error {
	candidates, err := sw.Preview(ctx)
	if err != nil {
		return err
	}
	if len(candidates.StalePending) == 0 {
		fmt.Println("no stale pending reservations")
		return nil
	}
	fmt.Printf("%d stale pending reservation(s) will be DELETED:\n", len(candidates.StalePending))
	printRows(candidates.StalePending)
	if !confirmPrompt(reader, yes, "proceed with hard delete?") {
		fmt.Println("no action taken")
		return nil
	}
	deleted, err := sw.PurgeStalePending(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d reservation(s)\n", deleted)
	return nil
}

func runPurgeCancelled(ctx context.Context, sw *sweeper.Sweeper, reader *bufio.Reader, yes bool) error {
	if !confirmPrompt(reader, yes, "delete all cancelled reservations with past slots?") {
		fmt.Println("no action taken")
		return nil
	}
	deleted, err := sw.PurgeCancelledHistory(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d cancelled reservation(s)\n", deleted)
	return nil
}

func runQuota(ctx context.Context, enforcer *quota.Enforcer, date string, reader *bufio.Reader, yes bool) error {
	detected, err := enforcer.Detect(ctx, date)
	if err != nil {
		return err
	}
	if detected.OverQuotaClients == 0 {
		fmt.Printf("no clients over quota on %s\n", detected.Date)
		return nil
	}
	fmt.Printf("%d client(s) over quota on %s:\n", detected.OverQuotaClients, detected.Date)
	for _, c := range detected.PerClient {
		fmt.Printf("  client %s: %d reservations, keeping %v, cancelling %v\n",
			c.ClientID, c.Total, c.Kept, c.Cancelled)
	}
	if !confirmPrompt(reader, yes, fmt.Sprintf("cancel %d reservation(s)?", detected.CancelledCount)) {
		fmt.Println("no action taken")
		return nil
	}
	report, err := enforcer.Enforce(ctx, date)
	if err != nil {
		return err
	}
	fmt.Printf("cancelled %d reservation(s) across %d client(s)\n",
		report.CancelledCount, report.OverQuotaClients)
	return nil
}

func runRepairSkew(ctx context.Context, sw *sweeper.Sweeper, only string, reader *bufio.Reader, yes bool) error {
	candidates, err := sw.ClockSkewCandidates(ctx)
	if err != nil {
		return err
	}
	var ids []string
	var rows []models.Reservation
	for _, c := range candidates {
		if only == "" || c.ID == only {
			ids = append(ids, c.ID)
			rows = append(rows, c)
		}
	}
	if len(ids) == 0 {
		fmt.Println("no clock-skewed reservations")
		return nil
	}
	fmt.Printf("%d reservation(s) carry a created_at far in the future:\n", len(rows))
	printRows(rows)
	if !confirmPrompt(reader, yes, "rewrite created_at so the next sweep reclaims them?") {
		fmt.Println("no action taken")
		return nil
	}
	report, err := sw.RepairClockSkew(ctx, ids)
	if err != nil {
		return err
	}
	fmt.Printf("rewrote created_at on %d reservation(s) to %s\n",
		report.Rewritten, report.RewrittenTo.Format("2006-01-02 15:04:05"))
	return nil
}
