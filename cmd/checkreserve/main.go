// cmd/checkreserve prints the prize reserve against the outstanding voucher
// liability, straight from the ledger database. Exits 1 when the reserve no
// longer covers the live vouchers, so it can gate deploys or run from cron.
//
// Usage:
//
//	go run ./cmd/checkreserve/ --dsn "postgres://..."
//
// The --dsn flag falls back to DATABASE_URL.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Yours-Pranav/fcplinko/internal/ledger"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("DATABASE_URL"), "ledger database DSN")
	sqlitePath := flag.String("sqlite", "", "read a sqlite ledger file instead of Postgres")
	flag.Parse()

	var dialector gorm.Dialector
	switch {
	case *sqlitePath != "":
		dialector = sqlite.Open(*sqlitePath)
	case *dsn != "":
		dialector = postgres.Open(*dsn)
	default:
		fmt.Fprintln(os.Stderr, "error: --dsn (or DATABASE_URL) is required")
		os.Exit(2)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		fatalf("open database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := ledger.New(db)
	balance, err := store.ReserveBalance(ctx)
	if err != nil {
		fatalf("reserve balance: %v", err)
	}
	liability, live, err := store.OutstandingLiability(ctx, time.Now().UTC())
	if err != nil {
		fatalf("outstanding liability: %v", err)
	}

	fmt.Printf("reserve:    %d units\n", balance)
	fmt.Printf("liability:  %d units across %d live vouchers\n", liability, live)

	if liability > balance {
		fmt.Printf("\nreserve short by %d units ✗\n", liability-balance)
		os.Exit(1)
	}
	fmt.Printf("\ncovered with %d units headroom ✓\n", balance-liability)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
