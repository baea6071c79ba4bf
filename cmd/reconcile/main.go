package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ManuelReschke/DuesFox/internal/pkg/bootstrap"
	"github.com/ManuelReschke/DuesFox/internal/pkg/middleware"
	"github.com/ManuelReschke/DuesFox/internal/pkg/renewal"
)

func main() {
	os.Exit(run(os.Args[1:], bootstrap.Setup))
}

// run executes one command and returns the exit code. Returning instead of
// exiting lets the deferred Close release the database and Redis.
func run(args []string, setup func() (*bootstrap.Services, error)) int {
	if len(args) < 1 {
		printUsage()
		return 1
	}

	command := args[0]

	// needs no services
	if command == "hash-password" {
		if len(args) < 2 {
			log.Println("Please provide a password")
			return 1
		}
		hash, err := middleware.HashPassword(args[1])
		if err != nil {
			log.Printf("Hashing failed: %v", err)
			return 1
		}
		fmt.Println(hash)
		return 0
	}

	var id int64
	switch command {
	case "run":
	case "confirm", "record-payment":
		if len(args) < 3 {
			log.Printf("Usage: reconcile %s <member-id> <argument>", command)
			return 1
		}
	case "status":
		if len(args) < 2 {
			log.Println("Usage: reconcile status <member-id>")
			return 1
		}
	default:
		printUsage()
		return 1
	}
	if command != "run" {
		var err error
		if id, err = parseMemberID(args[1]); err != nil {
			log.Println(err)
			return 1
		}
	}

	svc, err := setup()
	if err != nil {
		log.Printf("Startup failed: %v", err)
		return 1
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Printf("Closing services: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "run":
		report, err := svc.Scheduler.RunOnce(ctx)
		if errors.Is(err, renewal.ErrTickInProgress) {
			log.Println("Another tick is in progress, nothing to do")
			return 0
		}
		if err != nil {
			log.Printf("Tick failed: %v", err)
			return 1
		}
		return printJSON(report)

	case "confirm":
		charge, member, err := svc.Scheduler.ConfirmCharge(ctx, id, args[2])
		if err != nil {
			log.Printf("Confirming charge failed: %v", err)
			return 1
		}
		log.Printf("Charge %s confirmed, member %d paid on %s", charge.ID, member.ID, member.LastPaymentDate.Format(time.DateOnly))

	case "record-payment":
		paidOn, err := time.Parse(time.DateOnly, args[2])
		if err != nil {
			log.Printf("Invalid date %q: %v", args[2], err)
			return 1
		}
		method := ""
		if len(args) > 3 {
			method = args[3]
		}
		member, err := svc.Scheduler.RecordPayment(ctx, id, paidOn, method)
		if err != nil {
			log.Printf("Recording payment failed: %v", err)
			return 1
		}
		log.Printf("Member %d paid on %s", member.ID, member.LastPaymentDate.Format(time.DateOnly))

	case "status":
		member, err := svc.Members.GetByID(ctx, id)
		if err != nil {
			log.Printf("Loading member failed: %v", err)
			return 1
		}
		today := svc.Scheduler.Today()
		decision := renewal.Decide(*member, today)
		return printJSON(map[string]any{
			"member_id":   member.ID,
			"name":        member.FullName(),
			"today":       today.Format(time.DateOnly),
			"state":       renewal.StateOf(*member, today),
			"next_action": decision.Action.String(),
			"reason":      decision.Reason,
		})
	}
	return 0
}

func parseMemberID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid member id %q", raw)
	}
	return id, nil
}

func printJSON(v any) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Printf("Encoding output failed: %v", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Println("Usage: go run cmd/reconcile/main.go [command]")
	fmt.Println("Commands:")
	fmt.Println("  run                                          - Run one reconciliation tick now")
	fmt.Println("  confirm <member-id> <charge-id>              - Record a charge that succeeded later")
	fmt.Println("  record-payment <member-id> <date> [method]   - Record a manual payment (YYYY-MM-DD)")
	fmt.Println("  status <member-id>                           - Show a member's billing state")
	fmt.Println("  hash-password <password>                     - Print a bcrypt hash for ADMIN_PASSWORD_HASH")
}
