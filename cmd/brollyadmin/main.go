// Brolly Admin - Operator tooling for Brolly Core
//
// brollyadmin manages the resources that the HTTP API deliberately does not
// expose for write access: operator accounts and dock slots. It works
// directly against the SQLite database, so stop the service or rely on the
// busy timeout when running it against a live deployment.
//
// Usage:
//
//	brollyadmin create-user -username alice
//	brollyadmin create-slot -slot S1 -device D1
//	brollyadmin print-qr -slot S1
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/term"

	"github.com/mdp/qrterminal/v3"

	_ "github.com/brollyhq/brolly-core/migrations"

	"github.com/brollyhq/brolly-core/internal/audit"
	"github.com/brollyhq/brolly-core/internal/auth"
	"github.com/brollyhq/brolly-core/internal/infrastructure/config"
	"github.com/brollyhq/brolly-core/internal/infrastructure/database"
	"github.com/brollyhq/brolly-core/internal/rental"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "create-user":
		err = createUser(os.Args[2:])
	case "create-slot":
		err = createSlot(os.Args[2:])
	case "print-qr":
		err = printQR(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: brollyadmin <command> [flags]

Commands:
  create-user   Create an operator account (prompts for password)
  create-slot   Register or re-provision a dock slot
  print-qr      Print a fresh rental QR code for a slot

Set BROLLY_CONFIG to point at the service configuration file.`)
}

// openDatabase loads configuration and opens the service database,
// running any pending migrations.
func openDatabase(ctx context.Context) (*database.DB, error) {
	configPath := os.Getenv("BROLLY_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return db, nil
}

func createUser(args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	username := fs.String("username", "", "username for the new account")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return fmt.Errorf("-username is required")
	}

	password, err := readPassword()
	if err != nil {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	ctx := context.Background()
	db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // CLI exits immediately after

	user := &auth.User{Username: *username, PasswordHash: hash}
	if err := auth.NewUserRepository(db.DB).Create(ctx, user); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	fmt.Printf("created user %q (id %s)\n", user.Username, user.ID)
	return nil
}

// readPassword prompts for a password twice without echoing.
func readPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	fmt.Fprint(os.Stderr, "Confirm password: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	if len(first) == 0 {
		return "", fmt.Errorf("password must not be empty")
	}

	return string(first), nil
}

func createSlot(args []string) error {
	fs := flag.NewFlagSet("create-slot", flag.ExitOnError)
	slotID := fs.String("slot", "", "slot identifier (printed on the dock)")
	deviceID := fs.String("device", "", "BLE device identifier of the holder")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *slotID == "" || *deviceID == "" {
		return fmt.Errorf("-slot and -device are required")
	}

	ctx := context.Background()
	db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // CLI exits immediately after

	if err := rental.NewSlotRepository(db.DB).Upsert(ctx, *slotID, *deviceID); err != nil {
		return fmt.Errorf("provisioning slot: %w", err)
	}

	// Provisioning is an operator action worth keeping in the trail.
	entry := &audit.Entry{
		Action:     audit.ActionProvision,
		EntityType: audit.EntitySlot,
		EntityID:   *slotID,
		Details:    map[string]any{"device_id": *deviceID},
	}
	if err := audit.NewSQLiteRepository(db.DB).Create(ctx, entry); err != nil {
		return fmt.Errorf("recording provision: %w", err)
	}

	fmt.Printf("provisioned slot %q (device %s)\n", *slotID, *deviceID)
	return renderQR(*slotID)
}

// qrPayload is the JSON a rider's phone scans off the dock. The nonce is
// redeemed exactly once; print a new code after each rental.
type qrPayload struct {
	SlotID string `json:"slotId"`
	Nonce  string `json:"nonce"`
}

func printQR(args []string) error {
	fs := flag.NewFlagSet("print-qr", flag.ExitOnError)
	slotID := fs.String("slot", "", "slot identifier to encode")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *slotID == "" {
		return fmt.Errorf("-slot is required")
	}

	ctx := context.Background()
	db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // CLI exits immediately after

	if _, err := rental.NewSlotRepository(db.DB).GetByID(ctx, *slotID); err != nil {
		return fmt.Errorf("looking up slot: %w", err)
	}

	return renderQR(*slotID)
}

// renderQR prints a fresh rental QR code for the slot to stdout.
func renderQR(slotID string) error {
	// Millisecond timestamp in hex. Uniqueness is enforced server-side by
	// the nonce ledger, not by this encoding.
	nonce := "0x" + strconv.FormatInt(time.Now().UnixMilli(), 16)

	payload, err := json.Marshal(qrPayload{SlotID: slotID, Nonce: nonce})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	qrterminal.GenerateWithConfig(string(payload), qrterminal.Config{
		Level:      qrterminal.M,
		Writer:     os.Stdout,
		HalfBlocks: true,
		QuietZone:  1,
	})
	fmt.Printf("\nslot %s  nonce %s\n", slotID, nonce)
	return nil
}
