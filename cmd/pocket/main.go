// Command pocket is the local receipt ledger client. It keeps a durable
// cache of receipts, reconciles it with the record store when reachable, and
// works fully offline otherwise.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"receiptpocket/internal/auth"
	"receiptpocket/internal/config"
	"receiptpocket/internal/export"
	"receiptpocket/internal/ledger"
	"receiptpocket/internal/receipt"
	"receiptpocket/internal/remote"
	"receiptpocket/pkg/utils"
)

func main() {
	gotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := ledger.OpenBolt(cfg.Client.StorePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open local store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	rem := remote.NewClient(cfg.Client.APIURL, cfg.Client.Timeout, logger)
	engine := ledger.NewEngine(store, rem, logger, ledger.WithNotifier(consoleNotifier{}))

	app := &app{
		cfg:    cfg,
		engine: engine,
		remote: rem,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: pocket <command> [flags]

Commands:
  login         authenticate with a role password and pull remote state
  logout        clear the stored session role
  add           record a new receipt
  list          print receipts, optionally for one month
  update        modify an existing receipt
  delete        delete one receipt
  delete-month  delete every receipt of a month
  pull          reconcile with the record store
  reset         discard local state and refetch from the record store
  export        write a monthly xlsx report`)
}

type app struct {
	cfg    *config.Config
	engine *ledger.Engine
	remote *remote.Client
	logger *zap.Logger
}

// consoleNotifier prints user-facing notifications to stdout.
type consoleNotifier struct{}

func (consoleNotifier) Notify(message string, level ledger.Level) {
	fmt.Printf("[%s] %s\n", level, message)
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "login":
		return a.login(ctx, args)
	case "logout":
		a.engine.Logout()
		fmt.Println("ログアウトしました")
		return nil
	case "add":
		return a.add(ctx, args)
	case "list":
		return a.list(args)
	case "update":
		return a.update(ctx, args)
	case "delete":
		return a.delete(ctx, args)
	case "delete-month":
		return a.deleteMonth(ctx, args)
	case "pull":
		if !a.engine.Reconcile(ctx, true) {
			return fmt.Errorf("pull failed")
		}
		return nil
	case "reset":
		if !a.engine.FullLocalReset(ctx) {
			return fmt.Errorf("reset failed")
		}
		return nil
	case "export":
		return a.export(args)
	default:
		usage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	role := fs.String("role", "viewer", "role to log in as (viewer or admin)")
	password := fs.String("password", "", "shared password for the role")
	fs.Parse(args)

	passwords := auth.Passwords{
		Admin:  a.cfg.Auth.AdminPassword,
		Viewer: a.cfg.Auth.ViewerPassword,
	}
	ok, err := passwords.VerifyPassword(*password, *role)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("パスワードが違います")
	}

	a.engine.SetRole(ledger.Role(*role))
	fmt.Printf("%s としてログインしました\n", *role)

	a.engine.Reconcile(ctx, false)
	return nil
}

func (a *app) add(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	date := fs.String("date", time.Now().Format("2006-01-02"), "receipt date (YYYY-MM-DD)")
	vendor := fs.String("vendor", "", "vendor name")
	amount := fs.Int64("amount", 0, "amount in yen")
	category := fs.String("category", "", "expense category")
	payment := fs.String("payment", "", "payment method")
	description := fs.String("description", "", "memo")
	title := fs.String("title", "", "title")
	file := fs.String("file", "", "path to the receipt image or PDF")
	evidence := fs.String("evidence", "", "path to a supporting image")
	reimbursedBy := fs.String("reimbursed-by", "", "who paid out of pocket")
	analyzeFirst := fs.Bool("analyze", false, "fill empty fields from image analysis")
	fs.Parse(args)

	var fileData, mimeType, assetType string
	if *file != "" {
		var err error
		fileData, mimeType, err = encodeFile(*file)
		if err != nil {
			return err
		}
		assetType = receipt.AssetImage
		if mimeType == "application/pdf" {
			assetType = receipt.AssetPDF
		}
	} else {
		assetType = receipt.AssetNone
	}

	if *analyzeFirst && fileData != "" {
		a.prefillFromAnalysis(ctx, fileData, mimeType, date, vendor, amount, category, payment, description)
	}

	r := receipt.Receipt{
		ID:              receipt.NewID(*date, *vendor, *amount, fileData),
		Title:           *title,
		Date:            *date,
		Vendor:          *vendor,
		Amount:          *amount,
		Category:        *category,
		PaymentMethod:   *payment,
		Description:     *description,
		MimeType:        mimeType,
		CreatedAt:       time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		AssetType:       assetType,
		IsReimbursement: *reimbursedBy != "",
		ReimbursedBy:    *reimbursedBy,
	}
	if fileData != "" {
		r.ImageURL = fmt.Sprintf("data:%s;base64,%s", mimeType, fileData)
	}
	if *evidence != "" {
		evidenceData, evidenceMime, err := encodeFile(*evidence)
		if err != nil {
			return err
		}
		r.EvidenceURL = fmt.Sprintf("data:%s;base64,%s", evidenceMime, evidenceData)
	}

	fallback := receipt.DefaultCategories[0]
	if categories := a.engine.Categories(); len(categories) > 0 {
		fallback = categories[0]
	}
	r.Normalize(fallback)

	if !a.engine.ApplyCreate(ctx, r) {
		return fmt.Errorf("add failed")
	}
	fmt.Printf("登録しました: %s\n", r.ID)
	return nil
}

// prefillFromAnalysis asks the record store's analyzer for field guesses and
// fills only the flags the user left empty.
func (a *app) prefillFromAnalysis(ctx context.Context, fileData, mimeType string, date, vendor *string, amount *int64, category, payment, description *string) {
	extraction, err := a.remote.Analyze(ctx, remote.AnalyzeRequest{
		Base64Data: fileData,
		MimeType:   mimeType,
		Categories: a.engine.Categories(),
		Language:   a.cfg.Client.Language,
	})
	if err != nil {
		a.logger.Warn("Analysis unavailable", zap.Error(err))
		return
	}
	if *vendor == "" {
		*vendor = extraction.Vendor
	}
	if *amount == 0 {
		*amount = int64(extraction.Amount)
	}
	if *category == "" {
		*category = extraction.Category
	}
	if *payment == "" {
		*payment = extraction.PaymentMethod
	}
	if *description == "" {
		*description = extraction.Description
	}
	if extraction.Date != "" {
		*date = extraction.Date
	}
}

func (a *app) list(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	month := fs.String("month", "", "restrict to one month (YYYY-MM)")
	fs.Parse(args)

	var total int64
	for _, r := range a.engine.Receipts() {
		if *month != "" && !r.InMonth(*month) {
			continue
		}
		syncMark := " "
		if r.Synced {
			syncMark = "*"
		}
		fmt.Printf("%s %s  %s  %-20s %8d円  %s\n", syncMark, r.ID, r.Date, r.Vendor, r.Amount, r.Category)
		total += r.Amount
	}
	fmt.Printf("合計: %d円\n", total)
	return nil
}

func (a *app) update(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	id := fs.String("id", "", "receipt id")
	date := fs.String("date", "", "receipt date (YYYY-MM-DD)")
	vendor := fs.String("vendor", "", "vendor name")
	amount := fs.Int64("amount", -1, "amount in yen")
	category := fs.String("category", "", "expense category")
	payment := fs.String("payment", "", "payment method")
	description := fs.String("description", "", "memo")
	title := fs.String("title", "", "title")
	fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("update requires -id")
	}

	var current *receipt.Receipt
	for _, r := range a.engine.Receipts() {
		if r.ID == *id {
			current = &r
			break
		}
	}
	if current == nil {
		return fmt.Errorf("receipt not found: %s", *id)
	}

	if *date != "" {
		current.Date = *date
	}
	if *vendor != "" {
		current.Vendor = *vendor
	}
	if *amount >= 0 {
		current.Amount = *amount
	}
	if *category != "" {
		current.Category = *category
	}
	if *payment != "" {
		current.PaymentMethod = *payment
	}
	if *description != "" {
		current.Description = *description
	}
	if *title != "" {
		current.Title = *title
	}

	if !a.engine.ApplyUpdate(ctx, *current) {
		return fmt.Errorf("update failed")
	}
	fmt.Printf("更新しました: %s\n", *id)
	return nil
}

func (a *app) delete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	id := fs.String("id", "", "receipt id")
	fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("delete requires -id")
	}
	if !a.engine.ApplyDelete(ctx, *id) {
		return fmt.Errorf("delete failed")
	}
	fmt.Printf("削除しました: %s\n", *id)
	return nil
}

func (a *app) deleteMonth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete-month", flag.ExitOnError)
	month := fs.String("month", "", "month to delete (YYYY-MM)")
	fs.Parse(args)

	if *month == "" {
		return fmt.Errorf("delete-month requires -month")
	}
	if !a.engine.ApplyDeleteMonth(ctx, *month) {
		return fmt.Errorf("delete-month failed")
	}
	fmt.Printf("%s の領収書を削除しました\n", *month)
	return nil
}

func (a *app) export(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	month := fs.String("month", time.Now().Format("2006-01"), "month to export (YYYY-MM)")
	out := fs.String("out", "", "output path (defaults to <month>.xlsx)")
	fs.Parse(args)

	outputPath := *out
	if outputPath == "" {
		outputPath = *month + ".xlsx"
	}

	writer := export.NewReportWriter(a.logger)
	if err := writer.WriteMonthlyReport(a.engine.Receipts(), *month, outputPath); err != nil {
		return err
	}
	fmt.Printf("書き出しました: %s\n", outputPath)
	return nil
}

// encodeFile reads a file and returns its base64 payload and MIME type.
func encodeFile(path string) (string, string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read file: %w", err)
	}

	mimeType := "image/jpeg"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		mimeType = "image/png"
	case ".gif":
		mimeType = "image/gif"
	case ".heic", ".heif":
		mimeType = "image/heic"
	case ".pdf":
		mimeType = "application/pdf"
	}
	return base64.StdEncoding.EncodeToString(content), mimeType, nil
}
