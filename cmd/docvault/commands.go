package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/smachala/docvault/pkg/audit"
	"github.com/smachala/docvault/pkg/backup"
	"github.com/smachala/docvault/pkg/config"
	"github.com/smachala/docvault/pkg/crypto"
	"github.com/smachala/docvault/pkg/logging"
	"github.com/smachala/docvault/pkg/service"
	"github.com/smachala/docvault/pkg/vault"
)

// commonFlags are shared by every subcommand
type commonFlags struct {
	configPath string
	pin        string
}

func registerCommon(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", defaultConfigPath(), "Path to the configuration file")
	fs.StringVar(&c.pin, "pin", os.Getenv("DOCVAULT_PIN"), "Vault PIN")
	return c
}

func defaultConfigPath() string {
	if p := os.Getenv("DOCVAULT_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".docvault", "config.yaml")
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func newLogger(cfg *config.Config) logging.Logger {
	logger := logging.NewDefaultLogger()
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))
	return logger
}

// openService loads the config and opens the vault without authenticating
func openService(c *commonFlags) (*service.Service, *config.Config) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		fatal("Failed to load configuration: %v", err)
	}
	svc, err := service.New(cfg, newLogger(cfg))
	if err != nil {
		fatal("Failed to open vault: %v", err)
	}
	return svc, cfg
}

// openSession opens the vault and authenticates with the PIN
func openSession(c *commonFlags) *service.Service {
	if c.pin == "" {
		fatal("No PIN supplied (set DOCVAULT_PIN or pass --pin)")
	}
	svc, _ := openService(c)
	if err := svc.Authenticate(context.Background(), c.pin); err != nil {
		remaining := svc.RemainingAttempts()
		svc.Close()
		fatal("Authentication failed: %v (%d attempts remaining)", err, remaining)
	}
	return svc
}

func handleInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	c := registerCommon(fs)
	dir := fs.String("dir", "", "Vault directory (default: alongside the config file)")
	fs.Parse(args)

	if c.pin == "" {
		fatal("No PIN supplied (set DOCVAULT_PIN or pass --pin)")
	}

	vaultDir := *dir
	if vaultDir == "" {
		vaultDir = filepath.Join(filepath.Dir(c.configPath), "vault")
	}

	cfg := config.Default(vaultDir)
	cfg.InstallID = uuid.NewString()
	if err := cfg.Save(c.configPath); err != nil {
		fatal("Failed to write configuration: %v", err)
	}

	svc, err := service.New(cfg, newLogger(cfg))
	if err != nil {
		fatal("Failed to create vault: %v", err)
	}
	defer svc.Close()

	if err := svc.Setup(c.pin); err != nil {
		fatal("Failed to set up vault: %v", err)
	}
	fmt.Printf("Vault created at %s\n", vaultDir)
}

func handleAdd(args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	c := registerCommon(fs)
	title := fs.String("title", "", "Document title (required)")
	text := fs.String("text", "", "Recognized text content")
	docType := fs.String("type", "", "Document type (e.g. invoice, receipt)")
	tags := fs.String("tags", "", "Comma-separated tags")
	imagePath := fs.String("image", "", "Path to the source image file")
	fs.Parse(args)

	if *title == "" {
		fatal("--title is required")
	}

	var imageBytes []byte
	if *imagePath != "" {
		data, err := os.ReadFile(*imagePath)
		if err != nil {
			fatal("Failed to read image: %v", err)
		}
		imageBytes = data
	}

	svc := openSession(c)
	defer svc.Close()
	ctx := context.Background()

	doc := &vault.Document{
		ID:        uuid.NewString(),
		Title:     *title,
		OCRText:   *text,
		DocType:   *docType,
		Checksum:  crypto.Checksum(imageBytes),
		SizeBytes: int64(len(imageBytes)),
	}
	if *tags != "" {
		doc.Tags = strings.Split(*tags, ",")
	}

	// Attach the encrypted image first so the record carries its path
	if imageBytes != nil {
		path, err := svc.AttachImage(ctx, doc.ID, vault.BlobImage, imageBytes)
		if err != nil {
			fatal("Failed to attach image: %v", err)
		}
		doc.ImagePath = path
	}

	created, err := svc.CreateDocument(ctx, doc)
	if err != nil {
		fatal("Failed to store document: %v", err)
	}
	fmt.Printf("Stored document %s\n", created.ID)
}

func handleShow(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	c := registerCommon(fs)
	id := fs.String("id", "", "Document id (required)")
	fs.Parse(args)

	if *id == "" {
		fatal("--id is required")
	}

	svc := openSession(c)
	defer svc.Close()

	doc, err := svc.GetDocument(context.Background(), *id)
	if err != nil {
		fatal("Failed to fetch document: %v", err)
	}

	fmt.Printf("ID:       %s\n", doc.ID)
	fmt.Printf("Title:    %s\n", doc.Title)
	if doc.DocType != "" {
		fmt.Printf("Type:     %s\n", doc.DocType)
	}
	if len(doc.Tags) > 0 {
		fmt.Printf("Tags:     %s\n", strings.Join(doc.Tags, ", "))
	}
	fmt.Printf("Created:  %s\n", doc.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Checksum: %s\n", doc.Checksum)
	if doc.OCRText != "" {
		fmt.Printf("\n%s\n", doc.OCRText)
	}
}

func handleSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	c := registerCommon(fs)
	limit := fs.Int("limit", 20, "Maximum number of results")
	fs.Parse(args)

	query := strings.Join(fs.Args(), " ")
	if query == "" {
		fatal("Usage: docvault search [options] <query>")
	}

	svc := openSession(c)
	defer svc.Close()
	ctx := context.Background()

	results, err := svc.Search(ctx, query, *limit, 0)
	if err != nil {
		fatal("Search failed: %v", err)
	}
	if len(results) == 0 {
		fmt.Println("No documents found")
		return
	}
	for _, r := range results {
		doc, err := svc.GetDocument(ctx, r.DocID)
		if err != nil {
			continue
		}
		fmt.Printf("%s  %-40s  score=%.3f\n", r.DocID, doc.Title, r.Score)
	}
}

func handleRemove(args []string) {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	c := registerCommon(fs)
	id := fs.String("id", "", "Document id (required)")
	purge := fs.Bool("purge", false, "Permanently remove the row and blob files")
	fs.Parse(args)

	if *id == "" {
		fatal("--id is required")
	}

	svc := openSession(c)
	defer svc.Close()
	ctx := context.Background()

	if *purge {
		if err := svc.PurgeDocument(ctx, *id); err != nil {
			fatal("Failed to purge document: %v", err)
		}
		fmt.Printf("Purged document %s\n", *id)
		return
	}
	if err := svc.DeleteDocument(ctx, *id); err != nil {
		fatal("Failed to delete document: %v", err)
	}
	fmt.Printf("Deleted document %s\n", *id)
}

func handleBackup(args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	c := registerCommon(fs)
	password := fs.String("password", os.Getenv("DOCVAULT_BACKUP_PASSWORD"), "Backup password (independent of the PIN)")
	fs.Parse(args)

	if *password == "" {
		fatal("No backup password supplied (set DOCVAULT_BACKUP_PASSWORD or pass --password)")
	}

	svc := openSession(c)
	defer svc.Close()

	record, err := svc.CreateBackup(context.Background(), []byte(*password))
	if err != nil {
		fatal("Backup failed: %v", err)
	}
	fmt.Printf("Backup written to %s\n", record.LocalPath)
	fmt.Printf("  documents: %d\n", record.DocumentCount)
	fmt.Printf("  size:      %d bytes\n", record.SizeBytes)
	fmt.Printf("  checksum:  %s\n", record.Checksum)
	if record.RemotePath != "" {
		fmt.Printf("  remote:    %s (%s)\n", record.RemotePath, record.Provider)
	}
}

func handleRestore(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	c := registerCommon(fs)
	recordPath := fs.String("record", "", "Path to the backup record sidecar (required)")
	password := fs.String("password", os.Getenv("DOCVAULT_BACKUP_PASSWORD"), "Backup password")
	yes := fs.Bool("yes", false, "Confirm replacing the live vault")
	fs.Parse(args)

	if *recordPath == "" {
		fatal("--record is required")
	}
	if *password == "" {
		fatal("No backup password supplied (set DOCVAULT_BACKUP_PASSWORD or pass --password)")
	}
	if !*yes {
		fatal("Restore replaces the live vault; re-run with --yes to confirm")
	}

	record, err := backup.LoadRecord(*recordPath)
	if err != nil {
		fatal("Failed to load backup record: %v", err)
	}

	svc := openSession(c)
	defer svc.Close()

	err = svc.RestoreBackup(context.Background(), record, []byte(*password), service.RestoreConfirm{Confirm: true})
	if err != nil {
		fatal("Restore failed: %v", err)
	}
	fmt.Printf("Restored %d documents from backup %s\n", record.DocumentCount, record.ID)
}

func handleAudit(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	c := registerCommon(fs)
	docID := fs.String("doc", "", "Show only events for this document id")
	kind := fs.String("kind", "", "Show only events of this kind")
	summary := fs.Bool("summary", false, "Print aggregate counts instead of events")
	export := fs.String("export", "", "Export all events as JSON lines to this file, then clear them")
	limit := fs.Int("limit", 50, "Maximum number of events")
	fs.Parse(args)

	svc := openSession(c)
	defer svc.Close()
	ctx := context.Background()

	if *export != "" {
		f, err := os.OpenFile(*export, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err != nil {
			fatal("Failed to create export file: %v", err)
		}
		defer f.Close()
		n, err := svc.ExportAuditTrail(ctx, f)
		if err != nil {
			fatal("Failed to export audit trail: %v", err)
		}
		fmt.Printf("Exported %d events to %s\n", n, *export)
		return
	}

	if *summary {
		s, err := svc.AuditSummary(ctx, nil, nil)
		if err != nil {
			fatal("Failed to summarize audit trail: %v", err)
		}
		fmt.Printf("Total events:  %d\n", s.TotalEvents)
		fmt.Printf("Auth success:  %d\n", s.AuthSuccess)
		fmt.Printf("Auth failures: %d\n", s.AuthFailures)
		for kind, n := range s.ByKind {
			fmt.Printf("  %-20s %d\n", kind, n)
		}
		return
	}

	filter := audit.Filter{DocumentID: *docID, Kind: audit.Kind(*kind)}
	events, err := svc.AuditEvents(ctx, filter, *limit, 0)
	if err != nil {
		fatal("Failed to query audit trail: %v", err)
	}
	for _, ev := range events {
		line := fmt.Sprintf("%s  %-18s", ev.Timestamp.Format("2006-01-02 15:04:05"), ev.Kind)
		if ev.DocumentID != "" {
			line += "  doc=" + ev.DocumentID
		}
		if ev.ErrorMessage != "" {
			line += "  error=" + ev.ErrorMessage
		}
		fmt.Println(line)
	}
}
