package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tuckborough/burrow/internal/backup"
	"github.com/tuckborough/burrow/internal/database"
	"github.com/tuckborough/burrow/internal/logging"
	"github.com/tuckborough/burrow/internal/push"
	"github.com/tuckborough/burrow/internal/server"
	"github.com/tuckborough/burrow/internal/store"
)

func main() {
	// A local .env is a development convenience; deployments set the
	// environment directly.
	godotenv.Load()

	logger := logging.Setup(os.Getenv("BURROW_LOG_LEVEL"), os.Getenv("BURROW_LOG_FORMAT"))

	genKeys := flag.Bool("generate-vapid-keys", false, "print a fresh VAPID key pair and exit")
	listBackups := flag.Bool("list-backups", false, "list recent backups and exit")
	backupNow := flag.Bool("backup-now", false, "run a backup immediately and exit")
	restoreID := flag.Int64("restore", 0, "restore the given backup id and exit")
	flag.Parse()

	if *genKeys {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			logger.Error("generate vapid keys", "error", err)
			os.Exit(1)
		}
		fmt.Printf("BURROW_VAPID_PUBLIC_KEY=%s\nBURROW_VAPID_PRIVATE_KEY=%s\n", pub, priv)
		return
	}

	port := envDefault("BURROW_PORT", "8080")
	dbPath := envDefault("BURROW_DB_PATH", "burrow.db")

	backupCfg := backup.Config{
		S3: backup.S3Config{
			Endpoint:  os.Getenv("BURROW_BACKUP_S3_ENDPOINT"),
			Bucket:    os.Getenv("BURROW_BACKUP_S3_BUCKET"),
			Region:    envDefault("BURROW_BACKUP_S3_REGION", "auto"),
			AccessKey: os.Getenv("BURROW_BACKUP_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("BURROW_BACKUP_S3_SECRET_KEY"),
		},
		DBPath:        dbPath,
		Passphrase:    os.Getenv("BURROW_BACKUP_PASSPHRASE"),
		ScheduleHour:  envInt("BURROW_BACKUP_HOUR", 3),
		RetentionDays: envInt("BURROW_BACKUP_RETENTION_DAYS", 30),
	}

	db, err := database.Open(dbPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Maintenance modes share the server's configuration but skip the
	// server itself.
	if *listBackups || *backupNow || *restoreID != 0 {
		runMaintenance(db, backupCfg, logger, *listBackups, *backupNow, *restoreID)
		return
	}

	tokenSecret := os.Getenv("BURROW_TOKEN_SECRET")
	if tokenSecret == "" {
		logger.Error("BURROW_TOKEN_SECRET is required")
		os.Exit(1)
	}

	pushCfg := push.Config{
		VAPIDPublicKey:  os.Getenv("BURROW_VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("BURROW_VAPID_PRIVATE_KEY"),
	}
	if pushCfg.VAPIDPublicKey == "" || pushCfg.VAPIDPrivateKey == "" {
		logger.Info("web push disabled, set BURROW_VAPID_* keys to enable (see -generate-vapid-keys)")
	}

	srv := server.New(db, tokenSecret, backupCfg, pushCfg, logger)

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Hourly rate limiter cleanup
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			case <-bgCtx.Done():
				return
			}
		}
	}()

	srv.Sweeper().Start(bgCtx)
	srv.BackupManager().Start(bgCtx)

	go func() {
		logger.Info("burrow listening", "addr", ":"+port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	bgCancel()
	srv.Sweeper().Stop()
	srv.BackupManager().Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func runMaintenance(db *sql.DB, backupCfg backup.Config, logger *slog.Logger, list, now bool, restoreID int64) {
	bs := store.NewBackupStore(db)
	mgr := backup.NewManager(backupCfg, db, bs, logger.With("component", "backup"))

	switch {
	case list:
		backups, err := bs.List(20)
		if err != nil {
			logger.Error("list backups", "error", err)
			os.Exit(1)
		}
		if len(backups) == 0 {
			fmt.Println("no backups recorded")
			return
		}
		for _, b := range backups {
			fmt.Printf("%d\t%s\t%s\t%d bytes\t%s\n",
				b.ID, b.CreatedAt.UTC().Format(time.RFC3339), b.Status, b.SizeBytes, b.Filename)
		}

	case now:
		id, err := mgr.RunNow(context.Background())
		if err != nil {
			logger.Error("backup failed", "error", err)
			os.Exit(1)
		}
		logger.Info("backup completed", "backup_id", id)

	case restoreID != 0:
		if err := mgr.Restore(context.Background(), restoreID); err != nil {
			logger.Error("restore failed", "error", err)
			os.Exit(1)
		}
		logger.Info("database restored", "backup_id", restoreID)
		// Exit without running the deferred db.Close; a close-time WAL
		// checkpoint would overwrite the restored file.
		os.Exit(0)
	}
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
