package config

import (
	"flag"
	"os"
	"time"

	"github.com/andrejsk/dropvault/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   PostgreSQL DSN
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-x int      presign capability expiry, minutes
//	-i int      cleanup interval, minutes
//	-n int      cleanup batch size
//	-r int      retry ceiling for remote batch deletion
//	-w int      soft-delete retention window, minutes
//	-t int      default object TTL, minutes
//	-m string   comma-separated MIME allow-list
//	-s int      maximum declared upload size, bytes
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes
//     using flagx.FilterArgs, avoiding collisions with other components.
//   - Duration flags are accepted as integers in minutes and then converted
//     to time.Duration values.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-u", "-p", "-b", "-g", "-e", "-x", "-i", "-n", "-r", "-w", "-t", "-m", "-s"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	presignExpiry := fs.Int("x", int(config.PresignExpiry.Minutes()), "presign expiry (in minutes)")
	cleanupInterval := fs.Int("i", int(config.CleanupInterval.Minutes()), "cleanup interval (in minutes)")
	fs.IntVar(&config.CleanupBatchSize, "n", config.CleanupBatchSize, "cleanup batch size")
	fs.IntVar(&config.RetryMaxAttempts, "r", config.RetryMaxAttempts, "retry ceiling for remote deletion")
	retentionWindow := fs.Int("w", int(config.RetentionWindow.Minutes()), "soft-delete retention window (in minutes)")
	defaultTTL := fs.Int("t", int(config.DefaultTTL.Minutes()), "default object TTL (in minutes)")

	mimeTypes := fs.String("m", "", "comma-separated MIME allow-list")
	fs.Int64Var(&config.MaxUploadSizeBytes, "s", config.MaxUploadSizeBytes, "maximum declared upload size (bytes)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.PresignExpiry = time.Duration(*presignExpiry) * time.Minute
	config.CleanupInterval = time.Duration(*cleanupInterval) * time.Minute
	config.RetentionWindow = time.Duration(*retentionWindow) * time.Minute
	config.DefaultTTL = time.Duration(*defaultTTL) * time.Minute
	if *mimeTypes != "" {
		config.AllowedMimeTypes = splitMimeList(*mimeTypes)
	}
}
