package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"qqbridge/internal/config"
	"qqbridge/internal/host"

	"github.com/spf13/cobra"
)

// snapshotter is implemented by stores that can copy themselves to a file.
type snapshotter interface {
	Snapshot(ctx context.Context, path string) error
}

const (
	archiveDB     = "site.db"
	archiveConfig = "config"
)

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the embedded site database and the config file",
		Long: `Creates a compressed .tar.gz archive with a consistent snapshot of the
SQLite host store and the configuration file. PostgreSQL stores are backed up
with the database's own tooling.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				outputPath = filepath.Join(backupDir, fmt.Sprintf("qqbridge-backup-%s.tar.gz", time.Now().Format("20060102-150405")))
			}
			return withStore(cmd.Context(), func(_ *config.Config, store host.Store) error {
				snap, ok := store.(snapshotter)
				if !ok {
					return fmt.Errorf("backup is only supported for the sqlite store")
				}
				if err := writeBackup(cmd.Context(), snap, cfgPath, outputPath); err != nil {
					return fmt.Errorf("backup failed: %w", err)
				}
				info, _ := os.Stat(outputPath)
				var size int64
				if info != nil {
					size = info.Size()
				}
				fmt.Printf("Backup created: %s (%s)\n", outputPath, humanSize(size))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.qqbridge/backups/qqbridge-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore [file.tar.gz]",
		Short: "Restore the site database and config from a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			cfg, err := config.Load(cfgPath)
			if err != nil {
				cfg = config.Defaults()
			}
			if cfg.Store.Driver != "sqlite" {
				return fmt.Errorf("restore is only supported for the sqlite store")
			}
			dbPath := config.ExpandPath(cfg.Store.DSN)

			if !force {
				for _, p := range []string{dbPath, cfgPath} {
					if _, err := os.Stat(p); err == nil {
						fmt.Printf("WARNING: %s exists and would be overwritten.\n", p)
						return fmt.Errorf("restore aborted (use --force to proceed)")
					}
				}
			}

			restored, err := restoreBackup(args[0], dbPath, cfgPath)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			fmt.Printf("Restore completed from: %s\n", args[0])
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data")
	return cmd
}

// writeBackup snapshots the store next to the archive and packs it together
// with the config file.
func writeBackup(ctx context.Context, store snapshotter, cfgPath, outputPath string) error {
	tmpDir, err := os.MkdirTemp(filepath.Dir(outputPath), ".qqbridge-backup-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	dbCopy := filepath.Join(tmpDir, archiveDB)
	if err := store.Snapshot(ctx, dbCopy); err != nil {
		return err
	}

	entries := map[string]string{archiveDB: dbCopy}
	if _, err := os.Stat(cfgPath); err == nil {
		entries[archiveConfig+filepath.Ext(cfgPath)] = cfgPath
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	for name, path := range entries {
		if err := addFileToTar(tw, name, path); err != nil {
			return fmt.Errorf("add %s: %w", path, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addFileToTar(tw *tar.Writer, name, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// restoreBackup extracts the database and config entries of an archive.
// Unknown entries are skipped.
func restoreBackup(archivePath, dbPath, cfgPath string) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var restored []string
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		var target string
		name := filepath.Base(header.Name)
		switch {
		case name == archiveDB:
			target = dbPath
			// A stale WAL would be replayed over the restored file.
			os.Remove(dbPath + "-wal")
			os.Remove(dbPath + "-shm")
		case strings.HasPrefix(name, archiveConfig+"."):
			target = cfgPath
		default:
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, err
		}
		out, err := os.Create(target)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", target, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return nil, fmt.Errorf("extract %s: %w", target, err)
		}
		out.Close()
		restored = append(restored, target)
	}
	return restored, nil
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
