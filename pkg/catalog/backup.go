package catalog

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"
)

// Backup copies the live database file to BackupPath, overwriting any
// previous backup. Ground: media_database.py:backup_database (the Python
// uses shutil.copy2; Go mirrors it with an explicit read/write copy since
// this store must remain a literal file a human can restore by hand,
// per spec.md's file-copy backup/restore requirement).
func (c *Catalog) Backup() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	src, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("open database file: %w", err)
	}
	defer src.Close()

	tmp := c.backupPath + ".tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create backup file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return fmt.Errorf("copy database: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, c.backupPath); err != nil {
		return fmt.Errorf("install backup: %w", err)
	}

	c.log.Infof("database backed up to %s", c.backupPath)
	_, _ = c.db.Exec(`INSERT INTO system_events (timestamp, event_type, details, severity)
		VALUES (?, ?, ?, ?)`, time.Now(), "database_backup", "backup written to "+c.backupPath, SeverityInfo)
	return nil
}

// Repair attempts to recover from a corrupted database file: it quarantines
// the broken file alongside a timestamp, restores from the most recent
// backup if one exists and answers a row-count query on processed_files,
// and otherwise
// rebuilds an empty schema from scratch and logs a database_rebuilt event.
// Ground: media_database.py:repair_database.
func (c *Catalog) Repair() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		c.db.Close()
	}

	quarantine := fmt.Sprintf("%s.corrupt.%d", c.path, time.Now().Unix())
	if _, err := os.Stat(c.path); err == nil {
		if err := os.Rename(c.path, quarantine); err != nil {
			return fmt.Errorf("quarantine corrupt database: %w", err)
		}
	}

	restored := false
	if _, err := os.Stat(c.backupPath); err == nil {
		if err := copyFile(c.backupPath, c.path); err == nil {
			if db, err := sql.Open("sqlite3", c.path); err == nil {
				var count int
				row := db.QueryRow(`SELECT COUNT(*) FROM processed_files`)
				if err := row.Scan(&count); err == nil {
					restored = true
					c.db = db
				} else {
					db.Close()
				}
			}
		}
	}

	if !restored {
		os.Remove(c.path)
		db, err := sql.Open("sqlite3", c.path+"?_busy_timeout=5000")
		if err != nil {
			return fmt.Errorf("reopen database after repair: %w", err)
		}
		db.SetMaxOpenConns(1)
		if err := bootstrapSchema(db); err != nil {
			db.Close()
			return fmt.Errorf("rebuild schema after repair: %w", err)
		}
		if err := evolveSchema(db); err != nil {
			db.Close()
			return err
		}
		c.db = db
		_, _ = c.db.Exec(`INSERT INTO system_events (timestamp, event_type, details, severity)
			VALUES (?, ?, ?, ?)`, time.Now(), "database_rebuilt",
			fmt.Sprintf("corrupt database quarantined at %s, rebuilt empty", quarantine), SeverityError)
		c.log.Warnf("database rebuilt empty after corruption, quarantined original at %s", quarantine)
		return nil
	}

	c.db.SetMaxOpenConns(1)
	if err := evolveSchema(c.db); err != nil {
		return err
	}
	_, _ = c.db.Exec(`INSERT INTO system_events (timestamp, event_type, details, severity)
		VALUES (?, ?, ?, ?)`, time.Now(), "database_restored",
		fmt.Sprintf("restored from backup %s, corrupt original quarantined at %s", c.backupPath, quarantine), SeverityWarning)
	c.log.Infof("database restored from backup %s", c.backupPath)
	return nil
}

// CheckIntegrity runs sqlite's built-in integrity check, ground:
// media_database.py:check_database_integrity.
func (c *Catalog) CheckIntegrity() (bool, string, error) {
	row := c.db.QueryRow("PRAGMA integrity_check")
	var result string
	if err := row.Scan(&result); err != nil {
		return false, "", err
	}
	return result == "ok", result, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
