package deploy

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// migrateScript, when present in a checkout, is run between restore and
// rebuild during an upgrade to bring restored data up to the new template
// revision's schema.
const migrateScript = "scripts/migrate.sh"

// Backup copies the unit's data paths into a timestamped directory under
// the unit's backups/ dir and returns that directory. Backups live outside
// the checkout so source syncs never touch them, and they are kept until
// the unit itself is removed.
func (m *Materializer) Backup(unitPath string) (string, error) {
	appDir := filepath.Join(unitPath, appDirName)
	if _, err := os.Stat(appDir); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrUnitMissing, appDir)
		}
		return "", fmt.Errorf("inspecting unit: %w", err)
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	dest := filepath.Join(unitPath, backupsDirName, stamp)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("creating backup dir: %w", err)
	}

	for _, rel := range preservedPaths {
		src := filepath.Join(appDir, rel)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := copyTree(src, filepath.Join(dest, rel)); err != nil {
			return "", fmt.Errorf("backing up %s: %w", rel, err)
		}
	}
	return dest, nil
}

// Restore copies data paths from a backup directory back into the unit,
// overwriting whatever the checkout currently holds.
func (m *Materializer) Restore(unitPath, backupDir string) error {
	if _, err := os.Stat(backupDir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("backup dir %s does not exist", backupDir)
		}
		return fmt.Errorf("inspecting backup dir: %w", err)
	}

	appDir := filepath.Join(unitPath, appDirName)
	for _, rel := range preservedPaths {
		src := filepath.Join(backupDir, rel)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := copyTree(src, filepath.Join(appDir, rel)); err != nil {
			return fmt.Errorf("restoring %s: %w", rel, err)
		}
	}
	return nil
}

// MigrateData runs the checkout's data migration hook, if it ships one.
// Templates without a hook migrate nothing and that is not an error.
func (m *Materializer) MigrateData(ctx context.Context, unitPath string) error {
	appDir := filepath.Join(unitPath, appDirName)
	script := filepath.Join(appDir, migrateScript)
	if _, err := os.Stat(script); os.IsNotExist(err) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.HookTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, script)
	cmd.Dir = appDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s timed out after %s: %w", migrateScript, m.cfg.HookTimeout, ctxErr)
		}
		return fmt.Errorf("%s: %s: %w", migrateScript, lastOutputLine(out), err)
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
