package provision

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pubwiki/wikifarm/pkg/log"
)

// SymlinkTemplate materializes dest from the template tree by creating one
// symlink per top-level entry. The extensions and skins directories get
// shallow treatment: each of their children is linked individually, so
// operators can override a single extension or skin later without touching
// the rest. Re-runs are idempotent; every creation tolerates already-exists.
func SymlinkTemplate(template, dest string) error {
	log.Logger.Debug().Str("template", template).Str("dest", dest).Msg("symlink template start")

	if err := mkdirExistOK(dest); err != nil {
		return err
	}
	for _, special := range []string{"extensions", "skins"} {
		if err := mkdirExistOK(filepath.Join(dest, special)); err != nil {
			return err
		}
	}

	entries, err := os.ReadDir(template)
	if err != nil {
		return fmt.Errorf("failed to read template dir: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		src := filepath.Join(template, name)

		if name == "extensions" || name == "skins" {
			children, err := os.ReadDir(src)
			if err != nil {
				return fmt.Errorf("failed to read template %s: %w", name, err)
			}
			for _, child := range children {
				if err := symlinkExistOK(filepath.Join(src, child.Name()), filepath.Join(dest, name, child.Name())); err != nil {
					return err
				}
			}
			continue
		}

		if entry.IsDir() || entry.Type().IsRegular() {
			if err := symlinkExistOK(src, filepath.Join(dest, name)); err != nil {
				return err
			}
		} else {
			log.Logger.Debug().Str("path", src).Msg("skip non-file non-dir entry")
		}
	}

	log.Logger.Debug().Str("template", template).Str("dest", dest).Msg("symlink template done")
	return nil
}

// RemoveDirIfExists recursively removes path, tolerating not-found.
func RemoveDirIfExists(path string) error {
	log.Logger.Debug().Str("path", path).Msg("remove dir if exists")
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

func mkdirExistOK(path string) error {
	if err := os.Mkdir(path, 0755); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	return nil
}

func symlinkExistOK(src, dest string) error {
	if err := os.Symlink(src, dest); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("failed to link %s: %w", dest, err)
	}
	return nil
}
