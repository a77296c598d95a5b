package compressor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// writeFileAtomic writes data to a temporary file in dest's directory and
// renames it onto dest once it is fully on disk. beforeRename, when set,
// may post-process the temporary file; its error aborts the write.
// On any failure the temporary file is removed and dest is untouched.
func writeFileAtomic(dest string, data []byte, mode os.FileMode, beforeRename func(tmp string) error) (err error) {
	tmp, err := createTemp(dest)
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write tmp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync tmp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close tmp file: %w", err)
	}
	if err = os.Chmod(tmpPath, mode); err != nil {
		return fmt.Errorf("chmod tmp file: %w", err)
	}

	if beforeRename != nil {
		if err = beforeRename(tmpPath); err != nil {
			return err
		}
	}

	if err = os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("rename tmp file: %w", err)
	}
	return nil
}

// createTemp creates a hidden temporary file next to path that keeps the
// original extension, so encoders can infer the container from it.
func createTemp(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	f, err := os.CreateTemp(dir, "."+stem+".*.tmp"+ext)
	if err != nil {
		return nil, fmt.Errorf("create tmp file: %w", err)
	}
	return f, nil
}

// uniquePath returns path if nothing exists there, otherwise the first
// free "name_N.ext" variant.
func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	dir := filepath.Dir(path)
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	nameWithoutExt := strings.TrimSuffix(name, ext)

	counter := 1
	for {
		newPath := filepath.Join(dir, fmt.Sprintf("%s_%d%s", nameWithoutExt, counter, ext))
		if _, err := os.Stat(newPath); os.IsNotExist(err) {
			return newPath
		}
		counter++
	}
}

// IsTempFile reports whether name looks like a temporary file created by
// this package.
func IsTempFile(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, ".tmp")
}
