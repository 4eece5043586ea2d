package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/xgstriker/bbd-server/internal/errors"
)

const (
	// DirPermissions is used for every directory the pipeline creates.
	DirPermissions = 0o755
	// FilePermissions is used for every file the pipeline writes.
	FilePermissions = 0o644

	copyBufferSize = 1 << 20
)

// ErrInsufficientSpace is returned when a destination filesystem is too full.
var ErrInsufficientSpace = errors.NewStd("insufficient disk space")

// AtomicWriteFile writes targetPath through a temporary file in the same
// directory and renames it into place, so readers never observe a partial file.
func AtomicWriteFile(targetPath string, perm os.FileMode, write func(io.Writer) error) error {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, "."+filepath.Base(targetPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	if err := tempFile.Chmod(perm); err != nil {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}

	if err := write(tempFile); err != nil {
		return err
	}

	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	success = true
	return nil
}

// CopyFile copies src to dst atomically. The destination's modification time
// is set to the source's.
func CopyFile(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	info, err := srcFile.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", src)
	}

	err = AtomicWriteFile(dst, FilePermissions, func(w io.Writer) error {
		buf := make([]byte, copyBufferSize)
		if _, err := io.CopyBuffer(w, srcFile, buf); err != nil {
			return fmt.Errorf("failed to copy %s: %w", src, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// MoveFile moves src to dst. A rename is attempted first; across filesystems
// the file is copied and the source removed.
func MoveFile(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), DirPermissions); err != nil {
		return err
	}

	err := os.Rename(src, dst)
	if err == nil || !isCrossDevice(err) {
		return err
	}

	if err := CopyFile(ctx, src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// MoveDir moves a directory tree. dst must not exist.
func MoveDir(ctx context.Context, src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("destination %s already exists: %w", dst, fs.ErrExist)
	}
	if err := os.MkdirAll(filepath.Dir(dst), DirPermissions); err != nil {
		return err
	}

	err := os.Rename(src, dst)
	if err == nil || !isCrossDevice(err) {
		return err
	}

	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, DirPermissions)
		}
		return CopyFile(ctx, path, target)
	})
	if err != nil {
		return err
	}
	return os.RemoveAll(src)
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	return errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV)
}

// FileDigest returns the hex sha256 of a file and its size.
func FileDigest(path string) (digest string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err = io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// DirExists reports whether path names an existing directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// EnsureFreeSpace fails with ErrInsufficientSpace when the filesystem holding
// path has less than required bytes free. The nearest existing parent of path
// is checked. A required value of 0 disables the check.
func EnsureFreeSpace(path string, required uint64) error {
	if required == 0 {
		return nil
	}

	checkPath := nearestExisting(path)
	usage, err := disk.Usage(checkPath)
	if err != nil {
		return errors.New(fmt.Errorf("failed to check disk space on %s: %w", checkPath, err)).
			Component("workspace").
			Category(errors.CategoryDiskUsage).
			Build()
	}

	if usage.Free < required {
		return errors.New(fmt.Errorf("%w on %s: %d bytes free, need at least %d bytes",
			ErrInsufficientSpace, checkPath, usage.Free, required)).
			Component("workspace").
			Category(errors.CategoryDiskUsage).
			Context("free_bytes", usage.Free).
			Context("required_bytes", required).
			Build()
	}
	return nil
}

func nearestExisting(path string) string {
	path = filepath.Clean(path)
	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
