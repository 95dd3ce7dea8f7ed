package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// TempMarker is embedded in every temporary file name written by WriteAtomic
// so orphans left by a crash can be recognized and removed.
const TempMarker = ".photoner-tmp-"

// IsTempName reports whether name was produced by WriteAtomic.
func IsTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, TempMarker)
}

// WriteAtomic produces finalPath through a temporary sibling file: write
// fills it, finalize (optional) may amend it in place, then it is synced and
// renamed over finalPath. On any error the temporary file is removed and
// finalPath is left untouched, so readers observe either nothing or the
// complete file.
func WriteAtomic(finalPath string, write func(io.Writer) error, finalize func(tmpPath string) error) (err error) {
	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	// The real extension stays last so tools that sniff file type by name still work.
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(finalPath)+TempMarker+"*"+filepath.Ext(finalPath))
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if finalize != nil {
		if err = finalize(tmpPath); err != nil {
			return err
		}
	}
	if err = os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	syncDir(dir)
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// MoveFile relocates src to dst. A rename is attempted first; across
// filesystems the file is copied with verification and the source removed.
// An existing dst is never overwritten.
func MoveFile(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("move %s: destination %s already exists", src, dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := CopyFileVerified(src, dst); err != nil {
		return fmt.Errorf("cross-device copy: %w", err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove source after copy: %w", err)
	}
	return nil
}

// CopyFileVerified streams src to dst, then re-reads dst from disk and
// checks its size and SHA256 against what was read from src. Removes dst on
// mismatch.
func CopyFileVerified(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, srcInfo.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	srcHasher := sha256.New()
	written, err := io.Copy(out, io.TeeReader(in, srcHasher))
	if err != nil {
		_ = os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	if written != srcInfo.Size() {
		_ = os.Remove(dst)
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcInfo.Size(), written)
	}
	if err := verifyCopy(dst, srcHasher.Sum(nil), written); err != nil {
		_ = os.Remove(dst)
		return err
	}
	_ = os.Chtimes(dst, srcInfo.ModTime(), srcInfo.ModTime())
	return nil
}

// verifyCopy hashes dst as it is stored now.
func verifyCopy(dst string, wantSum []byte, wantSize int64) error {
	f, err := os.Open(dst)
	if err != nil {
		return fmt.Errorf("reopen copy: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return fmt.Errorf("read back copy: %w", err)
	}
	if n != wantSize {
		return fmt.Errorf("copy size mismatch: source %d bytes, stored %d bytes", wantSize, n)
	}
	if !bytes.Equal(h.Sum(nil), wantSum) {
		return errors.New("copy hash mismatch: file corrupted during copy")
	}
	return nil
}
