package ingest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	lakeerrors "github.com/logflow/datalake/pkg/errors"
)

// copyFile copies src to dst through a temp file in dst's directory that is
// fsynced and renamed into place. A leftover file at dst is replaced. It
// returns the number of bytes copied.
func copyFile(src, dst string, progress io.Writer) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, lakeerrors.SourceUnreadable(src, err)
	}
	defer in.Close()

	var r io.Reader = in
	if progress != nil {
		r = io.TeeReader(in, progress)
	}

	n, err := writeAtomic(dst, func(w io.Writer) (int64, error) {
		return io.Copy(w, r)
	})
	if err != nil {
		return 0, lakeerrors.WriteFailed(dst, err)
	}
	return n, nil
}

// writeStub writes the placeholder description used when none is given.
func writeStub(dst, name string) (int64, error) {
	n, err := writeAtomic(dst, func(w io.Writer) (int64, error) {
		written, err := fmt.Fprintf(w, "# %s\n", name)
		return int64(written), err
	})
	if err != nil {
		return 0, lakeerrors.WriteFailed(dst, err)
	}
	return n, nil
}

func writeAtomic(dst string, fill func(io.Writer) (int64, error)) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return 0, err
	}
	name := tmp.Name()

	n, err := fill(tmp)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(name, 0644)
	}
	if err == nil {
		err = os.Rename(name, dst)
	}
	if err != nil {
		os.Remove(name)
		return 0, err
	}
	return n, nil
}

// removeFiles deletes paths, ignoring ones that do not exist.
func removeFiles(paths ...string) error {
	var errs lakeerrors.MultiError
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs.Add(err)
		}
	}
	return errs.Combined()
}
