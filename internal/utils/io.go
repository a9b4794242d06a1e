// Package utils provides internal helpers used by the relay packages.
//
// The helpers cover durable file I/O: payloads headed for removable media must
// survive a power cut at any point, so writes go through a temporary file that
// is synced before being renamed into place.
package utils

import (
	"os"
	"path/filepath"

	"github.com/hyp3rd/ewrap"
)

// WriteFileDurable writes data to path so that a crash mid-write never leaves
// a partially written file visible under the final name. The data is written
// to a sibling temporary file, synced to stable storage and then renamed into
// place. tmpSuffix is appended to path for the temporary name.
func WriteFileDurable(path string, data []byte, mode os.FileMode, tmpSuffix string) error {
	tmpPath := path + tmpSuffix

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return ewrap.Wrap(err, "creating temporary file").
			WithMetadata("path", tmpPath)
	}

	_, err = file.Write(data)
	if err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)

		return ewrap.Wrap(err, "writing temporary file").
			WithMetadata("path", tmpPath)
	}

	err = file.Sync()
	if err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)

		return ewrap.Wrap(err, "syncing temporary file").
			WithMetadata("path", tmpPath)
	}

	err = file.Close()
	if err != nil {
		_ = os.Remove(tmpPath)

		return ewrap.Wrap(err, "closing temporary file").
			WithMetadata("path", tmpPath)
	}

	err = os.Rename(tmpPath, path)
	if err != nil {
		_ = os.Remove(tmpPath)

		return ewrap.Wrap(err, "renaming temporary file").
			WithMetadata("from", tmpPath).
			WithMetadata("to", path)
	}

	return nil
}

// ProbeWritable verifies that the directory at dir accepts new files by
// creating and removing a probe file.
func ProbeWritable(dir string) error {
	probe := filepath.Join(dir, ".relay-probe")

	file, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return ewrap.Wrap(err, "probing directory writability").
			WithMetadata("dir", dir)
	}

	_ = file.Close()

	err = os.Remove(probe)
	if err != nil {
		return ewrap.Wrap(err, "removing probe file").
			WithMetadata("dir", dir)
	}

	return nil
}
