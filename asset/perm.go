package asset

import (
	"os"
	"runtime"

	"go.uber.org/zap"
)

// MakeExecutable adds the owner execute bit to path.
// On Windows there is no execute bit, so this only checks that the file exists.
func MakeExecutable(log *zap.SugaredLogger, path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return &IOError{Op: "stat", Path: path, Err: err}
	}
	if runtime.GOOS == "windows" {
		if log != nil {
			log.Debugf("can't set execute permission on %s, it is probably already executable", runtime.GOOS)
		}
		return nil
	}
	err = os.Chmod(path, fi.Mode().Perm()|0o100)
	if err != nil {
		return &IOError{Op: "chmod", Path: path, Err: err}
	}
	return nil
}
