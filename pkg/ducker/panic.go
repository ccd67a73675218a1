package ducker

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/MixyLabs/ducker/pkg/ducker/util"
)

const (
	crashlogFilename        = "ducker-crash-%s.log"
	crashlogTimestampFormat = "2006.01.02-15.04.05"

	crashMessage = `-----------------------------------------------------------------
                        ducker crashlog
-----------------------------------------------------------------
Unfortunately, ducker has crashed.
To help diagnose the issue, a crashlog has been generated.
Please consider sharing this file with developers to help improve ducker.
-----------------------------------------------------------------
Time: %s
Panic occurred: %s
Stack trace:
%s
-----------------------------------------------------------------
`
)

func (d *Ducker) recoverFromPanic() {
	r := recover()

	if r == nil {
		return
	}

	now := time.Now()

	crashlogPath, err := writeCrashlog(logDirectory, now, r, debug.Stack())
	if err != nil {
		panic(err)
	}

	d.logger.Errorw("Encountered and logged panic, crashing",
		"crashlogPath", crashlogPath,
		"error", r)

	d.notifier.Notify("Unexpected crash occurred...",
		fmt.Sprintf("More details in %s", crashlogPath))

	_ = util.ReleaseMutex(instanceName)

	d.logger.Errorw("Quitting", "exitCode", 1)
	_ = d.logger.Sync()
	os.Exit(1)
}

func writeCrashlog(dir string, now time.Time, r interface{}, stack []byte) (string, error) {
	if err := util.EnsureDirExists(dir); err != nil {
		return "", fmt.Errorf("ensure crashlog dir exists: %w", err)
	}

	crashlogBytes := bytes.NewBufferString(fmt.Sprintf(crashMessage, now.Format(crashlogTimestampFormat), r, stack))
	crashlogPath := filepath.Join(dir, fmt.Sprintf(crashlogFilename, now.Format(crashlogTimestampFormat)))

	if err := os.WriteFile(crashlogPath, crashlogBytes.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("can't even write the crashlog file contents: %w", err)
	}

	return crashlogPath, nil
}
