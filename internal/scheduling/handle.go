package scheduling

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	runtimePrefix = "rt"
	nativePrefix  = "nq"
)

// splitHandle parses "<prefix>:<scope>:<id>". scope is the process epoch for
// runtime handles and the queue name for native ones.
func splitHandle(handle string) (prefix, scope, id string, err error) {
	parts := strings.SplitN(handle, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("%w: malformed %q", ErrUnknownHandle, handle)
	}
	return parts[0], parts[1], parts[2], nil
}

func joinHandle(prefix, scope, id string) string {
	return prefix + ":" + scope + ":" + id
}

// ModeOf names the backend family that issued handle: "native", "runtime" or "".
func ModeOf(handle string) string {
	switch {
	case strings.HasPrefix(handle, nativePrefix+":"):
		return "native"
	case strings.HasPrefix(handle, runtimePrefix+":"):
		return "runtime"
	default:
		return ""
	}
}

// openEpochs holds the epochs of Runtimes that are open in this process.
var openEpochs sync.Map

// newEpoch is "<pid>-<start>" in base 36. The pid lets another process tell
// whether the issuer can still be holding the timer.
func newEpoch() string {
	return strconv.FormatInt(int64(os.Getpid()), 36) + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
}

func epochPID(epoch string) (int, bool) {
	p, _, found := strings.Cut(epoch, "-")
	if !found {
		return 0, false
	}
	pid, err := strconv.ParseInt(p, 36, 64)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return int(pid), true
}

// epochMayBeLive reports whether a Runtime with this epoch can still exist.
// false is definite; true may be a reused pid.
func epochMayBeLive(epoch string) bool {
	pid, ok := epochPID(epoch)
	if !ok {
		return false
	}
	if pid == os.Getpid() {
		_, open := openEpochs.Load(epoch)
		return open
	}
	return processAlive(pid)
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	defer p.Release()
	err = p.Signal(syscall.Signal(0))
	return err == nil || !errors.Is(err, os.ErrProcessDone)
}
