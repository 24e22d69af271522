//go:build !(darwin || linux)

package scriptbox

import (
	"errors"
	"log/slog"
	"time"

	"github.com/zhangyunhao116/scriptbox/internal/metrics"
)

var errNoProcessIsolation = errors.New("process isolation requires linux or darwin")

func processSupported() error { return errNoProcessIsolation }

func newProcessIsolator(time.Duration, *slog.Logger, *metrics.Collector) (isolator, error) {
	return nil, errors.Join(ErrIsolationUnavailable, errNoProcessIsolation)
}

func maybeSandboxInitChild() bool { return false }
