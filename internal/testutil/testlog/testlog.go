package testlog

import (
	"testing"

	"github.com/danmuck/armctl/internal/logging"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	t.Logf("test=%s", t.Name())
}
