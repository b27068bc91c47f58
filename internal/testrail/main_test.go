package testrail

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// The shared http.Client keeps idle connections around; ignore them.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
	)
}
