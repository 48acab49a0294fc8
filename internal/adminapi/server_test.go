package adminapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"controlplane/internal/commands"
	"controlplane/internal/llm"
	"controlplane/internal/logbuf"
	"controlplane/internal/pipeline"
	"controlplane/internal/registry"
	"controlplane/internal/stats"
	"controlplane/internal/store"
	"controlplane/internal/supervisor"
)

// supervisorHolder breaks the same pipeline/supervisor import cycle
// cmd/controlplane's own wiring does, for tests that need a real
// *supervisor.Supervisor behind the Server rather than a nil one.
type supervisorHolder struct {
	sup *supervisor.Supervisor
}

func (h *supervisorHolder) IsActive(botID uint) bool {
	if h.sup == nil {
		return false
	}
	return h.sup.IsActive(botID)
}

// newTestServer wires a full Server against an in-memory store, the way
// cmd/controlplane wires the real one, so handler tests exercise the
// actual store/supervisor/registry plumbing rather than a mock.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := registry.New()
	logs := logbuf.New(nil)
	statsBuf := stats.New()
	adapter := llm.New(nil)
	engine := commands.New(st, reg, adapter, logs, nil)

	holder := &supervisorHolder{}
	pipe := pipeline.New(st, reg, engine, adapter, logs, statsBuf, holder)
	sup := supervisor.New(st, reg, pipe, logs, 0, 0)
	holder.sup = sup

	return New(st, sup, reg, logs, statsBuf, adapter, time.Hour, gin.TestMode)
}

// doRequest runs req through the server's gin engine, routing and
// middleware included, and returns the recorder.
func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}
