package repo

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"

	"codedesk/internal/harness"
	"codedesk/internal/store"
)

// fixture holds a store and a real harness client pointed at a fake server.
type fixture struct {
	store     *store.Store
	client    *harness.Client
	project   store.Project
	session   store.Session
	harnessID string
}

func newFixture(t *testing.T, handler http.Handler) *fixture {
	t.Helper()

	st, err := store.NewInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())
	client := harness.NewClient(u.Hostname(), port, 5*time.Second)

	project, err := st.CreateProject(store.Project{ID: uuid.New(), Name: "demo", Dir: "/work/demo"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	session, err := st.CreateSession(store.Session{
		ID:               uuid.New(),
		ProjectID:        project.ID,
		ShowInGUI:        true,
		Name:             "New Session",
		HarnessType:      "opencode",
		HarnessSessionID: "ses-fake",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return &fixture{store: st, client: client, project: project, session: session, harnessID: "ses-fake"}
}

func noHarness(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected harness request %s %s", r.Method, r.URL.Path)
		http.Error(w, "unexpected", http.StatusInternalServerError)
	})
}
