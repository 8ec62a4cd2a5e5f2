package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/freshell/freshell/internal/config"
	"github.com/freshell/freshell/internal/layout"
	"github.com/freshell/freshell/internal/session"
	"github.com/freshell/freshell/internal/terminal"
)

const testToken = "agent-secret"

func newTestAPI(t *testing.T) (*API, *httptest.Server) {
	t.Helper()
	reg := terminal.NewRegistry(terminal.Config{})
	t.Cleanup(reg.Stop)
	sm := session.NewManager(session.Config{AuthToken: testToken}, reg, nil)
	lm := layout.NewManager(sm)
	api := New(reg, lm, sm, nil)

	srv := httptest.NewServer(api.Routes(testToken))
	t.Cleanup(srv.Close)
	return api, srv
}

// call issues an authenticated request and decodes the JSON response.
func call(t *testing.T, srv *httptest.Server, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, srv.URL+path, buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("%s %s: invalid response body %q", method, path, data)
		}
	}
	return resp.StatusCode, decoded
}

func requirePTY(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("spawns unix shells")
	}
}

func TestBearerAuth(t *testing.T) {
	_, srv := newTestAPI(t)

	// No token.
	resp, err := http.Get(srv.URL + "/api/v1/layout")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status %d, want 401", resp.StatusCode)
	}

	// Wrong token.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/layout", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token: status %d, want 401", resp.StatusCode)
	}

	// Query-parameter token, for CLI use.
	resp, err = http.Get(srv.URL + "/api/v1/layout?token=" + testToken)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("query token: status %d, want 200", resp.StatusCode)
	}

	// Health stays open.
	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health: status %d, want 200", resp.StatusCode)
	}
}

func TestTabLifecycle(t *testing.T) {
	requirePTY(t)
	t.Setenv("SHELL", "/bin/cat")
	_, srv := newTestAPI(t)

	status, created := call(t, srv, http.MethodPost, "/api/v1/tabs", map[string]any{"title": "work"})
	if status != http.StatusCreated {
		t.Fatalf("create tab: status %d", status)
	}
	tabID := created["tabId"].(string)
	if created["paneId"] == "" || created["terminalId"] == "" {
		t.Fatalf("create tab response = %v", created)
	}

	status, layoutResp := call(t, srv, http.MethodGet, "/api/v1/layout", nil)
	if status != http.StatusOK {
		t.Fatalf("layout: status %d", status)
	}
	tabs := layoutResp["tabs"].([]any)
	if len(tabs) != 1 {
		t.Fatalf("layout has %d tabs, want 1", len(tabs))
	}

	status, _ = call(t, srv, http.MethodPut, "/api/v1/tabs/"+tabID+"/rename", map[string]any{"name": "renamed"})
	if status != http.StatusOK {
		t.Errorf("rename: status %d", status)
	}
	status, _ = call(t, srv, http.MethodPut, "/api/v1/tabs/"+tabID+"/select", nil)
	if status != http.StatusOK {
		t.Errorf("select: status %d", status)
	}

	status, _ = call(t, srv, http.MethodDelete, "/api/v1/tabs/"+tabID, nil)
	if status != http.StatusOK {
		t.Errorf("close: status %d", status)
	}
	status, _ = call(t, srv, http.MethodDelete, "/api/v1/tabs/"+tabID, nil)
	if status != http.StatusNotFound {
		t.Errorf("close missing tab: status %d, want 404", status)
	}
}

func TestSplitResolveClose(t *testing.T) {
	requirePTY(t)
	t.Setenv("SHELL", "/bin/cat")
	api, srv := newTestAPI(t)

	_, created := call(t, srv, http.MethodPost, "/api/v1/tabs", map[string]any{"title": "dev"})
	paneID := created["paneId"].(string)

	status, split := call(t, srv, http.MethodPost, "/api/v1/panes/"+paneID+"/split",
		map[string]any{"direction": "vertical"})
	if status != http.StatusCreated {
		t.Fatalf("split: status %d (%v)", status, split)
	}
	newPane := split["paneId"].(string)
	if split["terminalId"] == "" {
		t.Error("split did not spawn a terminal")
	}

	// The new pane is index 1 in the tab's leaf order.
	status, res := call(t, srv, http.MethodPost, "/api/v1/resolve", map[string]any{"target": "dev.1"})
	if status != http.StatusOK || res["paneId"] != newPane {
		t.Errorf("resolve dev.1 = %d %v, want pane %s", status, res, newPane)
	}

	// Split addressed by compound target rather than pane ID.
	status, _ = call(t, srv, http.MethodPost, "/api/v1/panes/dev.0/split", map[string]any{"direction": "horizontal"})
	if status != http.StatusCreated {
		t.Errorf("split by target: status %d", status)
	}

	status, _ = call(t, srv, http.MethodDelete, "/api/v1/panes/"+newPane, nil)
	if status != http.StatusOK {
		t.Errorf("close pane: status %d", status)
	}
	if n := len(api.Layout.Snapshot()[0].Panes); n != 2 {
		t.Errorf("panes after close = %d, want 2", n)
	}

	status, _ = call(t, srv, http.MethodPost, "/api/v1/panes/pane_missing/split", map[string]any{"direction": "vertical"})
	if status != http.StatusNotFound {
		t.Errorf("split missing pane: status %d, want 404", status)
	}
}

func TestResolveEndpoint(t *testing.T) {
	requirePTY(t)
	t.Setenv("SHELL", "/bin/cat")
	_, srv := newTestAPI(t)

	_, created := call(t, srv, http.MethodPost, "/api/v1/tabs", map[string]any{"title": "main"})
	tabID := created["tabId"].(string)
	paneID := created["paneId"].(string)

	status, res := call(t, srv, http.MethodPost, "/api/v1/resolve", map[string]any{"target": "main"})
	if status != http.StatusOK || res["tabId"] != tabID || res["paneId"] != paneID {
		t.Errorf("resolve by title = %d %v", status, res)
	}

	status, res = call(t, srv, http.MethodPost, "/api/v1/resolve", map[string]any{"target": "nope"})
	if status != http.StatusNotFound {
		t.Errorf("unresolved target: status %d, want 404", status)
	}
	if res["message"] == "" {
		t.Error("unresolved target missing diagnostic message")
	}
}

func TestBrowserPaneHoldsNoTerminal(t *testing.T) {
	_, srv := newTestAPI(t)

	status, created := call(t, srv, http.MethodPost, "/api/v1/tabs",
		map[string]any{"title": "web", "browser": "https://example.com"})
	if status != http.StatusCreated {
		t.Fatalf("create browser tab: status %d", status)
	}
	if _, ok := created["terminalId"]; ok {
		t.Errorf("browser tab spawned a terminal: %v", created)
	}

	paneID := created["paneId"].(string)
	status, _ = call(t, srv, http.MethodPost, "/api/v1/panes/"+paneID+"/input",
		map[string]any{"data": "ls"})
	if status != http.StatusConflict {
		t.Errorf("input to browser pane: status %d, want 409", status)
	}
}

func TestSendInputAndCaptureOutput(t *testing.T) {
	requirePTY(t)
	t.Setenv("SHELL", "/bin/cat")
	_, srv := newTestAPI(t)

	_, created := call(t, srv, http.MethodPost, "/api/v1/tabs", map[string]any{"title": "io"})
	paneID := created["paneId"].(string)

	status, sent := call(t, srv, http.MethodPost, "/api/v1/panes/"+paneID+"/input",
		map[string]any{"data": "capture-me", "submit": true})
	if status != http.StatusOK {
		t.Fatalf("input: status %d (%v)", status, sent)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		status, out := call(t, srv, http.MethodGet, "/api/v1/panes/"+paneID+"/output", nil)
		if status != http.StatusOK {
			t.Fatalf("output: status %d", status)
		}
		if strings.Contains(out["data"].(string), "capture-me") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("output never contained the marker: %q", out["data"])
		}
		time.Sleep(20 * time.Millisecond)
	}

	// The last-N window trims from the front.
	status, out := call(t, srv, http.MethodGet, "/api/v1/panes/"+paneID+"/output?last=3", nil)
	if status != http.StatusOK || len(out["data"].(string)) != 3 {
		t.Errorf("output?last=3 = %d %q", status, out["data"])
	}
}

func TestWaitFor(t *testing.T) {
	requirePTY(t)
	t.Setenv("SHELL", "/bin/cat")
	_, srv := newTestAPI(t)

	_, created := call(t, srv, http.MethodPost, "/api/v1/tabs", map[string]any{"title": "w"})
	paneID := created["paneId"].(string)

	call(t, srv, http.MethodPost, "/api/v1/panes/"+paneID+"/input",
		map[string]any{"data": "WAIT-TOKEN", "submit": true})

	status, res := call(t, srv, http.MethodPost, "/api/v1/panes/"+paneID+"/wait",
		map[string]any{"match": "WAIT-TOKEN", "timeoutMs": 10000})
	if status != http.StatusOK || res["matched"] != true {
		t.Errorf("wait match = %d %v", status, res)
	}

	// Quiet terminal: the stability condition fires.
	status, res = call(t, srv, http.MethodPost, "/api/v1/panes/"+paneID+"/wait",
		map[string]any{"stableMs": 200, "timeoutMs": 10000})
	if status != http.StatusOK || res["stable"] != true {
		t.Errorf("wait stable = %d %v", status, res)
	}

	// Pattern that never matches: the timeout fires, still a 200.
	status, res = call(t, srv, http.MethodPost, "/api/v1/panes/"+paneID+"/wait",
		map[string]any{"match": "NEVER-APPEARS", "timeoutMs": 300})
	if status != http.StatusOK || res["timedOut"] != true {
		t.Errorf("wait timeout = %d %v", status, res)
	}

	status, _ = call(t, srv, http.MethodPost, "/api/v1/panes/"+paneID+"/wait",
		map[string]any{"match": "([invalid"})
	if status != http.StatusBadRequest {
		t.Errorf("invalid pattern: status %d, want 400", status)
	}
}

func TestTerminalEndpoints(t *testing.T) {
	requirePTY(t)
	t.Setenv("SHELL", "/bin/cat")
	api, srv := newTestAPI(t)

	_, created := call(t, srv, http.MethodPost, "/api/v1/tabs", map[string]any{"title": "k"})
	termID := created["terminalId"].(string)

	status, list := call(t, srv, http.MethodGet, "/api/v1/terminals", nil)
	if status != http.StatusOK || len(list["terminals"].([]any)) != 1 {
		t.Fatalf("terminals = %d %v", status, list)
	}

	status, _ = call(t, srv, http.MethodDelete, "/api/v1/terminals/"+termID, nil)
	if status != http.StatusOK {
		t.Errorf("kill: status %d", status)
	}
	status, _ = call(t, srv, http.MethodDelete, "/api/v1/terminals/missing", nil)
	if status != http.StatusNotFound {
		t.Errorf("kill missing: status %d, want 404", status)
	}

	term := api.Registry.Get(termID)
	select {
	case <-term.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("terminal never exited")
	}

	// Input to the dead terminal's pane now conflicts.
	paneID := created["paneId"].(string)
	status, _ = call(t, srv, http.MethodPost, "/api/v1/panes/"+paneID+"/input",
		map[string]any{"data": "x"})
	if status != http.StatusConflict {
		t.Errorf("input after exit: status %d, want 409", status)
	}
}

func TestHistoryWithoutStore(t *testing.T) {
	_, srv := newTestAPI(t)
	status, res := call(t, srv, http.MethodGet, "/api/v1/history", nil)
	if status != http.StatusOK {
		t.Fatalf("history: status %d", status)
	}
	if sessions, ok := res["sessions"].([]any); !ok || len(sessions) != 0 {
		t.Errorf("history without a store = %v", res)
	}
}

func TestHealth(t *testing.T) {
	_, srv := newTestAPI(t)
	status, res := call(t, srv, http.MethodGet, "/health", nil)
	if status != http.StatusOK || res["status"] != "healthy" {
		t.Errorf("health = %d %v", status, res)
	}
	if _, ok := res["terminals"]; !ok {
		t.Error("health missing terminals gauge")
	}
}

func TestResizeViaChildPane(t *testing.T) {
	requirePTY(t)
	t.Setenv("SHELL", "/bin/cat")
	_, srv := newTestAPI(t)

	_, created := call(t, srv, http.MethodPost, "/api/v1/tabs", map[string]any{"title": "r"})
	tabID := created["tabId"].(string)
	paneID := created["paneId"].(string)
	call(t, srv, http.MethodPost, "/api/v1/panes/"+paneID+"/split", map[string]any{"direction": "vertical"})

	status, _ := call(t, srv, http.MethodPut, "/api/v1/panes/resize",
		map[string]any{"tabId": tabID, "paneId": paneID, "sizes": []int{70, 30}})
	if status != http.StatusOK {
		t.Errorf("resize via child pane: status %d", status)
	}

	status, _ = call(t, srv, http.MethodPut, "/api/v1/panes/resize",
		map[string]any{"tabId": tabID, "paneId": "pane_missing", "sizes": []int{50, 50}})
	if status != http.StatusNotFound {
		t.Errorf("resize missing pane: status %d, want 404", status)
	}
}

func TestSwapPanes(t *testing.T) {
	requirePTY(t)
	t.Setenv("SHELL", "/bin/cat")
	api, srv := newTestAPI(t)

	_, created := call(t, srv, http.MethodPost, "/api/v1/tabs", map[string]any{"title": "s"})
	tabID := created["tabId"].(string)
	paneID := created["paneId"].(string)
	_, split := call(t, srv, http.MethodPost, "/api/v1/panes/"+paneID+"/split",
		map[string]any{"direction": "horizontal", "browser": "https://example.com"})
	otherID := split["paneId"].(string)

	status, _ := call(t, srv, http.MethodPut, "/api/v1/panes/swap",
		map[string]any{"tabId": tabID, "paneId": paneID, "otherId": otherID})
	if status != http.StatusOK {
		t.Fatalf("swap: status %d", status)
	}

	content, err := api.Layout.PaneContent(paneID)
	if err != nil || content.Kind != layout.ContentBrowser {
		t.Errorf("pane content after swap = %+v, %v", content, err)
	}
}

func TestGetLogs(t *testing.T) {
	_, srv := newTestAPI(t)

	path := filepath.Join(t.TempDir(), "server.log")
	if err := os.WriteFile(path, []byte("line1\nline2\nline3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	old := config.Cfg.LogPath
	config.Cfg.LogPath = path
	t.Cleanup(func() { config.Cfg.LogPath = old })

	status, body := call(t, srv, http.MethodGet, "/api/v1/logs?lines=2", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if tail, _ := body["log"].(string); tail != "line2\nline3" {
		t.Errorf("log tail = %q, want last two lines", tail)
	}

	status, _ = call(t, srv, http.MethodGet, "/api/v1/logs?lines=zero", nil)
	if status != http.StatusBadRequest {
		t.Errorf("invalid lines: status = %d, want 400", status)
	}
}

func ExampleAPI_Health() {
	// The health endpoint needs no auth and reports cheap gauges.
	reg := terminal.NewRegistry(terminal.Config{})
	sm := session.NewManager(session.Config{}, reg, nil)
	api := New(reg, layout.NewManager(sm), sm, nil)

	srv := httptest.NewServer(api.Routes(""))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		panic(err)
	}
	defer resp.Body.Close()
	fmt.Println(resp.StatusCode)
	// Output: 200
}
