package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"
)

// TestSystem runs a coordinator process and a handful of storage node
// processes against the built binaries, exercising the cluster purely
// over HTTP the way a real deployment would be driven.
type TestSystem struct {
	t          *testing.T
	coord      *exec.Cmd
	nodes      []*exec.Cmd
	coordAddr  string
	nodeAddrs  []string
	httpClient *http.Client
}

func NewTestSystem(t *testing.T) *TestSystem {
	return &TestSystem{
		t:         t,
		coordAddr: "http://127.0.0.1:18080",
		nodeAddrs: []string{
			"http://127.0.0.1:18081",
			"http://127.0.0.1:18082",
		},
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Start launches the coordinator and nodes and waits for each node to
// register and be promoted Active by the coordinator's heartbeat poll.
func (ts *TestSystem) Start() error {
	ts.t.Log("starting coordinator...")
	ts.coord = exec.Command("./bin/coordinator")
	ts.coord.Env = append(os.Environ(),
		"COORDINATOR_ADDR=:18080",
		"COORDINATOR_ID=coord-1",
		"COORDINATOR_PEERS=coord-1=http://127.0.0.1:18080",
		"COORDINATOR_DATA_DIR="+ts.t.TempDir()+"/coordinator",
		// 256KiB shards, so testMultiShardFile's ~1.1MB file spans
		// several shards.
		"SHARDVAULT_UPLOAD_SHARD_SIZE=262144",
	)
	ts.coord.Stdout = os.Stdout
	ts.coord.Stderr = os.Stderr
	if err := ts.coord.Start(); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}
	if err := ts.waitForService(ts.coordAddr + "/health"); err != nil {
		return fmt.Errorf("coordinator failed to start: %w", err)
	}

	for i, addr := range ts.nodeAddrs {
		ts.t.Logf("starting node %d...", i+1)
		node := exec.Command("./bin/node")
		node.Env = append(os.Environ(),
			fmt.Sprintf("NODE_ID=n%d", i+1),
			fmt.Sprintf("NODE_LISTEN=:1808%d", i+1),
			fmt.Sprintf("NODE_ADDR=%s", addr),
			fmt.Sprintf("COORDINATOR_ADDR=%s", ts.coordAddr),
			fmt.Sprintf("NODE_DATA_DIR=%s/n%d", ts.t.TempDir(), i+1),
		)
		node.Stdout = os.Stdout
		node.Stderr = os.Stderr
		if err := node.Start(); err != nil {
			return fmt.Errorf("failed to start node %d: %w", i+1, err)
		}
		ts.nodes = append(ts.nodes, node)

		if err := ts.waitForService(addr + "/health"); err != nil {
			return fmt.Errorf("node %d failed to start: %w", i+1, err)
		}
	}

	// The coordinator's heartbeat poller runs on a 1s interval by
	// default; give it two rounds to promote every node Joining -> Active
	// before any test issues an Upload that needs placement candidates.
	time.Sleep(2 * time.Second)
	return nil
}

func (ts *TestSystem) Stop() {
	for i, node := range ts.nodes {
		if node != nil && node.Process != nil {
			ts.t.Logf("stopping node %d...", i+1)
			node.Process.Kill()
			node.Wait()
		}
	}
	if ts.coord != nil && ts.coord.Process != nil {
		ts.t.Log("stopping coordinator...")
		ts.coord.Process.Kill()
		ts.coord.Wait()
	}
}

func (ts *TestSystem) waitForService(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %s", url)
		default:
			resp, err := ts.httpClient.Get(url)
			if err == nil && resp.StatusCode == http.StatusOK {
				resp.Body.Close()
				return nil
			}
			if resp != nil {
				resp.Body.Close()
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// Upload stores data as owner/name and returns the response status.
func (ts *TestSystem) Upload(owner, name string, data []byte) (int, error) {
	u := fmt.Sprintf("%s/upload?owner=%s&name=%s", ts.coordAddr, url.QueryEscape(owner), url.QueryEscape(name))
	resp, err := ts.httpClient.Do(newRequest("POST", u, data))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// Download retrieves owner/name's bytes.
func (ts *TestSystem) Download(owner, name string) (int, []byte, error) {
	u := fmt.Sprintf("%s/download?owner=%s&name=%s", ts.coordAddr, url.QueryEscape(owner), url.QueryEscape(name))
	resp, err := ts.httpClient.Get(u)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, err
}

// Delete removes owner/name.
func (ts *TestSystem) Delete(owner, name string) (int, error) {
	u := fmt.Sprintf("%s/delete?owner=%s&name=%s", ts.coordAddr, url.QueryEscape(owner), url.QueryEscape(name))
	req, _ := http.NewRequest("DELETE", u, nil)
	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// List returns every file owned by owner.
func (ts *TestSystem) List(owner string) ([]map[string]any, error) {
	u := fmt.Sprintf("%s/list?owner=%s", ts.coordAddr, url.QueryEscape(owner))
	resp, err := ts.httpClient.Get(u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var result struct {
		Files []map[string]any `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Files, nil
}

// Status returns the coordinator's cluster status view.
func (ts *TestSystem) Status() (map[string]any, error) {
	resp, err := ts.httpClient.Get(ts.coordAddr + "/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result, nil
}

func newRequest(method, u string, body []byte) *http.Request {
	req, _ := http.NewRequest(method, u, bytes.NewReader(body))
	return req
}

// TestDistributedStorage runs end-to-end scenarios (spec §8's worked
// examples: upload/download round trip, delete, search/list, concurrent
// clients) against real coordinator and node binaries.
func TestDistributedStorage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if _, err := os.Stat("./bin/coordinator"); os.IsNotExist(err) {
		t.Skip("skipping integration test: coordinator binary not found (run 'make build' first)")
	}
	if _, err := os.Stat("./bin/node"); os.IsNotExist(err) {
		t.Skip("skipping integration test: node binary not found (run 'make build' first)")
	}

	ts := NewTestSystem(t)
	if err := ts.Start(); err != nil {
		t.Fatalf("failed to start test system: %v", err)
	}
	defer ts.Stop()

	t.Run("UploadAndDownload", func(t *testing.T) { testUploadAndDownload(t, ts) })
	t.Run("OverwriteExistingFile", func(t *testing.T) { testOverwriteExistingFile(t, ts) })
	t.Run("DeleteFile", func(t *testing.T) { testDeleteFile(t, ts) })
	t.Run("NonExistentFile", func(t *testing.T) { testNonExistentFile(t, ts) })
	t.Run("ListAndSearch", func(t *testing.T) { testListAndSearch(t, ts) })
	t.Run("ConcurrentUploads", func(t *testing.T) { testConcurrentUploads(t, ts) })
	t.Run("StatusReportsActiveNodes", func(t *testing.T) { testStatusReportsActiveNodes(t, ts) })
	t.Run("MultiShardFile", func(t *testing.T) { testMultiShardFile(t, ts) })
}

func testUploadAndDownload(t *testing.T, ts *TestSystem) {
	status, err := ts.Upload("alice", "greeting.txt", []byte("Hello World"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("Upload status = %d, want 200", status)
	}

	status, data, err := ts.Download("alice", "greeting.txt")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("Download status = %d, want 200", status)
	}
	if string(data) != "Hello World" {
		t.Fatalf("Download data = %q, want %q", data, "Hello World")
	}
}

func testOverwriteExistingFile(t *testing.T, ts *TestSystem) {
	ts.Upload("bob", "counter.txt", []byte("1"))
	status, err := ts.Upload("bob", "counter.txt", []byte("2"))
	if err != nil {
		t.Fatalf("Upload (overwrite): %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("Upload (overwrite) status = %d, want 200", status)
	}
	_, data, _ := ts.Download("bob", "counter.txt")
	if string(data) != "2" {
		t.Fatalf("Download after overwrite = %q, want %q", data, "2")
	}
}

func testDeleteFile(t *testing.T, ts *TestSystem) {
	ts.Upload("carol", "temp.txt", []byte("temporary data"))

	status, err := ts.Delete("carol", "temp.txt")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("Delete status = %d, want 200", status)
	}

	status, _, _ = ts.Download("carol", "temp.txt")
	if status != http.StatusNotFound {
		t.Fatalf("Download after delete status = %d, want 404", status)
	}
}

func testNonExistentFile(t *testing.T, ts *TestSystem) {
	status, _, err := ts.Download("nobody", "does-not-exist.txt")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
}

func testListAndSearch(t *testing.T, ts *TestSystem) {
	owner := "dana"
	ts.Upload(owner, "logs/a.txt", []byte("1"))
	ts.Upload(owner, "logs/b.txt", []byte("2"))
	ts.Upload(owner, "images/c.png", []byte("3"))

	files, err := ts.List(owner)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) < 3 {
		t.Fatalf("List returned %d files, want at least 3", len(files))
	}

	u := fmt.Sprintf("%s/search?owner=%s&prefix=%s", ts.coordAddr, url.QueryEscape(owner), url.QueryEscape("logs/"))
	resp, err := ts.httpClient.Get(u)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	defer resp.Body.Close()
	var result struct {
		Files []map[string]any `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Search decode: %v", err)
	}
	if len(result.Files) != 2 {
		t.Fatalf("Search returned %d files, want 2", len(result.Files))
	}
}

func testConcurrentUploads(t *testing.T, ts *TestSystem) {
	const numClients = 10
	var wg sync.WaitGroup
	errs := make(chan error, numClients*2)

	wg.Add(numClients)
	for i := 0; i < numClients; i++ {
		go func(id int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent-%d.bin", id)
			value := fmt.Sprintf("concurrent-value-%d", id)
			if status, err := ts.Upload("erin", name, []byte(value)); err != nil || status != http.StatusOK {
				errs <- fmt.Errorf("upload failed for client %d: status=%d err=%w", id, status, err)
			}
		}(i)
	}
	wg.Wait()

	wg.Add(numClients)
	for i := 0; i < numClients; i++ {
		go func(id int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent-%d.bin", id)
			want := fmt.Sprintf("concurrent-value-%d", id)
			_, data, err := ts.Download("erin", name)
			if err != nil {
				errs <- fmt.Errorf("download failed for client %d: %w", id, err)
				return
			}
			if string(data) != want {
				errs <- fmt.Errorf("client %d: got %q, want %q", id, data, want)
			}
		}(i)
	}
	wg.Wait()

	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func testStatusReportsActiveNodes(t *testing.T, ts *TestSystem) {
	status, err := ts.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	nodes, _ := status["nodes"].([]any)
	if len(nodes) != len(ts.nodeAddrs) {
		t.Fatalf("Status reported %d nodes, want %d", len(nodes), len(ts.nodeAddrs))
	}
}

// testMultiShardFile uploads a ~1.1MB file, which the coordinator's
// 256KiB shard size (set in Start) splits into five shards, and checks
// that it downloads byte for byte.
func testMultiShardFile(t *testing.T, ts *TestSystem) {
	data := bytes.Repeat([]byte("shardvault-"), 100000) // ~1.1MB
	status, err := ts.Upload("frank", "bigfile.bin", data)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("Upload status = %d, want 200", status)
	}
	_, got, err := ts.Download("frank", "bigfile.bin")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("downloaded data does not match uploaded data (%d bytes vs %d bytes)", len(got), len(data))
	}
}
