package gateway_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/basket/wolfpack/internal/bus"
	"github.com/basket/wolfpack/internal/gateway"
)

type sseFrame struct {
	id    string
	event string
	data  string
}

// openStream connects to the event stream with a query-string token and
// waits for the connected comment.
func openStream(t *testing.T, env *testEnv, token string) (*bufio.Reader, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/api/events/stream?token="+token, nil)
	if err != nil {
		cancel()
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("stream request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		t.Fatalf("stream status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	rd := bufio.NewReader(resp.Body)
	line, err := rd.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, ": connected") {
		t.Fatalf("first line = %q, err = %v", line, err)
	}
	return rd, func() {
		cancel()
		resp.Body.Close()
	}
}

// nextFrame reads until the next data-carrying frame, skipping comments.
func nextFrame(t *testing.T, rd *bufio.Reader) sseFrame {
	t.Helper()
	type result struct {
		f   sseFrame
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var f sseFrame
		for {
			line, err := rd.ReadString('\n')
			if err != nil {
				ch <- result{err: err}
				return
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "id: "):
				f.id = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "event: "):
				f.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				f.data = strings.TrimPrefix(line, "data: ")
			case line == "" && f.data != "":
				ch <- result{f: f}
				return
			}
		}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("read frame: %v", r.err)
		}
		return r.f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for an SSE frame")
	}
	return sseFrame{}
}

func TestStreamSSE_OwnEventsOnly(t *testing.T) {
	env := apiTestServer(t)
	mine := env.register(t, "mine@example.com")
	other := env.register(t, "other@example.com")

	rd, closeStream := openStream(t, env, mine.Token)
	defer closeStream()

	env.do(t, http.MethodPost, "/api/tasks/grind", other.Token, map[string]any{"taskId": "task-2"}, nil)
	env.do(t, http.MethodPost, "/api/tasks/grind", mine.Token, map[string]any{"taskId": "task-1"}, nil)

	f := nextFrame(t, rd)
	if f.event != "task_grind" || f.id == "" {
		t.Fatalf("frame = %+v", f)
	}
	var ev bus.ActivityEvent
	if err := json.Unmarshal([]byte(f.data), &ev); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if ev.UserID != mine.User.ID || ev.TaskID != "task-1" || ev.EventID != f.id {
		t.Fatalf("event = %+v", ev)
	}
}

func TestStreamSSE_Heartbeat(t *testing.T) {
	env := apiTestServer(t)
	tok := env.register(t, "ping@example.com").Token
	rd, closeStream := openStream(t, env, tok)
	defer closeStream()

	done := make(chan string, 1)
	go func() {
		for {
			line, err := rd.ReadString('\n')
			if err != nil {
				done <- ""
				return
			}
			if strings.HasPrefix(line, ": ping") {
				done <- line
				return
			}
		}
	}()
	select {
	case line := <-done:
		if line == "" {
			t.Fatal("stream closed before heartbeat")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat within 2s")
	}
}

func TestStreamSSE_Rejections(t *testing.T) {
	env := apiTestServer(t)
	tok := env.register(t, "reject@example.com").Token

	resp, err := http.Get(env.ts.URL + "/api/events/stream")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", resp.StatusCode)
	}

	if code := env.do(t, http.MethodPost, "/api/events/stream", tok, nil, nil); code != http.StatusMethodNotAllowed {
		t.Fatalf("POST = %d, want 405", code)
	}

	noBus := apiTestServer(t, func(c *gateway.Config) { c.Bus = nil })
	tok = noBus.register(t, "nobus@example.com").Token
	if code := noBus.do(t, http.MethodGet, "/api/events/stream", tok, nil, nil); code != http.StatusServiceUnavailable {
		t.Fatalf("without bus = %d, want 503", code)
	}
}
