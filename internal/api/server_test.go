package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"telegramdump/internal/database"
	"telegramdump/internal/mirror"
	"telegramdump/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "messages.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seed(t *testing.T, db *database.DB, mediaDir string) {
	t.Helper()
	ctx := context.Background()
	if err := db.SaveDialog(ctx, &models.DialogMeta{ID: 42, Kind: models.EntityUser, Name: "alice", Slug: "alice"}); err != nil {
		t.Fatal(err)
	}
	for id := 1; id <= 3; id++ {
		text := "hi"
		rm := &models.RemoteMessage{ID: id, DialogID: 42, Date: time.Date(2023, 1, id, 0, 0, 0, 0, time.UTC), Text: &text, Kind: models.MediaNone}
		if id == 3 {
			rm.Kind = models.MediaPhoto
		}
		err := db.SaveMessage(ctx, rm.Record(), func(m *models.Message) error {
			if rm.Kind == models.MediaPhoto {
				name := filepath.Join(mediaDir, "alice", "2023-01", "photo.jpg")
				m.Filename = &name
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func TestListDialogsEmpty(t *testing.T) {
	s := NewServer(Options{Archive: testDB(t)})
	rr := do(t, s.Handler(), "GET", "/api/v1/dialogs", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"dialogs":[]`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestGetMessages(t *testing.T) {
	db := testDB(t)
	mediaDir := t.TempDir()
	seed(t, db, mediaDir)
	h := NewServer(Options{Archive: db, MediaDir: mediaDir}).Handler()

	rr := do(t, h, "GET", "/api/v1/dialogs/42/messages?limit=2", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Dialog   *models.DialogMeta `json:"dialog"`
		Messages []MessageView      `json:"messages"`
	}
	decode(t, rr, &body)
	if body.Dialog == nil || body.Dialog.Name != "alice" {
		t.Errorf("dialog = %+v", body.Dialog)
	}
	if len(body.Messages) != 2 || body.Messages[0].ID != 3 {
		t.Fatalf("messages = %+v", body.Messages)
	}
	if body.Messages[0].MediaURL != "/media/alice/2023-01/photo.jpg" {
		t.Errorf("media_url = %q", body.Messages[0].MediaURL)
	}
	if body.Messages[1].MediaURL != "" {
		t.Errorf("text message media_url = %q", body.Messages[1].MediaURL)
	}

	if rr := do(t, h, "GET", "/api/v1/dialogs/abc/messages", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", rr.Code)
	}
	if rr := do(t, h, "GET", "/api/v1/dialogs/7/messages", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown dialog status = %d", rr.Code)
	}
}

func TestStats(t *testing.T) {
	db := testDB(t)
	seed(t, db, t.TempDir())
	h := NewServer(Options{Archive: db}).Handler()

	rr := do(t, h, "GET", "/api/v1/stats", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Dialogs  int                  `json:"dialogs"`
		Messages int                  `json:"messages"`
		Media    []database.MediaStat `json:"media"`
	}
	decode(t, rr, &body)
	if body.Dialogs != 1 || body.Messages != 3 {
		t.Errorf("stats = %+v", body)
	}
	found := false
	for _, m := range body.Media {
		if m.Kind == "photo" && m.Messages == 1 && m.Downloaded == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("media stats = %+v", body.Media)
	}
}

func TestStartMirrorAllowsOneRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan MirrorRequest, 1)
	s := NewServer(Options{
		Archive: testDB(t),
		Mirror: func(ctx context.Context, req MirrorRequest, rep mirror.Reporter) (mirror.Summary, error) {
			started <- req
			select {
			case <-release:
			case <-ctx.Done():
				return mirror.Summary{}, ctx.Err()
			}
			return mirror.Summary{Processed: 5, Dialogs: 1, Counts: models.MediaCounts{models.MediaPhoto: 2}}, nil
		},
	})
	t.Cleanup(s.Close)
	h := s.Handler()

	rr := do(t, h, "POST", "/api/v1/mirror", `{"dialog_ids":[42],"max_n":10,"exclude_types":["video"]}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("first trigger status = %d body = %s", rr.Code, rr.Body.String())
	}
	req := <-started
	if len(req.DialogIDs) != 1 || req.DialogIDs[0] != 42 || req.MaxN != 10 {
		t.Errorf("request = %+v", req)
	}

	if rr := do(t, h, "POST", "/api/v1/mirror", ""); rr.Code != http.StatusConflict {
		t.Errorf("second trigger status = %d, want 409", rr.Code)
	}

	var st MirrorStatus
	decode(t, do(t, h, "GET", "/api/v1/mirror/status", ""), &st)
	if !st.Running {
		t.Error("status should report a running mirror")
	}

	close(release)
	s.runner.wait()

	decode(t, do(t, h, "GET", "/api/v1/mirror/status", ""), &st)
	if st.Running || st.Summary == nil || st.Summary.Processed != 5 || st.FinishedAt == nil {
		t.Errorf("final status = %+v", st)
	}

	// A new run may start once the previous one finished.
	release = make(chan struct{})
	close(release)
	if rr := do(t, h, "POST", "/api/v1/mirror", "{}"); rr.Code != http.StatusAccepted {
		t.Errorf("trigger after finish status = %d", rr.Code)
	}
	<-started
}

func TestStartMirrorValidation(t *testing.T) {
	s := NewServer(Options{
		Archive: testDB(t),
		Mirror: func(context.Context, MirrorRequest, mirror.Reporter) (mirror.Summary, error) {
			return mirror.Summary{}, nil
		},
	})
	t.Cleanup(s.Close)
	h := s.Handler()

	if rr := do(t, h, "POST", "/api/v1/mirror", `{"exclude_types":["hologram"]}`); rr.Code != http.StatusBadRequest {
		t.Errorf("unknown kind status = %d", rr.Code)
	}
	if rr := do(t, h, "POST", "/api/v1/mirror", `{"max_n":-1}`); rr.Code != http.StatusBadRequest {
		t.Errorf("negative max_n status = %d", rr.Code)
	}
	if rr := do(t, h, "POST", "/api/v1/mirror", `not json`); rr.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", rr.Code)
	}

	readOnly := NewServer(Options{Archive: testDB(t)}).Handler()
	if rr := do(t, readOnly, "POST", "/api/v1/mirror", ""); rr.Code != http.StatusNotImplemented {
		t.Errorf("read-only server status = %d", rr.Code)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	return ev
}

func TestWebSocketStream(t *testing.T) {
	s := NewServer(Options{Archive: testDB(t)})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	if ev := readEvent(t, conn); ev.Type != "mirror_status" || ev.Running == nil || *ev.Running {
		t.Errorf("greeting = %+v", ev)
	}

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatal(err)
	}
	if ev := readEvent(t, conn); ev.Type != "pong" {
		t.Errorf("reply = %+v, want pong", ev)
	}

	// The pong proves registration; events now reach this client.
	s.Hub().DialogStarted(mirror.DialogStart{ID: 42, Name: "alice", Limit: 10})
	ev := readEvent(t, conn)
	if ev.Type != "dialog_started" || ev.DialogID != 42 || ev.Name != "alice" || ev.Limit != 10 {
		t.Errorf("event = %+v", ev)
	}

	s.Hub().DialogFinished(42, models.MediaCounts{models.MediaPhoto: 3}, nil)
	ev = readEvent(t, conn)
	if ev.Type != "dialog_finished" || len(ev.Counts) != 1 || ev.Counts[0].Count != 3 {
		t.Errorf("event = %+v", ev)
	}
}

func TestMediaURL(t *testing.T) {
	root := t.TempDir()
	s := NewServer(Options{MediaDir: root})
	inside := filepath.Join(root, "bob", "2020-01", "a b.jpg")
	outside := filepath.Join(filepath.Dir(root), "elsewhere.jpg")

	if got := s.mediaURL(&inside); got != "/media/bob/2020-01/a b.jpg" {
		t.Errorf("mediaURL(inside) = %q", got)
	}
	if got := s.mediaURL(&outside); got != "" {
		t.Errorf("mediaURL(outside) = %q", got)
	}
	if got := s.mediaURL(nil); got != "" {
		t.Errorf("mediaURL(nil) = %q", got)
	}
}
