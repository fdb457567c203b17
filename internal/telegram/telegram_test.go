package telegram

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/goccy/go-json"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"telegramdump/internal/mirror"
	"telegramdump/internal/models"
)

func TestMarkPeer(t *testing.T) {
	tests := []struct {
		peer tg.PeerClass
		want int64
		kind models.EntityKind
		bare int64
	}{
		{&tg.PeerUser{UserID: 777000}, 777000, models.EntityUser, 777000},
		{&tg.PeerChat{ChatID: 1234}, -1234, models.EntityGroup, 1234},
		{&tg.PeerChannel{ChannelID: 1234}, -1000000001234, models.EntityChannel, 1234},
	}
	for _, tt := range tests {
		got := MarkPeer(tt.peer)
		if got != tt.want {
			t.Errorf("MarkPeer(%T) = %d, want %d", tt.peer, got, tt.want)
		}
		kind, bare := UnmarkPeer(got)
		if kind != tt.kind || bare != tt.bare {
			t.Errorf("UnmarkPeer(%d) = %s %d, want %s %d", got, kind, bare, tt.kind, tt.bare)
		}
	}
}

func TestPeersFrom(t *testing.T) {
	users := []tg.UserClass{
		&tg.User{ID: 1, AccessHash: 11, Username: "alice", FirstName: "Alice"},
		&tg.UserEmpty{ID: 2},
	}
	chats := []tg.ChatClass{
		&tg.Chat{ID: 3, Title: "Family"},
		&tg.Channel{ID: 4, AccessHash: 44, Title: "News", Broadcast: true},
		&tg.Channel{ID: 5, AccessHash: 55, Title: "Devs", Megagroup: true},
	}
	peers := peersFrom(users, chats)

	if len(peers) != 4 {
		t.Fatalf("got %d peers, want 4", len(peers))
	}
	if p := peers[1]; p.entity.DisplayName() != "alice" {
		t.Errorf("user name = %q", p.entity.DisplayName())
	}
	if in, ok := peers[1].input.(*tg.InputPeerUser); !ok || in.AccessHash != 11 {
		t.Errorf("user input = %#v", peers[1].input)
	}
	if p := peers[-3]; p.entity.Kind != models.EntityGroup || p.entity.Title != "Family" {
		t.Errorf("chat = %+v", p.entity)
	}
	if p := peers[-1000000000004]; p.entity.Kind != models.EntityChannel {
		t.Errorf("broadcast channel kind = %s", p.entity.Kind)
	}
	if p := peers[-1000000000005]; p.entity.Kind != models.EntityGroup {
		t.Errorf("supergroup kind = %s", p.entity.Kind)
	}
	if in, ok := peers[-1000000000005].input.(*tg.InputPeerChannel); !ok || in.AccessHash != 55 {
		t.Errorf("supergroup input = %#v", peers[-1000000000005].input)
	}
}

func TestMediaKind(t *testing.T) {
	video := &tg.Document{Attributes: []tg.DocumentAttributeClass{
		&tg.DocumentAttributeFilename{FileName: "clip.mp4"},
		&tg.DocumentAttributeVideo{Duration: 3},
	}}
	voice := &tg.Document{Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{Voice: true}}}
	pdf := &tg.Document{MimeType: "application/pdf"}

	tests := []struct {
		name  string
		media tg.MessageMediaClass
		want  models.MediaKind
	}{
		{"nil", nil, models.MediaNone},
		{"empty", &tg.MessageMediaEmpty{}, models.MediaNone},
		{"photo", &tg.MessageMediaPhoto{Photo: &tg.Photo{}}, models.MediaPhoto},
		{"video", &tg.MessageMediaDocument{Document: video}, models.MediaVideo},
		{"audio", &tg.MessageMediaDocument{Document: voice}, models.MediaAudio},
		{"document", &tg.MessageMediaDocument{Document: pdf}, models.MediaDocument},
		{"geo", &tg.MessageMediaGeo{}, models.MediaOther},
		{"webpage", &tg.MessageMediaWebPage{}, models.MediaOther},
		{"poll", &tg.MessageMediaPoll{}, models.MediaOther},
	}
	for _, tt := range tests {
		if got := MediaKind(tt.media); got != tt.want {
			t.Errorf("MediaKind(%s) = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestConvertMessage(t *testing.T) {
	msg := &tg.Message{
		ID:      17,
		Date:    1600000000,
		Message: "hello",
		PeerID:  &tg.PeerUser{UserID: 42},
	}
	rm, ok, err := convertMessage(42, msg)
	if err != nil || !ok {
		t.Fatalf("convertMessage() = %v, %v", ok, err)
	}
	if rm.ID != 17 || rm.DialogID != 42 || rm.Kind != models.MediaNone {
		t.Errorf("converted = %+v", rm)
	}
	if rm.Text == nil || *rm.Text != "hello" {
		t.Errorf("Text = %v", rm.Text)
	}
	if !rm.Date.Equal(time.Unix(1600000000, 0)) || rm.Date.Location() != time.UTC {
		t.Errorf("Date = %v", rm.Date)
	}

	var snap map[string]any
	if err := json.Unmarshal(rm.Snapshot, &snap); err != nil {
		t.Fatalf("snapshot is not JSON: %v\n%s", err, rm.Snapshot)
	}
	if snap["_"] != "message" {
		t.Errorf(`snapshot "_" = %v, want message`, snap["_"])
	}
	if snap["Message"] != "hello" {
		t.Errorf("snapshot Message = %v", snap["Message"])
	}

	svc := &tg.MessageService{ID: 18, Date: 1600000001, Action: &tg.MessageActionChatCreate{Title: "x"}}
	rm, ok, err = convertMessage(-5, svc)
	if err != nil || !ok {
		t.Fatalf("convertMessage(service) = %v, %v", ok, err)
	}
	if rm.Text != nil || rm.Kind != models.MediaNone {
		t.Errorf("service message = %+v", rm)
	}

	if _, ok, _ := convertMessage(1, &tg.MessageEmpty{ID: 3}); ok {
		t.Error("empty message should be skipped")
	}
}

func ids(msgs []tg.MessageClass) []int {
	out := make([]int, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.GetID())
	}
	return out
}

func batch(idList ...int) []tg.MessageClass {
	out := make([]tg.MessageClass, 0, len(idList))
	for _, id := range idList {
		out = append(out, &tg.Message{ID: id})
	}
	return out
}

func equal(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestWindowDescending(t *testing.T) {
	w := newWindow(mirror.Query{MaxID: 100})
	req := w.request(&tg.InputPeerEmpty{}, 3)
	if req.OffsetID != 100 || req.AddOffset != 0 || req.Limit != 3 {
		t.Errorf("request = %+v", req)
	}

	got := w.accept(batch(97, 99, 98), 3)
	if !equal(ids(got), []int{99, 98, 97}) {
		t.Errorf("accept() = %v, want newest first", ids(got))
	}
	if w.done || w.next != 97 {
		t.Errorf("window = next %d done %v", w.next, w.done)
	}

	got = w.accept(batch(96), 3)
	if !equal(ids(got), []int{96}) || !w.done {
		t.Errorf("short batch should finish the pass: %v done=%v", ids(got), w.done)
	}
}

func TestWindowReverse(t *testing.T) {
	w := newWindow(mirror.Query{MinID: 200, Reverse: true})
	req := w.request(&tg.InputPeerEmpty{}, 2)
	if req.OffsetID != 201 || req.AddOffset != -2 || req.MinID != 0 {
		t.Errorf("request = %+v", req)
	}

	// Servers may include the boundary message; it is dropped.
	got := w.accept(batch(202, 201, 200), 2)
	if !equal(ids(got), []int{201, 202}) {
		t.Errorf("accept() = %v, want [201 202]", ids(got))
	}
	if w.next != 203 || w.done {
		t.Errorf("window = next %d done %v", w.next, w.done)
	}

	if got := w.accept(nil, 2); got != nil || !w.done {
		t.Errorf("empty batch should finish the pass")
	}
}

func TestWindowBounds(t *testing.T) {
	w := newWindow(mirror.Query{MinID: 10, MaxID: 20})
	got := w.accept(batch(25, 19, 15, 10, 5), 5)
	if !equal(ids(got), []int{19, 15}) {
		t.Errorf("accept() = %v, want [19 15]", ids(got))
	}
}

func TestFileOf(t *testing.T) {
	date := time.Date(2020, 5, 6, 7, 8, 9, 0, time.UTC)

	photo := &tg.MessageMediaPhoto{Photo: &tg.Photo{ID: 1, AccessHash: 2, Sizes: []tg.PhotoSizeClass{
		&tg.PhotoSize{Type: "m", W: 320, H: 240, Size: 100},
		&tg.PhotoSizeProgressive{Type: "y", W: 1280, H: 960, Sizes: []int{10, 20, 3000}},
		&tg.PhotoStrippedSize{Type: "i"},
	}}}
	f, ok := fileOf(models.MediaPhoto, date, photo)
	if !ok {
		t.Fatal("photo should be downloadable")
	}
	if f.name != "photo_2020-05-06_07-08-09.jpg" || f.size != 3000 {
		t.Errorf("photo file = %+v", f)
	}
	if loc, ok := f.location.(*tg.InputPhotoFileLocation); !ok || loc.ThumbSize != "y" || loc.ID != 1 {
		t.Errorf("photo location = %#v", f.location)
	}

	named := &tg.MessageMediaDocument{Document: &tg.Document{ID: 9, MimeType: "application/pdf", Size: 12,
		Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeFilename{FileName: "../report.pdf"}}}}
	f, ok = fileOf(models.MediaDocument, date, named)
	if !ok || f.name != "report.pdf" || f.size != 12 {
		t.Errorf("named document = %+v, %v", f, ok)
	}

	anon := &tg.MessageMediaDocument{Document: &tg.Document{MimeType: "video/mp4",
		Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeVideo{}}}}
	f, ok = fileOf(models.MediaVideo, date, anon)
	if !ok || f.name != "video_2020-05-06_07-08-09.mp4" {
		t.Errorf("anonymous video = %+v, %v", f, ok)
	}

	for _, m := range []tg.MessageMediaClass{
		&tg.MessageMediaGeo{},
		&tg.MessageMediaPhoto{Photo: &tg.PhotoEmpty{}},
		&tg.MessageMediaDocument{Document: &tg.DocumentEmpty{}},
		&tg.MessageMediaWebPage{Webpage: &tg.WebPageEmpty{}},
	} {
		if _, ok := fileOf(models.MediaOther, date, m); ok {
			t.Errorf("%T should have nothing to download", m)
		}
	}
}

type netTimeout struct{}

func (netTimeout) Error() string   { return "i/o timeout" }
func (netTimeout) Timeout() bool   { return true }
func (netTimeout) Temporary() bool { return true }

func TestIsTimeout(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rpc timeout", tgerr.New(-503, "Timeout"), true},
		{"flood", tgerr.New(420, "FLOOD_WAIT_3"), false},
		{"net", errors.Wrap(netTimeout{}, "read"), true},
		{"deadline", errors.Wrap(context.DeadlineExceeded, "stream"), true},
		{"other", errors.New("FILE_REFERENCE_EXPIRED"), false},
	}
	for _, tt := range tests {
		if got := isTimeout(tt.err); got != tt.want {
			t.Errorf("isTimeout(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestProgressWriter(t *testing.T) {
	var buf bytes.Buffer
	var calls [][2]int64
	w := &progressWriter{w: &buf, total: 10, report: func(r, total int64) {
		calls = append(calls, [2]int64{r, total})
	}}
	_, _ = w.Write([]byte("abcd"))
	_, _ = w.Write([]byte("efghij"))
	if buf.String() != "abcdefghij" {
		t.Errorf("written = %q", buf.String())
	}
	if len(calls) != 2 || calls[0] != [2]int64{4, 10} || calls[1] != [2]int64{10, 10} {
		t.Errorf("progress calls = %v", calls)
	}
}

func TestTerminalAuth(t *testing.T) {
	var out bytes.Buffer
	a := &TerminalAuth{
		in:           bufio.NewReader(strings.NewReader("+15550100\n12345\n")),
		out:          &out,
		readPassword: func() ([]byte, error) { return []byte("secret \n"), nil },
	}
	ctx := context.Background()

	phone, err := a.Phone(ctx)
	if err != nil || phone != "+15550100" {
		t.Errorf("Phone() = %q, %v", phone, err)
	}
	code, err := a.Code(ctx, &tg.AuthSentCode{Type: &tg.AuthSentCodeTypeApp{}})
	if err != nil || code != "12345" {
		t.Errorf("Code() = %q, %v", code, err)
	}
	pw, err := a.Password(ctx)
	if err != nil || pw != "secret" {
		t.Errorf("Password() = %q, %v", pw, err)
	}
	if !strings.Contains(out.String(), "Telegram app") {
		t.Errorf("prompt output = %q", out.String())
	}

	preset := &TerminalAuth{phone: "+1999"}
	if p, _ := preset.Phone(ctx); p != "+1999" {
		t.Errorf("preset phone = %q", p)
	}
	if _, err := preset.SignUp(ctx); err == nil {
		t.Error("SignUp() should refuse")
	}
}
