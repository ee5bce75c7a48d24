package server

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Um11aut/PPgram-api-sub000/internal/db"
	"github.com/Um11aut/PPgram-api-sub000/internal/files"
	"github.com/Um11aut/PPgram-api-sub000/internal/metrics"
	"github.com/Um11aut/PPgram-api-sub000/internal/protocol"
	"github.com/Um11aut/PPgram-api-sub000/internal/session"
	"github.com/Um11aut/PPgram-api-sub000/internal/wire"
)

// ---------------------------------------------------------------------------
// In-memory stores
// ---------------------------------------------------------------------------

// fakeDB backs the store facets with maps. IDs are sequential so tests can
// assert exact values: users count up from 1, private chats from 1001,
// groups down from -1001.
type fakeDB struct {
	mu       sync.Mutex
	users    map[int32]*db.User
	chats    map[int32]*db.Chat
	messages map[int32][]db.Message
	drafts   map[[2]int32]string
	hashes   map[string]*db.HashEntry

	userSeq  int32
	chatSeq  int32
	tokenSeq int
	linkSeq  int
	clock    int64
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		users:    map[int32]*db.User{},
		chats:    map[int32]*db.Chat{},
		messages: map[int32][]db.Message{},
		drafts:   map[[2]int32]string{},
		hashes:   map[string]*db.HashEntry{},
		clock:    1700000000,
	}
}

type fakeStores struct{ db *fakeDB }

func (s fakeStores) Users() UserStore        { return fakeUsers{s.db} }
func (s fakeStores) Chats() ChatStore        { return fakeChats{s.db} }
func (s fakeStores) Messages() MessageStore  { return fakeMessages{s.db} }
func (s fakeStores) Drafts() DraftStore      { return fakeDrafts{s.db} }
func (s fakeStores) Hashes() files.HashIndex { return fakeHashes{s.db} }

func copyUser(u *db.User) *db.User {
	out := *u
	out.Sessions = append([]string(nil), u.Sessions...)
	out.Chats = make(map[int32]int32, len(u.Chats))
	for k, v := range u.Chats {
		out.Chats[k] = v
	}
	return &out
}

func copyChat(c *db.Chat) *db.Chat {
	out := *c
	out.Participants = append([]int32(nil), c.Participants...)
	return &out
}

type fakeUsers struct{ db *fakeDB }

// Register stores the password verbatim; the fake only needs equality.
func (f fakeUsers) Register(_ context.Context, name, username, password string) (*db.User, string, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, u := range f.db.users {
		if u.Username == username {
			return nil, "", db.ErrUsernameTaken
		}
	}
	f.db.userSeq++
	f.db.tokenSeq++
	token := fmt.Sprintf("tok-%d", f.db.tokenSeq)
	u := &db.User{
		ID:           f.db.userSeq,
		Name:         name,
		Username:     username,
		PasswordHash: password,
		Sessions:     []string{token},
		Chats:        map[int32]int32{},
	}
	f.db.users[u.ID] = u
	return copyUser(u), token, nil
}

func (f fakeUsers) Login(_ context.Context, username, password string) (*db.User, string, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, u := range f.db.users {
		if u.Username != username {
			continue
		}
		if u.PasswordHash != password {
			return nil, "", db.ErrWrongCredentials
		}
		f.db.tokenSeq++
		token := fmt.Sprintf("tok-%d", f.db.tokenSeq)
		u.Sessions = append(u.Sessions, token)
		return copyUser(u), token, nil
	}
	return nil, "", db.ErrWrongCredentials
}

func (f fakeUsers) Auth(_ context.Context, id int32, token string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	u, ok := f.db.users[id]
	if !ok {
		return db.ErrWrongCredentials
	}
	for _, s := range u.Sessions {
		if s == token {
			return nil
		}
	}
	return db.ErrWrongCredentials
}

func (f fakeUsers) UsernameExists(_ context.Context, username string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, u := range f.db.users {
		if u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeUsers) FetchUser(_ context.Context, id int32) (*db.User, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	u, ok := f.db.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return copyUser(u), nil
}

func (f fakeUsers) FetchByUsername(_ context.Context, username string) (*db.User, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, u := range f.db.users {
		if u.Username == username {
			return copyUser(u), nil
		}
	}
	return nil, db.ErrNotFound
}

func (f fakeUsers) FetchChats(_ context.Context, id int32) ([]db.ChatLink, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	u, ok := f.db.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	links := make([]db.ChatLink, 0, len(u.Chats))
	for view, real := range u.Chats {
		links = append(links, db.ChatLink{View: view, Real: real})
	}
	sort.Slice(links, func(i, j int) bool { return links[i].View < links[j].View })
	return links, nil
}

func (f fakeUsers) AddChat(_ context.Context, owner, view, real int32) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	u, ok := f.db.users[owner]
	if !ok {
		return db.ErrNotFound
	}
	u.Chats[view] = real
	return nil
}

func (f fakeUsers) AssociatedChatID(_ context.Context, owner, view int32) (int32, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	u, ok := f.db.users[owner]
	if !ok {
		return 0, db.ErrNotFound
	}
	real, ok := u.Chats[view]
	if !ok {
		return 0, db.ErrNotFound
	}
	return real, nil
}

func (f fakeUsers) UpdateName(_ context.Context, id int32, name string) error {
	return f.mutate(id, func(u *db.User) { u.Name = name })
}

func (f fakeUsers) UpdateUsername(_ context.Context, id int32, username string) error {
	return f.mutate(id, func(u *db.User) { u.Username = username })
}

func (f fakeUsers) UpdatePhoto(_ context.Context, id int32, photoHash string) error {
	return f.mutate(id, func(u *db.User) { u.PhotoHash = photoHash })
}

func (f fakeUsers) UpdatePassword(_ context.Context, id int32, oldPassword, newPassword string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	u, ok := f.db.users[id]
	if !ok {
		return db.ErrNotFound
	}
	if u.PasswordHash != oldPassword {
		return db.ErrWrongCredentials
	}
	u.PasswordHash = newPassword
	return nil
}

func (f fakeUsers) mutate(id int32, fn func(*db.User)) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	u, ok := f.db.users[id]
	if !ok {
		return db.ErrNotFound
	}
	fn(u)
	return nil
}

type fakeChats struct{ db *fakeDB }

func (f fakeChats) CreatePrivate(_ context.Context, a, b int32) (*db.Chat, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.chatSeq++
	c := &db.Chat{ID: 1000 + f.db.chatSeq, Participants: []int32{a, b}}
	f.db.chats[c.ID] = c
	return copyChat(c), nil
}

func (f fakeChats) CreateGroup(_ context.Context, owner int32, name, tag, avatarHash string) (*db.Chat, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.chatSeq++
	c := &db.Chat{
		ID:           -(1000 + f.db.chatSeq),
		IsGroup:      true,
		Participants: []int32{owner},
		Name:         name,
		Tag:          tag,
		AvatarHash:   avatarHash,
	}
	f.db.chats[c.ID] = c
	return copyChat(c), nil
}

func (f fakeChats) AddParticipant(_ context.Context, chatID, userID int32) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	c, ok := f.db.chats[chatID]
	if !ok {
		return db.ErrNotFound
	}
	c.Participants = append(c.Participants, userID)
	return nil
}

func (f fakeChats) Fetch(_ context.Context, chatID int32) (*db.Chat, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	c, ok := f.db.chats[chatID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return copyChat(c), nil
}

func (f fakeChats) CreateInvitationHash(_ context.Context, chatID int32) (string, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	c, ok := f.db.chats[chatID]
	if !ok {
		return "", db.ErrNotFound
	}
	f.db.linkSeq++
	c.InvitationHash = fmt.Sprintf("+invite%04d", f.db.linkSeq)
	return c.InvitationHash, nil
}

func (f fakeChats) ByInvitationHash(_ context.Context, link string) (*db.Chat, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, c := range f.db.chats {
		if c.InvitationHash != "" && c.InvitationHash == link {
			return copyChat(c), nil
		}
	}
	return nil, db.ErrNotFound
}

type fakeMessages struct{ db *fakeDB }

func (f fakeMessages) Add(_ context.Context, chatID, fromID int32, content string, hashes []string, replyTo *int32) (*db.Message, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	log := f.db.messages[chatID]
	var id int32
	if len(log) > 0 {
		id = log[len(log)-1].ID + 1
	}
	f.db.clock++
	msg := db.Message{
		ChatID:   chatID,
		ID:       id,
		FromID:   fromID,
		Date:     f.db.clock,
		IsUnread: true,
		ReplyTo:  -1,
		Content:  content,
		Hashes:   hashes,
	}
	if replyTo != nil {
		msg.ReplyTo = *replyTo
	}
	f.db.messages[chatID] = append(log, msg)
	out := msg
	return &out, nil
}

func (f fakeMessages) Fetch(_ context.Context, chatID, start, end int32) ([]db.Message, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	log := f.db.messages[chatID]
	if start == -1 {
		if len(log) == 0 {
			return []db.Message{}, nil
		}
		start = log[len(log)-1].ID
	}
	out := []db.Message{}
	for _, m := range log {
		if end == 0 {
			if m.ID == start {
				out = append(out, m)
			}
			continue
		}
		if m.ID >= start && m.ID <= end {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f fakeMessages) MarkAsRead(_ context.Context, chatID int32, ids []int32) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	log := f.db.messages[chatID]
	for i := range log {
		for _, id := range ids {
			if log[i].ID == id {
				log[i].IsUnread = false
			}
		}
	}
	return nil
}

func (f fakeMessages) Edit(_ context.Context, chatID, id int32, patch db.MessagePatch) (*db.Message, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	log := f.db.messages[chatID]
	for i := range log {
		if log[i].ID != id {
			continue
		}
		if patch.Content != nil {
			log[i].Content = *patch.Content
		}
		if patch.Hashes != nil {
			log[i].Hashes = patch.Hashes
		}
		if patch.ReplyTo != nil {
			log[i].ReplyTo = *patch.ReplyTo
		}
		log[i].Edited = true
		out := log[i]
		return &out, nil
	}
	return nil, db.ErrNotFound
}

func (f fakeMessages) Delete(_ context.Context, chatID, id int32) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	log := f.db.messages[chatID]
	for i := range log {
		if log[i].ID == id {
			f.db.messages[chatID] = append(log[:i:i], log[i+1:]...)
			return nil
		}
	}
	return db.ErrNotFound
}

func (f fakeMessages) UnreadCount(_ context.Context, chatID int32) (int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var n int64
	for _, m := range f.db.messages[chatID] {
		if m.IsUnread {
			n++
		}
	}
	return n, nil
}

type fakeDrafts struct{ db *fakeDB }

func (f fakeDrafts) Update(_ context.Context, userID, chatID int32, content string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.drafts[[2]int32{userID, chatID}] = content
	return nil
}

func (f fakeDrafts) Fetch(_ context.Context, userID, chatID int32) (string, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return f.db.drafts[[2]int32{userID, chatID}], nil
}

type fakeHashes struct{ db *fakeDB }

func (f fakeHashes) Fetch(_ context.Context, hash string) (*db.HashEntry, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	e, ok := f.db.hashes[hash]
	if !ok {
		return nil, db.ErrNotFound
	}
	out := *e
	return &out, nil
}

func (f fakeHashes) Add(_ context.Context, entry *db.HashEntry) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	e := *entry
	f.db.hashes[e.Hash] = &e
	return nil
}

// ---------------------------------------------------------------------------
// Connection harness
// ---------------------------------------------------------------------------

const previewStubBytes = "stub-thumbnail"

// stubPreview replaces ffmpeg with a fixed thumbnail payload.
type stubPreview struct{}

func (stubPreview) Preview(_ context.Context, _, dst string, _ files.MediaKind) error {
	return os.WriteFile(dst, []byte(previewStubBytes), 0o644)
}

type testEnv struct {
	t     *testing.T
	db    *fakeDB
	m     *metrics.Metrics
	reg   *session.Registry
	files *files.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	m := metrics.New()
	store, err := files.NewStore(t.TempDir(), stubPreview{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &testEnv{
		t:     t,
		db:    newFakeDB(),
		m:     m,
		reg:   session.NewRegistry(zerolog.Nop(), m),
		files: store,
	}
}

// testClient drives one in-memory connection against a live dispatcher
// goroutine, exactly the way serveConn wires a socket.
type testClient struct {
	t    *testing.T
	nc   net.Conn
	w    *wire.Writer
	r    *wire.Reader
	done chan struct{}

	closed bool
}

func (env *testEnv) dial(plane string) *testClient {
	env.t.Helper()
	clientEnd, serverEnd := net.Pipe()

	w := wire.NewWriter(serverEnd)
	conn := env.reg.NewConn(w, "pipe")
	c := &client{
		log:         zerolog.Nop(),
		metrics:     env.m,
		registry:    env.reg,
		store:       env.files,
		stores:      fakeStores{db: env.db},
		r:           wire.NewReader(serverEnd),
		w:           w,
		conn:        conn,
		sess:        session.NewSession(),
		typingQuiet: 60 * time.Millisecond,
	}
	c.sess.AddConn(conn)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx := context.Background()
		if plane == metrics.PlaneFile {
			c.serveFilePlane(ctx)
		} else if c.serveControlPlane(ctx) {
			c.serveFilePlane(ctx)
		}
		c.shutdown()
		env.reg.Detach(c.sess, conn)
		serverEnd.Close()
	}()

	tc := &testClient{
		t:    env.t,
		nc:   clientEnd,
		w:    wire.NewWriter(clientEnd),
		r:    wire.NewReader(clientEnd),
		done: done,
	}
	env.t.Cleanup(tc.close)
	return tc
}

func (tc *testClient) close() {
	if tc.closed {
		return
	}
	tc.closed = true
	tc.nc.Close()
	select {
	case <-tc.done:
	case <-time.After(2 * time.Second):
		tc.t.Error("dispatcher goroutine did not exit")
	}
}

func (tc *testClient) send(v any) {
	tc.t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		tc.t.Fatalf("unexpected error: %v", err)
	}
	tc.sendFrame(payload)
}

func (tc *testClient) sendFrame(payload []byte) {
	tc.t.Helper()
	tc.nc.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := tc.w.WriteFrame(payload); err != nil {
		tc.t.Fatalf("unexpected error: %v", err)
	}
}

func (tc *testClient) sendRaw(b []byte) {
	tc.t.Helper()
	tc.nc.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := tc.nc.Write(b); err != nil {
		tc.t.Fatalf("unexpected error: %v", err)
	}
}

func (tc *testClient) recv() map[string]any {
	tc.t.Helper()
	tc.nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	payload, err := tc.r.ReadFrame(wire.MaxControlFrame)
	if err != nil {
		tc.t.Fatalf("unexpected error: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(payload, &frame); err != nil {
		tc.t.Fatalf("unexpected error: %v", err)
	}
	return frame
}

func (tc *testClient) recvOK(method string) map[string]any {
	tc.t.Helper()
	f := tc.recv()
	if f["ok"] != true || f["method"] != method {
		tc.t.Fatalf("got frame %v, want ok %q response", f, method)
	}
	return f
}

func (tc *testClient) recvErr(method, message string) {
	tc.t.Helper()
	f := tc.recv()
	if f["ok"] != false || f["method"] != method || f["error"] != message {
		tc.t.Fatalf("got frame %v, want %q error %q", f, method, message)
	}
}

func (tc *testClient) recvEvent(name string) map[string]any {
	tc.t.Helper()
	f := tc.recv()
	if f["ok"] != true || f["event"] != name {
		tc.t.Fatalf("got frame %v, want event %q", f, name)
	}
	data, ok := f["data"].(map[string]any)
	if !ok {
		tc.t.Fatalf("event %q payload is not an object: %v", name, f)
	}
	return data
}

// expectSilence asserts no frame arrives within d.
func (tc *testClient) expectSilence(d time.Duration) {
	tc.t.Helper()
	tc.nc.SetReadDeadline(time.Now().Add(d))
	payload, err := tc.r.ReadFrame(wire.MaxControlFrame)
	if err == nil {
		tc.t.Fatalf("unexpected frame: %s", payload)
	}
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		tc.t.Fatalf("unexpected error: %v", err)
	}
}

// expectClosed asserts the server side hung up.
func (tc *testClient) expectClosed() {
	tc.t.Helper()
	tc.nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := tc.r.ReadFrame(wire.MaxControlFrame)
	if err == nil || errors.Is(err, os.ErrDeadlineExceeded) {
		tc.t.Fatalf("connection still open, read returned %v", err)
	}
}

// writeBody streams a file body: 8-byte size prefix plus raw bytes.
func (tc *testClient) writeBody(body []byte) {
	tc.t.Helper()
	tc.nc.SetWriteDeadline(time.Now().Add(5 * time.Second))
	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(len(body)))
	if _, err := tc.nc.Write(hdr[:]); err != nil {
		tc.t.Fatalf("unexpected error: %v", err)
	}
	if len(body) == 0 {
		// a zero-byte Write on net.Pipe blocks until a reader arrives,
		// unlike real sockets where it is a no-op
		return
	}
	if _, err := tc.nc.Write(body); err != nil {
		tc.t.Fatalf("unexpected error: %v", err)
	}
}

// readBody consumes one file body from the stream.
func (tc *testClient) readBody() []byte {
	tc.t.Helper()
	tc.nc.SetReadDeadline(time.Now().Add(5 * time.Second))
	size, err := tc.r.ReadFileSize()
	if err != nil {
		tc.t.Fatalf("unexpected error: %v", err)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(tc.r.Body(size), body); err != nil {
		tc.t.Fatalf("unexpected error: %v", err)
	}
	return body
}

// upload runs one full upload exchange and returns the content digest.
func (tc *testClient) upload(name string, isMedia bool, body []byte) string {
	tc.t.Helper()
	tc.send(map[string]any{"method": protocol.MethodUploadFile, "name": name, "is_media": isMedia})
	tc.writeBody(body)
	f := tc.recvOK(protocol.MethodUploadFile)
	digest, _ := f["sha256_hash"].(string)
	if digest == "" {
		tc.t.Fatalf("upload response carries no digest: %v", f)
	}
	return digest
}

// register creates a user over the wire and returns its credentials.
func (env *testEnv) register(tc *testClient, name, username string) (int32, string) {
	env.t.Helper()
	tc.send(map[string]any{
		"method":   protocol.MethodRegister,
		"name":     name,
		"username": username,
		"password": "hunter22",
	})
	f := tc.recvOK(protocol.MethodRegister)
	id := num(env.t, f, "user_id")
	token, _ := f["session_id"].(string)
	if id == 0 || token == "" {
		env.t.Fatalf("incomplete credentials frame: %v", f)
	}
	return id, token
}

func num(t *testing.T, f map[string]any, key string) int32 {
	t.Helper()
	v, ok := f[key].(float64)
	if !ok {
		t.Fatalf("frame field %q = %v (%T), want number", key, f[key], f[key])
	}
	return int32(v)
}
