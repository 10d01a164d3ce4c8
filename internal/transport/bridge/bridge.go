// Package bridge carries the chat transport contract over a websocket to an
// out-of-process agent. The agent owns the platform session (credentials,
// flood-wait handling, media up/download primitives); this side issues JSON
// request frames and receives inbound chat events. File bytes never travel
// over the control socket: each transfer gets a one-time token and moves
// through the /bridge/files HTTP endpoint.
package bridge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"medialeech/internal/domain"
	"medialeech/internal/domain/ports"
)

// ErrAgentOffline is returned by every chat call while no agent is
// connected.
var ErrAgentOffline = errors.New("transport agent not connected")

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 90 * time.Second
	pingInterval = 30 * time.Second
)

// frame is one control-socket message. Requests carry Method and Params;
// responses echo the ID with Result or Error.
type frame struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type wireMedia struct {
	Class string `json:"class"`
	Name  string `json:"name"`
	Size  int64  `json:"size"`
}

type wireMessage struct {
	ChatID    int64      `json:"chatId"`
	MessageID int64      `json:"messageId"`
	AuthorID  int64      `json:"authorId"`
	ReplyTo   int64      `json:"replyTo,omitempty"`
	Text      string     `json:"text,omitempty"`
	Media     *wireMedia `json:"media,omitempty"`
}

type wireCallback struct {
	ID        string `json:"id"`
	UserID    int64  `json:"userId"`
	ChatID    int64  `json:"chatId"`
	MessageID int64  `json:"messageId"`
	Data      string `json:"data"`
}

type wireEvent struct {
	Message  *wireMessage  `json:"message,omitempty"`
	Callback *wireCallback `json:"callback,omitempty"`
}

type wireButton struct {
	Label string `json:"label"`
	Data  string `json:"data,omitempty"`
	URL   string `json:"url,omitempty"`
}

type wireRef struct {
	ChatID    int64 `json:"chatId"`
	MessageID int64 `json:"messageId"`
}

// fileSlot is one pending byte transfer keyed by its token. Inbound slots
// (platform -> us) carry Dest; outbound slots carry Src.
type fileSlot struct {
	dest     string
	src      string
	progress func(done, total int64)
}

// Bridge implements ports.Chat. A single agent is connected at a time; a new
// connection replaces the previous one and fails its in-flight calls.
type Bridge struct {
	Logger *slog.Logger
	Token  string // shared secret; empty disables the check

	events chan ports.Event
	nextID atomic.Int64

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[int64]chan frame

	writeMu sync.Mutex

	filesMu sync.Mutex
	files   map[string]*fileSlot
}

func New(logger *slog.Logger, token string) *Bridge {
	return &Bridge{
		Logger:  logger,
		Token:   token,
		events:  make(chan ports.Event, 64),
		pending: make(map[int64]chan frame),
		files:   make(map[string]*fileSlot),
	}
}

// Connected reports whether an agent currently holds the control socket.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Updates is the inbound event stream consumed by the command router.
func (b *Bridge) Updates() <-chan ports.Event {
	return b.events
}

func (b *Bridge) authorized(r *http.Request) bool {
	if b.Token == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	if strings.TrimPrefix(header, "Bearer ") == b.Token {
		return true
	}
	return r.URL.Query().Get("token") == b.Token
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// HandleWS accepts the agent's control connection.
func (b *Bridge) HandleWS(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.Logger.Warn("bridge: upgrade failed", slog.Any("error", err))
		return
	}

	b.mu.Lock()
	if old := b.conn; old != nil {
		_ = old.Close()
	}
	b.conn = conn
	b.mu.Unlock()

	b.Logger.Info("bridge: agent connected", slog.String("remote", r.RemoteAddr))
	go b.pingLoop(conn)
	b.readLoop(conn)
}

func (b *Bridge) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		b.writeMu.Lock()
		err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
		b.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (b *Bridge) readLoop(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			b.dropConn(conn, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))

		if f.Method == "event" {
			b.deliverEvent(f.Params)
			continue
		}
		b.mu.Lock()
		ch := b.pending[f.ID]
		delete(b.pending, f.ID)
		b.mu.Unlock()
		if ch != nil {
			ch <- f
		}
	}
}

// dropConn clears the connection and fails every in-flight call, but only if
// conn is still the current one: a replacing agent must not kill the calls
// already routed to it.
func (b *Bridge) dropConn(conn *websocket.Conn, err error) {
	b.mu.Lock()
	if b.conn != conn {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	pending := b.pending
	b.pending = make(map[int64]chan frame)
	b.mu.Unlock()

	_ = conn.Close()
	for _, ch := range pending {
		ch <- frame{Error: ErrAgentOffline.Error()}
	}
	b.Logger.Warn("bridge: agent disconnected", slog.Any("error", err))
}

func (b *Bridge) deliverEvent(raw json.RawMessage) {
	var ev wireEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		b.Logger.Warn("bridge: bad event payload", slog.Any("error", err))
		return
	}
	out := ports.Event{}
	switch {
	case ev.Message != nil:
		m := toMessage(*ev.Message)
		out.Message = &m
	case ev.Callback != nil:
		out.Callback = &ports.Callback{
			ID:      ev.Callback.ID,
			UserID:  ev.Callback.UserID,
			ChatID:  ev.Callback.ChatID,
			Data:    ev.Callback.Data,
			Message: ports.MessageRef{ChatID: ev.Callback.ChatID, MessageID: ev.Callback.MessageID},
		}
	default:
		return
	}
	select {
	case b.events <- out:
	default:
		b.Logger.Warn("bridge: event queue full, dropping update")
	}
}

func toMessage(m wireMessage) ports.Message {
	msg := ports.Message{
		Ref:      ports.MessageRef{ChatID: m.ChatID, MessageID: m.MessageID},
		AuthorID: m.AuthorID,
		Text:     m.Text,
		ReplyTo:  m.ReplyTo,
	}
	if m.Media != nil {
		msg.Media = &ports.Media{
			Class: classFromString(m.Media.Class),
			Name:  m.Media.Name,
			Size:  m.Media.Size,
		}
	}
	return msg
}

func classString(c domain.MediaClass) string {
	switch c {
	case domain.ClassVideo:
		return "video"
	case domain.ClassAudio:
		return "audio"
	case domain.ClassImage:
		return "image"
	case domain.ClassSubtitle:
		return "subtitle"
	default:
		return "document"
	}
}

func classFromString(s string) domain.MediaClass {
	switch s {
	case "video":
		return domain.ClassVideo
	case "audio":
		return domain.ClassAudio
	case "image":
		return domain.ClassImage
	case "subtitle":
		return domain.ClassSubtitle
	default:
		return domain.ClassDocument
	}
}

// call performs one request/response round trip on the control socket.
func (b *Bridge) call(ctx context.Context, method string, params, result any) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return err
	}
	id := b.nextID.Add(1)
	ch := make(chan frame, 1)

	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return ErrAgentOffline
	}
	b.pending[id] = ch
	b.mu.Unlock()

	b.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteJSON(frame{ID: id, Method: method, Params: payload})
	b.writeMu.Unlock()
	if err != nil {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return fmt.Errorf("bridge: write %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return ctx.Err()
	case f := <-ch:
		if f.Error != "" {
			return fmt.Errorf("bridge: %s: %s", method, f.Error)
		}
		if result != nil && len(f.Result) > 0 {
			return json.Unmarshal(f.Result, result)
		}
		return nil
	}
}

func (b *Bridge) SendMessage(ctx context.Context, chatID int64, text string) (ports.MessageRef, error) {
	var ref wireRef
	err := b.call(ctx, "sendMessage", map[string]any{"chatId": chatID, "text": text}, &ref)
	return ports.MessageRef{ChatID: ref.ChatID, MessageID: ref.MessageID}, err
}

func (b *Bridge) SendButtons(ctx context.Context, chatID int64, text string, rows [][]ports.Button) (ports.MessageRef, error) {
	var ref wireRef
	err := b.call(ctx, "sendButtons", map[string]any{
		"chatId":  chatID,
		"text":    text,
		"buttons": toWireButtons(rows),
	}, &ref)
	return ports.MessageRef{ChatID: ref.ChatID, MessageID: ref.MessageID}, err
}

func toWireButtons(rows [][]ports.Button) [][]wireButton {
	out := make([][]wireButton, len(rows))
	for i, row := range rows {
		out[i] = make([]wireButton, len(row))
		for j, btn := range row {
			out[i][j] = wireButton{Label: btn.Label, Data: btn.Data, URL: btn.URL}
		}
	}
	return out
}

func (b *Bridge) EditMessage(ctx context.Context, ref ports.MessageRef, text string) error {
	return b.call(ctx, "editMessage", map[string]any{
		"chatId":    ref.ChatID,
		"messageId": ref.MessageID,
		"text":      text,
	}, nil)
}

func (b *Bridge) DeleteMessage(ctx context.Context, ref ports.MessageRef) error {
	return b.call(ctx, "deleteMessage", map[string]any{
		"chatId":    ref.ChatID,
		"messageId": ref.MessageID,
	}, nil)
}

func (b *Bridge) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return b.call(ctx, "answerCallback", map[string]any{
		"callbackId": callbackID,
		"text":       text,
	}, nil)
}

func (b *Bridge) GetMessages(ctx context.Context, chatID int64, ids []int64) ([]ports.Message, error) {
	var res struct {
		Messages []wireMessage `json:"messages"`
	}
	err := b.call(ctx, "getMessages", map[string]any{"chatId": chatID, "ids": ids}, &res)
	if err != nil {
		return nil, err
	}
	out := make([]ports.Message, 0, len(res.Messages))
	for _, m := range res.Messages {
		out = append(out, toMessage(m))
	}
	return out, nil
}

// DownloadMedia asks the agent to pull a message's media from the platform
// and push the bytes to /bridge/files/{token}. The call returns once the
// agent reports completion, by which point the file is fully on disk.
func (b *Bridge) DownloadMedia(ctx context.Context, ref ports.MessageRef, destPath string, progress func(done, total int64)) (string, error) {
	token := newToken()
	b.putSlot(token, &fileSlot{dest: destPath, progress: progress})
	defer b.dropSlot(token)

	var res struct {
		Size int64 `json:"size"`
	}
	err := b.call(ctx, "downloadMedia", map[string]any{
		"chatId":    ref.ChatID,
		"messageId": ref.MessageID,
		"token":     token,
	}, &res)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(destPath)
	if err != nil {
		return "", fmt.Errorf("bridge: agent reported success but %s is missing: %w", filepath.Base(destPath), err)
	}
	if res.Size > 0 && info.Size() != res.Size {
		return "", fmt.Errorf("bridge: short download: got %d of %d bytes", info.Size(), res.Size)
	}
	return destPath, nil
}

// UploadFile exposes the local file at a one-time token and asks the agent
// to stream it to the platform.
func (b *Bridge) UploadFile(ctx context.Context, up ports.Upload) (ports.Receipt, error) {
	info, err := os.Stat(up.Path)
	if err != nil {
		return ports.Receipt{}, err
	}
	token := newToken()
	b.putSlot(token, &fileSlot{src: up.Path, progress: up.Progress})
	defer b.dropSlot(token)

	params := map[string]any{
		"chatId":   up.ChatID,
		"token":    token,
		"fileName": up.FileName,
		"caption":  up.Caption,
		"class":    classString(up.Class),
		"size":     info.Size(),
		"replyTo":  up.ReplyTo,
	}
	if len(up.Buttons) > 0 {
		params["buttons"] = toWireButtons(up.Buttons)
	}
	if up.ThumbPath != "" {
		thumbToken := newToken()
		b.putSlot(thumbToken, &fileSlot{src: up.ThumbPath})
		defer b.dropSlot(thumbToken)
		params["thumbToken"] = thumbToken
	}

	var res struct {
		ChatID    int64  `json:"chatId"`
		MessageID int64  `json:"messageId"`
		FileName  string `json:"fileName"`
		FileHash  string `json:"fileHash"`
	}
	if err := b.call(ctx, "uploadFile", params, &res); err != nil {
		return ports.Receipt{}, err
	}
	return ports.Receipt{
		Ref:      ports.MessageRef{ChatID: res.ChatID, MessageID: res.MessageID},
		FileName: res.FileName,
		FileHash: res.FileHash,
	}, nil
}

func (b *Bridge) putSlot(token string, slot *fileSlot) {
	b.filesMu.Lock()
	b.files[token] = slot
	b.filesMu.Unlock()
}

func (b *Bridge) dropSlot(token string) {
	b.filesMu.Lock()
	delete(b.files, token)
	b.filesMu.Unlock()
}

func (b *Bridge) slot(token string) *fileSlot {
	b.filesMu.Lock()
	defer b.filesMu.Unlock()
	return b.files[token]
}

// HandleFiles is the byte channel: the agent GETs files we are uploading and
// PUTs files we asked it to download. Tokens are single-transfer and expire
// with the owning call.
func (b *Bridge) HandleFiles(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/bridge/files/")
	slot := b.slot(token)
	if slot == nil || strings.Contains(token, "/") {
		http.Error(w, "unknown token", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		b.serveFile(w, r, slot)
	case http.MethodPut, http.MethodPost:
		b.receiveFile(w, r, slot)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (b *Bridge) serveFile(w http.ResponseWriter, r *http.Request, slot *fileSlot) {
	if slot.src == "" {
		http.Error(w, "token is not readable", http.StatusBadRequest)
		return
	}
	f, err := os.Open(slot.src)
	if err != nil {
		http.Error(w, "file unavailable", http.StatusGone)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, "file unavailable", http.StatusGone)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	reader := io.Reader(f)
	if slot.progress != nil {
		reader = &progressReader{r: f, total: info.Size(), slot: slot}
	}
	if _, err := io.Copy(w, reader); err != nil {
		b.Logger.Debug("bridge: file send interrupted", slog.Any("error", err))
	}
}

func (b *Bridge) receiveFile(w http.ResponseWriter, r *http.Request, slot *fileSlot) {
	if slot.dest == "" {
		http.Error(w, "token is not writable", http.StatusBadRequest)
		return
	}
	if err := os.MkdirAll(filepath.Dir(slot.dest), 0o755); err != nil {
		http.Error(w, "cannot create destination", http.StatusInternalServerError)
		return
	}
	f, err := os.Create(slot.dest)
	if err != nil {
		http.Error(w, "cannot create destination", http.StatusInternalServerError)
		return
	}
	total := r.ContentLength
	_, err = io.Copy(f, &progressReader{r: r.Body, total: total, slot: slot})
	closeErr := f.Close()
	if err != nil || closeErr != nil {
		_ = os.Remove(slot.dest)
		http.Error(w, "transfer interrupted", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type progressReader struct {
	r     io.Reader
	total int64
	done  int64
	slot  *fileSlot
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.done += int64(n)
	if n > 0 && p.slot.progress != nil {
		p.slot.progress(p.done, p.total)
	}
	return n, err
}

// Close shuts the control socket; the agent is expected to reconnect after a
// restart.
func (b *Bridge) Close() {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn != nil {
		b.writeMu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(2*time.Second),
		)
		b.writeMu.Unlock()
		_ = conn.Close()
	}
}

func newToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(buf)
}
