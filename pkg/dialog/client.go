package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handshake header names.
const (
	HeaderAuthorization = "Authorization"
	HeaderWorkspace     = "X-DashScope-Workspace"
	HeaderAppID         = "X-DashScope-AppId"
)

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	closeGracePeriod      = time.Second
)

// Config holds the construction inputs of a Dialog. Values are not validated
// locally; malformed credentials surface as a server-side rejection.
type Config struct {
	URL            string
	WorkspaceID    string
	AppID          string
	APIKey         string
	Params         RequestParameters
	DialogID       string
	Model          string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration

	// Dialer overrides the websocket dialer, e.g. for proxies or tests.
	Dialer *websocket.Dialer
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// Dialog owns one connection to the dialog service. It is single-use: once
// the connection closes, construct a new Dialog to reconnect.
type Dialog struct {
	cfg     Config
	handler Handler
	logger  *zap.Logger

	mu       sync.Mutex
	state    ConnState
	conn     *websocket.Conn
	dialogID string
	closing  bool

	writeMu sync.Mutex
}

// New creates a Dialog. A nil handler ignores all notifications.
func New(cfg Config, handler Handler, logger *zap.Logger) *Dialog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if handler == nil {
		handler = NopHandler{}
	}
	cfg.applyDefaults()
	return &Dialog{
		cfg:      cfg,
		handler:  handler,
		logger:   logger,
		state:    ConnIdle,
		dialogID: cfg.DialogID,
	}
}

// State returns the connection state.
func (d *Dialog) State() ConnState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// DialogID returns the current dialog id, which the server may update.
func (d *Dialog) DialogID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialogID
}

// Model returns the configured model name.
func (d *Dialog) Model() string {
	return d.cfg.Model
}

// Start opens the connection, sends the start envelope and then dispatches
// inbound messages until the connection closes. It blocks for the lifetime of
// the connection. A non-empty dialogID replaces the configured one.
//
// Open and handshake failures are reported to Handler.OnError and returned.
// Cancelling ctx closes the connection.
func (d *Dialog) Start(ctx context.Context, dialogID string) error {
	d.mu.Lock()
	switch {
	case d.state.IsActive():
		d.mu.Unlock()
		return ErrDialogActive
	case d.state == ConnClosed:
		d.mu.Unlock()
		return ErrDialogClosed
	}
	d.state = ConnConnecting
	if dialogID != "" {
		d.dialogID = dialogID
	}
	d.mu.Unlock()

	d.logger.Info("dialog connecting",
		zap.String("url", d.cfg.URL),
		zap.String("workspace_id", d.cfg.WorkspaceID),
		zap.String("app_id", d.cfg.AppID),
		zap.String("model", d.cfg.Model),
	)

	conn, err := d.dial(ctx)
	if err != nil {
		d.setClosed()
		d.logger.Warn("dialog connect failed", zap.Error(err))
		d.handler.OnError(err)
		return err
	}

	d.mu.Lock()
	if d.closing {
		d.state = ConnClosed
		d.mu.Unlock()
		_ = conn.Close()
		return ErrDialogClosed
	}
	d.conn = conn
	d.state = ConnOpen
	d.mu.Unlock()

	d.logger.Info("dialog connected", zap.String("url", d.cfg.URL))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			d.Close()
		case <-done:
		}
	}()

	d.handler.OnConnected()

	params := d.cfg.Params
	if params.DialogID == "" {
		params.DialogID = d.DialogID()
	}
	if err := d.write(conn, startEnvelope(params)); err != nil {
		handshakeErr := newError(ErrorKindHandshakeFailed, "failed to send start envelope", err)
		d.logger.Warn("dialog start envelope failed", zap.Error(err))
		d.handler.OnError(handshakeErr)
		d.finish(conn, websocket.CloseAbnormalClosure, handshakeErr.Error())
		return handshakeErr
	}
	d.handler.OnStarted(d.DialogID())

	code, text, readErr := d.readLoop(conn)
	if readErr != nil {
		d.logger.Warn("dialog connection lost", zap.Error(readErr))
		d.handler.OnError(readErr)
	}
	d.finish(conn, code, text)
	return readErr
}

func (d *Dialog) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := d.cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: d.cfg.ConnectTimeout,
		}
	}

	connCtx, cancel := context.WithTimeout(ctx, d.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(connCtx, d.cfg.URL, d.authHeaders())
	if err != nil {
		if resp != nil {
			return nil, newErrorWithCode(ErrorKindConnectFailed, resp.Status, resp.StatusCode, err)
		}
		return nil, newError(ErrorKindConnectFailed, "failed to connect", err)
	}
	conn.SetPingHandler(func(appData string) error {
		d.writeMu.Lock()
		defer d.writeMu.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(d.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		return err
	})
	return conn, nil
}

func (d *Dialog) authHeaders() http.Header {
	headers := http.Header{}
	headers.Set(HeaderAuthorization, "Bearer "+d.cfg.APIKey)
	headers.Set(HeaderWorkspace, d.cfg.WorkspaceID)
	headers.Set(HeaderAppID, d.cfg.AppID)
	return headers
}

func (d *Dialog) readLoop(conn *websocket.Conn) (int, string, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return d.closeReason(err)
		}

		ev, dialogID := decodeEnvelope(data)
		if dialogID != "" {
			d.setDialogID(dialogID)
		}
		if u, ok := ev.(Unrecognized); ok {
			d.logger.Debug("dialog unrecognized message", zap.String("action", u.Name))
			continue
		}
		if Dispatch(d.handler, ev) {
			d.logger.Info("dialog close requested by server")
			d.Close()
		}
	}
}

// closeReason maps a read error to the code and message passed to OnClose.
// Normal closures and locally initiated closes return a nil error.
func (d *Dialog) closeReason(err error) (int, string, error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return closeErr.Code, closeErr.Text, nil
		}
		if d.isClosing() {
			return websocket.CloseNormalClosure, "", nil
		}
		return closeErr.Code, closeErr.Text, newErrorWithCode(ErrorKindConnectionClosed, closeErr.Text, closeErr.Code, err)
	}
	if d.isClosing() {
		return websocket.CloseNormalClosure, "", nil
	}
	return websocket.CloseAbnormalClosure, err.Error(), newError(ErrorKindReadFailed, "read failed", err)
}

// Close closes the connection locally. Start returns once the close has been
// observed. Calling Close before Start makes the Dialog unusable.
func (d *Dialog) Close() {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return
	}
	d.closing = true
	conn := d.conn
	if conn == nil && !d.state.IsActive() {
		d.state = ConnClosed
	}
	d.mu.Unlock()

	if conn == nil {
		return
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.mu.Lock()
	d.state = ConnClosed
	d.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	_ = conn.Close()
}

func (d *Dialog) finish(conn *websocket.Conn, code int, text string) {
	d.mu.Lock()
	d.conn = nil
	d.state = ConnClosed
	d.mu.Unlock()
	_ = conn.Close()

	d.logger.Info("dialog closed",
		zap.Int("code", code),
		zap.String("message", text),
		zap.String("dialog_id", d.DialogID()),
	)
	d.handler.OnClose(code, text)
	d.handler.OnStopped()
}

// send is the single guarded path for outbound actions. It is a no-op unless
// the connection is open or once a close frame has been sent; other write
// failures go to Handler.OnError.
func (d *Dialog) send(action string, v any) {
	d.writeMu.Lock()
	d.mu.Lock()
	conn := d.conn
	open := d.state.CanSend()
	d.mu.Unlock()
	if !open || conn == nil {
		d.writeMu.Unlock()
		d.logger.Debug("dialog send dropped", zap.String("action", action))
		return
	}
	err := d.writeLocked(conn, v)
	d.writeMu.Unlock()

	if errors.Is(err, websocket.ErrCloseSent) {
		// The close handshake has started; the read loop reports the close.
		d.logger.Debug("dialog send dropped after close", zap.String("action", action))
		return
	}
	if err != nil {
		d.logger.Warn("dialog send failed", zap.String("action", action), zap.Error(err))
		var dialogErr *Error
		if !errors.As(err, &dialogErr) {
			dialogErr = newError(ErrorKindWriteFailed, "failed to send "+action, err)
		}
		d.handler.OnError(dialogErr)
	}
}

func (d *Dialog) write(conn *websocket.Conn, v any) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.writeLocked(conn, v)
}

func (d *Dialog) writeLocked(conn *websocket.Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return newError(ErrorKindEncodeFailed, "failed to encode envelope", err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(d.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (d *Dialog) setDialogID(dialogID string) {
	d.mu.Lock()
	changed := d.dialogID != dialogID
	d.dialogID = dialogID
	d.mu.Unlock()
	if changed {
		d.logger.Info("dialog id updated", zap.String("dialog_id", dialogID))
	}
}

func (d *Dialog) setClosed() {
	d.mu.Lock()
	d.state = ConnClosed
	d.mu.Unlock()
}

func (d *Dialog) isClosing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closing
}

// StartSpeech tells the server the user started speaking.
func (d *Dialog) StartSpeech() {
	d.send(ActionStartSpeech, actionEnvelope(ActionStartSpeech))
}

// SendAudioData sends one chunk of upstream audio, base64-encoded.
func (d *Dialog) SendAudioData(data []byte) {
	d.send(ActionAudio, audioEnvelope(data))
}

// StopSpeech tells the server the user stopped speaking.
func (d *Dialog) StopSpeech() {
	d.send(ActionStopSpeech, actionEnvelope(ActionStopSpeech))
}

// Interrupt asks the server to stop the current reply.
func (d *Dialog) Interrupt() {
	d.send(ActionInterrupt, actionEnvelope(ActionInterrupt))
}

// LocalRespondingStarted reports that local playback of the reply started.
func (d *Dialog) LocalRespondingStarted() {
	d.send(ActionLocalRespondingStarted, actionEnvelope(ActionLocalRespondingStarted))
}

// LocalRespondingEnded reports that local playback of the reply ended.
func (d *Dialog) LocalRespondingEnded() {
	d.send(ActionLocalRespondingEnded, actionEnvelope(ActionLocalRespondingEnded))
}

// Stop asks the server to end the dialog. The connection stays open until
// either side closes it.
func (d *Dialog) Stop() {
	d.send(ActionStop, actionEnvelope(ActionStop))
}

// GetDialogState asks the server to report its current state.
func (d *Dialog) GetDialogState() {
	d.send(ActionGetState, actionEnvelope(ActionGetState))
}

// RequestToRespond asks the server to respond to text, optionally with images.
func (d *Dialog) RequestToRespond(requestType, text string, params *RequestToRespondParameters) {
	d.send(ActionRequestToRespond, respondEnvelope(requestType, text, params))
}
