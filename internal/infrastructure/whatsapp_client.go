package infrastructure

import (
	"context"
	"fmt"
	"strings"
	"sync"

	qrcode "github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"restobot/internal/entities"
	"restobot/internal/logger"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// waLogger routes whatsmeow's logs into the service logger.
type waLogger struct {
	log    logger.Logger
	module string
}

func newWALogger(log logger.Logger, module string) waLog.Logger {
	return &waLogger{log: log, module: module}
}

func (w *waLogger) Errorf(msg string, args ...interface{}) {
	w.log.Error(fmt.Sprintf(msg, args...), map[string]interface{}{"module": w.module})
}

func (w *waLogger) Warnf(msg string, args ...interface{}) {
	w.log.Warn(fmt.Sprintf(msg, args...), map[string]interface{}{"module": w.module})
}

func (w *waLogger) Infof(msg string, args ...interface{}) {
	w.log.Info(fmt.Sprintf(msg, args...), map[string]interface{}{"module": w.module})
}

func (w *waLogger) Debugf(msg string, args ...interface{}) {
	w.log.Debug(fmt.Sprintf(msg, args...), map[string]interface{}{"module": w.module})
}

func (w *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{log: w.log, module: w.module + "." + module}
}

// WhatsAppClient is one agent's in-process WhatsApp session.
type WhatsAppClient struct {
	Client  *whatsmeow.Client
	AgentID string

	log    logger.Logger
	qrCode string
	qrLock sync.RWMutex
}

func NewWhatsAppClient(ctx context.Context, dbPath, agentID string, log logger.Logger) (*WhatsAppClient, error) {
	log = log.With(map[string]interface{}{"agent_id": agentID})
	container, err := sqlstore.New(ctx, "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)", newWALogger(log, "whatsmeow.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	return &WhatsAppClient{
		Client:  whatsmeow.NewClient(deviceStore, newWALogger(log, "whatsmeow.client")),
		AgentID: agentID,
		log:     log,
	}, nil
}

// Connect resumes a stored session or starts a QR login.
func (w *WhatsAppClient) Connect(ctx context.Context) error {
	if w.Client.Store.ID != nil {
		if err := w.Client.Connect(); err != nil {
			return err
		}
		w.log.Info("WhatsApp session resumed", map[string]interface{}{"phone": w.PhoneNumber()})
		return nil
	}

	qrChan, err := w.Client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to open QR channel: %w", err)
	}
	if err := w.Client.Connect(); err != nil {
		return err
	}
	go w.watchQR(qrChan)
	return nil
}

func (w *WhatsAppClient) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		if evt.Event == "code" {
			w.qrLock.Lock()
			w.qrCode = evt.Code
			w.qrLock.Unlock()
			w.log.Debug("WhatsApp QR code refreshed", nil)
			continue
		}
		w.qrLock.Lock()
		w.qrCode = ""
		w.qrLock.Unlock()
		w.log.Info("WhatsApp login event", map[string]interface{}{"event": evt.Event})
	}
}

func (w *WhatsAppClient) QR() string {
	w.qrLock.RLock()
	defer w.qrLock.RUnlock()
	return w.qrCode
}

// QRPNG renders the pending login code. It returns nil when no code is
// pending.
func (w *WhatsAppClient) QRPNG(size int) ([]byte, error) {
	code := w.QR()
	if code == "" {
		return nil, nil
	}
	return qrcode.Encode(code, qrcode.Medium, size)
}

func (w *WhatsAppClient) IsLoggedIn() bool {
	return w.Client.Store.ID != nil
}

func (w *WhatsAppClient) IsConnected() bool {
	return w.Client.IsConnected() && w.Client.Store.ID != nil
}

func (w *WhatsAppClient) PhoneNumber() string {
	if w.Client.Store.ID == nil {
		return ""
	}
	return w.Client.Store.ID.User
}

func (w *WhatsAppClient) Name() string {
	if w.Client.Store.ID == nil {
		return ""
	}
	return w.Client.Store.PushName
}

// Logout ends the session and immediately starts a fresh QR login.
func (w *WhatsAppClient) Logout(ctx context.Context) error {
	w.qrLock.Lock()
	w.qrCode = ""
	w.qrLock.Unlock()

	if err := w.Client.Logout(ctx); err != nil {
		return err
	}
	w.Client.Disconnect()
	return w.Connect(ctx)
}

func (w *WhatsAppClient) Disconnect() {
	w.Client.Disconnect()
}

func (w *WhatsAppClient) AddHandler(handler func(interface{})) {
	w.Client.AddEventHandler(handler)
}

func (w *WhatsAppClient) SendText(ctx context.Context, phone, text string) error {
	jid, err := types.ParseJID(strings.TrimPrefix(phone, "+") + "@" + types.DefaultUserServer)
	if err != nil {
		return fmt.Errorf("invalid number format: %w", err)
	}
	_, err = w.Client.SendMessage(ctx, jid, &waProto.Message{Conversation: proto.String(text)})
	return err
}

// ParseMessage normalises a whatsmeow event. It returns nil for events the
// assistant must not answer: own messages, group chats and non-text content.
func ParseMessage(agentID string, evt *events.Message) *entities.InboundMessage {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return nil
	}
	text := evt.Message.GetConversation()
	if text == "" {
		text = evt.Message.GetExtendedTextMessage().GetText()
	}
	if strings.TrimSpace(text) == "" || evt.Info.Sender.User == "" {
		return nil
	}
	return &entities.InboundMessage{
		AgentID:           agentID,
		SenderPhone:       evt.Info.Sender.User,
		PushName:          evt.Info.PushName,
		Text:              text,
		ProviderMessageID: string(evt.Info.ID),
		ReceivedAt:        evt.Info.Timestamp,
	}
}
