// Package whatsapp adapts whatsmeow to the transport interfaces.
package whatsapp

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/laraujo4/chatbot-empresa/internal/transport"
)

// NewFactory opens the shared device store and returns a factory that
// builds one whatsmeow client per call. The lifecycle manager calls it
// again on every restart so each restart gets a fresh client object.
func NewFactory(databaseURL string) (transport.Factory, error) {
	container, err := sqlstore.New(context.Background(), "sqlite3", databaseURL, waLog.Stdout("store", "WARN", false))
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}

	return func(ev transport.Events) (transport.Conn, error) {
		device, err := container.GetFirstDevice(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load device: %w", err)
		}
		c := &client{
			cli:    whatsmeow.NewClient(device, waLog.Stdout("client", "WARN", false)),
			events: ev,
		}
		c.cli.AddEventHandler(c.handleEvent)
		return c, nil
	}, nil
}

type client struct {
	cli    *whatsmeow.Client
	events transport.Events

	closeOnce sync.Once
	qrCancel  context.CancelFunc
}

func (c *client) Connect(ctx context.Context) error {
	if c.cli.Store.ID == nil {
		// Not paired yet: watch the QR channel until pairing finishes.
		qrCtx, cancel := context.WithCancel(ctx)
		c.qrCancel = cancel
		qrChan, err := c.cli.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("qr channel: %w", err)
		}
		go c.watchQR(qrChan)
	}
	if err := c.cli.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (c *client) Close() {
	c.closeOnce.Do(func() {
		if c.qrCancel != nil {
			c.qrCancel()
		}
		c.cli.Disconnect()
	})
}

func (c *client) SendText(ctx context.Context, chatID, text string) error {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("parse chat id %q: %w", chatID, err)
	}
	_, err = c.cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (c *client) SendImage(ctx context.Context, chatID, path, caption string) error {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("parse chat id %q: %w", chatID, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image %q: %w", path, err)
	}
	uploaded, err := c.cli.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return fmt.Errorf("upload image: %w", err)
	}
	msg := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		Caption:       proto.String(caption),
		Mimetype:      proto.String(http.DetectContentType(data)),
		URL:           proto.String(uploaded.URL),
		DirectPath:    proto.String(uploaded.DirectPath),
		MediaKey:      uploaded.MediaKey,
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    proto.Uint64(uploaded.FileLength),
	}}
	if _, err := c.cli.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("send image: %w", err)
	}
	return nil
}

func (c *client) ChatByID(chatID string) (transport.Chat, error) {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return nil, fmt.Errorf("parse chat id %q: %w", chatID, err)
	}
	return chatHandle{cli: c.cli, jid: jid}, nil
}

func (c *client) ContactName(chatID string) (string, error) {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return "", err
	}
	info, err := c.cli.Store.Contacts.GetContact(context.Background(), jid)
	if err != nil {
		return "", err
	}
	if info.PushName != "" {
		return info.PushName, nil
	}
	return info.FullName, nil
}

func (c *client) Diagnostics() string {
	return fmt.Sprintf("logged_in=%t connected=%t device=%v",
		c.cli.IsLoggedIn(), c.cli.IsConnected(), c.cli.Store.ID)
}

func (c *client) watchQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			if c.events.QRIssued != nil {
				c.events.QRIssued(item.Code)
			}
		case whatsmeow.QRChannelEventError:
			if c.events.AuthFailure != nil {
				c.events.AuthFailure(fmt.Sprintf("pairing error: %v", item.Error))
			}
		}
	}
}

func (c *client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		if c.events.Authenticated != nil {
			c.events.Authenticated()
		}
	case *events.OfflineSyncCompleted:
		if c.events.Ready != nil {
			c.events.Ready()
		}
	case *events.Disconnected:
		if c.events.Disconnected != nil {
			c.events.Disconnected("connection closed")
		}
	case *events.StreamReplaced:
		if c.events.Disconnected != nil {
			c.events.Disconnected("stream replaced by another client")
		}
	case *events.LoggedOut:
		if c.events.AuthFailure != nil {
			c.events.AuthFailure(fmt.Sprintf("logged out: %v", v.Reason))
		}
	case *events.Message:
		c.handleMessage(v)
	}
}

func (c *client) handleMessage(v *events.Message) {
	if c.events.Message == nil {
		return
	}
	info := v.Info
	msg := transport.Message{
		From:        info.Chat.String(),
		FromMe:      info.IsFromMe,
		IsGroup:     info.IsGroup,
		IsStatus:    info.Chat == types.StatusBroadcastJID,
		IsBroadcast: info.Chat.Server == types.BroadcastServer,
		PushName:    info.PushName,
	}
	switch {
	case textContent(v.Message) != "":
		msg.Body = textContent(v.Message)
		msg.Type = transport.MessageText
	case v.Message.GetImageMessage() != nil,
		v.Message.GetVideoMessage() != nil,
		v.Message.GetAudioMessage() != nil,
		v.Message.GetDocumentMessage() != nil:
		msg.Type = transport.MessageMedia
	default:
		msg.Type = transport.MessageOther
	}
	c.events.Message(msg)
}

func textContent(m *waE2E.Message) string {
	if m == nil {
		return ""
	}
	if t := m.GetConversation(); t != "" {
		return t
	}
	return m.GetExtendedTextMessage().GetText()
}

type chatHandle struct {
	cli *whatsmeow.Client
	jid types.JID
}

func (h chatHandle) SendTyping(ctx context.Context) error {
	return h.cli.SendChatPresence(ctx, h.jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
}
