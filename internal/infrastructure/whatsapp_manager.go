package infrastructure

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.mau.fi/whatsmeow/types/events"

	"restobot/internal/apperrors"
	"restobot/internal/entities"
	"restobot/internal/logger"
)

// InboundHandler receives customer messages from native sessions.
type InboundHandler func(ctx context.Context, msg *entities.InboundMessage)

// WhatsAppManager owns the native WhatsApp sessions, one per agent.
type WhatsAppManager struct {
	clients map[string]*WhatsAppClient
	mu      sync.RWMutex
	baseDir string
	log     logger.Logger

	// OnMessage is called for each inbound text message.
	OnMessage InboundHandler
}

func NewWhatsAppManager(baseDir string, log logger.Logger) *WhatsAppManager {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		log.Warn("could not create devices directory", map[string]interface{}{"dir": baseDir, "error": err.Error()})
	}
	return &WhatsAppManager{
		clients: make(map[string]*WhatsAppClient),
		baseDir: baseDir,
		log:     log,
	}
}

// Client returns the agent's session, or nil.
func (m *WhatsAppManager) Client(agentID string) *WhatsAppClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[agentID]
}

func (m *WhatsAppManager) getOrCreate(ctx context.Context, agentID string) (*WhatsAppClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.clients[agentID]; ok {
		return client, nil
	}

	dbPath := filepath.Join(m.baseDir, fmt.Sprintf("agent_%s.db", agentID))
	client, err := NewWhatsAppClient(ctx, dbPath, agentID, m.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create WhatsApp client for agent %s: %w", agentID, err)
	}
	client.AddHandler(m.eventHandler(agentID))
	m.clients[agentID] = client
	return client, nil
}

func (m *WhatsAppManager) eventHandler(agentID string) func(interface{}) {
	return func(evt interface{}) {
		msgEvt, ok := evt.(*events.Message)
		if !ok || m.OnMessage == nil {
			return
		}
		if inbound := ParseMessage(agentID, msgEvt); inbound != nil {
			m.OnMessage(context.Background(), inbound)
		}
	}
}

// Connect starts (or resumes) the agent's session.
func (m *WhatsAppManager) Connect(ctx context.Context, agentID string) (*WhatsAppClient, error) {
	client, err := m.getOrCreate(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if client.Client.IsConnected() {
		return client, nil
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect WhatsApp for agent %s: %w", agentID, err)
	}
	return client, nil
}

// Logout clears the agent's session. A missing session is not an error.
func (m *WhatsAppManager) Logout(ctx context.Context, agentID string) error {
	m.mu.Lock()
	client, ok := m.clients[agentID]
	delete(m.clients, agentID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if !client.IsLoggedIn() {
		client.Disconnect()
		return nil
	}
	err := client.Client.Logout(ctx)
	client.Disconnect()
	return err
}

// SendText implements NativeSender.
func (m *WhatsAppManager) SendText(ctx context.Context, agentID, phone, text string) error {
	client := m.Client(agentID)
	if client == nil || !client.IsConnected() {
		return fmt.Errorf("%w: no native session for agent %s", apperrors.ErrGatewayFailed, agentID)
	}
	if err := client.SendText(ctx, phone, text); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrGatewayFailed, err)
	}
	return nil
}

// ConnectAll resumes sessions for the given agents, logging failures.
func (m *WhatsAppManager) ConnectAll(ctx context.Context, agents []entities.Agent) {
	for _, a := range agents {
		if _, err := m.Connect(ctx, a.ID); err != nil {
			m.log.Error("failed to resume WhatsApp session", map[string]interface{}{"agent_id": a.ID, "error": err.Error()})
		}
	}
}

func (m *WhatsAppManager) ConnectedAgents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, client := range m.clients {
		if client.IsLoggedIn() {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *WhatsAppManager) DisconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, client := range m.clients {
		client.Disconnect()
	}
	m.clients = make(map[string]*WhatsAppClient)
}
