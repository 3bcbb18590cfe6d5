package mocks

// MockMessage implements mqtt.Message for testing
type MockMessage struct {
	topic    string
	payload  []byte
	retained bool
	acked    bool
}

// NewMockMessage creates a live MQTT message
func NewMockMessage(topic string, payload []byte) *MockMessage {
	return &MockMessage{topic: topic, payload: payload}
}

// NewRetainedMessage creates a message as replayed by the broker on subscribe
func NewRetainedMessage(topic string, payload []byte) *MockMessage {
	return &MockMessage{topic: topic, payload: payload, retained: true}
}

func (m *MockMessage) Payload() []byte   { return m.payload }
func (m *MockMessage) Topic() string     { return m.topic }
func (m *MockMessage) Duplicate() bool   { return false }
func (m *MockMessage) Qos() byte         { return 1 }
func (m *MockMessage) Retained() bool    { return m.retained }
func (m *MockMessage) MessageID() uint16 { return 1 }
func (m *MockMessage) Ack()              { m.acked = true }

// Acked reports whether Ack was called.
func (m *MockMessage) Acked() bool { return m.acked }
