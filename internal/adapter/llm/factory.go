package llm

import (
	"time"

	"github.com/sirupsen/logrus"
)

// ModeMock selects the mock provider.
const ModeMock = "MOCK"

// NewProvider returns the streaming source and completer for mode. With
// mode MOCK both are a MockClient; otherwise they talk to baseURL.
func NewProvider(mode, baseURL, apiKey string, timeout time.Duration, log logrus.FieldLogger) (Source, Completer) {
	if mode == ModeMock {
		log.Info("RELAY_MODE=MOCK detected, using mock completion provider")
		mock := NewMockClient()
		return mock, mock
	}
	return NewClient(baseURL, apiKey, timeout, log), NewOpenAIClient(baseURL, apiKey)
}
