// Package service implements message streaming on top of the completion
// provider and the document store.
package service

import (
	"github.com/sirupsen/logrus"

	"github.com/aerokeylabs/t4chat/internal/adapter/llm"
	"github.com/aerokeylabs/t4chat/internal/config"
	"github.com/aerokeylabs/t4chat/internal/metrics"
	"github.com/aerokeylabs/t4chat/internal/policy"
	"github.com/aerokeylabs/t4chat/internal/registry"
	"github.com/aerokeylabs/t4chat/internal/store"
)

// Publisher receives every wire line a relay emits, keyed by thread id.
type Publisher interface {
	Publish(threadID string, data []byte)
}

// Deps groups the collaborators of a Service. Policy and Publisher are
// optional.
type Deps struct {
	Store     store.Store
	Source    llm.Source
	Completer llm.Completer
	Registry  *registry.Registry
	Policy    *policy.Engine
	Metrics   *metrics.Exporter
	Publisher Publisher
	Config    *config.Config
	Log       logrus.FieldLogger
}

// Service runs message relays against a store and a completion provider.
type Service struct {
	store     store.Store
	source    llm.Source
	completer llm.Completer
	registry  *registry.Registry
	policy    *policy.Engine
	metrics   *metrics.Exporter
	publisher Publisher
	titles    *TitleGenerator
	config    *config.Config
	log       logrus.FieldLogger
}

// New creates a Service. A nil Metrics gets a private exporter.
func New(d Deps) *Service {
	exporter := d.Metrics
	if exporter == nil {
		exporter = metrics.NewExporter(metrics.DefaultConfig())
	}
	return &Service{
		store:     d.Store,
		source:    d.Source,
		completer: d.Completer,
		registry:  d.Registry,
		policy:    d.Policy,
		metrics:   exporter,
		publisher: d.Publisher,
		titles:    NewTitleGenerator(d.Completer, d.Config.TitleModel),
		config:    d.Config,
		log:       d.Log,
	}
}
