package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/instabrief/backend/internal/models"
)

// ErrMockFailure is returned for documents configured to fail
var ErrMockFailure = errors.New("mock processing failure")

// MockProcessor implements queue.Processor with scripted outcomes
type MockProcessor struct {
	mu       sync.Mutex
	failures map[string]error
	panics   map[string]bool
	calls    []models.Document
	settings []models.SummarySettings

	// OnProcess, when set, runs inside every call before the outcome is returned
	OnProcess func(ctx context.Context, doc models.Document)
}

// NewMockProcessor creates a processor that succeeds for every document
func NewMockProcessor() *MockProcessor {
	return &MockProcessor{
		failures: make(map[string]error),
		panics:   make(map[string]bool),
	}
}

// FailOn makes documents with the given name fail with ErrMockFailure
func (p *MockProcessor) FailOn(name string) *MockProcessor {
	return p.FailWith(name, ErrMockFailure)
}

// FailWith makes documents with the given name fail with err
func (p *MockProcessor) FailWith(name string, err error) *MockProcessor {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[name] = err
	return p
}

// PanicOn makes documents with the given name panic
func (p *MockProcessor) PanicOn(name string) *MockProcessor {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.panics[name] = true
	return p
}

func (p *MockProcessor) Process(ctx context.Context, doc models.Document, settings models.SummarySettings) (*models.ProcessResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, doc)
	p.settings = append(p.settings, settings)
	err := p.failures[doc.Name]
	shouldPanic := p.panics[doc.Name]
	hook := p.OnProcess
	p.mu.Unlock()

	if hook != nil {
		hook(ctx, doc)
	}
	if shouldPanic {
		panic("mock processor panic: " + doc.Name)
	}
	if err != nil {
		return nil, err
	}
	return &models.ProcessResult{
		DocumentID: "doc-" + doc.ItemID,
		Summary:    "summary of " + doc.Name,
	}, nil
}

// Calls returns the documents processed so far, in call order
func (p *MockProcessor) Calls() []models.Document {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Document(nil), p.calls...)
}

// CallNames returns the processed file names in call order
func (p *MockProcessor) CallNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.calls))
	for i, d := range p.calls {
		names[i] = d.Name
	}
	return names
}

// SettingsSeen returns the settings passed with each call
func (p *MockProcessor) SettingsSeen() []models.SummarySettings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.SummarySettings(nil), p.settings...)
}
