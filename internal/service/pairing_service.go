package service

import (
	"log"
	"sync"
	"time"

	"github.com/laraujo4/chatbot-empresa/internal/debounce"
)

// Renderer turns a pairing payload into displayable image bytes. The
// actual rendering and serving live outside the core.
type Renderer func(payload string) ([]byte, error)

// PairingService tracks the latest pairing payload. Superseded payloads
// are discarded, duplicates never re-render, and rendering is debounced
// so QR bursts during pairing coalesce into one render.
type PairingService struct {
	render Renderer
	deb    *debounce.Scheduler

	mu       sync.Mutex
	pending  string
	rendered string
	image    []byte
}

func NewPairingService(render Renderer, quiet time.Duration) *PairingService {
	p := &PairingService{render: render}
	p.deb = debounce.NewScheduler(quiet, p.flush)
	return p
}

// Submit records a new pairing payload and schedules a render. The
// latest payload wins; a payload equal to the current image is dropped.
func (p *PairingService) Submit(payload string) {
	p.mu.Lock()
	if payload == p.rendered || payload == p.pending {
		p.mu.Unlock()
		return
	}
	p.pending = payload
	p.mu.Unlock()
	p.deb.Trigger()
}

// Image returns the current pairing image bytes, or false while no
// payload has been rendered yet.
func (p *PairingService) Image() ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.image == nil {
		return nil, false
	}
	return p.image, true
}

// Close stops any pending render.
func (p *PairingService) Close() {
	p.deb.Stop()
}

func (p *PairingService) flush() {
	p.mu.Lock()
	payload := p.pending
	p.pending = ""
	p.mu.Unlock()
	if payload == "" {
		return
	}

	img, err := p.render(payload)
	if err != nil {
		log.Printf("failed to render pairing image: %v", err)
		return
	}

	p.mu.Lock()
	// A newer payload may have arrived while rendering; it has its own
	// flush pending, so only record if we are still the latest.
	if p.pending == "" {
		p.rendered = payload
		p.image = img
	}
	p.mu.Unlock()
	log.Println("[info] pairing image updated")
}
