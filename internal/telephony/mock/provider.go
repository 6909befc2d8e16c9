package mock

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/acme/lead-dialer/internal/config"
	"github.com/acme/lead-dialer/internal/domain"
	"github.com/acme/lead-dialer/internal/queue"
	"github.com/acme/lead-dialer/internal/telephony"
)

// CompletionSink receives the simulated call outcome. In the deployed
// wiring this is the Kafka completion publisher.
type CompletionSink interface {
	PublishCompletion(ctx context.Context, msg queue.CompletionMessage) error
}

// Provider simulates outbound call behaviour. Demo scaffolding only: it
// accepts every dial and reports a random outcome after a short delay.
type Provider struct {
	sink    CompletionSink
	timeout time.Duration

	mu  sync.Mutex
	rng *rand.Rand
	seq int
}

// NewProvider constructs a mock provider.
func NewProvider(cfg config.ProviderConfig, sink CompletionSink) *Provider {
	return &Provider{
		sink:    sink,
		timeout: cfg.RequestTimeout,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// PlaceCall accepts the dial immediately and schedules an asynchronous
// completion callback.
func (p *Provider) PlaceCall(ctx context.Context, req telephony.DialRequest) (string, error) {
	p.mu.Lock()
	p.seq++
	ref := fmt.Sprintf("mock-%d", p.seq)
	duration := time.Duration(1+p.rng.Intn(8)) * time.Second
	outcome := p.pickOutcome()
	p.mu.Unlock()

	go func() {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		<-timer.C

		pubCtx := context.Background()
		if p.timeout > 0 {
			var cancel context.CancelFunc
			pubCtx, cancel = context.WithTimeout(pubCtx, p.timeout)
			defer cancel()
		}

		msg := queue.CompletionMessage{
			CallID:      req.CallID,
			CampaignID:  req.CampaignID,
			ProviderRef: ref,
			Outcome:     string(outcome),
			OccurredAt:  time.Now().UTC(),
		}
		if err := p.sink.PublishCompletion(pubCtx, msg); err != nil {
			// The timeout sweep reclaims the slot if this is lost.
			return
		}
	}()

	return ref, nil
}

func (p *Provider) pickOutcome() domain.CallOutcome {
	roll := p.rng.Float64()
	switch {
	case roll < 0.5:
		return domain.OutcomeAnswered
	case roll < 0.7:
		return domain.OutcomeNoAnswer
	case roll < 0.85:
		return domain.OutcomeVoicemail
	default:
		return domain.OutcomeBusy
	}
}
