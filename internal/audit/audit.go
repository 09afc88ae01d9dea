// Package audit streams security-relevant account events to Kafka. Emission
// is fire-and-forget: auth flows never block or fail because the event
// stream is down.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"shop-auth-service/internal/client"
	"shop-auth-service/internal/util"
)

// Event types published on the security topic.
const (
	EventOTPSent          = "otp_sent"
	EventOTPVerifyFailed  = "otp_verify_failed"
	EventOTPLockout       = "otp_lockout"
	EventOTPRateLimited   = "otp_rate_limited"
	EventAccountCreated   = "account_created"
	EventLoginSucceeded   = "login_succeeded"
	EventLoginFailed      = "login_failed"
	EventLoginStepUp      = "login_2fa_required"
	EventPasswordReset    = "password_reset"
	EventTwoFactorSetup   = "2fa_setup"
	EventTwoFactorEnabled = "2fa_enabled"
	EventTwoFactorDisable = "2fa_disabled"
	EventBackupCodeUsed   = "backup_code_used"
	EventTokenRefreshed   = "token_refreshed"
	EventLogout           = "logout"
)

// Event is the JSON shape written to the security topic.
type Event struct {
	Type        string    `json:"type"`
	Role        string    `json:"role,omitempty"`
	Email       string    `json:"email,omitempty"`
	PrincipalID string    `json:"principal_id,omitempty"`
	Success     bool      `json:"success"`
	Detail      string    `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}

// Publisher fans events out to Kafka through a bounded queue. A nil
// Publisher is valid and drops everything.
type Publisher struct {
	producer *client.KafkaProducer
	events   chan Event
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewPublisher(producer *client.KafkaProducer) *Publisher {
	p := &Publisher{
		producer: producer,
		events:   make(chan Event, 1024),
		done:     make(chan struct{}),
	}

	p.wg.Add(1)
	go p.run()

	return p
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.events:
			p.publish(ev)
		case <-p.done:
			// Drain what is already queued, then stop.
			for {
				select {
				case ev := <-p.events:
					p.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) publish(ev Event) {
	if p.producer == nil {
		// No broker wired; the structured log is the only sink.
		util.Info("Security event",
			util.String("type", ev.Type),
			util.String("role", ev.Role),
			util.Bool("success", ev.Success),
		)
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		util.Error("Failed to marshal audit event", util.ErrorField(err))
		return
	}

	key := ev.PrincipalID
	if key == "" {
		key = ev.Email
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.producer.Produce(ctx, []byte(key), payload); err != nil {
		util.Warn("Failed to publish audit event",
			util.String("type", ev.Type),
			util.ErrorField(err),
		)
	}
}

// Emit queues an event without blocking. Events are dropped when the queue
// is full or the publisher is nil.
func (p *Publisher) Emit(ev Event) {
	if p == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	select {
	case p.events <- ev:
	default:
		util.Warn("Audit queue full, dropping event", util.String("type", ev.Type))
	}
}

// Close drains the queue and stops the worker
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	close(p.done)
	p.wg.Wait()
}
