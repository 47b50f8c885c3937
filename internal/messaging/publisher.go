// Package messaging pushes world events onto NATS subjects for external
// consumers (analytics, moderation tooling). The publisher is optional;
// a nil Publisher silently drops everything.
package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Subjects carrying world events.
const (
	SubjectChestOpened  = "tilequest.chest.opened"
	SubjectBossDefeated = "tilequest.boss.defeated"
	SubjectBossExpired  = "tilequest.boss.expired"
	SubjectRanking      = "tilequest.ranking"
)

// Publisher wraps one NATS connection.
type Publisher struct {
	conn *nats.Conn
}

// Connect dials the NATS server at url.
func Connect(url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return &Publisher{conn: conn}, nil
}

// Publish marshals payload and publishes it on subject. Safe on a nil
// receiver.
func (p *Publisher) Publish(subject string, payload any) error {
	if p == nil || p.conn == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling %s payload: %w", subject, err)
	}
	return p.conn.Publish(subject, data)
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
