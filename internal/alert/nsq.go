package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nsqio/go-nsq"
)

// NSQPublisher pushes alerts onto NSQ topics for the ops tooling to consume.
type NSQPublisher struct {
	prod        *nsq.Producer
	dlqTopic    string
	alertsTopic string
}

// NewNSQPublisher connects a producer to nsqd at addr.
func NewNSQPublisher(addr, dlqTopic, alertsTopic string) (*NSQPublisher, error) {
	prod, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	return &NSQPublisher{prod: prod, dlqTopic: dlqTopic, alertsTopic: alertsTopic}, nil
}

func (p *NSQPublisher) PublishDeadLetter(_ context.Context, dl DeadLetter) error {
	b, err := json.Marshal(dl)
	if err != nil {
		return err
	}
	return p.prod.Publish(p.dlqTopic, b)
}

func (p *NSQPublisher) PublishDeactivation(_ context.Context, d Deactivation) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return p.prod.Publish(p.alertsTopic, b)
}

// Stop flushes and shuts down the underlying producer.
func (p *NSQPublisher) Stop() {
	p.prod.Stop()
}
