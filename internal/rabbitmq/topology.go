package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// DurableQueue returns the declaration used for destinations and their
// dead-letter queues
func DurableQueue(name string) QueueDeclaration {
	return QueueDeclaration{Name: name, Durable: true}
}

// DeclareQueues declares every queue on ch; existing queues with the same
// arguments are left untouched
func DeclareQueues(ch *amqp.Channel, queues ...QueueDeclaration) error {
	for _, q := range queues {
		if _, err := ch.QueueDeclare(q.Name, q.Durable, q.AutoDelete, q.Exclusive, false, q.Arguments); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.Name, err)
		}
	}
	return nil
}
