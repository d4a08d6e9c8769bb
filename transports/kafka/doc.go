// Package kafka implements the gateway transport on Kafka with
// segmentio/kafka-go.
//
// Each destination is a topic read by one consumer group with manual
// commits. Messages are settled out of order by concurrent handlers, so a
// commit tracker only commits a partition offset once every earlier offset
// is settled. Abandon re-produces the message to its topic and DeadLetter
// produces it to "<destination>.deadletter"; both then settle the offset.
package kafka
