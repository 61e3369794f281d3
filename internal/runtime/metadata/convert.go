package metadata

import (
	"fmt"
	"maps"

	"github.com/ThreeDotsLabs/watermill/message"
	amqp "github.com/rabbitmq/amqp091-go"
)

// FromWatermill copies Watermill metadata. The result is never nil.
func FromWatermill(md message.Metadata) Metadata {
	out := make(Metadata, len(md))
	maps.Copy(out, md)
	return out
}

// ToWatermill copies m into a Watermill map. The result is never nil.
func ToWatermill(m Metadata) message.Metadata {
	out := make(message.Metadata, len(m))
	maps.Copy(out, m)
	return out
}

// FromAMQP converts delivery headers. RabbitMQ adds typed headers such as
// x-death counts; those are formatted with %v.
func FromAMQP(headers amqp.Table) Metadata {
	out := make(Metadata, len(headers))
	for k, v := range headers {
		switch val := v.(type) {
		case string:
			out[k] = val
		case []byte:
			out[k] = string(val)
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

// ToAMQP converts m into publishing headers, or nil when m is empty.
func ToAMQP(m Metadata) amqp.Table {
	if len(m) == 0 {
		return nil
	}
	table := make(amqp.Table, len(m))
	for k, v := range m {
		table[k] = v
	}
	return table
}
