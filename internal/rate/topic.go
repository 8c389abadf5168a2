package rate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0gfoundation/0g-yield-bridge/internal/indexer"
)

// TopicReader is the slice of the mirror client the topic oracle needs.
type TopicReader interface {
	LatestTopicMessage(ctx context.Context, topic string) (*indexer.TopicMessage, error)
}

// TopicOracle reads rate records published as JSON messages on a consensus topic.
type TopicOracle struct {
	reader TopicReader
	topic  string
}

func NewTopicOracle(reader TopicReader, topic string) *TopicOracle {
	return &TopicOracle{reader: reader, topic: topic}
}

type ratePayload struct {
	Rate           decimal.Decimal `json:"rate"`
	SequenceNumber json.RawMessage `json:"sequenceNumber"`
	Timestamp      string          `json:"timestamp"`
}

func (o *TopicOracle) Latest(ctx context.Context) (*Record, error) {
	msg, err := o.reader.LatestTopicMessage(ctx, o.topic)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}
	return decodeMessage(msg)
}

func decodeMessage(msg *indexer.TopicMessage) (*Record, error) {
	var p ratePayload
	if err := json.Unmarshal(msg.Message, &p); err != nil {
		return nil, fmt.Errorf("decode rate message %d: %w", msg.SequenceNumber, err)
	}

	rec := &Record{
		Value:          p.Rate,
		SequenceNumber: strconv.FormatInt(msg.SequenceNumber, 10),
		Timestamp:      msg.ConsensusAt,
	}
	if seq := strings.Trim(strings.TrimSpace(string(p.SequenceNumber)), `"`); seq != "" && seq != "null" {
		rec.SequenceNumber = seq
	}
	if p.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, p.Timestamp); err == nil {
			rec.Timestamp = ts
		}
	}
	return rec, nil
}
