package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/vexdata/ember/pkg/bridge"
)

// KafkaConfig configures a Kafka row source.
type KafkaConfig struct {
	Topic            string
	BootstrapServers string
	ConsumerGroup    string
	StartupMode      string // "earliest" (default) or "latest"
}

// Kafka consumes JSON records from a Kafka topic and yields them as rows
// against a fixed Arrow schema. Values are matched to columns by field name.
type Kafka struct {
	ctx    context.Context
	cfg    KafkaConfig
	schema *arrow.Schema
	logger *slog.Logger

	client *kgo.Client
	buffer []bridge.Row
	cur    bridge.Row
	err    error
}

// NewKafka creates a Kafka row source. The context bounds polling: when it
// is cancelled the source reports exhaustion.
func NewKafka(ctx context.Context, cfg KafkaConfig, schema *arrow.Schema) (*Kafka, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.BootstrapServers),
		kgo.ConsumeTopics(cfg.Topic),
	}
	if cfg.ConsumerGroup != "" {
		opts = append(opts, kgo.ConsumerGroup(cfg.ConsumerGroup))
	}
	switch cfg.StartupMode {
	case "latest", "latest-offset":
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	default:
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka source: create client: %w", err)
	}
	return &Kafka{
		ctx:    ctx,
		cfg:    cfg,
		schema: schema,
		logger: slog.Default().With("source", "kafka", "topic", cfg.Topic),
		client: client,
	}, nil
}

func (k *Kafka) Next() bool {
	if k.err != nil {
		return false
	}
	for len(k.buffer) == 0 {
		if k.ctx.Err() != nil {
			return false
		}
		fetches := k.client.PollFetches(k.ctx)
		if fetches.IsClientClosed() || k.ctx.Err() != nil {
			return false
		}
		for _, fe := range fetches.Errors() {
			k.logger.Error("kafka fetch error",
				"partition", fe.Partition, "error", fe.Err)
		}
		fetches.EachRecord(func(rec *kgo.Record) {
			row, err := k.decode(rec.Value)
			if err != nil {
				k.logger.Error("kafka json decode error", "error", err)
				return
			}
			k.buffer = append(k.buffer, row)
		})
	}
	k.cur = k.buffer[0]
	k.buffer = k.buffer[1:]
	return true
}

func (k *Kafka) Row() bridge.Row { return k.cur }

func (k *Kafka) Err() error { return k.err }

func (k *Kafka) Close() error {
	k.client.Close()
	return nil
}

// decode maps a JSON object onto the schema's columns by name, coercing
// JSON numbers to the column's width.
func (k *Kafka) decode(value []byte) (bridge.Row, error) {
	var obj map[string]any
	if err := json.Unmarshal(value, &obj); err != nil {
		return nil, err
	}
	row := make(bridge.Row, k.schema.NumFields())
	for i := 0; i < k.schema.NumFields(); i++ {
		f := k.schema.Field(i)
		val, ok := obj[f.Name]
		if !ok || val == nil {
			row[i] = nil
			continue
		}
		coerced, err := coerceJSON(f.Type, val)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		row[i] = coerced
	}
	return row, nil
}

func coerceJSON(dt arrow.DataType, val any) (any, error) {
	switch dt.ID() {
	case arrow.INT8:
		if v, ok := val.(float64); ok {
			return int8(v), nil
		}
	case arrow.INT16:
		if v, ok := val.(float64); ok {
			return int16(v), nil
		}
	case arrow.INT32:
		if v, ok := val.(float64); ok {
			return int32(v), nil
		}
	case arrow.INT64:
		if v, ok := val.(float64); ok {
			return int64(v), nil
		}
	case arrow.FLOAT32:
		if v, ok := val.(float64); ok {
			return float32(v), nil
		}
	case arrow.FLOAT64:
		if v, ok := val.(float64); ok {
			return v, nil
		}
	case arrow.STRING:
		if v, ok := val.(string); ok {
			return v, nil
		}
		return fmt.Sprintf("%v", val), nil
	case arrow.BOOL:
		if v, ok := val.(bool); ok {
			return v, nil
		}
	case arrow.TIMESTAMP:
		if v, ok := val.(float64); ok {
			return arrow.Timestamp(int64(v)), nil
		}
	}
	return nil, fmt.Errorf("value %T does not fit %s", val, dt)
}

var _ bridge.RowSource = (*Kafka)(nil)
