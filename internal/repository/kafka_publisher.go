package repository

import (
	"context"
	"fmt"

	"Backtest/internal/domain/models"
	"Backtest/internal/domain/repository"
	pkgkafka "Backtest/pkg/kafka"
)

// KafkaResultPublisher implements ResultPublisher for Kafka. Report rows go
// to the report topic keyed by run ID, trades to the trades topic keyed by
// strategy.
type KafkaResultPublisher struct {
	producer    *pkgkafka.Producer
	reportTopic string
	tradesTopic string
}

// NewKafkaResultPublisher creates Kafka publisher.
func NewKafkaResultPublisher(producer *pkgkafka.Producer, reportTopic, tradesTopic string) repository.ResultPublisher {
	return &KafkaResultPublisher{producer: producer, reportTopic: reportTopic, tradesTopic: tradesTopic}
}

type reportMessage struct {
	RunID  string           `json:"run_id"`
	Status models.RunStatus `json:"status"`
	Row    models.ReportRow `json:"row"`
}

type tradeMessage struct {
	RunID string `json:"run_id"`
	models.TradeRecord
}

func (p *KafkaResultPublisher) PublishRun(ctx context.Context, run *models.RunResult) error {
	if len(run.Rows) > 0 {
		msgs := make([]pkgkafka.Message, len(run.Rows))
		for i, r := range run.Rows {
			msgs[i] = pkgkafka.Message{
				Key:   []byte(run.RunID),
				Value: reportMessage{RunID: run.RunID, Status: run.Status, Row: r},
			}
		}
		if err := p.producer.PublishBatch(ctx, p.reportTopic, msgs); err != nil {
			return fmt.Errorf("publish report: %w", err)
		}
	}

	trades := run.Trades()
	if len(trades) == 0 || p.tradesTopic == "" {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(trades))
	for i, t := range trades {
		msgs[i] = pkgkafka.Message{
			Key:   []byte(t.Strategy),
			Value: tradeMessage{RunID: run.RunID, TradeRecord: t},
		}
	}
	if err := p.producer.PublishBatch(ctx, p.tradesTopic, msgs); err != nil {
		return fmt.Errorf("publish trades: %w", err)
	}
	return nil
}

func (p *KafkaResultPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
