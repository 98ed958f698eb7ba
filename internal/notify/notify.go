// Package notify hands outgoing emails and staff notifications to the mail
// service through a Kafka topic.
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/microcosm-cc/bluemonday"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Message kinds carried in the "kind" field.
const (
	KindEmail        = "email"
	KindNotification = "notification"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka producer.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// Kafka produces email and notification messages. It implements both the
// order confirmation mailer and the approval notifier.
type Kafka struct {
	w       messageWriter
	brokers []string
	policy  *bluemonday.Policy
	now     func() time.Time
}

// NewKafka returns a synchronous producer that waits for all in-sync
// replicas to acknowledge each message.
func NewKafka(cfg KafkaConfig) *Kafka {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.WriteTimeout,
	}
	return newKafka(w, cfg.Brokers)
}

func newKafka(w messageWriter, brokers []string) *Kafka {
	return &Kafka{
		w:       w,
		brokers: brokers,
		policy:  bluemonday.UGCPolicy(),
		now:     time.Now,
	}
}

// SendEmail queues an HTML email. The body is sanitised before it leaves the
// process.
func (k *Kafka) SendEmail(ctx context.Context, to, subject, html string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("empty recipient")
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("kind")
	e.Str(KindEmail)
	e.FieldStart("to")
	e.Str(to)
	e.FieldStart("subject")
	e.Str(subject)
	e.FieldStart("html")
	e.Str(k.policy.Sanitize(html))
	e.ObjEnd()

	return k.write(ctx, to, e.Bytes())
}

// Notify queues an in-app notification for a staff user.
func (k *Kafka) Notify(ctx context.Context, userID, message string) error {
	if userID == "" {
		return errors.New("empty user id")
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("kind")
	e.Str(KindNotification)
	e.FieldStart("userId")
	e.Str(userID)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()

	return k.write(ctx, userID, e.Bytes())
}

func (k *Kafka) write(ctx context.Context, key string, value []byte) error {
	err := k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  k.now(),
	})
	if err != nil {
		return errors.Wrap(err, "write kafka message")
	}
	return nil
}

// Check dials the first reachable broker.
func (k *Kafka) Check(ctx context.Context) error {
	var lastErr error
	for _, b := range k.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers configured")
	}
	return errors.Wrap(lastErr, "kafka")
}

// Close flushes pending messages and closes the writer.
func (k *Kafka) Close() error {
	return k.w.Close()
}

// Log writes emails and notifications to the request logger instead of
// delivering them.
type Log struct{}

func (Log) SendEmail(ctx context.Context, to, subject, _ string) error {
	zctx.From(ctx).Info("Email (not delivered)", zap.String("to", to), zap.String("subject", subject))
	return nil
}

func (Log) Notify(ctx context.Context, userID, message string) error {
	zctx.From(ctx).Info("Notification (not delivered)", zap.String("user_id", userID), zap.String("message", message))
	return nil
}

