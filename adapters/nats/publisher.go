package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/esrepo-go/core/es"
)

const (
	defaultSubjectPrefix = "esrepo.events"
	defaultStreamName    = "ESREPO_EVENTS"

	HeaderAggregateType    = "Esrepo-Aggregate-Type"
	HeaderAggregateID      = "Esrepo-Aggregate-Id"
	HeaderAggregateVersion = "Esrepo-Aggregate-Version"
	HeaderEventType        = "Esrepo-Event-Type"
)

type PublisherConfig struct {
	Connect       Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix string       // SubjectPrefix is prepended to <aggType>.<aggID>
	StreamName    string
	// Duplicates is the stream's deduplication window. Zero keeps the server default.
	Duplicates time.Duration
	// Storage defaults to file storage.
	Storage jetstream.StorageType
}

// Publisher forwards written events to a JetStream stream, one message per
// event on <prefix>.<aggType>.<aggID>. The message id is <aggID>:<version>,
// so a retried publish of the same events is dropped by the server.
type Publisher struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNatsCon, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}

	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	log = log.With(
		slog.String("publisher", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subjectPrefix", subjectPrefix),
	)

	log.Debug("ensuring stream")

	stream, streamInfo, err := ensureStream(js, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subjectPrefix + ".>"},
		Storage:    cfg.Storage,
		Duplicates: cfg.Duplicates,
	})
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log.Debug("ensured", slog.Any("stream", streamInfo.Config.Name))

	return &Publisher{
		nc:            nc,
		closeNc:       closeNatsCon,
		js:            js,
		stream:        stream,
		log:           log,
		subjectPrefix: subjectPrefix,
	}, nil
}

func (p *Publisher) Close() error {
	p.js.CleanupPublisher()
	p.closeNc()
	p.log.Debug("closed publisher")
	return nil
}

// Stream returns the stream events are published to.
func (p *Publisher) Stream() jetstream.Stream { return p.stream }

// Subject returns the subject events of one aggregate are published on.
func (p *Publisher) Subject(aggType, aggID string) string {
	return p.subjectPrefix + "." + token(aggType) + "." + token(aggID)
}

func (p *Publisher) Publish(ctx context.Context, aggType string, events []es.PersistedEvent) error {
	var errs []error
	for _, ev := range events {
		if err := p.publish(ctx, aggType, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) publish(ctx context.Context, aggType string, ev es.PersistedEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	msg := natsgo.NewMsg(p.Subject(aggType, ev.AggregateID))
	msg.Data = data
	msg.Header.Set(HeaderAggregateType, aggType)
	msg.Header.Set(HeaderAggregateID, ev.AggregateID)
	msg.Header.Set(HeaderAggregateVersion, strconv.FormatInt(ev.AggregateVersion.Int64(), 10))
	msg.Header.Set(HeaderEventType, ev.EventType)

	ack, err := p.js.PublishMsg(ctx, msg, jetstream.WithMsgID(msgID(ev)))
	if err != nil {
		return fmt.Errorf("failed to publish %s v%d to %s: %w", ev.EventType, ev.AggregateVersion, msg.Subject, err)
	}
	if ack.Duplicate {
		p.log.Debug("duplicate publish dropped", slog.String("msg_id", msgID(ev)))
	}
	return nil
}

func msgID(ev es.PersistedEvent) string {
	return ev.AggregateID + ":" + strconv.FormatInt(ev.AggregateVersion.Int64(), 10)
}

// token makes s usable as a single subject token.
func token(s string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

func ensureStream(js jetstream.JetStream, cfg jetstream.StreamConfig) (s jetstream.Stream, si *jetstream.StreamInfo, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()

	s, err = js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	si, err = s.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, si, nil
}

var _ es.Publisher = (*Publisher)(nil)
