package telemetry

import (
	"fmt"

	"github.com/nats-io/stan.go"
	stanPb "github.com/nats-io/stan.go/pb"
	log "github.com/sirupsen/logrus"

	stanUtil "github.com/salvoproject/salvo/internal/common/stan-util"
	"github.com/salvoproject/salvo/pkg/api"
)

// Relay fans live worker progress out to per-test subjects. Workers publish
// every sample to one shared ingest subject; an observer interested in a
// single run subscribes to that run's subject and never sees unrelated
// traffic.
//
// Relaying is best effort and plays no part in run lifecycle decisions. A
// dropped sample costs a datapoint on a dashboard and nothing else.
type Relay struct {
	connection    *stanUtil.DurableConnection
	subjectPrefix string
	queueGroup    string
}

func NewRelay(connection *stanUtil.DurableConnection, subjectPrefix string, queueGroup string) *Relay {
	return &Relay{
		connection:    connection,
		subjectPrefix: subjectPrefix,
		queueGroup:    queueGroup,
	}
}

// IngestSubject is the shared subject workers publish their samples to.
func (r *Relay) IngestSubject() string {
	return r.subjectPrefix + ".progress.ingest"
}

// TestSubject is the subject progress of a single run is relayed to.
func (r *Relay) TestSubject(testId string) string {
	return fmt.Sprintf("%s.progress.test.%s", r.subjectPrefix, testId)
}

// Start begins relaying. Relay instances sharing a queue group split the
// ingest traffic between them.
func (r *Relay) Start() error {
	return r.connection.QueueSubscribe(
		r.IngestSubject(),
		r.queueGroup,
		r.handleMessage,
		stan.SetManualAckMode(),
		stan.StartAt(stanPb.StartPosition_LastReceived),
		stan.DurableName(r.queueGroup))
}

// Subscribe delivers decoded progress samples of one run to handler. The
// subscription lasts for the lifetime of the underlying connection.
func (r *Relay) Subscribe(testId string, handler func(sample *api.ProgressSample)) error {
	return r.connection.Subscribe(r.TestSubject(testId), func(msg *stan.Msg) {
		sample, err := api.UnmarshalProgressSample(msg.Data)
		if err != nil {
			log.Errorf("Error while decoding progress sample for test %s: %v", testId, err)
			return
		}
		handler(sample)
	})
}

// Check implements health.Checker.
func (r *Relay) Check() error {
	return r.connection.Check()
}

func (r *Relay) handleMessage(msg *stan.Msg) {
	sample, err := api.UnmarshalProgressSample(msg.Data)
	if err != nil || sample.TestId == "" {
		samplesDiscarded.Inc()
		log.Warnf("Discarding progress sample without a usable test id: %v", err)
	} else {
		// The payload is republished untouched, decoding is for routing only.
		if _, err := r.connection.PublishAsync(r.TestSubject(sample.TestId), msg.Data, nil); err != nil {
			log.Errorf("Error while relaying progress sample for test %s: %v", sample.TestId, err)
		} else {
			samplesRelayed.Inc()
		}
	}

	// Progress is time sensitive, a redelivery seconds later is worthless.
	if err := msg.Ack(); err != nil {
		log.Errorf("Error while acking progress message: %v", err)
	}
}
