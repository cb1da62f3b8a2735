package keysync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Shopify/sarama"

	"keysync-backend/internal/config"
	"keysync-backend/internal/engine"
	"keysync-backend/internal/metadata"
	"keysync-backend/internal/store"
)

// ErrPermanent marks a resync failure that redelivery cannot fix. The
// worker logs and drops such messages instead of retrying them.
var ErrPermanent = errors.New("permanent sync failure")

func permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Resyncer rebuilds the key set of a single rule against all objects.
// All writes for one message happen in one transaction, and create and
// update both replace the full set, so replaying a delivered message
// converges to the same end state.
type Resyncer struct {
	store   *store.Store
	rules   engine.RuleRepo
	objects engine.ObjectRepo
	keys    engine.KeyRepo
}

func NewResyncer(s *store.Store, rules engine.RuleRepo, objects engine.ObjectRepo, keys engine.KeyRepo) *Resyncer {
	return &Resyncer{store: s, rules: rules, objects: objects, keys: keys}
}

func (r *Resyncer) Apply(ctx context.Context, msg SyncMessage) error {
	switch msg.Type {
	case engine.SyncCreate, engine.SyncUpdate:
		return r.rebuild(ctx, msg.RuleID)
	case engine.SyncDelete:
		return r.store.WithTx(ctx, func(tx *sql.Tx) error {
			return r.keys.DeleteByRule(ctx, tx, msg.RuleID)
		})
	default:
		return permanent(fmt.Errorf("unknown sync message type %q", msg.Type))
	}
}

func (r *Resyncer) rebuild(ctx context.Context, ruleID string) error {
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		rule, err := r.rules.FindByID(ctx, tx, ruleID)
		if errors.Is(err, store.ErrNotFound) {
			// The rule went away after publish; nothing left to sync.
			return permanent(fmt.Errorf("rule %s no longer exists", ruleID))
		}
		if err != nil {
			return err
		}

		objects, err := r.objects.FindAll(ctx, tx)
		if err != nil {
			return err
		}
		keys := make([]engine.ObjectKey, 0, len(objects))
		for _, obj := range objects {
			value, err := rule.GenerateKey(obj)
			if err != nil {
				return classifyEvalError(err)
			}
			keys = append(keys, engine.ObjectKey{ObjectID: obj.ID, Key: value})
		}

		if err := r.keys.DeleteByRule(ctx, tx, rule.ID); err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		return r.keys.InsertForRule(ctx, tx, rule.ID, keys)
	})
}

// classifyEvalError marks evaluation failures permanent: neither a
// missing attribute nor a broken pattern heals on redelivery, and any
// later mutation republishes a fresh resync.
func classifyEvalError(err error) error {
	var missing *metadata.MissingAttributeError
	var pattern *metadata.InvalidPatternError
	if errors.As(err, &missing) || errors.As(err, &pattern) {
		return permanent(err)
	}
	return err
}

// Worker consumes resync messages from a Kafka consumer group. Offsets
// are marked only after the transaction commits; transient failures end
// the session unmarked so the queue redelivers.
type Worker struct {
	resyncer *Resyncer
}

func NewWorker(r *Resyncer) *Worker {
	return &Worker{resyncer: r}
}

func (w *Worker) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (w *Worker) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (w *Worker) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		m, err := DecodeMessage(msg.Value)
		if err != nil {
			log.Printf("WARN: dropping undecodable sync message at %s/%d/%d: %v",
				msg.Topic, msg.Partition, msg.Offset, err)
			sess.MarkMessage(msg, "")
			continue
		}

		if err := w.resyncer.Apply(sess.Context(), m); err != nil {
			if errors.Is(err, ErrPermanent) {
				log.Printf("WARN: dropping %s resync for rule %s: %v", m.Type, m.RuleID, err)
				sess.MarkMessage(msg, "")
				continue
			}
			// Transient: leave the offset unmarked and bail out so the
			// message is redelivered.
			return fmt.Errorf("apply %s resync for rule %s: %w", m.Type, m.RuleID, err)
		}

		log.Printf("Applied %s resync for rule %s", m.Type, m.RuleID)
		sess.MarkMessage(msg, "")
	}
	return nil
}

var _ sarama.ConsumerGroupHandler = (*Worker)(nil)

// ConsumerConfig returns the sarama settings for the worker group.
func ConsumerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	return cfg
}

// Run consumes the sync topic until ctx is canceled.
func Run(ctx context.Context, cfg config.KafkaConfig, resyncer *Resyncer) error {
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, ConsumerConfig())
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer group.Close()

	worker := NewWorker(resyncer)
	for {
		if err := group.Consume(ctx, []string{cfg.Topic}, worker); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			log.Printf("ERROR: consume: %v", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		time.Sleep(time.Second)
	}
}
