package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Artifact is the structured record emitted on an anti-block detection or an
// extraction total-failure, kept for offline selector-cascade maintenance.
type Artifact struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Query      string    `json:"query"`
	Kind       string    `json:"kind"`
	URL        string    `json:"url,omitempty"`
	Status     int       `json:"status,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	MarkupPath string    `json:"markup_path,omitempty"`
	ShotPath   string    `json:"screenshot_path,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Artifact kinds.
const (
	KindBlocked         = "access_blocked"
	KindExtractionEmpty = "extraction_empty"
	KindUnavailable     = "source_unavailable"
)

// Recorder appends artifacts to a per-day jsonl index and writes captured
// markup/screenshots alongside. When a kafka broker is configured, artifacts
// are also published for live monitoring; publish failure is never allowed
// to affect the scrape path.
type Recorder struct {
	dir    string
	node   *snowflake.Node
	writer *kafka.Writer
}

func NewRecorder(dir, kafkaBroker, kafkaTopic string) (*Recorder, error) {
	if dir == "" {
		dir = "./data/diagnostics"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("diagnostics dir: %w", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, err
	}

	r := &Recorder{dir: dir, node: node}

	if kafkaBroker != "" {
		r.writer = &kafka.Writer{
			Addr:         kafka.TCP(kafkaBroker),
			Topic:        kafkaTopic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		}
		zap.S().Infow("diagnostics kafka publishing enabled",
			"broker", kafkaBroker, "topic", kafkaTopic)
	}

	return r, nil
}

// Record persists one artifact. Captured markup and screenshot bytes may be
// nil; the jsonl record is written either way.
func (r *Recorder) Record(ctx context.Context, a Artifact, markup string, screenshot []byte) {
	if r == nil {
		return
	}

	a.ID = r.node.Generate().String()
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	stem := fmt.Sprintf("%s_%s", a.Source, a.ID)
	if markup != "" {
		p := filepath.Join(r.dir, stem+".html")
		if err := os.WriteFile(p, []byte(markup), 0o644); err == nil {
			a.MarkupPath = p
		}
	}
	if len(screenshot) > 0 {
		p := filepath.Join(r.dir, stem+".png")
		if err := os.WriteFile(p, screenshot, 0o644); err == nil {
			a.ShotPath = p
		}
	}

	if err := r.appendIndex(a); err != nil {
		zap.S().Warnw("failed to write diagnostic artifact", "err", err)
	}

	r.publish(ctx, a)

	zap.S().Infow("diagnostic artifact recorded",
		"source", a.Source, "kind", a.Kind, "id", a.ID)
}

func (r *Recorder) appendIndex(a Artifact) error {
	fpath := filepath.Join(r.dir, fmt.Sprintf("diagnostics_%s.jsonl", a.Timestamp.Format("2006-01-02")))
	f, err := os.OpenFile(fpath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

func (r *Recorder) publish(ctx context.Context, a Artifact) {
	if r.writer == nil {
		return
	}
	data, err := json.Marshal(a)
	if err != nil {
		return
	}
	msg := kafka.Message{
		Key:   []byte(a.Source),
		Value: data,
		Time:  a.Timestamp,
	}
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		zap.S().Debugw("diagnostics publish failed", "err", err)
	}
}

func (r *Recorder) Close() error {
	if r == nil || r.writer == nil {
		return nil
	}
	return r.writer.Close()
}
