package montage

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// TemplateSummary is the retained message published on {prefix}/template.
type TemplateSummary struct {
	Points        int        `json:"points"`
	Subjects      []string   `json:"subjects"`
	GlobalAverage float64    `json:"globalAverage"`
	Warnings      int        `json:"warnings"`
	Landmarks     *Landmarks `json:"landmarks,omitempty"`
	Template      PointSet   `json:"template"`
	Timestamp     int64      `json:"timestamp"`
}

// SubjectSummary is published on {prefix}/subjects/{name}.
type SubjectSummary struct {
	Name      string        `json:"name"`
	Transform Matrix4       `json:"transform"`
	Quality   FitQuality    `json:"quality"`
	Distances DistanceStats `json:"distances"`
	Timestamp int64         `json:"timestamp"`
}

// Summarize builds the template summary of a result
func Summarize(res *TemplateResult) TemplateSummary {
	return TemplateSummary{
		Points:        res.Template.Len(),
		Subjects:      res.Subjects,
		GlobalAverage: res.Diagnostics.GlobalAverage,
		Warnings:      len(res.Warnings),
		Landmarks:     res.Landmarks,
		Template:      res.Template,
		Timestamp:     time.Now().Unix(),
	}
}

// Publisher publishes template builds to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	last          *TemplateSummary
	mu            sync.RWMutex
}

// NewPublisher creates a publisher. If client is nil, publishing is disabled.
func NewPublisher(client mqtt.Client) *Publisher {
	prefix := os.Getenv("MQTT_PUBLISH_PREFIX")
	if prefix == "" {
		prefix = "eegmontage"
	}
	return NewPublisherWithPrefix(client, prefix)
}

// NewPublisherWithPrefix creates a publisher on an explicit topic prefix
func NewPublisherWithPrefix(client mqtt.Client, prefix string) *Publisher {
	return &Publisher{
		client:        client,
		publishPrefix: strings.TrimSuffix(prefix, "/"),
		qos:           0,
		retain:        true,
	}
}

// PublishResult publishes the template summary, one message per subject and,
// when any subject was flagged, the warning list
func (p *Publisher) PublishResult(res *TemplateResult) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	summary := Summarize(res)
	if err := p.publishJSON(p.publishPrefix+"/template", summary); err != nil {
		return err
	}
	p.mu.Lock()
	p.last = &summary
	p.mu.Unlock()

	for i, name := range res.Subjects {
		s := SubjectSummary{
			Name:      name,
			Transform: res.Transforms[i],
			Quality:   res.Quality[i],
			Timestamp: summary.Timestamp,
		}
		if i < len(res.Diagnostics.Subjects) {
			s.Distances = res.Diagnostics.Subjects[i]
		}
		if err := p.publishJSON(p.subjectTopic(name), s); err != nil {
			log.Printf("[MQTT] Error publishing subject %s: %v", name, err)
			return err
		}
	}

	if len(res.Warnings) > 0 {
		if err := p.publishJSON(p.publishPrefix+"/warnings", res.Warnings); err != nil {
			return err
		}
	}

	log.Printf("[MQTT] Published template (%d points, %d subjects, %d warnings)",
		summary.Points, len(res.Subjects), len(res.Warnings))
	return nil
}

// subjectTopic sanitises name so it forms a single topic level
func (p *Publisher) subjectTopic(name string) string {
	name = strings.NewReplacer("/", "_", "+", "_", "#", "_", " ", "_").Replace(name)
	return fmt.Sprintf("%s/subjects/%s", p.publishPrefix, name)
}

func (p *Publisher) publishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", topic, err)
	}
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// LastSummary returns the last published template summary
func (p *Publisher) LastSummary() (*TemplateSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return nil, false
	}
	s := *p.last
	return &s, true
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
