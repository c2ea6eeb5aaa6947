// internal/publisher/discovery.go
package publisher

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/unipi-control/internal/config"
	"github.com/tamzrod/unipi-control/internal/feature"
)

// Discovery publishes retained Home Assistant discovery documents, one per
// feature. Documents are republished on every (re)connect.
type Discovery struct {
	topics  Topics
	prefix  string
	device  string
	qos     byte
	timeout time.Duration
	logger  zerolog.Logger
}

func NewDiscovery(topics Topics, cfg *config.Config, logger zerolog.Logger) *Discovery {
	prefix := strings.Trim(cfg.HomeAssistant.DiscoveryPrefix, "/")
	if prefix == "" {
		prefix = config.DefaultDiscoveryPrefix
	}
	return &Discovery{
		topics:  topics,
		prefix:  prefix,
		device:  cfg.DeviceInfo.Name,
		qos:     cfg.MQTT.QoS,
		timeout: connectTimeout(cfg.MQTT),
		logger:  logger,
	}
}

type discoveryDevice struct {
	Identifiers   []string `json:"identifiers"`
	Name          string   `json:"name"`
	Manufacturer  string   `json:"manufacturer,omitempty"`
	Model         string   `json:"model,omitempty"`
	SWVersion     string   `json:"sw_version,omitempty"`
	SuggestedArea string   `json:"suggested_area,omitempty"`
}

type discoveryDocument struct {
	Name                string          `json:"name"`
	ObjectID            string          `json:"object_id"`
	UniqueID            string          `json:"unique_id"`
	StateTopic          string          `json:"state_topic"`
	CommandTopic        string          `json:"command_topic,omitempty"`
	AvailabilityTopic   string          `json:"availability_topic"`
	PayloadAvailable    string          `json:"payload_available"`
	PayloadNotAvailable string          `json:"payload_not_available"`
	PayloadOn           string          `json:"payload_on,omitempty"`
	PayloadOff          string          `json:"payload_off,omitempty"`
	Min                 *float64        `json:"min,omitempty"`
	Max                 *float64        `json:"max,omitempty"`
	Step                float64         `json:"step,omitempty"`
	DeviceClass         string          `json:"device_class,omitempty"`
	StateClass          string          `json:"state_class,omitempty"`
	UnitOfMeasurement   string          `json:"unit_of_measurement,omitempty"`
	QoS                 byte            `json:"qos"`
	Device              discoveryDevice `json:"device"`
}

// Component maps a feature kind to its Home Assistant entity platform.
func Component(kind feature.Kind) string {
	switch kind {
	case feature.KindRelay, feature.KindDigitalOutput, feature.KindLED:
		return "switch"
	case feature.KindDigitalInput:
		return "binary_sensor"
	case feature.KindAnalogOutput:
		return "number"
	default:
		return "sensor"
	}
}

// Topic is <discovery prefix>/<component>/<device>/<circuit>/config.
func (d *Discovery) Topic(info feature.Info) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", d.prefix, Component(info.Kind), d.topics.Prefix(), info.Circuit)
}

// Document renders the discovery payload of one feature.
func (d *Discovery) Document(info feature.Info) ([]byte, error) {
	id := d.topics.Prefix() + "_" + info.Circuit

	doc := discoveryDocument{
		Name:                info.Name,
		ObjectID:            id,
		UniqueID:            id,
		StateTopic:          d.topics.State(info.Kind, info.Circuit),
		AvailabilityTopic:   d.topics.Availability(),
		PayloadAvailable:    payloadOnline,
		PayloadNotAvailable: payloadOffline,
		QoS:                 d.qos,
		Device:              d.deviceFor(info),
	}

	if info.Kind.Writable() {
		doc.CommandTopic = d.topics.Command(info.Kind, info.Circuit)
	}
	if info.Kind.IsDigital() {
		doc.PayloadOn, doc.PayloadOff = "ON", "OFF"
	}

	switch info.Kind {
	case feature.KindAnalogOutput:
		lo, hi := 0.0, 10.0
		doc.Min, doc.Max, doc.Step = &lo, &hi, 0.01
		doc.UnitOfMeasurement = "V"
	case feature.KindMeter:
		if info.Meter.FriendlyName != "" {
			doc.Name = info.Meter.FriendlyName
		}
		doc.DeviceClass = info.Meter.DeviceClass
		doc.StateClass = info.Meter.StateClass
		doc.UnitOfMeasurement = info.Meter.UnitOfMeasurement
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("discovery: encode %s: %w", info.Circuit, err)
	}
	return b, nil
}

// deviceFor groups features by board: one device for the controller, one per
// extension unit.
func (d *Discovery) deviceFor(info feature.Info) discoveryDevice {
	dev := discoveryDevice{
		Identifiers: []string{d.topics.Prefix()},
		Name:        d.device,
		SWVersion:   info.Firmware,
	}

	def := info.Definition
	if def == nil {
		return dev
	}

	dev.Manufacturer = def.Manufacturer
	dev.Model = def.Model
	dev.SuggestedArea = def.SuggestedArea

	if def.Type == config.HardwareExtension {
		dev.Identifiers = []string{fmt.Sprintf("%s_%s_%d", d.topics.Prefix(), feature.Slug(def.Key), info.Unit)}
		dev.Name = strings.TrimSpace(d.device + " " + def.Model)
	}
	if def.DeviceName != "" {
		dev.Name = def.DeviceName
	}
	return dev
}

// Publish sends a retained discovery document for every feature.
func (d *Discovery) Publish(client Client, features []feature.Feature) error {
	var errs []string

	for _, f := range features {
		info := f.Info()

		payload, err := d.Document(info)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}

		topic := d.Topic(info)
		if err := wait(client.Publish(topic, d.qos, true, payload), d.timeout); err != nil {
			errs = append(errs, fmt.Sprintf("discovery: topic=%s err=%v", topic, err))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, " | "))
	}

	d.logger.Info().Int("features", len(features)).Str("prefix", d.prefix).Msg("discovery published")
	return nil
}
