// internal/feature/kind.go
package feature

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownKind = errors.New("unknown feature kind")

type Kind uint8

const (
	KindRelay Kind = iota + 1
	KindDigitalOutput
	KindDigitalInput
	KindAnalogOutput
	KindAnalogInput
	KindLED
	KindMeter
)

type kindInfo struct {
	code      string
	name      string
	topicName string
	topicType string
	digital   bool
	writable  bool
}

var kinds = map[Kind]kindInfo{
	KindRelay:         {code: "RO", name: "Relay", topicName: "relay", topicType: "physical", digital: true, writable: true},
	KindDigitalOutput: {code: "DO", name: "Digital Output", topicName: "relay", topicType: "digital", digital: true, writable: true},
	KindDigitalInput:  {code: "DI", name: "Digital Input", topicName: "input", topicType: "digital", digital: true},
	KindAnalogOutput:  {code: "AO", name: "Analog Output", topicName: "output", topicType: "analog", writable: true},
	KindAnalogInput:   {code: "AI", name: "Analog Input", topicName: "input", topicType: "analog"},
	KindLED:           {code: "LED", name: "LED", topicName: "led", digital: true, writable: true},
	KindMeter:         {code: "METER", name: "Meter", topicName: "meter"},
}

// ParseKind maps a definition feature_type to a Kind.
func ParseKind(code string) (Kind, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for k, info := range kinds {
		if info.code == code {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownKind, code)
}

// String returns the definition code, e.g. "RO".
func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.code
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Name is the human readable kind, e.g. "Relay".
func (k Kind) Name() string { return kinds[k].name }

func (k Kind) TopicName() string { return kinds[k].topicName }

// TopicType is empty for kinds without a sub type.
func (k Kind) TopicType() string { return kinds[k].topicType }

func (k Kind) IsDigital() bool { return kinds[k].digital }

func (k Kind) Writable() bool { return kinds[k].writable }
