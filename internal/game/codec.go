package game

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownEventKind indicates a payload carried a discriminator outside the
// closed event set.
var ErrUnknownEventKind = errors.New("unknown event kind")

// eventDocument is the serialized form shared by storage, journal and ingress.
type eventDocument struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeEvent serializes an event with its kind discriminator.
func EncodeEvent(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("event required")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventDocument{Kind: ev.Kind(), Payload: payload})
}

// DecodeEvent reverses EncodeEvent, selecting the concrete variant by kind.
func DecodeEvent(data []byte) (Event, error) {
	var doc eventDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	var ev Event
	switch doc.Kind {
	case KindMoveFleet:
		ev = &MoveFleet{}
	case KindBuildStructure:
		ev = &BuildStructure{}
	case KindAttack:
		ev = &Attack{}
	case KindDiplomacy:
		ev = &Diplomacy{}
	case KindTransferResources:
		ev = &TransferResources{}
	case KindColonizePlanet:
		ev = &ColonizePlanet{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventKind, doc.Kind)
	}
	if err := json.Unmarshal(doc.Payload, ev); err != nil {
		return nil, err
	}
	return ev, nil
}
