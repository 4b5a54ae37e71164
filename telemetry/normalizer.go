package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cast"

	"starwatch-hud/common"
)

var (
	// ErrDecode возвращается, если сообщение не является корректным JSON
	ErrDecode = errors.New("telemetry: undecodable payload")
	// ErrNotRecord возвращается, если декодированное значение не JSON объект
	ErrNotRecord = errors.New("telemetry: payload is not a record")
	// ErrInvalidCameraID возвращается, если поле cameraId отсутствует или не строка
	ErrInvalidCameraID = errors.New("telemetry: cameraId is missing or not a string")
)

// Decode декодирует текстовое сообщение и нормализует его в пакет
func Decode(payload []byte, now func() time.Time) (*common.TelemetryPacket, error) {
	var raw interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return Normalize(raw, now)
}

// Normalize проверяет и приводит произвольное декодированное значение к пакету телеметрии.
// Отсутствующие и некорректные поля объектов заменяются значениями по умолчанию
func Normalize(raw interface{}, now func() time.Time) (*common.TelemetryPacket, error) {
	record, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotRecord, raw)
	}

	cameraID, ok := record["cameraId"].(string)
	if !ok {
		return nil, ErrInvalidCameraID
	}

	if now == nil {
		now = time.Now
	}

	packet := &common.TelemetryPacket{
		CameraID:  cameraID,
		Timestamp: normalizeTimestamp(record["timestamp"], now),
		Objects:   []common.TelemetryObject{},
	}

	if items, ok := record["objects"].([]interface{}); ok {
		packet.Objects = make([]common.TelemetryObject, 0, len(items))
		for _, item := range items {
			packet.Objects = append(packet.Objects, normalizeObject(item))
		}
	}

	return packet, nil
}

func normalizeTimestamp(value interface{}, now func() time.Time) int64 {
	if value != nil {
		if ms, err := cast.ToFloat64E(value); err == nil {
			return int64(ms)
		}
	}
	return now().UnixMilli()
}

// normalizeObject приводит один элемент массива objects к TelemetryObject.
// Элемент, не являющийся объектом, дает запись со значениями по умолчанию
func normalizeObject(item interface{}) common.TelemetryObject {
	fields, _ := item.(map[string]interface{})

	return common.TelemetryObject{
		ID:         stringOr(fields["id"], common.DefaultObjectID),
		Label:      stringOr(fields["label"], common.DefaultObjectLabel),
		Confidence: numberOr(fields["confidence"], 0),
		X:          numberOr(fields["x"], 0),
		Y:          numberOr(fields["y"], 0),
		Width:      numberOr(fields["width"], 0),
		Height:     numberOr(fields["height"], 0),
		VX:         optionalNumber(fields["vx"]),
		VY:         optionalNumber(fields["vy"]),
	}
}

func stringOr(value interface{}, fallback string) string {
	if value == nil {
		return fallback
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return fallback
	}
	return s
}

func numberOr(value interface{}, fallback float64) float64 {
	if n := optionalNumber(value); n != nil {
		return *n
	}
	return fallback
}

// optionalNumber возвращает nil для отсутствующих и нечисловых значений
func optionalNumber(value interface{}) *float64 {
	if value == nil {
		return nil
	}
	n, err := cast.ToFloat64E(value)
	if err != nil {
		return nil
	}
	return &n
}
