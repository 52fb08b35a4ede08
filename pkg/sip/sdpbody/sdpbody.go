// Package sdpbody формирует и проверяет SDP тела INVITE для сессий RCS
// (chat, file transfer, sharing). Сам медиа транспорт здесь не реализуется.
package sdpbody

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
)

// ContentType MIME тип SDP
const ContentType = "application/sdp"

// Setup роли для a=setup (RFC 4145)
const (
	SetupActive  = "active"
	SetupPassive = "passive"
	SetupActpass = "actpass"
)

// OfferParams параметры MSRP предложения
type OfferParams struct {
	Host               string
	Port               int
	Path               string   // msrp://host:port/id;tcp
	AcceptTypes        []string // a=accept-types
	AcceptWrappedTypes []string // a=accept-wrapped-types
	Setup              string
	Direction          string // sendrecv по умолчанию
	MaxSize            int64  // a=max-size, 0 не добавляется
	FileSelector       string
}

// NewMSRPOffer строит SDP предложение с m=message строкой
func NewMSRPOffer(p OfferParams) (*sdp.SessionDescription, error) {
	if p.Host == "" {
		return nil, fmt.Errorf("sdp offer: empty host")
	}
	if p.Port <= 0 || p.Port > 65535 {
		return nil, fmt.Errorf("sdp offer: invalid port %d", p.Port)
	}
	now := uint64(time.Now().Unix())

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      now,
			SessionVersion: now,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: p.Host,
		},
		SessionName: sdp.SessionName("-"),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: p.Host},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "message",
			Port:    sdp.RangedPort{Value: p.Port},
			Protos:  []string{"TCP", "MSRP"},
			Formats: []string{"*"},
		},
	}
	if len(p.AcceptTypes) > 0 {
		media.Attributes = append(media.Attributes, sdp.NewAttribute("accept-types", strings.Join(p.AcceptTypes, " ")))
	}
	if len(p.AcceptWrappedTypes) > 0 {
		media.Attributes = append(media.Attributes, sdp.NewAttribute("accept-wrapped-types", strings.Join(p.AcceptWrappedTypes, " ")))
	}
	if p.FileSelector != "" {
		media.Attributes = append(media.Attributes, sdp.NewAttribute("file-selector", p.FileSelector))
	}
	setup := p.Setup
	if setup == "" {
		setup = SetupActive
	}
	media.Attributes = append(media.Attributes, sdp.NewAttribute("setup", setup))
	if p.Path != "" {
		media.Attributes = append(media.Attributes, sdp.NewAttribute("path", p.Path))
	}
	if p.MaxSize > 0 {
		media.Attributes = append(media.Attributes, sdp.NewAttribute("max-size", strconv.FormatInt(p.MaxSize, 10)))
	}
	direction := p.Direction
	if direction == "" {
		direction = "sendrecv"
	}
	media.Attributes = append(media.Attributes, sdp.NewPropertyAttribute(direction))

	desc.MediaDescriptions = []*sdp.MediaDescription{media}
	return desc, nil
}

// Marshal сериализует описание в строку
func Marshal(desc *sdp.SessionDescription) (string, error) {
	data, err := desc.Marshal()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Validate разбирает SDP и проверяет наличие хотя бы одной медиа секции
func Validate(body string) (*sdp.SessionDescription, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(body)); err != nil {
		return nil, fmt.Errorf("invalid sdp: %w", err)
	}
	if len(desc.MediaDescriptions) == 0 {
		return nil, fmt.Errorf("invalid sdp: no media description")
	}
	return &desc, nil
}

// MediaAttribute возвращает значение атрибута первой медиа секции
func MediaAttribute(desc *sdp.SessionDescription, key string) (string, bool) {
	if desc == nil || len(desc.MediaDescriptions) == 0 {
		return "", false
	}
	return desc.MediaDescriptions[0].Attribute(key)
}
