// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipengine

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
)

// Direction is SDP media direction attribute
type Direction string

const (
	DirectionSendRecv Direction = "sendrecv"
	DirectionSendOnly Direction = "sendonly"
	DirectionRecvOnly Direction = "recvonly"
	DirectionInactive Direction = "inactive"
)

// Answer returns direction to answer offered direction with
func (d Direction) Answer(localHold bool) Direction {
	switch d {
	case DirectionSendOnly:
		if localHold {
			return DirectionInactive
		}
		return DirectionRecvOnly
	case DirectionRecvOnly:
		if localHold {
			return DirectionSendOnly
		}
		return DirectionSendRecv
	case DirectionInactive:
		return DirectionInactive
	}
	if localHold {
		return DirectionSendOnly
	}
	return DirectionSendRecv
}

// RemoteHold reports whether remote side stopped sending to us
func (d Direction) RemoteHold() bool {
	return d == DirectionSendOnly || d == DirectionInactive
}

type Codec struct {
	PayloadType uint8
	Name        string
	SampleRate  uint32
}

var (
	CodecUlaw           = Codec{PayloadType: 0, Name: "PCMU", SampleRate: 8000}
	CodecAlaw           = Codec{PayloadType: 8, Name: "PCMA", SampleRate: 8000}
	CodecTelephoneEvent = Codec{PayloadType: 101, Name: "telephone-event", SampleRate: 8000}

	defaultCodecs = []Codec{CodecUlaw, CodecAlaw}
)

func (c Codec) rtpmap() string {
	return fmt.Sprintf("%d %s/%d", c.PayloadType, c.Name, c.SampleRate)
}

// sdpParams is negotiated or offered media description
type sdpParams struct {
	Addr      *net.UDPAddr
	Codecs    []Codec
	DTMF      uint8
	HasDTMF   bool
	Direction Direction
}

func generateSDP(ip net.IP, port int, codecs []Codec, dir Direction) ([]byte, error) {
	addrType := "IP4"
	if ip.To4() == nil {
		addrType = "IP6"
	}

	formats := make([]string, 0, len(codecs)+1)
	attrs := make([]sdp.Attribute, 0, len(codecs)+4)
	for _, c := range codecs {
		formats = append(formats, strconv.Itoa(int(c.PayloadType)))
		attrs = append(attrs, sdp.Attribute{Key: "rtpmap", Value: c.rtpmap()})
	}
	formats = append(formats, strconv.Itoa(int(CodecTelephoneEvent.PayloadType)))
	attrs = append(attrs,
		sdp.Attribute{Key: "rtpmap", Value: CodecTelephoneEvent.rtpmap()},
		sdp.Attribute{Key: "fmtp", Value: fmt.Sprintf("%d 0-16", CodecTelephoneEvent.PayloadType)},
		sdp.Attribute{Key: "ptime", Value: "20"},
		sdp.Attribute{Key: string(dir)},
	)

	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      uint64(time.Now().UnixNano()),
			SessionVersion: uint64(time.Now().Unix()),
			NetworkType:    "IN",
			AddressType:    addrType,
			UnicastAddress: ip.String(),
		},
		SessionName: "sipua",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addrType,
			Address:     &sdp.Address{Address: ip.String()},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: port},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: attrs,
			},
		},
	}
	return sd.Marshal()
}

// parseSDP reads first audio media of body
func parseSDP(body []byte) (sdpParams, error) {
	p := sdpParams{Direction: DirectionSendRecv}
	sd := sdp.SessionDescription{}
	if err := sd.Unmarshal(body); err != nil {
		return p, fmt.Errorf("parse sdp: %w", err)
	}

	var md *sdp.MediaDescription
	for _, m := range sd.MediaDescriptions {
		if m.MediaName.Media == "audio" {
			md = m
			break
		}
	}
	if md == nil {
		return p, fmt.Errorf("no audio media in sdp")
	}

	host := ""
	switch {
	case md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil:
		host = md.ConnectionInformation.Address.Address
	case sd.ConnectionInformation != nil && sd.ConnectionInformation.Address != nil:
		host = sd.ConnectionInformation.Address.Address
	default:
		host = sd.Origin.UnicastAddress
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return p, fmt.Errorf("invalid media address %q", host)
	}
	p.Addr = &net.UDPAddr{IP: ip, Port: md.MediaName.Port.Value}

	rtpmaps := map[uint8]string{}
	for _, a := range md.Attributes {
		switch a.Key {
		case "rtpmap":
			pt, name, ok := strings.Cut(a.Value, " ")
			if !ok {
				continue
			}
			v, err := strconv.Atoi(pt)
			if err != nil {
				continue
			}
			rtpmaps[uint8(v)] = name
		case string(DirectionSendRecv), string(DirectionSendOnly), string(DirectionRecvOnly), string(DirectionInactive):
			p.Direction = Direction(a.Key)
		}
	}
	// Connection address 0.0.0.0 is old style hold
	if ip.IsUnspecified() && p.Direction == DirectionSendRecv {
		p.Direction = DirectionSendOnly
	}

	for _, f := range md.MediaName.Formats {
		v, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		pt := uint8(v)
		name := strings.ToLower(rtpmaps[pt])
		switch {
		case strings.HasPrefix(name, "telephone-event/8000"):
			p.DTMF = pt
			p.HasDTMF = true
		case pt == CodecUlaw.PayloadType:
			p.Codecs = append(p.Codecs, CodecUlaw)
		case pt == CodecAlaw.PayloadType:
			p.Codecs = append(p.Codecs, CodecAlaw)
		}
	}
	if len(p.Codecs) == 0 {
		return p, fmt.Errorf("no supported codec offered")
	}
	return p, nil
}
