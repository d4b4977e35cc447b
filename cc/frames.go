package cc

import (
	"errors"
	"fmt"
)

var ErrMalformedFrame = errors.New("malformed frame")

// Command identifiers used by the probe engine.
const (
	ManufacturerSpecificGet    uint8 = 0x04
	ManufacturerSpecificReport uint8 = 0x05

	MultiChannelEndPointGet             uint8 = 0x07
	MultiChannelEndPointReport          uint8 = 0x08
	MultiChannelCapabilityGet           uint8 = 0x09
	MultiChannelCapabilityReport        uint8 = 0x0A
	MultiChannelEndPointFind            uint8 = 0x0B
	MultiChannelEndPointFindReport      uint8 = 0x0C
	MultiChannelAggregatedMembersGet    uint8 = 0x0E
	MultiChannelAggregatedMembersReport uint8 = 0x0F

	SecurityCommandsSupportedGet    uint8 = 0x02
	SecurityCommandsSupportedReport uint8 = 0x03

	Security2CommandsSupportedGet    uint8 = 0x0D
	Security2CommandsSupportedReport uint8 = 0x0E

	VersionCommandClassGet      uint8 = 0x13
	VersionCommandClassReport   uint8 = 0x14
	VersionCapabilitiesGet      uint8 = 0x15
	VersionCapabilitiesReport   uint8 = 0x16
	VersionZWaveSoftwareGet     uint8 = 0x17
	VersionZWaveSoftwareReport  uint8 = 0x18
	ZWavePlusInfoGet            uint8 = 0x01
	ZWavePlusInfoReport         uint8 = 0x02
	WakeUpIntervalSet           uint8 = 0x04
	WakeUpIntervalGet           uint8 = 0x05
	WakeUpIntervalReport        uint8 = 0x06
	WakeUpIntervalCapabilityGet uint8 = 0x09
	WakeUpIntervalCapabilityRep uint8 = 0x0A
)

func header(frame []byte, class CommandClass, command uint8, minLen int) error {
	if len(frame) < 2 || frame[0] != byte(class) || frame[1] != command {
		return fmt.Errorf("%w: expected %s command 0x%02x", ErrMalformedFrame, class, command)
	}

	if len(frame) < minLen {
		return fmt.Errorf("%w: %s command 0x%02x too short (%d < %d)", ErrMalformedFrame, class, command, len(frame), minLen)
	}

	return nil
}

func uint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func Get(class CommandClass, command uint8, args ...byte) []byte {
	return append([]byte{byte(class), command}, args...)
}

type ManufacturerReport struct {
	ManufacturerID uint16
	ProductType    uint16
	ProductID      uint16
}

func ParseManufacturerReport(frame []byte) (ManufacturerReport, error) {
	if err := header(frame, ManufacturerSpecific, ManufacturerSpecificReport, 8); err != nil {
		return ManufacturerReport{}, err
	}

	return ManufacturerReport{
		ManufacturerID: uint16(frame[2])<<8 | uint16(frame[3]),
		ProductType:    uint16(frame[4])<<8 | uint16(frame[5]),
		ProductID:      uint16(frame[6])<<8 | uint16(frame[7]),
	}, nil
}

type EndPointReport struct {
	Dynamic    bool
	Identical  bool
	Individual uint8
	Aggregated uint8
}

func ParseEndPointReport(frame []byte) (EndPointReport, error) {
	if err := header(frame, MultiChannel, MultiChannelEndPointReport, 4); err != nil {
		return EndPointReport{}, err
	}

	r := EndPointReport{
		Dynamic:    frame[2]&0x80 != 0,
		Identical:  frame[2]&0x40 != 0,
		Individual: frame[3] & 0x7f,
	}

	if len(frame) >= 5 {
		r.Aggregated = frame[4] & 0x7f
	}

	return r, nil
}

type EndPointFindReport struct {
	ReportsToFollow uint8
	Generic         uint8
	Specific        uint8
	EndPoints       []uint8
}

func ParseEndPointFindReport(frame []byte) (EndPointFindReport, error) {
	if err := header(frame, MultiChannel, MultiChannelEndPointFindReport, 5); err != nil {
		return EndPointFindReport{}, err
	}

	r := EndPointFindReport{
		ReportsToFollow: frame[2],
		Generic:         frame[3],
		Specific:        frame[4],
	}

	for _, ep := range frame[5:] {
		if id := ep & 0x7f; id != 0 {
			r.EndPoints = append(r.EndPoints, id)
		}
	}

	return r, nil
}

type CapabilityReport struct {
	EndPoint uint8
	Dynamic  bool
	// Info holds the generic class, specific class and command class list.
	Info []byte
}

func ParseCapabilityReport(frame []byte) (CapabilityReport, error) {
	if err := header(frame, MultiChannel, MultiChannelCapabilityReport, 5); err != nil {
		return CapabilityReport{}, err
	}

	return CapabilityReport{
		EndPoint: frame[2] & 0x7f,
		Dynamic:  frame[2]&0x80 != 0,
		Info:     append([]byte(nil), frame[3:]...),
	}, nil
}

func ParseAggregatedMembersReport(frame []byte) (uint8, []uint8, error) {
	if err := header(frame, MultiChannel, MultiChannelAggregatedMembersReport, 4); err != nil {
		return 0, nil, err
	}

	count := int(frame[3])
	if len(frame) < 4+count {
		return 0, nil, fmt.Errorf("%w: aggregated member bitmask truncated", ErrMalformedFrame)
	}

	var members []uint8
	for i, b := range frame[4 : 4+count] {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<bit) != 0 {
				members = append(members, uint8(i*8+bit+1))
			}
		}
	}

	return frame[2] & 0x7f, members, nil
}

// ParseSecurityCommandsSupported returns the secure class list from an S0 report, and the number
// of reports to follow.
func ParseSecurityCommandsSupported(frame []byte) ([]byte, uint8, error) {
	if err := header(frame, Security, SecurityCommandsSupportedReport, 3); err != nil {
		return nil, 0, err
	}

	return append([]byte(nil), frame[3:]...), frame[2], nil
}

func ParseSecurity2CommandsSupported(frame []byte) ([]byte, error) {
	if err := header(frame, Security2, Security2CommandsSupportedReport, 2); err != nil {
		return nil, err
	}

	return append([]byte(nil), frame[2:]...), nil
}

func VersionCommandClassGetFrame(class CommandClass) []byte {
	return Get(Version, VersionCommandClassGet, byte(class))
}

func ParseVersionCommandClassReport(frame []byte) (CommandClass, uint8, error) {
	if err := header(frame, Version, VersionCommandClassReport, 4); err != nil {
		return 0, 0, err
	}

	return CommandClass(frame[2]), frame[3], nil
}

// Version capability bits.
const (
	VersionCapabilityVersion       uint8 = 0x01
	VersionCapabilityCommandClass  uint8 = 0x02
	VersionCapabilityZWaveSoftware uint8 = 0x04
)

func ParseVersionCapabilitiesReport(frame []byte) (uint8, error) {
	if err := header(frame, Version, VersionCapabilitiesReport, 3); err != nil {
		return 0, err
	}

	return frame[2], nil
}

type ZWaveSoftwareReport struct {
	SDKVersion                  [3]uint8
	ApplicationFrameworkVersion [3]uint8
	ApplicationFrameworkBuild   uint16
	HostInterfaceVersion        [3]uint8
	HostInterfaceBuild          uint16
	ZWaveProtocolVersion        [3]uint8
	ZWaveProtocolBuild          uint16
	ApplicationVersion          [3]uint8
	ApplicationBuild            uint16
}

func ParseZWaveSoftwareReport(frame []byte) (ZWaveSoftwareReport, error) {
	if err := header(frame, Version, VersionZWaveSoftwareReport, 25); err != nil {
		return ZWaveSoftwareReport{}, err
	}

	u16 := func(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

	var r ZWaveSoftwareReport
	copy(r.SDKVersion[:], frame[2:5])
	copy(r.ApplicationFrameworkVersion[:], frame[5:8])
	r.ApplicationFrameworkBuild = u16(frame[8:10])
	copy(r.HostInterfaceVersion[:], frame[10:13])
	r.HostInterfaceBuild = u16(frame[13:15])
	copy(r.ZWaveProtocolVersion[:], frame[15:18])
	r.ZWaveProtocolBuild = u16(frame[18:20])
	copy(r.ApplicationVersion[:], frame[20:23])
	r.ApplicationBuild = u16(frame[23:25])

	return r, nil
}

// Z-Wave Plus role types.
const (
	RoleCentralStaticController     uint8 = 0x00
	RoleSubStaticController         uint8 = 0x01
	RolePortableController          uint8 = 0x02
	RolePortableReportingController uint8 = 0x03
	RolePortableSlave               uint8 = 0x04
	RoleAlwaysOnSlave               uint8 = 0x05
	RoleSleepingReportingSlave      uint8 = 0x06
	RoleSleepingListeningSlave      uint8 = 0x07
)

type ZWavePlusReport struct {
	Version       uint8
	RoleType      uint8
	NodeType      uint8
	InstallerIcon uint16
	UserIcon      uint16
}

func (r ZWavePlusReport) Portable() bool {
	switch r.RoleType {
	case RolePortableController, RolePortableReportingController, RolePortableSlave:
		return true
	default:
		return false
	}
}

func ParseZWavePlusReport(frame []byte) (ZWavePlusReport, error) {
	if err := header(frame, ZWavePlusInfo, ZWavePlusInfoReport, 9); err != nil {
		return ZWavePlusReport{}, err
	}

	return ZWavePlusReport{
		Version:       frame[2],
		RoleType:      frame[3],
		NodeType:      frame[4],
		InstallerIcon: uint16(frame[5])<<8 | uint16(frame[6]),
		UserIcon:      uint16(frame[7])<<8 | uint16(frame[8]),
	}, nil
}

type WakeUpCapabilities struct {
	Minimum uint32
	Maximum uint32
	Default uint32
	Step    uint32
}

// Clamp fits a requested interval into the reported range, rounded down onto the step grid.
func (c WakeUpCapabilities) Clamp(interval uint32) uint32 {
	if interval < c.Minimum {
		return c.Minimum
	}

	if c.Maximum > 0 && interval > c.Maximum {
		return c.Maximum
	}

	if c.Step > 0 {
		interval = c.Minimum + ((interval-c.Minimum)/c.Step)*c.Step
	}

	return interval
}

func ParseWakeUpCapabilitiesReport(frame []byte) (WakeUpCapabilities, error) {
	if err := header(frame, WakeUp, WakeUpIntervalCapabilityRep, 14); err != nil {
		return WakeUpCapabilities{}, err
	}

	return WakeUpCapabilities{
		Minimum: uint24(frame[2:5]),
		Maximum: uint24(frame[5:8]),
		Default: uint24(frame[8:11]),
		Step:    uint24(frame[11:14]),
	}, nil
}

func WakeUpIntervalSetFrame(interval uint32, node uint8) []byte {
	return Get(WakeUp, WakeUpIntervalSet, byte(interval>>16), byte(interval>>8), byte(interval), node)
}

func ParseWakeUpIntervalReport(frame []byte) (uint32, uint8, error) {
	if err := header(frame, WakeUp, WakeUpIntervalReport, 6); err != nil {
		return 0, 0, err
	}

	return uint24(frame[2:5]), frame[5], nil
}
