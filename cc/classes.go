package cc

import "fmt"

// CommandClass identifies a Z-Wave application layer command class. Extended command classes
// (first byte 0xF1 to 0xFF) occupy two bytes on the wire.
type CommandClass uint16

const (
	Basic                   CommandClass = 0x20
	ZIPND                   CommandClass = 0x58
	AssociationGroupInfo    CommandClass = 0x59
	DeviceResetLocally      CommandClass = 0x5A
	ZWavePlusInfo           CommandClass = 0x5E
	MultiChannel            CommandClass = 0x60
	Supervision             CommandClass = 0x6C
	TransportService        CommandClass = 0x55
	CRC16Encap              CommandClass = 0x56
	ManufacturerSpecific    CommandClass = 0x72
	Powerlevel              CommandClass = 0x73
	InclusionController     CommandClass = 0x74
	FirmwareUpdateMD        CommandClass = 0x7A
	WakeUp                  CommandClass = 0x84
	Association             CommandClass = 0x85
	Version                 CommandClass = 0x86
	Indicator               CommandClass = 0x87
	Time                    CommandClass = 0x8A
	MultiChannelAssociation CommandClass = 0x8E
	Security                CommandClass = 0x98
	Security2               CommandClass = 0x9F
)

// Marks found inside node information and endpoint information lists.
const (
	// SupportControlMark separates supported classes from controlled classes.
	SupportControlMark byte = 0xEF
	// SecuritySchemeMarkHigh and SecuritySchemeMarkLow prefix classes supported under a security scheme.
	SecuritySchemeMarkHigh byte = 0xF1
	SecuritySchemeMarkLow  byte = 0x00
)

var names = map[CommandClass]string{
	Basic:                   "Basic",
	ZIPND:                   "Z/IP ND",
	AssociationGroupInfo:    "Association Group Info",
	DeviceResetLocally:      "Device Reset Locally",
	ZWavePlusInfo:           "Z-Wave Plus Info",
	MultiChannel:            "Multi Channel",
	Supervision:             "Supervision",
	TransportService:        "Transport Service",
	CRC16Encap:              "CRC-16 Encapsulation",
	ManufacturerSpecific:    "Manufacturer Specific",
	Powerlevel:              "Powerlevel",
	InclusionController:     "Inclusion Controller",
	FirmwareUpdateMD:        "Firmware Update Meta Data",
	WakeUp:                  "Wake Up",
	Association:             "Association",
	Version:                 "Version",
	Indicator:               "Indicator",
	Time:                    "Time",
	MultiChannelAssociation: "Multi Channel Association",
	Security:                "Security 0",
	Security2:               "Security 2",
}

func (c CommandClass) String() string {
	if n, found := names[c]; found {
		return n
	}

	return fmt.Sprintf("CommandClass(0x%02x)", uint16(c))
}

func (c CommandClass) Extended() bool {
	return c > 0xff
}

// ControlledClasses is the ordered table of command classes whose version the gateway needs to know
// to drive a node correctly.
var ControlledClasses = []CommandClass{
	Version,
	ZWavePlusInfo,
	ManufacturerSpecific,
	WakeUp,
	MultiChannel,
	Association,
	MultiChannelAssociation,
	AssociationGroupInfo,
	Security,
	Security2,
	Supervision,
	TransportService,
	CRC16Encap,
	Time,
	InclusionController,
	FirmwareUpdateMD,
	Indicator,
	Powerlevel,
}

// Generic device classes, used to derive default service names.
const (
	GenericTypeGenericController  uint8 = 0x01
	GenericTypeStaticController   uint8 = 0x02
	GenericTypeAVControlPoint     uint8 = 0x03
	GenericTypeDisplay            uint8 = 0x04
	GenericTypeNetworkExtender    uint8 = 0x05
	GenericTypeAppliance          uint8 = 0x06
	GenericTypeSensorNotification uint8 = 0x07
	GenericTypeThermostat         uint8 = 0x08
	GenericTypeWindowCovering     uint8 = 0x09
	GenericTypeRepeaterSlave      uint8 = 0x0F
	GenericTypeSwitchBinary       uint8 = 0x10
	GenericTypeSwitchMultilevel   uint8 = 0x11
	GenericTypeSwitchRemote       uint8 = 0x12
	GenericTypeSwitchToggle       uint8 = 0x13
	GenericTypeZIPNode            uint8 = 0x15
	GenericTypeVentilation        uint8 = 0x16
	GenericTypeSecurityPanel      uint8 = 0x17
	GenericTypeWallController     uint8 = 0x18
	GenericTypeSensorBinary       uint8 = 0x20
	GenericTypeSensorMultilevel   uint8 = 0x21
	GenericTypeMeterPulse         uint8 = 0x30
	GenericTypeMeter              uint8 = 0x31
	GenericTypeEntryControl       uint8 = 0x40
	GenericTypeSensorAlarm        uint8 = 0xA1
	GenericTypeNonInteroperable   uint8 = 0xFF
)

var genericNames = map[uint8]string{
	GenericTypeGenericController:  "controller",
	GenericTypeStaticController:   "static-controller",
	GenericTypeAVControlPoint:     "av-control-point",
	GenericTypeDisplay:            "display",
	GenericTypeNetworkExtender:    "network-extender",
	GenericTypeAppliance:          "appliance",
	GenericTypeSensorNotification: "sensor",
	GenericTypeThermostat:         "thermostat",
	GenericTypeWindowCovering:     "window-covering",
	GenericTypeRepeaterSlave:      "repeater",
	GenericTypeSwitchBinary:       "switch",
	GenericTypeSwitchMultilevel:   "dimmer",
	GenericTypeSwitchRemote:       "remote",
	GenericTypeSwitchToggle:       "toggle",
	GenericTypeZIPNode:            "zip-node",
	GenericTypeVentilation:        "ventilation",
	GenericTypeSecurityPanel:      "security-panel",
	GenericTypeWallController:     "wall-controller",
	GenericTypeSensorBinary:       "sensor",
	GenericTypeSensorMultilevel:   "sensor",
	GenericTypeMeterPulse:         "meter",
	GenericTypeMeter:              "meter",
	GenericTypeEntryControl:       "lock",
	GenericTypeSensorAlarm:        "alarm",
}

// GenericTypeName returns a short lowercase name for a generic device class, or "device".
func GenericTypeName(generic uint8) string {
	if n, found := genericNames[generic]; found {
		return n
	}

	return "device"
}
