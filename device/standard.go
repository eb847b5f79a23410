package device

import (
	"encoding/binary"

	"github.com/ardnew/scopefw/pkg"
)

// MaxDescriptorResponseSize is the maximum size for descriptor responses.
const MaxDescriptorResponseSize = 512

// StandardRequestHandler handles standard USB device requests.
type StandardRequestHandler struct {
	device *Device

	// The slice returned by HandleSetup references this buffer.
	responseBuf [MaxDescriptorResponseSize]byte
}

// NewStandardRequestHandler creates a new standard request handler.
func NewStandardRequestHandler(dev *Device) *StandardRequestHandler {
	return &StandardRequestHandler{device: dev}
}

// HandleSetup processes a standard SETUP request and returns the IN data
// stage, if any. Errors stall the request.
func (h *StandardRequestHandler) HandleSetup(setup *SetupPacket) ([]byte, error) {
	if !setup.IsStandard() {
		return nil, pkg.ErrInvalidRequest
	}

	switch setup.Recipient() {
	case RequestRecipientDevice:
		return h.handleDeviceRequest(setup)
	case RequestRecipientInterface:
		return h.handleInterfaceRequest(setup)
	case RequestRecipientEndpoint:
		return h.handleEndpointRequest(setup)
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (h *StandardRequestHandler) handleDeviceRequest(setup *SetupPacket) ([]byte, error) {
	switch setup.Request {
	case RequestGetStatus:
		return h.status(setup, uint16(h.device.GetStatus()))
	case RequestClearFeature, RequestSetFeature:
		if setup.Value != FeatureDeviceRemoteWakeup {
			return nil, pkg.ErrNotSupported
		}
		h.device.EnableRemoteWakeup(setup.Request == RequestSetFeature)
		return nil, nil
	case RequestSetAddress:
		return nil, h.device.SetAddress(uint8(setup.Value & 0x7F))
	case RequestGetDescriptor:
		return h.getDescriptor(setup)
	case RequestGetConfiguration:
		var value uint8
		if config := h.device.ActiveConfiguration(); config != nil {
			value = config.Value
		}
		h.responseBuf[0] = value
		return h.responseBuf[:1], nil
	case RequestSetConfiguration:
		return nil, h.device.SetConfiguration(uint8(setup.Value))
	default:
		return nil, pkg.ErrUnsupportedRequest
	}
}

func (h *StandardRequestHandler) handleInterfaceRequest(setup *SetupPacket) ([]byte, error) {
	iface := h.device.GetInterface(setup.InterfaceNumber())
	if iface == nil {
		return nil, pkg.ErrInvalidRequest
	}

	switch setup.Request {
	case RequestGetStatus:
		return h.status(setup, 0)
	case RequestGetInterface:
		h.responseBuf[0] = iface.AlternateSetting()
		return h.responseBuf[:1], nil
	case RequestSetInterface:
		return nil, iface.SetAlternate(uint8(setup.Value))
	default:
		return nil, pkg.ErrUnsupportedRequest
	}
}

func (h *StandardRequestHandler) handleEndpointRequest(setup *SetupPacket) ([]byte, error) {
	ep := h.device.GetEndpoint(setup.EndpointAddress())
	if ep == nil {
		return nil, pkg.ErrInvalidEndpoint
	}

	switch setup.Request {
	case RequestGetStatus:
		var status uint16
		if ep.IsStalled() {
			status = 1
		}
		return h.status(setup, status)
	case RequestClearFeature, RequestSetFeature:
		if setup.Value != FeatureEndpointHalt {
			return nil, pkg.ErrInvalidRequest
		}
		ep.SetStall(setup.Request == RequestSetFeature)
		return nil, nil
	default:
		return nil, pkg.ErrUnsupportedRequest
	}
}

// status writes a two-byte GET_STATUS response.
func (h *StandardRequestHandler) status(setup *SetupPacket, status uint16) ([]byte, error) {
	if setup.Length < 2 {
		return nil, pkg.ErrInvalidRequest
	}
	binary.LittleEndian.PutUint16(h.responseBuf[:2], status)
	return h.responseBuf[:2], nil
}

// getDescriptor handles GET_DESCRIPTOR. Configuration descriptors are
// reported with the packet sizes of the current link speed.
func (h *StandardRequestHandler) getDescriptor(setup *SetupPacket) ([]byte, error) {
	speed := h.device.Speed()
	var n int

	switch setup.DescriptorType() {
	case DescriptorTypeDevice:
		n = h.device.Descriptor.MarshalTo(h.responseBuf[:])

	case DescriptorTypeConfiguration:
		config := h.device.ConfigurationAt(setup.DescriptorIndex())
		if config == nil {
			return nil, pkg.ErrInvalidRequest
		}
		n = config.MarshalTo(h.responseBuf[:], speed)

	case DescriptorTypeOtherSpeedConfig:
		config := h.device.ConfigurationAt(setup.DescriptorIndex())
		if config == nil {
			return nil, pkg.ErrInvalidRequest
		}
		n = config.MarshalOtherSpeedTo(h.responseBuf[:], speed)

	case DescriptorTypeDeviceQualifier:
		n = h.device.Descriptor.QualifierTo(h.responseBuf[:])

	case DescriptorTypeString:
		data := h.device.GetString(setup.DescriptorIndex())
		if data == nil {
			return nil, pkg.ErrInvalidRequest
		}
		n = copy(h.responseBuf[:], data)

	default:
		return nil, pkg.ErrUnsupportedRequest
	}

	if n == 0 {
		return nil, pkg.ErrBufferTooSmall
	}
	if n > int(setup.Length) {
		n = int(setup.Length)
	}
	return h.responseBuf[:n], nil
}
