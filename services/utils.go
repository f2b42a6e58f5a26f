package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mbocsi/goxfs/client"
	"github.com/mbocsi/goxfs/proto"
)

// convertEntry converts a registry entry to ServiceInfo
func convertEntry(entry *client.ServiceEntry) ServiceInfo {
	ifaces := make([]string, 0, len(entry.Interfaces))
	for _, iface := range entry.Interfaces {
		ifaces = append(ifaces, iface.Name())
	}

	return ServiceInfo{
		ID:           entry.ID,
		URI:          entry.URI,
		Connected:    entry.Session.Connected(),
		Interfaces:   ifaces,
		AddedAt:      entry.AddedAt,
		Status:       convertStatus(entry.Session.Status()),
		Capabilities: convertCapabilities(entry.Session.Capabilities()),
	}
}

func convertStatus(s client.DeviceStatus) StatusInfo {
	ifaces := s.Interfaces
	if ifaces == nil {
		ifaces = []string{}
	}
	return StatusInfo{
		Device:                s.Device,
		DevicePosition:        s.DevicePosition,
		AntiFraudModule:       s.AntiFraudModule,
		PowerSaveRecoveryTime: s.PowerSaveRecoveryTime,
		Exchange:              s.Exchange,
		EndToEndSecurity:      s.EndToEndSecurity,
		Interfaces:            ifaces,
		UpdatedAt:             s.UpdatedAt,
	}
}

func convertCapabilities(c client.DeviceCapabilities) CapabilitiesInfo {
	commands := []string{}
	events := []string{}
	for _, iface := range c.Interfaces {
		for name := range iface.Commands {
			commands = append(commands, name)
		}
		for name := range iface.Events {
			events = append(events, name)
		}
	}
	slices.Sort(commands)
	slices.Sort(events)

	return CapabilitiesInfo{
		ServiceVersion: c.ServiceVersion,
		ModelName:      c.ModelName,
		SerialNumber:   c.SerialNumber,
		Commands:       commands,
		Events:         events,
		SecureCommands: c.SecureCommands,
		UpdatedAt:      c.UpdatedAt,
	}
}

func convertResult(id string, res *client.Result) *CommandResult {
	events := res.Events
	if events == nil {
		events = []proto.Message{}
	}
	return &CommandResult{
		ServiceID:  id,
		RequestID:  res.RequestID,
		Status:     res.Status(),
		Succeeded:  res.Succeeded(),
		Events:     events,
		Completion: res.Completion,
	}
}

func notFound(id string) error {
	return ServiceError{
		Code:    ErrCodeNotFound,
		Message: "Service not found: " + id,
	}
}

// validateCommandName checks the dotted Interface.Command form
func validateCommandName(name string) error {
	iface, cmd, ok := strings.Cut(name, ".")
	if !ok || iface == "" || cmd == "" {
		return ServiceError{
			Code:    ErrCodeInvalidInput,
			Message: fmt.Sprintf("Command name must be Interface.Command, got %q", name),
		}
	}
	return nil
}

// wrapError maps protocol and context errors onto service error codes
func wrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	var serviceErr ServiceError
	if errors.As(err, &serviceErr) {
		return err
	}

	code := ErrCodeInternal
	var completionErr *client.CompletionError
	switch {
	case errors.As(err, &completionErr):
		code = ErrCodeProtocol
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		code = ErrCodeUnavailable
	default:
		switch proto.KindOf(err) {
		case proto.KindCommandTimedOut, proto.KindNoAcknowledgeReceived:
			code = ErrCodeTimeout
		case proto.KindConnectionRefused, proto.KindConnectionClosed:
			code = ErrCodeUnavailable
		case proto.KindNoServicesFound:
			code = ErrCodeNotFound
		case proto.KindMalformedMessage, proto.KindInvalidAcknowledge, proto.KindWrongCommandType,
			proto.KindInvalidRequestID, proto.KindUnsupportedCommand:
			code = ErrCodeProtocol
		}
	}
	return ServiceError{Code: code, Message: message, Cause: err}
}
