package client

import (
	"slices"
	"time"

	"github.com/mbocsi/goxfs/proto"
)

// DeviceStatus is the last Common.Status answer of a device.
type DeviceStatus struct {
	Device                string
	DevicePosition        string
	AntiFraudModule       string
	PowerSaveRecoveryTime int
	Exchange              string
	EndToEndSecurity      string
	Interfaces            []string // status blocks other than "common", e.g. "cardReader"
	UpdatedAt             time.Time
}

// DeviceCapabilities is the last Common.Capabilities answer of a device.
type DeviceCapabilities struct {
	ServiceVersion string
	ModelName      string
	SerialNumber   string
	Interfaces     []proto.InterfaceCapability
	SecureCommands []string
	UpdatedAt      time.Time
}

// SupportsCommand reports whether any interface lists name.
func (c DeviceCapabilities) SupportsCommand(name string) bool {
	for _, iface := range c.Interfaces {
		if _, ok := iface.Commands[name]; ok {
			return true
		}
	}
	return false
}

func (c DeviceCapabilities) RequiresToken(name string) bool {
	return slices.Contains(c.SecureCommands, name)
}

func (s DeviceStatus) clone() DeviceStatus {
	s.Interfaces = slices.Clone(s.Interfaces)
	return s
}

func (c DeviceCapabilities) clone() DeviceCapabilities {
	c.Interfaces = slices.Clone(c.Interfaces)
	c.SecureCommands = slices.Clone(c.SecureCommands)
	return c
}

// Result is a command's Events in arrival order plus its Completion.
type Result struct {
	RequestID  int
	Events     []proto.Message
	Completion proto.Message
}

func (r *Result) Status() string {
	return r.Completion.Header.Status
}

func (r *Result) Succeeded() bool {
	return proto.IsSuccess(r.Completion.Header.Status)
}

// CompletionError reports a command that completed with a failing status.
type CompletionError struct {
	Name        string
	RequestID   int
	Status      string
	Description string
}

func (e *CompletionError) Error() string {
	if e.Description == "" {
		return e.Name + " completed with status " + e.Status
	}
	return e.Name + " completed with status " + e.Status + ": " + e.Description
}

func completionError(res *Result) error {
	if res.Succeeded() {
		return nil
	}
	return &CompletionError{
		Name:        res.Completion.Header.Name,
		RequestID:   res.RequestID,
		Status:      res.Completion.Header.Status,
		Description: res.Completion.Header.ErrorDescription,
	}
}
