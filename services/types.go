package services

import (
	"encoding/json"
	"time"

	"github.com/mbocsi/goxfs/proto"
)

// ServiceInfo represents a discovered device service for the service layer
type ServiceInfo struct {
	ID           string           `json:"id"`
	URI          string           `json:"uri"`
	Connected    bool             `json:"connected"`
	Interfaces   []string         `json:"interfaces"`
	AddedAt      time.Time        `json:"added_at"`
	Status       StatusInfo       `json:"status"`
	Capabilities CapabilitiesInfo `json:"capabilities"`
}

type StatusInfo struct {
	Device                string    `json:"device"`
	DevicePosition        string    `json:"device_position,omitempty"`
	AntiFraudModule       string    `json:"anti_fraud_module,omitempty"`
	PowerSaveRecoveryTime int       `json:"power_save_recovery_time,omitempty"`
	Exchange              string    `json:"exchange,omitempty"`
	EndToEndSecurity      string    `json:"end_to_end_security,omitempty"`
	Interfaces            []string  `json:"interfaces"`
	UpdatedAt             time.Time `json:"updated_at"`
}

type CapabilitiesInfo struct {
	ServiceVersion string    `json:"service_version,omitempty"`
	ModelName      string    `json:"model_name,omitempty"`
	SerialNumber   string    `json:"serial_number,omitempty"`
	Commands       []string  `json:"commands"`
	Events         []string  `json:"events"`
	SecureCommands []string  `json:"secure_commands,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CommandRequest is a command to run on one device service
type CommandRequest struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Timeout time.Duration   `json:"-"` // Zero uses the container default
}

// CommandResult is a finished command: its events in arrival order and its completion
type CommandResult struct {
	ServiceID  string          `json:"service_id"`
	RequestID  int             `json:"request_id"`
	Status     string          `json:"status"`
	Succeeded  bool            `json:"succeeded"`
	Events     []proto.Message `json:"events"`
	Completion proto.Message   `json:"completion"`
}

// DiscoveryResult reports one discovery round
type DiscoveryResult struct {
	Services []ServiceInfo      `json:"services"`
	Failures []DiscoveryFailure `json:"failures,omitempty"`
}

type DiscoveryFailure struct {
	URI   string `json:"uri"`
	Error string `json:"error"`
}

// ServiceError represents structured service layer errors
type ServiceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e ServiceError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e ServiceError) Unwrap() error {
	return e.Cause
}

// Common error codes
const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeProtocol     = "PROTOCOL_ERROR"
	ErrCodeUnavailable  = "UNAVAILABLE"
	ErrCodeInternal     = "INTERNAL_ERROR"
)
