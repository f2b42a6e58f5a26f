package proto

import (
	"errors"
	"fmt"
	"strings"
)

// ServiceEntry is one advertised device service.
type ServiceEntry struct {
	ServiceURI string `json:"serviceURI"`
}

// GetServicesPayload is carried by ServicePublisher.GetServices events and completions.
type GetServicesPayload struct {
	VendorName string         `json:"vendorName,omitempty"`
	Services   []ServiceEntry `json:"services"`
}

type CancelPayload struct {
	RequestIDs []int `json:"requestIds,omitempty"`
}

// CommonStatusPayload is the "common" block of a Common.Status completion.
type CommonStatusPayload struct {
	Device                string `json:"device,omitempty"`
	DevicePosition        string `json:"devicePosition,omitempty"`
	PowerSaveRecoveryTime int    `json:"powerSaveRecoveryTime,omitempty"`
	AntiFraudModule       string `json:"antiFraudModule,omitempty"`
	Exchange              string `json:"exchange,omitempty"`
	EndToEndSecurity      string `json:"endToEndSecurity,omitempty"`
}

type DeviceInformation struct {
	ModelName        string `json:"modelName,omitempty"`
	SerialNumber     string `json:"serialNumber,omitempty"`
	RevisionNumber   string `json:"revisionNumber,omitempty"`
	ModelDescription string `json:"modelDescription,omitempty"`
}

type EndToEndSecurity struct {
	Required               string   `json:"required,omitempty"`
	CommandsRequiringToken []string `json:"commandsRequiringToken,omitempty"`
}

type CommonCapabilitiesPayload struct {
	ServiceVersion    string              `json:"serviceVersion,omitempty"`
	DeviceInformation []DeviceInformation `json:"deviceInformation,omitempty"`
	PowerSaveControl  bool                `json:"powerSaveControl,omitempty"`
	AntiFraudModule   bool                `json:"antiFraudModule,omitempty"`
	EndToEndSecurity  *EndToEndSecurity   `json:"endToEndSecurity,omitempty"`
}

type CommandVersions struct {
	Versions []string `json:"versions"`
}

// InterfaceCapability lists the commands and events one interface supports.
type InterfaceCapability struct {
	Name     string                     `json:"name"`
	Commands map[string]CommandVersions `json:"commands,omitempty"`
	Events   map[string]CommandVersions `json:"events,omitempty"`
}

func (c *InterfaceCapability) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("interface name is required")
	}
	for name, v := range c.Commands {
		if err := validateQualified(c.Name, name); err != nil {
			return err
		}
		if len(v.Versions) == 0 {
			return fmt.Errorf("command %q must list at least one version", name)
		}
	}
	for name := range c.Events {
		if err := validateQualified(c.Name, name); err != nil {
			return err
		}
	}
	return nil
}

func validateQualified(iface, name string) error {
	prefix, _, ok := strings.Cut(name, ".")
	if !ok || prefix != iface {
		return fmt.Errorf("%q is not qualified by interface %q", name, iface)
	}
	return nil
}
