package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mbocsi/goxfs/client"
)

// CommandServiceImpl implements CommandService
type CommandServiceImpl struct {
	registry       *client.ServiceRegistry
	defaultTimeout time.Duration
	log            *slog.Logger
}

// NewCommandService creates a new command service. Commands without their
// own timeout get defaultTimeout.
func NewCommandService(registry *client.ServiceRegistry, defaultTimeout time.Duration, logger *slog.Logger) CommandService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandServiceImpl{
		registry:       registry,
		defaultTimeout: defaultTimeout,
		log:            logger.With("component", "commands"),
	}
}

func (cs *CommandServiceImpl) session(id string) (*client.DeviceSession, error) {
	entry, exists := cs.registry.GetByID(id)
	if !exists {
		return nil, notFound(id)
	}
	if !entry.Session.Connected() {
		return nil, ServiceError{
			Code:    ErrCodeUnavailable,
			Message: "Service is disconnected: " + id,
		}
	}
	return entry.Session, nil
}

// Execute runs one command to completion. A failing completion status is
// reported in the result, not as an error.
func (cs *CommandServiceImpl) Execute(ctx context.Context, id string, req CommandRequest) (*CommandResult, error) {
	if err := validateCommandName(req.Name); err != nil {
		return nil, err
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		return nil, ServiceError{
			Code:    ErrCodeInvalidInput,
			Message: "Payload is not valid JSON",
		}
	}

	s, err := cs.session(id)
	if err != nil {
		return nil, err
	}

	caps := s.Capabilities()
	if len(caps.Interfaces) > 0 && !caps.SupportsCommand(req.Name) {
		return nil, ServiceError{
			Code:    ErrCodeInvalidInput,
			Message: "Command " + req.Name + " is not supported by " + id,
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = cs.defaultTimeout
	}

	start := time.Now()
	res, err := s.Execute(ctx, req.Name, req.Payload, timeout)
	if err != nil {
		cs.log.Warn("Command failed", "service", id, "name", req.Name, "error", err)
		return nil, wrapError(err, "Command "+req.Name+" failed on "+id)
	}

	cs.log.Info("Command completed", "service", id, "name", req.Name, "requestId", res.RequestID,
		"status", res.Status(), "events", len(res.Events), "elapsed", time.Since(start))
	return convertResult(id, res), nil
}

// Cancel asks the device to stop requests; no ids cancels every request
func (cs *CommandServiceImpl) Cancel(ctx context.Context, id string, requestIDs ...int) error {
	for _, rid := range requestIDs {
		if rid < 0 {
			return ServiceError{
				Code:    ErrCodeInvalidInput,
				Message: "Request ids must not be negative",
			}
		}
	}

	s, err := cs.session(id)
	if err != nil {
		return err
	}
	return wrapError(s.Cancel(ctx, requestIDs...), "Cancel failed on "+id)
}
