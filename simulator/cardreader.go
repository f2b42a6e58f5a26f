// Package simulator hosts simulated devices on top of the server dispatch table.
package simulator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/mbocsi/goxfs/proto"
	"github.com/mbocsi/goxfs/server"
)

const (
	ServiceName = "CardReader"

	CmdReadRawData = "CardReader.ReadRawData"
	CmdMove        = "CardReader.Move"

	EvtInsertCard    = "CardReader.InsertCardEvent"
	EvtMediaInserted = "CardReader.MediaInsertedEvent"
	EvtMediaRemoved  = "CardReader.MediaRemovedEvent"
)

// Media positions reported in the cardReader status block.
const (
	MediaNotPresent = "notPresent"
	MediaPresent    = "present"
	MediaEntering   = "entering"
)

type Config struct {
	ModelName      string
	SerialNumber   string
	ServiceVersion string
	Track1         string
	Track2         string
	Track3         string
	InsertDelay    time.Duration // Zero waits for InsertCard
	RemoveDelay    time.Duration // Time a card sits at the exit before it is taken
}

func DefaultConfig() Config {
	return Config{
		ModelName:      "SIM-CR-1",
		SerialNumber:   "0000001",
		ServiceVersion: "1.0",
		Track1:         "B4761739001010119^DOE/JOHN^2512101",
		Track2:         "4761739001010119=25121011000012345678",
		InsertDelay:    500 * time.Millisecond,
		RemoveDelay:    2 * time.Second,
	}
}

// CardReader is a simulated motorised card reader.
type CardReader struct {
	cfg Config
	svc *server.DeviceService
	log *slog.Logger

	mu       sync.Mutex
	media    string
	device   string
	insertCh chan struct{}
}

func NewCardReader(cfg Config, logger *slog.Logger) *CardReader {
	if logger == nil {
		logger = slog.Default()
	}
	c := &CardReader{
		cfg:      cfg,
		log:      logger.With("device", ServiceName),
		media:    MediaNotPresent,
		device:   "online",
		insertCh: make(chan struct{}, 1),
	}
	d := server.NewDispatcher(logger)
	d.Register(proto.CommonStatus, c.handleStatus)
	d.Register(proto.CommonCapabilities, c.handleCapabilities)
	d.Register(CmdReadRawData, c.handleReadRawData)
	d.Register(CmdMove, c.handleMove)
	c.svc = server.NewDeviceService(ServiceName, d, logger)
	return c
}

func (c *CardReader) Service() *server.DeviceService {
	return c.svc
}

func (c *CardReader) Media() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.media
}

func (c *CardReader) setMedia(m string) {
	c.mu.Lock()
	c.media = m
	c.mu.Unlock()
}

// InsertCard simulates a customer inserting a card.
func (c *CardReader) InsertCard() {
	select {
	case c.insertCh <- struct{}{}:
	default:
	}
}

// TakeCard simulates the customer taking the card from the exit slot.
func (c *CardReader) TakeCard() {
	c.mu.Lock()
	wasPresent := c.media != MediaNotPresent
	c.media = MediaNotPresent
	c.mu.Unlock()
	if !wasPresent {
		return
	}
	n, err := c.svc.Broadcast(EvtMediaRemoved, nil)
	if err != nil {
		c.log.Error("Failed to broadcast media removal", "error", err)
		return
	}
	c.log.Info("Card taken", "notified", n)
}

type statusPayload struct {
	Common     proto.CommonStatusPayload `json:"common"`
	CardReader cardReaderStatus          `json:"cardReader"`
}

type cardReaderStatus struct {
	Media    string `json:"media"`
	Security string `json:"security"`
}

func (c *CardReader) handleStatus(ctx context.Context, cmd proto.Message, sink server.Sink) error {
	c.mu.Lock()
	payload := statusPayload{
		Common: proto.CommonStatusPayload{
			Device:          c.device,
			DevicePosition:  "inPosition",
			AntiFraudModule: "ok",
			Exchange:        "notSupported",
		},
		CardReader: cardReaderStatus{Media: c.media, Security: "notSupported"},
	}
	c.mu.Unlock()

	completion, err := proto.NewCompletion(cmd, proto.StatusSuccess, payload)
	if err != nil {
		return err
	}
	return sink.Send(completion)
}

func (c *CardReader) handleCapabilities(ctx context.Context, cmd proto.Message, sink server.Sink) error {
	v1 := proto.CommandVersions{Versions: []string{"1.0"}}
	payload := struct {
		Common     proto.CommonCapabilitiesPayload `json:"common"`
		Interfaces []proto.InterfaceCapability     `json:"interfaces"`
	}{
		Common: proto.CommonCapabilitiesPayload{
			ServiceVersion: c.cfg.ServiceVersion,
			DeviceInformation: []proto.DeviceInformation{{
				ModelName:    c.cfg.ModelName,
				SerialNumber: c.cfg.SerialNumber,
			}},
		},
		Interfaces: []proto.InterfaceCapability{
			{
				Name: "Common",
				Commands: map[string]proto.CommandVersions{
					proto.CommonStatus:       v1,
					proto.CommonCapabilities: v1,
					proto.CommonCancel:       v1,
				},
			},
			{
				Name: ServiceName,
				Commands: map[string]proto.CommandVersions{
					CmdReadRawData: v1,
					CmdMove:        v1,
				},
				Events: map[string]proto.CommandVersions{
					EvtInsertCard:    v1,
					EvtMediaInserted: v1,
					EvtMediaRemoved:  v1,
				},
			},
		},
	}

	completion, err := proto.NewCompletion(cmd, proto.StatusSuccess, payload)
	if err != nil {
		return err
	}
	return sink.Send(completion)
}

type readRawDataRequest struct {
	Track1 bool `json:"track1"`
	Track2 bool `json:"track2"`
	Track3 bool `json:"track3"`
	Chip   bool `json:"chip"`
}

type trackData struct {
	Status string `json:"status"`
	Data   string `json:"data,omitempty"`
}

func (c *CardReader) handleReadRawData(ctx context.Context, cmd proto.Message, sink server.Sink) error {
	var req readRawDataRequest
	if len(cmd.Payload) > 0 {
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return sink.Send(proto.NewErrorCompletion(cmd, proto.StatusInvalidCommand, "invalid payload: "+err.Error()))
		}
	}

	if c.Media() == MediaNotPresent {
		ev, err := proto.NewEvent(cmd, EvtInsertCard, nil)
		if err != nil {
			return err
		}
		if err := sink.Send(ev); err != nil {
			return err
		}

		var deadline <-chan time.Time
		if cmd.Header.Timeout != nil && *cmd.Header.Timeout > 0 {
			timer := time.NewTimer(time.Duration(*cmd.Header.Timeout) * time.Millisecond)
			defer timer.Stop()
			deadline = timer.C
		}
		var autoInsert <-chan time.Time
		if c.cfg.InsertDelay > 0 {
			autoInsert = time.After(c.cfg.InsertDelay)
		}

		select {
		case <-ctx.Done():
			c.log.Info("Card read canceled")
			return sink.Send(proto.NewErrorCompletion(cmd, proto.StatusCanceled, "card read canceled"))
		case <-deadline:
			return sink.Send(proto.NewErrorCompletion(cmd, proto.StatusTimeOut, "no card inserted"))
		case <-autoInsert:
		case <-c.insertCh:
		}

		c.setMedia(MediaPresent)
		ev, err = proto.NewEvent(cmd, EvtMediaInserted, nil)
		if err != nil {
			return err
		}
		if err := sink.Send(ev); err != nil {
			return err
		}
	}

	tracks := map[string]trackData{}
	add := func(name string, requested bool, data string) {
		if !requested {
			return
		}
		if data == "" {
			tracks[name] = trackData{Status: "dataMissing"}
			return
		}
		tracks[name] = trackData{Status: "ok", Data: data}
	}
	add("track1", req.Track1, c.cfg.Track1)
	add("track2", req.Track2, c.cfg.Track2)
	add("track3", req.Track3, c.cfg.Track3)
	if req.Chip {
		tracks["chip"] = trackData{Status: "dataMissing"}
	}

	completion, err := proto.NewCompletion(cmd, proto.StatusSuccess, tracks)
	if err != nil {
		return err
	}
	c.log.Info("Card read", "tracks", len(tracks))
	return sink.Send(completion)
}

func (c *CardReader) handleMove(ctx context.Context, cmd proto.Message, sink server.Sink) error {
	to, _ := proto.GetPayloadValue[string](cmd, "to")
	if to == "" {
		to = "exit"
	}

	c.mu.Lock()
	media := c.media
	c.mu.Unlock()

	if media == MediaNotPresent {
		completion, err := proto.NewCompletion(cmd, proto.StatusSuccess, map[string]string{"errorCode": "noMedia"})
		if err != nil {
			return err
		}
		return sink.Send(completion)
	}

	switch to {
	case "exit":
		c.setMedia(MediaEntering)
		if c.cfg.RemoveDelay > 0 {
			time.AfterFunc(c.cfg.RemoveDelay, c.TakeCard)
		}
	case "transport", "stacker":
		c.setMedia(MediaNotPresent)
	default:
		return sink.Send(proto.NewErrorCompletion(cmd, proto.StatusInvalidCommand, "unknown move target "+to))
	}

	completion, err := proto.NewCompletion(cmd, proto.StatusSuccess, nil)
	if err != nil {
		return err
	}
	c.log.Info("Card moved", "to", to)
	return sink.Send(completion)
}
