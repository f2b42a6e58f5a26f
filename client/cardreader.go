package client

import (
	"context"
	"time"

	"github.com/mbocsi/goxfs/proto"
)

const CardReaderInterface = "cardReader"

const (
	CardReaderReadRawData = "CardReader.ReadRawData"
	CardReaderMove        = "CardReader.Move"
)

type ReadRawDataRequest struct {
	Track1 bool `json:"track1,omitempty"`
	Track2 bool `json:"track2,omitempty"`
	Track3 bool `json:"track3,omitempty"`
	Chip   bool `json:"chip,omitempty"`
}

type CardReader struct {
	session *DeviceSession
}

func NewCardReader(s *DeviceSession) *CardReader {
	return &CardReader{session: s}
}

func (c *CardReader) Name() string {
	return CardReaderInterface
}

func (c *CardReader) Session() *DeviceSession {
	return c.session
}

// ReadRawData waits for a card and reads the requested tracks. The insert
// and media events arrive in Result.Events.
func (c *CardReader) ReadRawData(ctx context.Context, req ReadRawDataRequest, timeout time.Duration) (*Result, error) {
	res, err := c.session.Execute(ctx, CardReaderReadRawData, req, timeout)
	if err != nil {
		return res, err
	}
	return res, completionError(res)
}

// Move moves the card to "exit", "transport" or "stacker".
func (c *CardReader) Move(ctx context.Context, to string, timeout time.Duration) (*Result, error) {
	res, err := c.session.Execute(ctx, CardReaderMove, map[string]string{"to": to}, timeout)
	if err != nil {
		return res, err
	}
	return res, completionError(res)
}

func (c *CardReader) Eject(ctx context.Context, timeout time.Duration) (*Result, error) {
	return c.Move(ctx, "exit", timeout)
}

// TrackData returns the data of one track from a ReadRawData completion.
func TrackData(res *Result, track string) (string, bool) {
	if res == nil {
		return "", false
	}
	return proto.GetPayloadValue[string](res.Completion, track+".data")
}
