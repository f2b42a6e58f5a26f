package simulator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mbocsi/goxfs/logging"
	"github.com/mbocsi/goxfs/proto"
	"github.com/mbocsi/goxfs/server"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []proto.Message
}

func (r *recordingSink) Send(msg proto.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingSink) messages() []proto.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]proto.Message(nil), r.msgs...)
}

func dispatch(t *testing.T, c *CardReader, ctx context.Context, name string, timeoutMs int, payload any) []proto.Message {
	t.Helper()
	cmd, err := proto.NewCommand(name, 1, timeoutMs, payload)
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	sink := &recordingSink{}
	if err := c.Service().Dispatcher().Dispatch(ctx, cmd, sink); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	return sink.messages()
}

func quietReader(cfg Config) *CardReader {
	return NewCardReader(cfg, logging.Suppressed())
}

func TestCardReader_Status(t *testing.T) {
	c := quietReader(DefaultConfig())

	msgs := dispatch(t, c, context.Background(), proto.CommonStatus, 0, nil)
	last := msgs[len(msgs)-1]

	if device, _ := proto.GetPayloadValue[string](last, "common.device"); device != "online" {
		t.Errorf("Expected online device, got %q", device)
	}
	if media, _ := proto.GetPayloadValue[string](last, "cardReader.media"); media != MediaNotPresent {
		t.Errorf("Expected notPresent media, got %q", media)
	}
}

func TestCardReader_Capabilities(t *testing.T) {
	c := quietReader(DefaultConfig())

	msgs := dispatch(t, c, context.Background(), proto.CommonCapabilities, 0, nil)
	last := msgs[len(msgs)-1]

	ifaces, ok := proto.GetPayloadValue[[]proto.InterfaceCapability](last, "interfaces")
	if !ok || len(ifaces) != 2 {
		t.Fatalf("Expected 2 interfaces, got %+v", ifaces)
	}
	for _, iface := range ifaces {
		if err := iface.Validate(); err != nil {
			t.Errorf("Interface %s invalid: %v", iface.Name, err)
		}
	}
	if model, _ := proto.GetPayloadValue[string](last, "common.deviceInformation[0].modelName"); model != "SIM-CR-1" {
		t.Errorf("Unexpected model %q", model)
	}
}

func TestCardReader_ReadRawData(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InsertDelay = 10 * time.Millisecond
	c := quietReader(cfg)

	msgs := dispatch(t, c, context.Background(), CmdReadRawData, 0, map[string]bool{"track1": true, "track3": true})

	var names []string
	for _, m := range msgs {
		names = append(names, string(m.Header.Type)+":"+m.Header.Name)
	}
	expected := []string{
		"acknowledge:" + CmdReadRawData,
		"event:" + EvtInsertCard,
		"event:" + EvtMediaInserted,
		"completion:" + CmdReadRawData,
	}
	if len(names) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, names)
	}
	for i := range expected {
		if names[i] != expected[i] {
			t.Errorf("Message %d: expected %s, got %s", i, expected[i], names[i])
		}
	}

	last := msgs[len(msgs)-1]
	if data, _ := proto.GetPayloadValue[string](last, "track1.data"); data != cfg.Track1 {
		t.Errorf("Unexpected track1 %q", data)
	}
	if status, _ := proto.GetPayloadValue[string](last, "track3.status"); status != "dataMissing" {
		t.Errorf("Expected track3 dataMissing, got %q", status)
	}
	if _, ok := proto.GetPayloadValue[any](last, "track2"); ok {
		t.Error("Expected unrequested track2 to be absent")
	}
	if c.Media() != MediaPresent {
		t.Errorf("Expected media present, got %s", c.Media())
	}
}

func TestCardReader_ReadRawDataTimesOut(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InsertDelay = 0
	c := quietReader(cfg)

	msgs := dispatch(t, c, context.Background(), CmdReadRawData, 20, map[string]bool{"track1": true})

	if last := msgs[len(msgs)-1]; last.Header.Status != proto.StatusTimeOut {
		t.Errorf("Expected timeOut, got %s", last.Header.Status)
	}
}

func TestCardReader_ReadRawDataCanceled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InsertDelay = 0
	c := quietReader(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	msgs := dispatch(t, c, ctx, CmdReadRawData, 0, nil)

	if last := msgs[len(msgs)-1]; last.Header.Status != proto.StatusCanceled {
		t.Errorf("Expected canceled, got %s", last.Header.Status)
	}
}

func TestCardReader_MoveWithoutMedia(t *testing.T) {
	c := quietReader(DefaultConfig())

	msgs := dispatch(t, c, context.Background(), CmdMove, 0, map[string]string{"to": "exit"})

	if code, _ := proto.GetPayloadValue[string](msgs[len(msgs)-1], "errorCode"); code != "noMedia" {
		t.Errorf("Expected noMedia, got %q", code)
	}
}

func TestCardReader_MoveToExitThenTaken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RemoveDelay = 0
	c := quietReader(cfg)
	c.setMedia(MediaPresent)

	watcher := &recordingClient{id: "watcher"}
	c.Service().OnConnect(watcher)

	msgs := dispatch(t, c, context.Background(), CmdMove, 0, map[string]string{"to": "exit"})
	if last := msgs[len(msgs)-1]; last.Header.Status != proto.StatusSuccess {
		t.Fatalf("Expected success, got %s", last.Header.Status)
	}
	if c.Media() != MediaEntering {
		t.Errorf("Expected card at exit, got %s", c.Media())
	}

	c.TakeCard()
	if c.Media() != MediaNotPresent {
		t.Errorf("Expected card taken, got %s", c.Media())
	}
	got := watcher.messages()
	if len(got) != 1 || got[0].Header.Name != EvtMediaRemoved || got[0].Header.Type != proto.TypeUnsolicited {
		t.Errorf("Expected one unsolicited removal event, got %+v", got)
	}
}

func TestCardReader_MoveUnknownTarget(t *testing.T) {
	c := quietReader(DefaultConfig())
	c.setMedia(MediaPresent)

	msgs := dispatch(t, c, context.Background(), CmdMove, 0, map[string]string{"to": "shredder"})

	if last := msgs[len(msgs)-1]; last.Header.Status != proto.StatusInvalidCommand {
		t.Errorf("Expected invalidCommand, got %s", last.Header.Status)
	}
}

type recordingClient struct {
	recordingSink
	id string
}

func (r *recordingClient) Meta() *server.ConnectionMetadata {
	return &server.ConnectionMetadata{Id: r.id}
}
