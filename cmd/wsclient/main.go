// Command wsclient plays a native recorder over the recording WebSocket: it starts
// a session, answers native.* requests from a local WAV file and prints the stop
// reply and the pipeline result.
package main

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"lecture-capture-service/internal/service/bridge"
	"lecture-capture-service/internal/service/capture/native"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

func main() {
	audioFile := flag.String("audio", "../../testdata/sample-8khz.wav", "Path to WAV file (PCM)")
	serverURL := flag.String("server", "ws://localhost:8080/v1/recordings/ws", "Recording WebSocket URL")
	userID := flag.String("user", "user-demo", "User ID sent as X-User-ID")
	deviceID := flag.String("device", "wsclient-"+time.Now().Format("150405"), "Device ID")
	title := flag.String("title", "", "Lecture title")
	realtime := flag.Bool("realtime", false, "Keep recording for the file's duration before stopping")
	pause := flag.Duration("pause", 0, "Pause the recording this long halfway through")
	flag.Parse()

	data, err := os.ReadFile(*audioFile)
	if err != nil {
		log.Fatalf("Failed to read audio file: %v", err)
	}
	durationMs := wavDurationMs(data)

	header := http.Header{}
	header.Set("X-User-ID", *userID)
	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, header)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", *serverURL)

	c := &client{conn: conn, audio: data, durationMs: durationMs, responses: make(chan bridge.Envelope, 8), results: make(chan bridge.Envelope, 1)}
	go c.readLoop()

	c.command(bridge.CmdStart, bridge.StartRequest{DeviceID: *deviceID, Platform: "native", Title: *title})

	wait := time.Duration(0)
	if *realtime {
		wait = time.Duration(durationMs) * time.Millisecond
	}
	if *pause > 0 {
		time.Sleep(wait / 2)
		c.command(bridge.CmdPause, nil)
		time.Sleep(*pause)
		c.command(bridge.CmdResume, nil)
		time.Sleep(wait - wait/2)
	} else {
		time.Sleep(wait)
	}

	stop := c.command(bridge.CmdStop, nil)
	if stop.Error != "" {
		log.Fatalf("Stop failed: %s (%s)", stop.Error, stop.Kind)
	}

	log.Println("Recording stopped, waiting for pipeline result...")
	select {
	case ev := <-c.results:
		log.Printf("Pipeline result: %s", pretty(ev.Payload))
	case <-time.After(10 * time.Minute):
		log.Fatal("Timed out waiting for pipeline result")
	}
}

type client struct {
	conn       *websocket.Conn
	audio      []byte
	durationMs int64
	seq        int
	responses  chan bridge.Envelope
	results    chan bridge.Envelope
}

func (c *client) command(op string, payload any) bridge.Envelope {
	c.seq++
	env := bridge.Envelope{ID: "cmd-" + strconv.Itoa(c.seq), Type: bridge.TypeCommand, Op: op}
	if payload != nil {
		env.Payload, _ = json.Marshal(payload)
	}
	if err := c.conn.WriteJSON(env); err != nil {
		log.Fatalf("Failed to send %s: %v", op, err)
	}
	for resp := range c.responses {
		if resp.ID != env.ID {
			continue
		}
		if resp.Error != "" {
			log.Printf("%s rejected: %s (%s)", op, resp.Error, resp.Kind)
		} else {
			log.Printf("%s: %s", op, pretty(resp.Payload))
		}
		return resp
	}
	log.Fatalf("Connection closed before %s completed", op)
	return bridge.Envelope{}
}

// readLoop answers native recorder requests and routes everything else.
// Responses are written from this goroutine only after the command writer is
// blocked waiting, so the two never write at the same time for one command.
func (c *client) readLoop() {
	defer close(c.responses)
	for {
		var env bridge.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		switch env.Type {
		case bridge.TypeResponse:
			c.responses <- env
		case bridge.TypeRequest:
			c.answer(env)
		case bridge.TypeEvent:
			switch env.Op {
			case bridge.EvPipelineResult:
				c.results <- env
			case bridge.EvSessionState:
				log.Printf("State: %s", pretty(env.Payload))
			case bridge.EvNotice:
				log.Printf("Notice: %s", pretty(env.Payload))
			}
		}
	}
}

func (c *client) answer(req bridge.Envelope) {
	var payload any
	switch req.Op {
	case bridge.OpNativePerm:
		payload = map[string]bool{"granted": true}
	case bridge.OpNativeStop:
		payload = native.Recording{
			Base64:     base64.StdEncoding.EncodeToString(c.audio),
			DurationMs: c.durationMs,
			MimeType:   "audio/wav",
		}
	}
	resp := bridge.Envelope{ID: req.ID, Type: bridge.TypeResponse, Op: req.Op}
	if payload != nil {
		resp.Payload, _ = json.Marshal(payload)
	}
	if err := c.conn.WriteJSON(resp); err != nil {
		log.Printf("Failed to answer %s: %v", req.Op, err)
	}
}

// wavDurationMs reads the PCM header. It returns 0 for anything it cannot parse.
func wavDurationMs(data []byte) int64 {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		log.Print("Warning: not a PCM WAV file, duration unknown")
		return 0
	}
	audioFormat := binary.LittleEndian.Uint16(data[20:22])
	numChannels := binary.LittleEndian.Uint16(data[22:24])
	sampleRate := binary.LittleEndian.Uint32(data[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(data[34:36])

	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)

	bytesPerSecond := int64(sampleRate) * int64(numChannels) * int64(bitsPerSample) / 8
	if audioFormat != 1 || bytesPerSecond == 0 {
		return 0
	}
	return int64(len(data)-wavHeaderSize) * 1000 / bytesPerSecond
}

func pretty(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
