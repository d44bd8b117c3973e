package azure

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message paths used on the speech websocket.
const (
	pathSpeechConfig  = "speech.config"
	pathSpeechContext = "speech.context"
	pathAudio         = "audio"

	pathTurnStart     = "turn.start"
	pathTurnEnd       = "turn.end"
	pathStartDetected = "speech.startDetected"
	pathEndDetected   = "speech.endDetected"
	pathHypothesis    = "speech.hypothesis"
	pathPhrase        = "speech.phrase"
	pathFragment      = "speech.fragment"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

var errBadFrame = errors.New("azure: malformed websocket frame")

// newRequestID returns a 32-character upper-case hex identifier.
func newRequestID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// writeHeaders renders the header block shared by text and binary frames.
func writeHeaders(buf *bytes.Buffer, path, requestID string, ts time.Time, contentType string) {
	fmt.Fprintf(buf, "Path: %s\r\n", path)
	fmt.Fprintf(buf, "X-RequestId: %s\r\n", requestID)
	fmt.Fprintf(buf, "X-Timestamp: %s\r\n", ts.UTC().Format(timestampLayout))
	if contentType != "" {
		fmt.Fprintf(buf, "Content-Type: %s\r\n", contentType)
	}
}

// textFrame builds a text message: headers, a blank line, then the body.
func textFrame(path, requestID string, ts time.Time, body []byte) []byte {
	var buf bytes.Buffer
	writeHeaders(&buf, path, requestID, ts, "application/json")
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes()
}

// audioFrame builds a binary message: a 2-byte big-endian header length, the
// header block, then the raw audio body. An empty body marks end of audio.
func audioFrame(requestID string, ts time.Time, body []byte) []byte {
	var hdr bytes.Buffer
	contentType := ""
	if len(body) > 0 {
		contentType = "audio/x-wav"
	}
	writeHeaders(&hdr, pathAudio, requestID, ts, contentType)

	out := make([]byte, 2, 2+hdr.Len()+len(body))
	binary.BigEndian.PutUint16(out, uint16(hdr.Len()))
	out = append(out, hdr.Bytes()...)
	return append(out, body...)
}

// parseTextFrame splits a text message into its headers and body.
func parseTextFrame(data []byte) (http.Header, []byte, error) {
	head, body, ok := bytes.Cut(data, []byte("\r\n\r\n"))
	if !ok {
		return nil, nil, fmt.Errorf("%w: no header terminator", errBadFrame)
	}
	h, err := parseHeaderBlock(head)
	if err != nil {
		return nil, nil, err
	}
	return h, body, nil
}

// parseAudioFrame splits a binary message into its headers and body.
func parseAudioFrame(data []byte) (http.Header, []byte, error) {
	if len(data) < 2 {
		return nil, nil, fmt.Errorf("%w: short binary frame", errBadFrame)
	}
	n := int(binary.BigEndian.Uint16(data[:2]))
	if 2+n > len(data) {
		return nil, nil, fmt.Errorf("%w: header length %d exceeds frame", errBadFrame, n)
	}
	h, err := parseHeaderBlock(bytes.TrimRight(data[2:2+n], "\r\n"))
	if err != nil {
		return nil, nil, err
	}
	return h, data[2+n:], nil
}

func parseHeaderBlock(block []byte) (http.Header, error) {
	h := http.Header{}
	for line := range strings.SplitSeq(string(block), "\r\n") {
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: header line %q", errBadFrame, line)
		}
		h.Add(strings.TrimSpace(k), strings.TrimSpace(v))
	}
	return h, nil
}
