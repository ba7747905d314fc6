package bot

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
)

// maxLineSize bounds one JSON-lines event.
const maxLineSize = 1 << 20

// LineMessage is a gateway event in the JSON-lines protocol.
type LineMessage struct {
	ID          string           `json:"id"`
	ChannelID   string           `json:"channel_id"`
	AuthorID    string           `json:"author_id"`
	Attachments []LineAttachment `json:"attachments"`
}

// LineAttachment points at a local file or an http(s) URL.
type LineAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Path        string `json:"path,omitempty"`
	URL         string `json:"url,omitempty"`
}

// LineReply is written for every reply.
type LineReply struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
}

// LineGateway reads gateway events as JSON lines and writes replies the
// same way. It lets any process that can pipe JSON drive a Bridge.
type LineGateway struct {
	in     io.Reader
	client *http.Client
	logger *log.Logger

	mu  sync.Mutex
	enc *json.Encoder
}

// LineOption configures a LineGateway.
type LineOption func(*LineGateway)

// WithHTTPClient sets the client used to fetch URL attachments.
func WithHTTPClient(c *http.Client) LineOption {
	return func(g *LineGateway) { g.client = c }
}

// WithLineLogger sets the logger.
func WithLineLogger(l *log.Logger) LineOption {
	return func(g *LineGateway) { g.logger = l }
}

// NewLineGateway reads events from in and writes replies to out.
func NewLineGateway(in io.Reader, out io.Writer, opts ...LineOption) *LineGateway {
	g := &LineGateway{
		in:     in,
		client: http.DefaultClient,
		logger: log.Default(),
		enc:    json.NewEncoder(out),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Reply implements Replier.
func (g *LineGateway) Reply(_ context.Context, msg Message, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enc.Encode(LineReply{MessageID: msg.ID, ChannelID: msg.ChannelID, Text: text})
}

// Run feeds every event to b until in is exhausted or ctx is done. Lines
// that fail to decode are logged and skipped.
func (g *LineGateway) Run(ctx context.Context, b *Bridge) error {
	sc := bufio.NewScanner(g.in)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := g.Decode(line)
		if err != nil {
			g.logger.Warn("Skipping malformed event", "err", err)
			continue
		}
		if err := b.HandleMessage(msg); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading events: %w", err)
	}
	return nil
}

// Decode converts one JSON line into a Message.
func (g *LineGateway) Decode(line []byte) (Message, error) {
	var lm LineMessage
	if err := json.Unmarshal(line, &lm); err != nil {
		return Message{}, fmt.Errorf("decoding event: %w", err)
	}

	msg := Message{ID: lm.ID, ChannelID: lm.ChannelID, AuthorID: lm.AuthorID}
	for _, la := range lm.Attachments {
		msg.Attachments = append(msg.Attachments, g.attachment(la))
	}
	return msg, nil
}

func (g *LineGateway) attachment(la LineAttachment) Attachment {
	name := la.Filename
	if name == "" {
		switch {
		case la.Path != "":
			name = filepath.Base(la.Path)
		case la.URL != "":
			name = path.Base(la.URL)
		}
	}

	ct := la.ContentType
	if ct == "" {
		ct = mime.TypeByExtension(filepath.Ext(name))
	}

	att := Attachment{Filename: name, ContentType: ct}
	switch {
	case la.Path != "":
		p := la.Path
		att.Open = func(context.Context) (io.ReadCloser, error) {
			return os.Open(p)
		}
	case la.URL != "":
		u := la.URL
		att.Open = func(ctx context.Context) (io.ReadCloser, error) {
			return g.fetch(ctx, u)
		}
	}
	return att
}

func (g *LineGateway) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading attachment: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("downloading attachment: HTTP status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
