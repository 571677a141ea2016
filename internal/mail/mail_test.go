package mail

import (
	"bufio"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net"
	netmail "net/mail"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ovaphlow/pitchfork/service-account/internal/config"
)

type captureMailer struct {
	sent []Message
}

func (c *captureMailer) Send(_ context.Context, msg Message) error {
	c.sent = append(c.sent, msg)
	return nil
}

func TestPasswordResetEmail(t *testing.T) {
	m := &captureMailer{}
	n := NewNotifier(m, "https://app.example.com", "Pitchfork")

	require.NoError(t, n.PasswordReset(context.Background(), "ana@example.com", "<Ana>", "tok_123-abc", time.Hour))
	require.Len(t, m.sent, 1)
	msg := m.sent[0]
	assert.Equal(t, "ana@example.com", msg.To)
	assert.Equal(t, subjectReset, msg.Subject)
	assert.Contains(t, msg.Text, "https://app.example.com/reset-password?token=tok_123-abc")
	assert.Contains(t, msg.Text, "1 hora(s)")
	assert.Contains(t, msg.HTML, "&lt;Ana&gt;")
	assert.NotContains(t, msg.HTML, "<Ana>")
}

func TestPasswordChangedEmail(t *testing.T) {
	m := &captureMailer{}
	n := NewNotifier(m, "https://app.example.com", "Pitchfork")
	at := time.Date(2026, 5, 4, 13, 7, 0, 0, time.UTC)

	require.NoError(t, n.PasswordChanged(context.Background(), "ana@example.com", "Ana", at))
	require.Len(t, m.sent, 1)
	assert.Contains(t, m.sent[0].Text, "04/05/2026 às 13:07")
	assert.Contains(t, m.sent[0].HTML, "04/05/2026 às 13:07")
}

func TestComposeIsMultipartAlternative(t *testing.T) {
	raw, err := compose(netmail.Address{Name: "Pitchfork", Address: "no-reply@example.com"},
		Message{To: "ana@example.com", Subject: "Senha Alterada", Text: "olá", HTML: "<p>olá</p>"}, time.Now())
	require.NoError(t, err)

	parsed, err := netmail.ReadMessage(strings.NewReader(string(raw)))
	require.NoError(t, err)
	subject, err := new(mime.WordDecoder).DecodeHeader(parsed.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "Senha Alterada", subject)

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/alternative", mediaType)

	mr := multipart.NewReader(parsed.Body, params["boundary"])
	var types []string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		types = append(types, p.Header.Get("Content-Type"))
		body, err := io.ReadAll(p)
		require.NoError(t, err)
		assert.Contains(t, string(body), "olá")
	}
	assert.Equal(t, []string{"text/plain; charset=utf-8", "text/html; charset=utf-8"}, types)
}

func TestLogMailer(t *testing.T) {
	assert.NoError(t, NewLogMailer(zaptest.NewLogger(t).Sugar()).Send(context.Background(), Message{To: "a@b.c"}))
}

// fakeSMTP accepts one plaintext session and records the envelope and data.
type fakeSMTP struct {
	ln   net.Listener
	wg   sync.WaitGroup
	from string
	rcpt string
	data string
}

func startFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeSMTP{ln: ln}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeSMTP) serve() {
	defer s.wg.Done()
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }
	reply("220 fake ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		upper := strings.ToUpper(cmd)
		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			reply("250 fake")
		case strings.HasPrefix(upper, "MAIL FROM:"):
			s.from = cmd[len("MAIL FROM:"):]
			reply("250 ok")
		case strings.HasPrefix(upper, "RCPT TO:"):
			s.rcpt = cmd[len("RCPT TO:"):]
			reply("250 ok")
		case upper == "DATA":
			reply("354 go ahead")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			s.data = b.String()
			reply("250 queued")
		case upper == "QUIT":
			reply("221 bye")
			return
		default:
			reply("250 ok")
		}
	}
}

func TestSMTPMailerSend(t *testing.T) {
	srv := startFakeSMTP(t)
	host, port, err := net.SplitHostPort(srv.ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	m := NewSMTPMailer(config.SMTPConfig{Host: host, Port: p, From: "no-reply@example.com", FromName: "Pitchfork"})
	require.NoError(t, m.Send(context.Background(), Message{To: "ana@example.com", Subject: "Oi", Text: "corpo"}))
	srv.wg.Wait()

	assert.Equal(t, "<no-reply@example.com>", srv.from)
	assert.Equal(t, "<ana@example.com>", srv.rcpt)
	assert.Contains(t, srv.data, "To: ana@example.com")
	assert.Contains(t, srv.data, "corpo")
}

func TestSMTPMailerRequiresStartTLS(t *testing.T) {
	srv := startFakeSMTP(t)
	host, port, err := net.SplitHostPort(srv.ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	m := NewSMTPMailer(config.SMTPConfig{Host: host, Port: p, From: "no-reply@example.com", StartTLS: true})
	err = m.Send(context.Background(), Message{To: "ana@example.com", Subject: "Oi", Text: "corpo"})
	assert.ErrorContains(t, err, "STARTTLS")
}
